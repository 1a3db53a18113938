package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/xid"

	"docrender/internal/stats"
	u "docrender/internal/utils"
)

// RodRenderer drives Chrome through go-rod without request interception.
// It POSTs the payload to the HTML endpoint itself, loads the returned
// markup into a blank page and prints it to a file under OutputDir.
type RodRenderer struct {
	opts  Options
	stats stats.Recorder
}

var _ Renderer = (*RodRenderer)(nil)

// NewRodRenderer returns a go-rod backed renderer.
func NewRodRenderer(opts Options, rec stats.Recorder) *RodRenderer {
	if rec == nil {
		rec = stats.NewMemoryRecorder()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = os.TempDir()
	}
	return &RodRenderer{opts: opts, stats: rec}
}

// Name implements Renderer.
func (r *RodRenderer) Name() string { return u.BackendRod }

// RenderPDF implements Renderer. The PDF is left on disk at Result.Path.
func (r *RodRenderer) RenderPDF(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := withTimeout(ctx, r.opts.Timeout)
	defer cancel()

	browser, release, err := r.launch(ctx)
	if err != nil {
		return nil, serverFailure(msgLaunchFailed, err)
	}
	defer release()

	u.Info("Posting to HTML endpoint", "backend", r.Name(), "url", req.TargetURL, "payload", string(req.Payload), "request_id", req.TraceID)

	status, body, err := postHTML(ctx, req)
	if err != nil {
		u.Warn("HTML endpoint produced no response", "url", req.TargetURL, "error", err)
		return nil, serverFailure(msgNoResponse, err)
	}
	if err := Classify(status, string(body)); err != nil {
		return nil, err
	}

	p, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, serverFailure(msgBrowserFailed, err)
	}
	p = p.Context(ctx)

	if r.opts.ViewportWidth > 0 && r.opts.ViewportHeight > 0 {
		err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             r.opts.ViewportWidth,
			Height:            r.opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return nil, serverFailure(msgBrowserFailed, err)
		}
	}

	if err := p.SetDocumentContent(string(injectBaseURL(body, origin(req.TargetURL)))); err != nil {
		return nil, serverFailure(msgBrowserFailed, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, serverFailure(msgBrowserFailed, err)
	}

	paperWidth, paperHeight := r.opts.Paper.Width, r.opts.Paper.Height
	stream, err := p.PDF(&proto.PagePrintToPDF{
		PaperWidth:      &paperWidth,
		PaperHeight:     &paperHeight,
		PrintBackground: true,
	})
	if err != nil {
		return nil, serverFailure(msgPrintFailed, err)
	}

	path, size, err := r.writeFile(stream)
	if err != nil {
		return nil, serverFailure(msgPrintFailed, err)
	}
	u.Info("Saved PDF", "path", path, "bytes", size, "request_id", req.TraceID)
	return &Result{Path: path, Size: size}, nil
}

// writeFile copies the PDF stream to a randomly named file in OutputDir.
func (r *RodRenderer) writeFile(src io.Reader) (string, int64, error) {
	path := filepath.Join(r.opts.OutputDir, xid.New().String()+".pdf")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write %s: %w", path, err)
	}
	return path, n, nil
}

// launch starts one browser process. The returned release func closes the
// browser, waits for the process to exit and removes its profile.
func (r *RodRenderer) launch(ctx context.Context) (*rod.Browser, func(), error) {
	bin := r.opts.ChromePath
	if bin == "" {
		found, ok := launcher.LookPath()
		if !ok {
			return nil, nil, ErrBrowserNotFound
		}
		bin = found
	}

	profileDir, err := os.MkdirTemp("", "docrender-rod-*")
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create temp profile dir: %w", err)
	}

	l := launcher.New().
		Context(ctx).
		Bin(bin).
		UserDataDir(profileDir).
		Headless(true).
		Leakless(false).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if r.opts.NoSandbox {
		l = l.NoSandbox(true)
	}

	controlURL, err := l.Launch()
	if err != nil {
		// Cleanup waits for the process to exit, so it only runs when one
		// was started.
		if l.PID() != 0 {
			l.Kill()
			l.Cleanup()
		}
		_ = os.RemoveAll(profileDir)
		return nil, nil, err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		_ = os.RemoveAll(profileDir)
		return nil, nil, err
	}
	r.stats.BrowserLaunched(r.Name())

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := browser.Close(); err != nil {
				u.Warn("Closing browser failed, killing process", "backend", r.Name(), "error", err)
				l.Kill()
			}
			l.Cleanup()
			_ = os.RemoveAll(profileDir)
			r.stats.BrowserClosed(r.Name())
		})
	}
	return browser, release, nil
}

// postHTML POSTs the payload to the HTML endpoint and returns the status and
// body of the answer.
func postHTML(ctx context.Context, req Request) (int, []byte, error) {
	a := fiber.Post(req.TargetURL)
	a.ContentType(fiber.MIMEApplicationJSON)
	a.Body(req.Payload)
	if req.TraceHeader != "" && req.TraceID != "" {
		a.Set(req.TraceHeader, req.TraceID)
	}
	if deadline, ok := ctx.Deadline(); ok {
		a.Timeout(time.Until(deadline))
	}
	if err := a.Parse(); err != nil {
		return 0, nil, err
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return 0, nil, errors.Join(errs...)
	}
	return code, body, nil
}
