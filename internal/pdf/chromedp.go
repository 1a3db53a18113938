package pdf

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"docrender/internal/domain"
	"docrender/internal/stats"
	u "docrender/internal/utils"
)

// lifecycle event Chrome emits once no more than two connections have been
// active for 500ms.
const networkAlmostIdle = "networkAlmostIdle"

// ChromeRenderer drives Chrome through chromedp. It intercepts the first
// document request of the page and turns it into a POST carrying the payload.
type ChromeRenderer struct {
	opts  Options
	stats stats.Recorder
}

var _ Renderer = (*ChromeRenderer)(nil)

// NewChromeRenderer returns a chromedp backed renderer.
func NewChromeRenderer(opts Options, rec stats.Recorder) *ChromeRenderer {
	if rec == nil {
		rec = stats.NewMemoryRecorder()
	}
	return &ChromeRenderer{opts: opts, stats: rec}
}

// Name implements Renderer.
func (r *ChromeRenderer) Name() string { return u.BackendChromedp }

// RenderPDF implements Renderer.
func (r *ChromeRenderer) RenderPDF(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := withTimeout(ctx, r.opts.Timeout)
	defer cancel()

	browserCtx, release, err := r.launch(ctx)
	if err != nil {
		return nil, serverFailure(msgLaunchFailed, err)
	}
	defer release()

	watcher := newNavigationWatcher()
	var gate rewriteGate
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go continueRequest(browserCtx, ev, req, gate.claim())
		case *network.EventResponseReceived:
			watcher.response(ev)
		case *page.EventLifecycleEvent:
			watcher.lifecycle(ev)
		}
	})

	u.Info("Opening HTML endpoint in browser", "backend", r.Name(), "url", req.TargetURL, "payload", string(req.Payload), "request_id", req.TraceID)

	actions := []chromedp.Action{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{
			URLPattern:   "*",
			ResourceType: network.ResourceTypeDocument,
			RequestStage: fetch.RequestStageRequest,
		}}),
	}
	if r.opts.ViewportWidth > 0 && r.opts.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(r.opts.ViewportWidth), int64(r.opts.ViewportHeight)))
	}
	actions = append(actions, chromedp.Navigate(req.TargetURL))
	navErr := chromedp.Run(browserCtx, actions...)

	resp, loaderID := watcher.document()
	if resp == nil && navErr != nil {
		u.Warn("Navigation produced no response", "url", req.TargetURL, "error", navErr)
	}
	printable, err := checkNavigation(resp, navErr)
	if err != nil {
		return nil, err
	}

	// Chrome fails the navigation for an error status with an empty body;
	// the page is then not waited on.
	if navErr == nil {
		if err := watcher.waitIdle(browserCtx, loaderID); err != nil {
			return nil, serverFailure(msgBrowserFailed, err)
		}
	}

	if !printable {
		status := int(resp.Status)
		var text string
		if err := chromedp.Run(browserCtx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
			u.Warn("Reading page text failed", "status", status, "error", err)
		}
		return nil, Classify(status, text)
	}

	var pdfBuf []byte
	err = chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		pdfBuf, _, err = page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(r.opts.Paper.Width).
			WithPaperHeight(r.opts.Paper.Height).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, serverFailure(msgPrintFailed, err)
	}
	return &Result{Data: pdfBuf, Size: int64(len(pdfBuf))}, nil
}

// launch starts one Chrome process. The returned release func terminates
// it; it is idempotent and must be deferred by the caller.
func (r *ChromeRenderer) launch(ctx context.Context) (context.Context, func(), error) {
	profileDir, err := os.MkdirTemp("", "docrender-chrome-*")
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create temp profile dir: %w", err)
	}

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Software rendering for minimal container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.opts.ChromePath != "" {
		allocatorOptions = append(allocatorOptions, chromedp.ExecPath(r.opts.ChromePath))
	}
	if r.opts.NoSandbox {
		allocatorOptions = append(allocatorOptions, chromedp.NoSandbox)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		_ = os.RemoveAll(profileDir)
		return nil, nil, err
	}
	r.stats.BrowserLaunched(r.Name())

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := chromedp.Cancel(browserCtx); err != nil {
				u.Warn("Closing browser failed", "backend", r.Name(), "error", err)
			}
			cancelBrowser()
			cancelAlloc()
			_ = os.RemoveAll(profileDir)
			r.stats.BrowserClosed(r.Name())
		})
	}
	return browserCtx, release, nil
}

// continueRequest resumes a paused request. The first document request is
// rewritten into a POST with the JSON payload and the tracing header; later
// requests pass through untouched.
func continueRequest(ctx context.Context, ev *fetch.EventRequestPaused, req Request, rewrite bool) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(ctx, c.Target)

	action := fetch.ContinueRequest(ev.RequestID)
	if rewrite {
		action = action.
			WithMethod("POST").
			WithPostData(base64.StdEncoding.EncodeToString(req.Payload)).
			WithHeaders(rewriteHeaders(ev.Request, req))
	}
	if err := action.Do(execCtx); err != nil && ctx.Err() == nil {
		var target string
		if ev.Request != nil {
			target = ev.Request.URL
		}
		u.Warn("Continuing intercepted request failed", "url", target, "error", err)
	}
}

func rewriteHeaders(orig *network.Request, req Request) []*fetch.HeaderEntry {
	skip := map[string]bool{"content-type": true, "content-length": true}
	if req.TraceHeader != "" {
		skip[strings.ToLower(req.TraceHeader)] = true
	}

	var headers []*fetch.HeaderEntry
	if orig != nil {
		for name, value := range orig.Headers {
			if skip[strings.ToLower(name)] {
				continue
			}
			headers = append(headers, &fetch.HeaderEntry{Name: name, Value: fmt.Sprint(value)})
		}
	}
	headers = append(headers, &fetch.HeaderEntry{Name: "Content-Type", Value: "application/json"})
	if req.TraceHeader != "" && req.TraceID != "" {
		headers = append(headers, &fetch.HeaderEntry{Name: req.TraceHeader, Value: req.TraceID})
	}
	return headers
}

// checkNavigation decides what a finished navigation means. printable is
// true for a 2xx document. A captured error status is returned as
// printable false with a nil error so the caller can classify it with the
// page text, even when the navigation itself reported an error.
func checkNavigation(resp *network.Response, navErr error) (printable bool, err error) {
	if resp == nil {
		if navErr == nil {
			return false, domain.NewServerError(msgNoResponse, nil)
		}
		return false, serverFailure(msgNoResponse, navErr)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return false, nil
	}
	if navErr != nil {
		return false, serverFailure(msgBrowserFailed, navErr)
	}
	return true, nil
}

// rewriteGate hands out the right to rewrite a paused request exactly once.
type rewriteGate struct {
	taken atomic.Bool
}

func (g *rewriteGate) claim() bool {
	return g.taken.CompareAndSwap(false, true)
}

// navigationWatcher collects the main document response and the loaders
// that reached networkAlmostIdle. Events may arrive before or after the
// navigation action returns, so both are recorded rather than awaited.
type navigationWatcher struct {
	mu       sync.Mutex
	resp     *network.Response
	loaderID cdp.LoaderID
	idle     map[cdp.LoaderID]bool
	changed  chan struct{}
}

func newNavigationWatcher() *navigationWatcher {
	return &navigationWatcher{
		idle:    make(map[cdp.LoaderID]bool),
		changed: make(chan struct{}, 1),
	}
}

func (w *navigationWatcher) notify() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

func (w *navigationWatcher) response(ev *network.EventResponseReceived) {
	if ev.Type != network.ResourceTypeDocument || ev.Response == nil {
		return
	}
	w.mu.Lock()
	if w.resp == nil {
		w.resp = ev.Response
		w.loaderID = ev.LoaderID
	}
	w.mu.Unlock()
	w.notify()
}

func (w *navigationWatcher) lifecycle(ev *page.EventLifecycleEvent) {
	if ev.Name != networkAlmostIdle {
		return
	}
	w.mu.Lock()
	w.idle[ev.LoaderID] = true
	w.mu.Unlock()
	w.notify()
}

func (w *navigationWatcher) document() (*network.Response, cdp.LoaderID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resp, w.loaderID
}

func (w *navigationWatcher) isIdle(loaderID cdp.LoaderID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idle[loaderID]
}

// waitIdle blocks until loaderID reached networkAlmostIdle or ctx is done.
func (w *navigationWatcher) waitIdle(ctx context.Context, loaderID cdp.LoaderID) error {
	for {
		if w.isIdle(loaderID) {
			return nil
		}
		select {
		case <-w.changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
