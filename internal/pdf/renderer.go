// Package pdf turns the service's own HTML endpoint into a PDF by driving a
// headless browser. Every render owns exactly one browser process, which is
// released on every return path.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"docrender/internal/domain"
	u "docrender/internal/utils"
)

// Messages used when the page gives nothing better to report.
const (
	msgNoResponse    = "no response from HTML rendering"
	msgRenderFailed  = "HTML rendering failed"
	msgLaunchFailed  = "browser launch failed"
	msgPrintFailed   = "PDF generation failed"
	msgBrowserFailed = "browser session failed"
)

// ErrBrowserNotFound is returned when no browser binary is configured and
// none can be found on the system.
var ErrBrowserNotFound = errors.New("browser binary not found")

// Request is one render: the payload to re-POST to TargetURL.
type Request struct {
	Payload     []byte
	TargetURL   string
	TraceHeader string
	TraceID     string
}

// Result holds the PDF either in memory (Data) or on disk (Path).
type Result struct {
	Data []byte
	Path string
	Size int64
}

// Renderer renders a Request into a PDF.
type Renderer interface {
	Name() string
	RenderPDF(ctx context.Context, req Request) (*Result, error)
}

// Options configure a browser backend.
type Options struct {
	ChromePath     string
	NoSandbox      bool
	Paper          u.PaperSize
	ViewportWidth  int
	ViewportHeight int
	OutputDir      string
	Timeout        time.Duration
}

// OptionsFromConfig derives backend options from the service config.
func OptionsFromConfig(cfg u.Config) Options {
	return Options{
		ChromePath:     cfg.PDF.ChromePath,
		NoSandbox:      cfg.PDF.ChromeNoSandbox,
		Paper:          cfg.Paper(),
		ViewportWidth:  cfg.PDF.ViewportWidth,
		ViewportHeight: cfg.PDF.ViewportHeight,
		OutputDir:      cfg.PDF.OutputDir,
		Timeout:        cfg.RenderTimeout(),
	}
}

// Classify maps the status of the rendered page to the service taxonomy:
// nil for 2xx, a ClientError for 4xx and a ServerError otherwise. body is
// the page's text and becomes the error message.
func Classify(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return domain.NewClientError(pageMessage(status, body))
	case status >= 500:
		return domain.NewServerError(pageMessage(status, body), nil)
	default:
		return domain.NewServerError(msgRenderFailed, nil)
	}
}

// pageMessage prefers the message field of a JSON error body.
func pageMessage(status int, body string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "{") {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Message != "" {
			return payload.Message
		}
	}
	if body == "" {
		return fmt.Sprintf("HTML rendering returned status %d", status)
	}
	return body
}

// withTimeout bounds ctx when a render timeout is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// serverFailure wraps an unexpected backend error, keeping ClientError and
// ServerError values intact.
func serverFailure(msg string, err error) error {
	if domain.IsClientError(err) || domain.IsServerError(err) {
		return err
	}
	return domain.NewServerError(fmt.Sprintf("%s: %v", msg, err), err)
}

// origin returns scheme://host of rawURL.
func origin(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host + "/"
}

// injectBaseURL adds a <base> element so relative links in markup loaded
// outside its origin keep resolving against the HTML endpoint. Markup that
// already declares a base is returned unchanged.
func injectBaseURL(markup []byte, baseURL string) []byte {
	baseURL = strings.TrimSpace(baseURL)
	lower := bytes.ToLower(markup)
	if baseURL == "" || bytes.Contains(lower, []byte("<base")) {
		return markup
	}

	tag := `<base href="` + html.EscapeString(baseURL) + `">`
	at, wrap := basePosition(lower)
	if wrap {
		tag = "<head>" + tag + "</head>"
	}

	var out bytes.Buffer
	out.Grow(len(markup) + len(tag))
	out.Write(markup[:at])
	out.WriteString(tag)
	out.Write(markup[at:])
	return out.Bytes()
}

// basePosition finds where the base element goes: right after the opening
// <head> tag, else after <html> inside a new head, else at the start.
func basePosition(lower []byte) (at int, wrap bool) {
	if end := openingTagEnd(lower, "<head"); end > 0 {
		return end, false
	}
	if end := openingTagEnd(lower, "<html"); end > 0 {
		return end, true
	}
	return 0, false
}

// openingTagEnd returns the offset just past the first tag starting with
// prefix, or -1.
func openingTagEnd(lower []byte, prefix string) int {
	start := bytes.Index(lower, []byte(prefix))
	if start < 0 {
		return -1
	}
	end := bytes.IndexByte(lower[start:], '>')
	if end < 0 {
		return -1
	}
	return start + end + 1
}
