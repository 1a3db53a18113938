package handlers

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"docrender/internal/domain"
	"docrender/internal/pdf"
	"docrender/internal/stats"
	u "docrender/internal/utils"
)

// HandlePDF returns the handler for one PDF backend. The browser loads the
// HTML endpoint of this same server, so validation happens there.
func (svc *TemplateService) HandlePDF(r pdf.Renderer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID, _ := c.Locals("requestid").(string)

		req := pdf.Request{
			Payload:     append([]byte(nil), c.Body()...),
			TargetURL:   svc.htmlURL(c),
			TraceHeader: svc.Config.TraceHeaderName(),
			TraceID:     requestID,
		}

		res, err := r.RenderPDF(c.UserContext(), req)
		svc.recordRender(r.Name(), requestID, res, err, time.Since(start))
		if err != nil {
			return err
		}

		u.Info("PDF generated", "backend", r.Name(), "bytes", res.Size, "request_id", requestID)

		c.Set("Content-Type", "application/pdf")
		if res.Path != "" {
			return c.SendFile(res.Path)
		}
		return c.Send(res.Data)
	}
}

// HandleDefaultPDF serves the backend selected by pdf.backend.
func (svc *TemplateService) HandleDefaultPDF() fiber.Handler {
	r, ok := svc.Renderers[svc.Config.PDF.Backend]
	if !ok {
		return func(c *fiber.Ctx) error {
			return domain.NewServerError("PDF backend "+svc.Config.PDF.Backend+" is not available", nil)
		}
	}
	return svc.HandlePDF(r)
}

// htmlURL points at the HTML endpoint on the port this request arrived on.
func (svc *TemplateService) htmlURL(c *fiber.Ctx) string {
	port := 0
	if addr, ok := c.Context().LocalAddr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	if port == 0 {
		port, _ = strconv.Atoi(strings.TrimPrefix(svc.Config.Server.Port, ":"))
	}
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + HTMLPath
}

func (svc *TemplateService) recordRender(backend, requestID string, res *pdf.Result, err error, took time.Duration) {
	outcome, status := stats.OutcomeOK, fiber.StatusOK
	entry := u.JournalEntry{RequestID: requestID, Backend: backend, Duration: took}
	switch {
	case err == nil:
		entry.Bytes = res.Size
	case domain.IsClientError(err):
		outcome, status = stats.OutcomeClientError, fiber.StatusBadRequest
		entry.Message = err.Error()
	default:
		outcome, status = stats.OutcomeServerError, fiber.StatusInternalServerError
		entry.Message = err.Error()
	}
	entry.Status = status

	svc.Stats.RenderDone(backend, outcome)

	// The response does not wait for the journal; Record bounds itself.
	svc.pending.Add(1)
	go func() {
		defer svc.pending.Done()
		if jerr := svc.Journal.Record(context.Background(), entry); jerr != nil {
			u.Warn("Render journal write failed", "request_id", requestID, "error", jerr)
		}
	}()
}
