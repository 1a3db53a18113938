package handlers

import (
	"sync"

	"github.com/gofiber/fiber/v2"

	"docrender/internal/domain"
	"docrender/internal/pdf"
	"docrender/internal/schema"
	"docrender/internal/stats"
	"docrender/internal/templates"
	u "docrender/internal/utils"
)

// HTMLPath is the route of the HTML endpoint. PDF backends load it over
// loopback.
const HTMLPath = "/html"

// TemplateService bundles the immutable schema and template with the PDF
// backends and the counters shared by every route.
type TemplateService struct {
	Config    *u.Config
	Schema    *schema.Schema
	Template  *templates.Renderer
	Renderers map[string]pdf.Renderer
	Stats     stats.Recorder
	Journal   u.Journal

	pending sync.WaitGroup
}

// NewTemplateService creates a new TemplateService instance. A nil recorder
// or journal is replaced by an in-memory recorder and a NopJournal.
func NewTemplateService(cfg u.Config, sch *schema.Schema, tpl *templates.Renderer, rec stats.Recorder, journal u.Journal, renderers ...pdf.Renderer) *TemplateService {
	if rec == nil {
		rec = stats.NewMemoryRecorder()
	}
	if journal == nil {
		journal = u.NopJournal{}
	}
	byName := make(map[string]pdf.Renderer, len(renderers))
	for _, r := range renderers {
		byName[r.Name()] = r
	}
	return &TemplateService{
		Config:    &cfg,
		Schema:    sch,
		Template:  tpl,
		Renderers: byName,
		Stats:     rec,
		Journal:   journal,
	}
}

// Wait blocks until queued journal writes have finished.
func (svc *TemplateService) Wait() {
	svc.pending.Wait()
}

// HandleHTML validates the payload and answers with the rendered template.
func (svc *TemplateService) HandleHTML(c *fiber.Ctx) error {
	body := c.Body()
	if err := svc.Schema.Validate(body); err != nil {
		return err
	}

	out, err := svc.Template.RenderJSON(body)
	if err != nil {
		return domain.NewServerError("template rendering failed: "+err.Error(), err)
	}

	c.Type("html", "utf-8")
	return c.SendString(out)
}
