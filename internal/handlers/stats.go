package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"docrender/internal/domain"
)

// HandleStats exposes browser and render counters per backend. live is
// launched minus closed and returns to its previous value after each render.
func (svc *TemplateService) HandleStats(c *fiber.Ctx) error {
	snap, err := svc.Stats.Snapshot(c.UserContext())
	if err != nil {
		return domain.NewServerError("stats unavailable: "+err.Error(), err)
	}

	backends := make([]string, 0, len(svc.Renderers))
	for name := range svc.Renderers {
		backends = append(backends, name)
	}
	sort.Strings(backends)

	var live int64
	for _, name := range snap.Backends() {
		live += snap[name].Live
	}

	return c.JSON(fiber.Map{
		"default_backend": svc.Config.PDF.Backend,
		"backends":        backends,
		"timeout_secs":    svc.Config.PDF.TimeoutSecs,
		"live_browsers":   live,
		"counters":        snap,
	})
}
