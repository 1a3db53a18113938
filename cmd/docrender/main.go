package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"docrender/internal/app"
	"docrender/internal/handlers"
	"docrender/internal/pdf"
	"docrender/internal/schema"
	"docrender/internal/stats"
	"docrender/internal/templates"
	u "docrender/internal/utils"
)

func main() {
	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	sch, err := schema.Load(cfg.Schema.Path, cfg.Schema.Definition)
	if err != nil {
		u.Error("Failed to load schema", "path", cfg.Schema.Path, "error", err)
		os.Exit(1)
	}
	tpl, err := templates.Load(cfg.Template.Path)
	if err != nil {
		u.Error("Failed to load template", "path", cfg.Template.Path, "error", err)
		os.Exit(1)
	}

	rec, rdb := stats.NewRecorder(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	journal, err := u.NewJournal(cfg.Journal)
	if err != nil {
		u.Error("Render journal disabled", "error", err)
		journal = u.NopJournal{}
	}
	defer journal.Close()

	opts := pdf.OptionsFromConfig(cfg)
	svc := handlers.NewTemplateService(cfg, sch, tpl, rec, journal,
		pdf.NewChromeRenderer(opts, rec),
		pdf.NewRodRenderer(opts, rec),
	)
	u.Info("Service configured", "schema", sch.Name(), "required", sch.Required(), "template", tpl.Path(), "pdf_backend", cfg.PDF.Backend)

	idleConnsClosed := make(chan struct{})
	startServer(app.SetupApp(cfg, svc), cfg, idleConnsClosed)
	<-idleConnsClosed
	svc.Wait()
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		u.Info("Listening", "addr", cfg.Server.Host+cfg.Server.Port)
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	// In-flight renders get five seconds to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
