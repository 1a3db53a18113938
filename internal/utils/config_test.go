package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg := LoadFrom(writeConfig(t, "server:\n  host: \"127.0.0.1\"\n"))

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, ":3000", cfg.Server.Port)
	assert.Equal(t, "X-Request-ID", cfg.Server.TraceHeader)
	assert.Equal(t, "TemplateParameters", cfg.Schema.Definition)
	assert.Equal(t, BackendChromedp, cfg.PDF.Backend)
	assert.Equal(t, PaperSize{Width: 8.27, Height: 11.69}, cfg.Paper())
	assert.Equal(t, 1050, cfg.PDF.ViewportWidth)
	assert.Equal(t, os.TempDir(), cfg.PDF.OutputDir)
	assert.Equal(t, time.Duration(0), cfg.RenderTimeout())
}

func TestLoadFrom_Valid(t *testing.T) {
	cfg := LoadFrom(writeConfig(t, `server:
  port: ":8080"
  trace_header: "X-Trace"
pdf:
  backend: rod
  default_paper: LETTER
  paper_sizes:
    LETTER:
      width: 8.5
      height: 11
  timeout_secs: 30
journal:
  host: db.local
  database: docrender
  user: svc
`))
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "X-Trace", cfg.Server.TraceHeader)
	assert.Equal(t, BackendRod, cfg.PDF.Backend)
	assert.Equal(t, 8.5, cfg.Paper().Width)
	assert.Equal(t, 30*time.Second, cfg.RenderTimeout())
	assert.Equal(t, "db.local", cfg.Journal.Host)
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "port without colon", yml: "server:\n  port: \"3000\"\n"},
		{name: "unknown backend", yml: "pdf:\n  backend: phantom\n"},
		{name: "missing default paper", yml: "pdf:\n  default_paper: B0\n"},
		{name: "negative timeout", yml: "pdf:\n  timeout_secs: -1\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoadFrom_PanicsOnMissingFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	p := writeConfig(t, "server:\n  port: \":3000\"\n")
	t.Setenv("CONFIG_PATH", p)
	t.Setenv("PORT", "4100")
	t.Setenv("CHROME_BIN", "/opt/chrome/chrome")

	cfg := LoadConfig()
	assert.Equal(t, ":4100", cfg.Server.Port)
	assert.Equal(t, "/opt/chrome/chrome", cfg.PDF.ChromePath)
}

func TestTraceHeaderName(t *testing.T) {
	var cfg Config
	assert.Equal(t, "X-Request-ID", cfg.TraceHeaderName())
	cfg.Server.TraceHeader = "X-Trace-ID"
	assert.Equal(t, "X-Trace-ID", cfg.TraceHeaderName())
}
