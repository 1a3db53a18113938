package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PaperSize is a printable page size in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// PostgresConfig describes the optional render journal database.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the service configuration loaded from YAML.
type Config struct {
	Server struct {
		Host        string `yaml:"host"`
		Port        string `yaml:"port"`
		Prefork     bool   `yaml:"prefork"`
		BodyLimit   int    `yaml:"body_limit"`
		TraceHeader string `yaml:"trace_header"`
	} `yaml:"server"`

	Schema struct {
		Path       string `yaml:"path"`
		Definition string `yaml:"definition"`
	} `yaml:"schema"`

	Template struct {
		Path string `yaml:"path"`
	} `yaml:"template"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	PDF struct {
		Backend         string               `yaml:"backend"`
		DefaultPaper    string               `yaml:"default_paper"`
		PaperSizes      map[string]PaperSize `yaml:"paper_sizes"`
		ViewportWidth   int                  `yaml:"viewport_width"`
		ViewportHeight  int                  `yaml:"viewport_height"`
		TimeoutSecs     int                  `yaml:"timeout_secs"`
		ChromePath      string               `yaml:"chrome_path"`
		ChromeNoSandbox bool                 `yaml:"chrome_no_sandbox"`
		OutputDir       string               `yaml:"output_dir"`
	} `yaml:"pdf"`

	Stats struct {
		RedisHost string `yaml:"redis_host"`
		RedisDB   int    `yaml:"redis_db"`
	} `yaml:"stats"`

	Journal PostgresConfig `yaml:"journal"`
}

// Backends supported by the PDF routes.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
)

// LoadConfig reads the file named by CONFIG_PATH (default config.yaml) and
// applies environment overrides.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg := LoadFrom(path)
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("CHROME_BIN"); v != "" && cfg.PDF.ChromePath == "" {
		cfg.PDF.ChromePath = v
	}
	return cfg
}

// LoadFrom parses the YAML file at path. It panics when the file cannot be
// read or holds invalid values, since the service cannot start without it.
func LoadFrom(path string) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %s: %v", path, err))
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":3000"
	}
	if cfg.Server.BodyLimit == 0 {
		cfg.Server.BodyLimit = 1024 * 1024
	}
	if cfg.Server.TraceHeader == "" {
		cfg.Server.TraceHeader = "X-Request-ID"
	}
	if cfg.Schema.Path == "" {
		cfg.Schema.Path = "api/swagger.yaml"
	}
	if cfg.Schema.Definition == "" {
		cfg.Schema.Definition = "TemplateParameters"
	}
	if cfg.Template.Path == "" {
		cfg.Template.Path = "templates/sample.html"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.PDF.Backend == "" {
		cfg.PDF.Backend = BackendChromedp
	}
	if cfg.PDF.DefaultPaper == "" {
		cfg.PDF.DefaultPaper = "A4"
	}
	if len(cfg.PDF.PaperSizes) == 0 {
		cfg.PDF.PaperSizes = map[string]PaperSize{
			"A4": {Width: 8.27, Height: 11.69},
		}
	}
	// A4 ratio.
	if cfg.PDF.ViewportWidth == 0 {
		cfg.PDF.ViewportWidth = 1050
	}
	if cfg.PDF.ViewportHeight == 0 {
		cfg.PDF.ViewportHeight = 1485
	}
	if cfg.PDF.OutputDir == "" {
		cfg.PDF.OutputDir = os.TempDir()
	}
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	if !strings.HasPrefix(cfg.Server.Port, ":") {
		return fmt.Errorf("server.port must look like :3000, got %q", cfg.Server.Port)
	}
	if cfg.Server.BodyLimit < 0 {
		return fmt.Errorf("server.body_limit must not be negative")
	}
	switch cfg.PDF.Backend {
	case BackendChromedp, BackendRod:
	default:
		return fmt.Errorf("pdf.backend must be %q or %q, got %q", BackendChromedp, BackendRod, cfg.PDF.Backend)
	}
	paper, ok := cfg.PDF.PaperSizes[cfg.PDF.DefaultPaper]
	if !ok {
		return fmt.Errorf("pdf.default_paper %q has no entry in pdf.paper_sizes", cfg.PDF.DefaultPaper)
	}
	if paper.Width <= 0 || paper.Height <= 0 {
		return fmt.Errorf("pdf.paper_sizes.%s must have positive width and height", cfg.PDF.DefaultPaper)
	}
	if cfg.PDF.TimeoutSecs < 0 {
		return fmt.Errorf("pdf.timeout_secs must not be negative")
	}
	if cfg.PDF.ViewportWidth < 0 || cfg.PDF.ViewportHeight < 0 {
		return fmt.Errorf("pdf viewport must not be negative")
	}
	return nil
}

// Paper returns the default paper size.
func (cfg Config) Paper() PaperSize {
	return cfg.PDF.PaperSizes[cfg.PDF.DefaultPaper]
}

// TraceHeaderName is the header carrying the request id, X-Request-ID
// unless configured.
func (cfg Config) TraceHeaderName() string {
	if cfg.Server.TraceHeader == "" {
		return "X-Request-ID"
	}
	return cfg.Server.TraceHeader
}

// RenderTimeout is zero when renders are not bounded.
func (cfg Config) RenderTimeout() time.Duration {
	return time.Duration(cfg.PDF.TimeoutSecs) * time.Second
}
