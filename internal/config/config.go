// Package config loads runtime configuration from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Tracing configures OpenTelemetry export of broker spans.
type Tracing struct {
	Enabled     bool
	ServiceName string `validate:"required"`
	ZipkinURL   string `validate:"required_if=Enabled true,omitempty,url"`
}

// Broker configures the in-memory broker adapters.
type Broker struct {
	// Export is the pattern of host topics forwarded to the broker. Empty
	// disables forwarding.
	Export string
	// Prefix is prepended to host topics on the broker.
	Prefix string
	// Inbound lists broker topics relayed into the host.
	Inbound []string
}

// Config holds all configuration for the application.
type Config struct {
	Workers         int           `validate:"min=1,max=4096"`
	ScriptsDir      string        `validate:"required"`
	HotReload       bool
	ScriptTimeout   time.Duration `validate:"gt=0"`
	LibraryPath     string
	MetricsAddr     string        `validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	LogFormat       string        `validate:"oneof=text json"`
	LogLevel        string        `validate:"oneof=debug info warn error"`
	Broker          Broker
	Tracing         Tracing
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		Workers:         runtime.NumCPU(),
		ScriptsDir:      "scripts",
		HotReload:       true,
		ScriptTimeout:   5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogFormat:       "text",
		LogLevel:        "info",
		Broker: Broker{
			Prefix: "modular.",
		},
		Tracing: Tracing{
			ServiceName: "modular",
			ZipkinURL:   "http://localhost:9411/api/v2/spans",
		},
	}
}

// Load reads configuration from the environment. Variables in files (".env"
// by default) are applied first without overriding the environment; a
// missing file is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", f, err)
			}
			slog.Debug("No env file found, relying on environment variables", "file", f)
		}
	}

	cfg := Default()
	e := &env{}
	e.int("MODULAR_WORKERS", &cfg.Workers)
	e.string("MODULAR_SCRIPTS_DIR", &cfg.ScriptsDir)
	e.bool("MODULAR_HOT_RELOAD", &cfg.HotReload)
	e.duration("MODULAR_SCRIPT_TIMEOUT", &cfg.ScriptTimeout)
	e.string("MODULAR_LIBRARY_PATH", &cfg.LibraryPath)
	e.string("MODULAR_METRICS_ADDR", &cfg.MetricsAddr)
	e.duration("MODULAR_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	e.string("LOG_FORMAT", &cfg.LogFormat)
	e.string("LOG_LEVEL", &cfg.LogLevel)
	e.string("MODULAR_BROKER_EXPORT", &cfg.Broker.Export)
	e.string("MODULAR_BROKER_PREFIX", &cfg.Broker.Prefix)
	e.list("MODULAR_BROKER_INBOUND", &cfg.Broker.Inbound)
	e.bool("MODULAR_TRACING_ENABLED", &cfg.Tracing.Enabled)
	e.string("MODULAR_TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	e.string("MODULAR_TRACING_ZIPKIN_URL", &cfg.Tracing.ZipkinURL)
	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	errs []error
}

func (e *env) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *env) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *env) string(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *env) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *env) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *env) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *env) list(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}
