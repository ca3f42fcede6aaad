// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the full service configuration.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Solver struct {
		// Backend is the solver engine to use. The choice is a pure
		// configuration input; it is never inferred from the model shape.
		Backend   string        `env:"SOLVER_BACKEND" envDefault:"branch_and_bound"`
		Workers   int           `env:"SOLVER_WORKERS" envDefault:"4"`
		MaxNodes  int64         `env:"SOLVER_MAX_NODES" envDefault:"0"`
		Tolerance float64       `env:"SOLVER_TOLERANCE" envDefault:"1e-6"`
		Verbose   bool          `env:"SOLVER_VERBOSE" envDefault:"false"`
		JobTTL    time.Duration `env:"SOLVER_JOB_TTL" envDefault:"1h"`
	}
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
