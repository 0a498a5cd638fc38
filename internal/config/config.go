// Package config reads the service configuration.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime parameters of the order service. Payment
// deadlines are configuration, not hidden constants: they are handed to the
// client at order creation and enforced cooperatively by its cancel call.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	AuthSecret     string        `env:"AUTH_SECRET"`
	ToolDeadline   time.Duration `env:"TOOL_PAYMENT_DEADLINE"`
	CourseDeadline time.Duration `env:"COURSE_PAYMENT_DEADLINE"`
	PollInterval   time.Duration `env:"STATUS_POLL_INTERVAL"`
}

// Parse reads configuration from command-line flags and environment
// variables. Environment values take precedence over flags.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envToolDeadline := cfg.ToolDeadline
	envCourseDeadline := cfg.CourseDeadline
	envPollInterval := cfg.PollInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for signed identity cookies")
	flag.DurationVar(&cfg.ToolDeadline, "tool-deadline", 180*time.Second, "payment deadline for tool orders")
	flag.DurationVar(&cfg.CourseDeadline, "course-deadline", 300*time.Second, "payment deadline for course orders")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", 3*time.Second, "client status poll interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envToolDeadline != 0 {
		cfg.ToolDeadline = envToolDeadline
	}
	if envCourseDeadline != 0 {
		cfg.CourseDeadline = envCourseDeadline
	}
	if envPollInterval != 0 {
		cfg.PollInterval = envPollInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
