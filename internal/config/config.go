// Package config loads headpose settings from the environment.
// Command-line flags in cmd/ override what Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/teslashibe/headpose/pkg/pose"
)

// Defaults.
const (
	DefaultPort     = "8090"
	DefaultLogLevel = "info"
	DefaultURL      = "http://localhost:" + DefaultPort
)

// Environment variable names.
const (
	EnvParams    = "POSE_PARAMS"
	EnvGimbal    = "POSE_GIMBAL"
	EnvGimbalEps = "POSE_GIMBAL_EPS"
	EnvPort      = "POSE_PORT"
	EnvURL       = "POSE_URL"
	EnvLogLevel  = "LOG_LEVEL"
)

// Config holds process settings.
type Config struct {
	ParamsPath string
	Gimbal     pose.Gimbal
	Port       string
	URL        string
	LogLevel   string
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Gimbal:   pose.DefaultGimbal(),
		Port:     DefaultPort,
		URL:      DefaultURL,
		LogLevel: DefaultLogLevel,
	}
}

// Load reads the environment on top of Default.
func Load() (Config, error) {
	cfg := Default()
	cfg.ParamsPath = os.Getenv(EnvParams)
	cfg.Port = Env(EnvPort, cfg.Port)
	cfg.URL = Env(EnvURL, cfg.URL)
	cfg.LogLevel = Env(EnvLogLevel, cfg.LogLevel)

	mode, err := pose.ParseGimbalMode(os.Getenv(EnvGimbal))
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", EnvGimbal, err)
	}
	cfg.Gimbal.Mode = mode

	if v := os.Getenv(EnvGimbalEps); v != "" {
		eps, err := strconv.ParseFloat(v, 64)
		if err != nil || eps < 0 {
			return cfg, fmt.Errorf("%s: invalid epsilon %q", EnvGimbalEps, v)
		}
		cfg.Gimbal.Epsilon = eps
	}
	return cfg, nil
}

// Env returns the value of key, or def if it is unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParamsPathRequired returns ParamsPath, exiting with usage help if it is empty.
func (c Config) ParamsPathRequired() string {
	if c.ParamsPath == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable or -params flag is required\n", EnvParams)
		fmt.Fprintf(os.Stderr, "Usage: %s=/models/param_stats.json go run ./cmd/posed\n", EnvParams)
		os.Exit(1)
	}
	return c.ParamsPath
}
