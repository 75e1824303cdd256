// Package config loads server configuration from DIFF_MCP_* environment
// variables. Every setting has a sensible default, so an empty environment
// yields a working configuration with recognition disabled.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ironsheep/image-diff-mcp/internal/ocr"
)

// Config holds the full server configuration.
type Config struct {
	// LogLevel is the zerolog level name (trace, debug, info, warn, error).
	LogLevel string

	// RecognizerURL is the base URL of the remote recognition service.
	// Empty disables remote recognition.
	RecognizerURL string

	// RecognizerToken is the bearer token for the remote service, if any.
	RecognizerToken string

	// RecognizerTimeout bounds individual HTTP calls to the remote service.
	RecognizerTimeout time.Duration

	// LocalOCR enables the in-process Tesseract backend instead of a
	// remote service. Requires a cgo build with Tesseract installed.
	LocalOCR bool

	// OCRLanguage is the Tesseract language code for local recognition.
	OCRLanguage string

	// Recognition orchestration parameters. See ocr.Config.
	BatchSize      int
	PollInterval   time.Duration
	GracePeriod    time.Duration
	StuckAfter     time.Duration
	BatchTimeout   time.Duration
	MaxResubmits   int
	SubmitAttempts int
	SubmitBackoff  time.Duration

	// CropPadding and CropScale control how line boxes are cut out before
	// submission. See ocr.CropOptions.
	CropPadding int
	CropScale   float64
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:          getEnvOrDefault("DIFF_MCP_LOG_LEVEL", "info"),
		RecognizerURL:     getEnvOrDefault("DIFF_MCP_RECOGNIZER_URL", ""),
		RecognizerToken:   getEnvOrDefault("DIFF_MCP_RECOGNIZER_TOKEN", ""),
		RecognizerTimeout: getEnvAsDurationOrDefault("DIFF_MCP_RECOGNIZER_TIMEOUT", 30*time.Second),
		LocalOCR:          getEnvAsBoolOrDefault("DIFF_MCP_OCR_LOCAL", false),
		OCRLanguage:       getEnvOrDefault("DIFF_MCP_OCR_LANGUAGE", "eng"),
		BatchSize:         getEnvAsIntOrDefault("DIFF_MCP_BATCH_SIZE", 10),
		PollInterval:      getEnvAsDurationOrDefault("DIFF_MCP_POLL_INTERVAL", 3*time.Second),
		GracePeriod:       getEnvAsDurationOrDefault("DIFF_MCP_GRACE_PERIOD", 10*time.Second),
		StuckAfter:        getEnvAsDurationOrDefault("DIFF_MCP_STUCK_AFTER", 40*time.Second),
		BatchTimeout:      getEnvAsDurationOrDefault("DIFF_MCP_BATCH_TIMEOUT", 10*time.Minute),
		MaxResubmits:      getEnvAsIntOrDefault("DIFF_MCP_MAX_RESUBMITS", 3),
		SubmitAttempts:    getEnvAsIntOrDefault("DIFF_MCP_SUBMIT_ATTEMPTS", 3),
		SubmitBackoff:     getEnvAsDurationOrDefault("DIFF_MCP_SUBMIT_BACKOFF", time.Second),
		CropPadding:       getEnvAsIntOrDefault("DIFF_MCP_CROP_PADDING", 4),
		CropScale:         getEnvAsFloatOrDefault("DIFF_MCP_CROP_SCALE", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.RecognizerURL != "" && c.LocalOCR {
		return fmt.Errorf("DIFF_MCP_RECOGNIZER_URL and DIFF_MCP_OCR_LOCAL are mutually exclusive")
	}

	if c.BatchSize < 1 || c.BatchSize > 100 {
		return fmt.Errorf("DIFF_MCP_BATCH_SIZE must be between 1 and 100, got %d", c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("DIFF_MCP_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("DIFF_MCP_BATCH_TIMEOUT must be positive, got %s", c.BatchTimeout)
	}
	if c.MaxResubmits < 1 || c.MaxResubmits > 10 {
		return fmt.Errorf("DIFF_MCP_MAX_RESUBMITS must be between 1 and 10, got %d", c.MaxResubmits)
	}
	if c.SubmitAttempts < 1 || c.SubmitAttempts > 10 {
		return fmt.Errorf("DIFF_MCP_SUBMIT_ATTEMPTS must be between 1 and 10, got %d", c.SubmitAttempts)
	}
	if c.CropPadding < 0 {
		return fmt.Errorf("DIFF_MCP_CROP_PADDING must not be negative, got %d", c.CropPadding)
	}
	if c.CropScale <= 0 || c.CropScale > 8 {
		return fmt.Errorf("DIFF_MCP_CROP_SCALE must be between 0 and 8, got %g", c.CropScale)
	}
	return nil
}

// Orchestrator maps the configuration onto recognition orchestration
// parameters.
func (c *Config) Orchestrator() ocr.Config {
	return ocr.Config{
		BatchSize:      c.BatchSize,
		PollInterval:   c.PollInterval,
		GracePeriod:    c.GracePeriod,
		StuckAfter:     c.StuckAfter,
		BatchTimeout:   c.BatchTimeout,
		MaxResubmits:   c.MaxResubmits,
		SubmitAttempts: c.SubmitAttempts,
		SubmitBackoff:  c.SubmitBackoff,
	}
}

// Crop maps the configuration onto line-crop parameters.
func (c *Config) Crop() ocr.CropOptions {
	return ocr.CropOptions{
		Padding: c.CropPadding,
		Scale:   c.CropScale,
	}
}

// getEnvOrDefault gets an environment variable or returns the default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets an environment variable as int. Unset or
// unparsable values return the default.
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBoolOrDefault gets an environment variable as bool ("1", "t",
// "true" and upper-case variants count as true). Unset or unparsable values
// return the default.
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurationOrDefault gets an environment variable as a Go duration
// string ("3s", "10m"). Unset or unparsable values return the default.
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloatOrDefault gets an environment variable as float64. Unset or
// unparsable values return the default.
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
