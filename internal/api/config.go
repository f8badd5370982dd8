package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// Config holds the HTTP server settings
type Config struct {
	Addr string `json:"addr" mapstructure:"addr"`
	Mode string `json:"mode" mapstructure:"mode"`

	// RateLimit is the number of requests per second allowed per client; 0 disables limiting
	RateLimit float64 `json:"rate_limit" mapstructure:"rate-limit"`
	RateBurst int     `json:"rate_burst" mapstructure:"rate-burst"`

	MaxUploadBytes  int64         `json:"max_upload_bytes" mapstructure:"max-upload-bytes"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read-timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write-timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown-timeout"`
}

// DefaultConfig returns the server defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		Mode:            gin.ReleaseMode,
		RateLimit:       10,
		RateBurst:       20,
		MaxUploadBytes:  32 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "addr", c.Addr, nil).
			WithSuggestion("use a listen address such as ':8080'")
	}
	switch c.Mode {
	case gin.ReleaseMode, gin.DebugMode, gin.TestMode:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "mode", c.Mode, nil).
			WithSuggestion("use 'release', 'debug' or 'test'")
	}
	if c.RateLimit < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "rate-limit", c.RateLimit, nil)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "rate-burst", c.RateBurst, nil).
			WithSuggestion("the burst must allow at least one request")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max-upload-bytes", c.MaxUploadBytes, nil)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "timeouts", nil, nil).
			WithSuggestion("timeouts cannot be negative")
	}
	return nil
}
