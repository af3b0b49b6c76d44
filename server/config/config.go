package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Analysis AnalysisConfig `json:"analysis"`
	Render   RenderConfig   `json:"render"`
	Session  SessionConfig  `json:"session"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Environment     string        `json:"environment"`
	StaticDir       string        `json:"static_dir"`
}

type AnalysisConfig struct {
	Frames    int           `json:"frames"`
	FPS       int           `json:"fps"`
	Delay     time.Duration `json:"delay"`
	Workers   int           `json:"workers"`
	QueueSize int           `json:"queue_size"`
}

type RenderConfig struct {
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Supersample int           `json:"supersample"`
	SnapshotTTL time.Duration `json:"snapshot_ttl"`
	CacheSize   int           `json:"cache_size"`
	ChartAssets string        `json:"chart_assets"`
}

type SessionConfig struct {
	IdleTTL     time.Duration `json:"idle_ttl"`
	MaxSessions int           `json:"max_sessions"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	MaxUploadSize  int64         `json:"max_upload_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func LoadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
			StaticDir:       getEnv("STATIC_DIR", ""),
		},
		Analysis: AnalysisConfig{
			Frames:    getEnvAsInt("ANALYSIS_FRAMES", 60),
			FPS:       getEnvAsInt("ANALYSIS_FPS", 30),
			Delay:     getEnvAsDuration("ANALYSIS_DELAY", 2*time.Second),
			Workers:   getEnvAsInt("ANALYSIS_WORKERS", 4),
			QueueSize: getEnvAsInt("ANALYSIS_QUEUE_SIZE", 100),
		},
		Render: RenderConfig{
			Width:       getEnvAsInt("RENDER_WIDTH", 960),
			Height:      getEnvAsInt("RENDER_HEIGHT", 540),
			Supersample: getEnvAsInt("RENDER_SUPERSAMPLE", 2),
			SnapshotTTL: getEnvAsDuration("RENDER_SNAPSHOT_TTL", 5*time.Minute),
			CacheSize:   getEnvAsInt("RENDER_CACHE_SIZE", 256),
			ChartAssets: getEnv("RENDER_CHART_ASSETS", ""),
		},
		Session: SessionConfig{
			IdleTTL:     getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
			MaxSessions: getEnvAsInt("SESSION_MAX", 100),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 100),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 200),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 1024*1024),
			MaxUploadSize:  getEnvAsInt64("MAX_UPLOAD_SIZE", 200*1024*1024),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Analysis.Frames < 1 {
		errors = append(errors, "analysis frame count must be positive")
	}

	if c.Analysis.FPS < 1 {
		errors = append(errors, "analysis fps must be positive")
	}

	if c.Analysis.Delay < 0 {
		errors = append(errors, "analysis delay must not be negative")
	}

	if c.Analysis.Workers < 1 || c.Analysis.QueueSize < 1 {
		errors = append(errors, "analysis workers and queue size must be positive")
	}

	if c.Render.Width < 16 || c.Render.Height < 16 {
		errors = append(errors, "render size must be at least 16x16")
	}

	if c.Render.Supersample < 1 || c.Render.Supersample > 4 {
		errors = append(errors, "render supersample must be between 1 and 4")
	}

	if c.Render.CacheSize < 1 {
		errors = append(errors, "render cache size must be positive")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.MaxUploadSize <= 0 {
		errors = append(errors, "max upload size must be positive")
	}

	if c.Security.EnableHTTPS && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		errors = append(errors, "cert and key files are required when HTTPS is enabled")
	}

	if c.Session.MaxSessions < 0 {
		errors = append(errors, "max sessions must not be negative")
	}

	if c.Session.IdleTTL <= 0 && logger != nil {
		logger.Warn("Session idle eviction disabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

// IsProduction reports whether the server runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
