package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Quality  QualityConfig
	Pipeline PipelineConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// QualityConfig holds the externally configurable routing thresholds.
type QualityConfig struct {
	PageScoreThreshold  float64
	DocScoreThreshold   float64
	MinDPI              int
	MinTextCoverage     float64
	MaxHILTasksPerPage  int
	TableParseFailRatio float64
}

// PipelineConfig holds worker pool configuration
type PipelineConfig struct {
	Workers       int
	SweepInterval time.Duration
	ApplyTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Quality: QualityConfig{
			PageScoreThreshold:  getEnvAsFloat64("PAGE_SCORE_THRESHOLD", 0.80),
			DocScoreThreshold:   getEnvAsFloat64("DOC_SCORE_THRESHOLD", 0.85),
			MinDPI:              getEnvAsInt("MIN_DPI", 200),
			MinTextCoverage:     getEnvAsFloat64("MIN_TEXT_COVERAGE", 0.05),
			MaxHILTasksPerPage:  getEnvAsInt("MAX_HIL_TASKS_PER_PAGE", 10),
			TableParseFailRatio: getEnvAsFloat64("TABLE_PARSE_FAIL_RATIO", 0.40),
		},
		Pipeline: PipelineConfig{
			Workers:       getEnvAsInt("PIPELINE_WORKERS", 4),
			SweepInterval: getEnvAsDuration("PIPELINE_SWEEP_INTERVAL", 5*time.Second),
			ApplyTimeout:  getEnvAsDuration("APPLY_TIMEOUT", 30*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Quality.PageScoreThreshold <= 0 || c.Quality.PageScoreThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "PAGE_SCORE_THRESHOLD must be in (0,1]", ErrInvalidInput)
	}
	if c.Quality.DocScoreThreshold <= 0 || c.Quality.DocScoreThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "DOC_SCORE_THRESHOLD must be in (0,1]", ErrInvalidInput)
	}
	if c.Quality.MaxHILTasksPerPage < 1 {
		return NewAppError("CONFIG_ERROR", "MAX_HIL_TASKS_PER_PAGE must be positive", ErrInvalidInput)
	}
	return nil
}
