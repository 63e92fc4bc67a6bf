package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Rockwatch server.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Orchestrator OrchestratorConfig
	Resource     ResourceConfig
	Hub          HubConfig
	Executor     ExecutorConfig
}

type ServerConfig struct {
	Port        int
	Env         string
	CORSOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig is optional; an empty URL disables persistence.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL disables the status mirror and rate limiting.
type RedisConfig struct {
	URL       string
	StatusTTL time.Duration
}

type AuthConfig struct {
	// KeyHashes are bcrypt hashes of accepted API keys.
	KeyHashes         []string
	RequestsPerMinute int
}

type OrchestratorConfig struct {
	MaxConcurrent   int
	AnalysisTimeout time.Duration
	RecorderBuffer  int
}

type ResourceConfig struct {
	SampleInterval   time.Duration
	HighWaterPercent float64
}

type HubConfig struct {
	SendTimeout   time.Duration
	MaxIdle       time.Duration
	PruneInterval time.Duration
	PingInterval  time.Duration
	MaxFanout     int
}

type ExecutorConfig struct {
	CatalogFile string
	JupyterBin  string
	WorkDir     string
	OutputDir   string
}

// Load reads configuration from environment variables (and a .env file when
// present) and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        envInt("ROCKWATCH_PORT", 8080),
			Env:         envString("ROCKWATCH_ENV", "development"),
			CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			StatusTTL: envDuration("REDIS_STATUS_TTL", 24*time.Hour),
		},
		Auth: AuthConfig{
			KeyHashes:         envList("API_KEY_HASHES", nil),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:   envInt("MAX_CONCURRENT_ANALYSES", 3),
			AnalysisTimeout: envDurationSecs("ANALYSIS_TIMEOUT_SECS", time.Hour),
			RecorderBuffer:  envInt("RECORDER_BUFFER", 256),
		},
		Resource: ResourceConfig{
			SampleInterval:   envDuration("RESOURCE_SAMPLE_INTERVAL", 30*time.Second),
			HighWaterPercent: envFloat("RESOURCE_HIGH_WATER_PERCENT", 80),
		},
		Hub: HubConfig{
			SendTimeout:   envDuration("HUB_SEND_TIMEOUT", 10*time.Second),
			MaxIdle:       envDuration("HUB_MAX_IDLE", 5*time.Minute),
			PruneInterval: envDuration("HUB_PRUNE_INTERVAL", time.Minute),
			PingInterval:  envDuration("HUB_PING_INTERVAL", 30*time.Second),
			MaxFanout:     envInt("HUB_MAX_FANOUT", 64),
		},
		Executor: ExecutorConfig{
			CatalogFile: envString("ANALYSIS_CATALOG_FILE", filepath.Join("configs", "analyses.yaml")),
			JupyterBin:  envString("JUPYTER_BIN", "jupyter"),
			WorkDir:     envString("ANALYSIS_WORK_DIR", os.TempDir()),
			OutputDir:   envString("ANALYSIS_OUTPUT_DIR", "outputs"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with ROCKWATCH_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("ROCKWATCH_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL != "" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}

	if c.Redis.URL != "" &&
		!strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.IsProduction() && len(c.Auth.KeyHashes) == 0 {
		return fmt.Errorf("API_KEY_HASHES is required when ROCKWATCH_ENV is production")
	}

	if c.Orchestrator.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT_ANALYSES must be at least 1, got %d", c.Orchestrator.MaxConcurrent)
	}
	if c.Orchestrator.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT_SECS must be positive")
	}

	if c.Resource.SampleInterval <= 0 {
		return fmt.Errorf("RESOURCE_SAMPLE_INTERVAL must be positive")
	}
	if c.Resource.HighWaterPercent <= 0 || c.Resource.HighWaterPercent > 100 {
		return fmt.Errorf("RESOURCE_HIGH_WATER_PERCENT must be in (0, 100], got %v", c.Resource.HighWaterPercent)
	}

	if c.Hub.SendTimeout <= 0 || c.Hub.MaxIdle <= 0 || c.Hub.PruneInterval <= 0 || c.Hub.PingInterval <= 0 {
		return fmt.Errorf("HUB_* durations must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
