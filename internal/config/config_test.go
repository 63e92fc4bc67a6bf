package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/rockwatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv is a helper that sets environment variables for a test and restores them after.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

// chdirTemp runs the test from an empty directory so no stray .env file is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.Orchestrator.AnalysisTimeout)
	assert.Equal(t, 30*time.Second, cfg.Resource.SampleInterval)
	assert.Equal(t, 80.0, cfg.Resource.HighWaterPercent)
	assert.Equal(t, 5*time.Minute, cfg.Hub.MaxIdle)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.URL)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_CustomValues(t *testing.T) {
	chdirTemp(t)
	setEnv(t, map[string]string{
		"ROCKWATCH_PORT":              "9090",
		"MAX_CONCURRENT_ANALYSES":     "6",
		"ANALYSIS_TIMEOUT_SECS":       "120",
		"RESOURCE_SAMPLE_INTERVAL":    "5s",
		"RESOURCE_HIGH_WATER_PERCENT": "75.5",
		"CORS_ORIGINS":                "https://a.example, https://b.example,",
		"API_KEY_HASHES":              "h1,h2",
	})

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.AnalysisTimeout)
	assert.Equal(t, 5*time.Second, cfg.Resource.SampleInterval)
	assert.Equal(t, 75.5, cfg.Resource.HighWaterPercent)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, []string{"h1", "h2"}, cfg.Auth.KeyHashes)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MAX_CONCURRENT_ANALYSES", "lots")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrent)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MAX_CONCURRENT_ANALYSES=7\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MAX_CONCURRENT_ANALYSES") })

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Orchestrator.MaxConcurrent)
}

func TestLoad_ZeroWorkers(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MAX_CONCURRENT_ANALYSES", "0")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_ANALYSES")
}

func TestLoad_InvalidDatabaseURL(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DATABASE_URL", "mysql://localhost/db")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_InvalidRedisURL(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REDIS_URL", "localhost:6379")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestLoad_HighWaterOutOfRange(t *testing.T) {
	chdirTemp(t)
	t.Setenv("RESOURCE_HIGH_WATER_PERCENT", "140")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_HIGH_WATER_PERCENT")
}

func TestLoad_ProductionRequiresKeys(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ROCKWATCH_ENV", "production")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY_HASHES")

	t.Setenv("API_KEY_HASHES", "somehash")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

// --- Catalog ---

func TestLoadCatalog_MissingFileUsesDefaults(t *testing.T) {
	kinds, err := config.LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCatalog(), kinds)
}

func TestLoadCatalog_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kinds:
  - kind: sensorA
    notebook: nb/a.ipynb
    timeout: 90s
  - kind: sensorB
    notebook: nb/b.ipynb
`), 0o600))

	kinds, err := config.LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, kinds, 2)
	assert.Equal(t, "sensorA", kinds[0].Kind)
	assert.Equal(t, 90*time.Second, kinds[0].Timeout)
	assert.Equal(t, time.Duration(0), kinds[1].Timeout)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":          "kinds: []\n",
		"missing kind":   "kinds:\n  - notebook: a.ipynb\n",
		"missing nb":     "kinds:\n  - kind: a\n",
		"duplicate kind": "kinds:\n  - kind: a\n    notebook: a.ipynb\n  - kind: a\n    notebook: b.ipynb\n",
		"not yaml":       "kinds: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "analyses.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := config.LoadCatalog(path)
			assert.Error(t, err)
		})
	}
}
