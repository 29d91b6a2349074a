package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("HEALTHSYNC_BASE_URL", "")
	cfg := NewConfig()

	assert.Equal(t, "localhost:8081", cfg.BaseURL)
	assert.Equal(t, "http://localhost:8081", cfg.ServerURL)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.KeyDir)
	assert.NotEmpty(t, cfg.TokenFile)
}

func TestNewConfig_FromEnv(t *testing.T) {
	t.Setenv("HEALTHSYNC_BASE_URL", "sync.example.com:443")
	t.Setenv("HEALTHSYNC_ENABLE_HTTPS", "true")
	t.Setenv("HEALTHSYNC_MAX_BATCH_SIZE", "25")
	t.Setenv("HEALTHSYNC_DB_PATH", "/tmp/obs.sqlite")

	cfg := NewConfig()
	assert.Equal(t, "https://sync.example.com:443", cfg.ServerURL)
	assert.Equal(t, 25, cfg.MaxBatchSize)
	assert.Equal(t, "/tmp/obs.sqlite", cfg.DBPath)
}

func TestNewConfig_RejectsMalformedBaseURL(t *testing.T) {
	t.Setenv("HEALTHSYNC_BASE_URL", "http://with-scheme:8080/path")
	cfg := NewConfig()
	assert.Equal(t, "localhost:8081", cfg.BaseURL)
}
