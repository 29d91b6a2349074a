package config

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config carries the knobs the application layer passes into the engine.
// There is no flag surface: this is a library, the app owns its CLI.
type Config struct {
	// BaseURL is the sync server in "host:port" form; ServerURL is derived.
	BaseURL     string `env:"HEALTHSYNC_BASE_URL"`
	EnableHTTPS bool   `env:"HEALTHSYNC_ENABLE_HTTPS"`
	ServerURL   string `env:"-"`

	DBPath    string `env:"HEALTHSYNC_DB_PATH"`
	KeyDir    string `env:"HEALTHSYNC_KEY_DIR"`
	TokenFile string `env:"HEALTHSYNC_TOKEN_FILE"`

	MaxBatchSize int `env:"HEALTHSYNC_MAX_BATCH_SIZE"`
}

// NewConfig loads .env if present, parses the environment and fills
// defaults.
func NewConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	_ = env.Parse(cfg)

	// BaseURL must be "address:port", no scheme and no path.
	hostPortRe := regexp.MustCompile(`^[A-Za-z0-9\.\-]+:\d{1,5}$`)
	if !hostPortRe.MatchString(cfg.BaseURL) {
		cfg.BaseURL = "localhost:8081"
	}
	if cfg.EnableHTTPS {
		cfg.ServerURL = "https://" + cfg.BaseURL
	} else {
		cfg.ServerURL = "http://" + cfg.BaseURL
	}

	cfgDir, _ := os.UserConfigDir()
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfgDir, "HealthSync", "observations.sqlite")
	}
	if cfg.KeyDir == "" {
		cfg.KeyDir = filepath.Join(cfgDir, "HealthSync", "keys")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = filepath.Join(cfgDir, "HealthSync", "auth_token")
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	return cfg
}
