// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env          string `yaml:"env" env:"CAPACITY_ENV" env-default:"local"`
	HTTPServer   `yaml:"http_server"`
	Backend      Backend  `yaml:"backend"`
	Storage      Storage  `yaml:"storage"`
	Pipeline     Pipeline `yaml:"pipeline"`
	Sessions     Sessions `yaml:"sessions"`
	HolidaysFile string   `yaml:"holidays_file" env:"CAPACITY_HOLIDAYS_FILE"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"CAPACITY_ADDRESS" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"35s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"CAPACITY_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:5173"`
}

// Backend configures the upstream business API client and the Batch Loader.
type Backend struct {
	BaseURL     string        `yaml:"base_url" env:"CAPACITY_BACKEND_URL" env-default:"http://localhost:3000/api"`
	Timeout     time.Duration `yaml:"timeout" env-default:"30s"`
	PageSize    int           `yaml:"page_size" env-default:"200"`
	BatchSize   int           `yaml:"batch_size" env-default:"200"`
	Concurrency int           `yaml:"concurrency" env-default:"4"`
}

type Storage struct {
	Path string `yaml:"path" env:"CAPACITY_STORAGE_PATH" env-default:"./data/capacity.db"`
}

type Pipeline struct {
	OptionsDebounce time.Duration `yaml:"options_debounce" env-default:"300ms"`
	ReloadDebounce  time.Duration `yaml:"reload_debounce" env-default:"500ms"`
}

// Sessions configures the idle-session reaper.
type Sessions struct {
	IdleTTL       time.Duration `yaml:"idle_ttl" env-default:"30m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1m"`
}

// Load reads the file at path, then applies environment overrides. An empty
// path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}

// MustLoad is Load for main: it exits on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}
