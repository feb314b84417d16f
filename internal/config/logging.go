package config

import (
	"errors"
	"strings"

	"github.com/caarlos0/env/v11"
)

type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SampleEvery int    `env:"LOG_SAMPLE_EVERY" envDefault:"0"`
	File        string `env:"LOG_FILE"`
	MaxMB       int    `env:"LOG_MAX_MB" envDefault:"10"`
	// Service is stamped on every line as "service".
	Service string `env:"LOG_SERVICE" envDefault:"settlement-server"`
}

func LoadLog() (LogConfig, error) {
	var cfg LogConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.Service = strings.TrimSpace(cfg.Service)
	if strings.TrimSpace(cfg.File) != "" && cfg.MaxMB < 1 {
		return cfg, errors.New("LOG_MAX_MB must be at least 1 when LOG_FILE is set")
	}
	return cfg, nil
}
