package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type ServerConfig struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	AdminAPIKey string `env:"ADMIN_API_KEY"`
	MCPEnabled  bool   `env:"MCP_ENABLED" envDefault:"true"`

	// GatewayAPIKey authenticates the player gateway that submits
	// withdrawals. Withdrawals are refused while it is empty.
	GatewayAPIKey string `env:"GATEWAY_API_KEY"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return cfg, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
		if cfg.DBMaxConns < 1 {
			return cfg, errors.New("DB_MAX_CONNS must be at least 1")
		}
	case StoreDriverMemory:
	default:
		return cfg, errors.New("STORE_DRIVER must be postgres or memory")
	}
	return cfg, nil
}
