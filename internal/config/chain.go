package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ChainConfig struct {
	APIURL         string        `env:"CHAIN_API_URL" envDefault:"https://open-api-fractal.unisat.io"`
	APIKey         string        `env:"CHAIN_API_KEY"`
	Ticker         string        `env:"CHAIN_TICKER" envDefault:"MYST"`
	RequestTimeout time.Duration `env:"CHAIN_REQUEST_TIMEOUT" envDefault:"10s"`
	MaxRetries     int           `env:"CHAIN_MAX_RETRIES" envDefault:"3"`
	RetryDelay     time.Duration `env:"CHAIN_RETRY_DELAY" envDefault:"2s"`
	RateLimit      float64       `env:"CHAIN_RATE_LIMIT" envDefault:"5"`
	PageSize       int           `env:"CHAIN_PAGE_SIZE" envDefault:"50"`

	DepositPollInterval time.Duration `env:"DEPOSIT_POLL_INTERVAL" envDefault:"30s"`
	WatchIdleTTL        time.Duration `env:"WATCH_IDLE_TTL" envDefault:"24h"`
	HouseWalletAddress  string        `env:"HOUSE_WALLET_ADDRESS"`

	SignerURL    string `env:"SIGNER_URL"`
	SignerSecret string `env:"SIGNER_SECRET"`
}

func LoadChain() (ChainConfig, error) {
	var cfg ChainConfig
	err := env.Parse(&cfg)
	return cfg, err
}
