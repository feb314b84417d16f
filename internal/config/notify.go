package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type NotifyConfig struct {
	Enabled        bool          `env:"NOTIFY_ENABLED" envDefault:"false"`
	ConfigPath     string        `env:"NOTIFY_CONFIG_PATH"`
	ConfigJSON     string        `env:"NOTIFY_CONFIG_JSON"`
	ConfigReload   time.Duration `env:"NOTIFY_CONFIG_RELOAD" envDefault:"5s"`
	Workers        int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	RetryMax       int           `env:"NOTIFY_RETRY_MAX" envDefault:"3"`
	RetryBase      time.Duration `env:"NOTIFY_RETRY_BASE" envDefault:"500ms"`
	RequestTimeout time.Duration `env:"NOTIFY_REQUEST_TIMEOUT" envDefault:"5s"`
}

func LoadNotify() (NotifyConfig, error) {
	var cfg NotifyConfig
	err := env.Parse(&cfg)
	return cfg, err
}

type RedisConfig struct {
	URL          string `env:"REDIS_URL"`
	EventsStream string `env:"REDIS_EVENTS_STREAM" envDefault:"settlement:events"`
	StreamMaxLen int64  `env:"REDIS_STREAM_MAXLEN" envDefault:"100000"`
}

func LoadRedis() (RedisConfig, error) {
	var cfg RedisConfig
	err := env.Parse(&cfg)
	return cfg, err
}

type TracingConfig struct {
	Enabled      bool    `env:"OTEL_ENABLED" envDefault:"false"`
	CollectorURL string  `env:"OTEL_COLLECTOR_URL" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_INSECURE" envDefault:"false"`
	SampleRate   float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1"`
	Environment  string  `env:"APP_ENV" envDefault:"development"`
}

func LoadTracing() (TracingConfig, error) {
	var cfg TracingConfig
	err := env.Parse(&cfg)
	return cfg, err
}
