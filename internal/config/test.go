package config

import "github.com/caarlos0/env/v11"

// TestConfig drives the Postgres-backed tests. They skip when the DSN is unset.
type TestConfig struct {
	TestPostgresDSN string `env:"TEST_POSTGRES_DSN,required,notEmpty"`
	SchemaPrefix    string `env:"TEST_SCHEMA_PREFIX" envDefault:"settlement_test"`
	KeepSchema      bool   `env:"TEST_KEEP_SCHEMA" envDefault:"false"`
}

func LoadTest() (TestConfig, error) {
	var cfg TestConfig
	err := env.Parse(&cfg)
	return cfg, err
}
