package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, loaded from environment
// variables (a local .env file is read first when present).
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"8080"`

	// Empty DATABASE_URL runs against the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	SendInterval time.Duration `env:"SEND_INTERVAL" envDefault:"2s"`
	ConfirmDelay time.Duration `env:"CONFIRM_DELAY" envDefault:"3s"`

	// Dummy channel behavior.
	ChannelLatency    time.Duration `env:"CHANNEL_LATENCY" envDefault:"50ms"`
	ChannelFailurePct int           `env:"CHANNEL_FAILURE_PCT" envDefault:"3"`

	// Optional AMQP bridge; disabled when AMQP_URL is empty.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"campaign.events"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
