package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const (
	FixturesLocal = "local"
	FixturesMinIO = "minio"
)

// Config holds process settings read from the environment. The run itself
// (mode, tests, concurrency) is described by Run.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" env-default:"warn"`
	MetricsAddr     string `env:"METRICS_ADDR"`
	FixturesBackend string `env:"FIXTURES_BACKEND" env-default:"local"`
	AMQPMirror      bool   `env:"AMQP_MIRROR" env-default:"false"`

	MinIOHost     string `env:"MINIO_HOST" env-default:"127.0.0.1:9000"`
	MinIOLogin    string `env:"MINIO_LOGIN"`
	MinIOPassword string `env:"MINIO_PASSWORD"`
	MinIOBucket   string `env:"MINIO_BUCKET" env-default:"fixtures"`
	MinIOSSL      bool   `env:"MINIO_SSL" env-default:"false"`

	RabbitMQHost     string `env:"RABBIT_HOST" env-default:"127.0.0.1"`
	RabbitMQPort     int    `env:"RABBIT_PORT" env-default:"5672"`
	RabbitMQUser     string `env:"RABBIT_USER" env-default:"guest"`
	RabbitMQPassword string `env:"RABBIT_PASSWORD" env-default:"guest"`
	RabbitMQQueue    string `env:"RABBIT_QUEUE" env-default:"fixture-runner-frames"`
}

// NewConfig reads .env from the working directory when it exists, then the
// environment, which takes precedence.
func NewConfig() (*Config, error) {
	return NewConfigFrom(".env")
}

// NewConfigFrom is NewConfig with an explicit dotenv path. An empty or
// missing path reads the environment only.
func NewConfigFrom(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read environment config")
	}

	switch cfg.FixturesBackend {
	case FixturesLocal, FixturesMinIO:
	default:
		return nil, errors.Errorf("unknown fixtures backend %q", cfg.FixturesBackend)
	}
	return cfg, nil
}
