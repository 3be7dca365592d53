package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8085"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	S3Endpoint  string `env:"S3_ENDPOINT,notEmpty"`
	S3AccessKey string `env:"S3_ACCESS_KEY,notEmpty"`
	S3SecretKey string `env:"S3_SECRET_KEY,notEmpty"`
	S3UseSSL    bool   `env:"S3_USE_SSL" envDefault:"true"`

	WorkDir       string `env:"WORK_DIR" envDefault:"/tmp/slicerd"`
	SlicerCommand string `env:"SLICER_COMMAND,notEmpty"`

	HighQueue        string `env:"QUEUE_HIGH" envDefault:"slicing:high"`
	LowQueue         string `env:"QUEUE_LOW" envDefault:"slicing:low"`
	LeaseSec         int    `env:"LEASE_SEC" envDefault:"60"`
	RenewIntervalSec int    `env:"RENEW_INTERVAL_SEC" envDefault:"30"`
	PollIntervalMS   int    `env:"POLL_INTERVAL_MS" envDefault:"500"`
	MaxConcurrent    int64  `env:"MAX_CONCURRENT" envDefault:"4"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func (c Config) Lease() time.Duration         { return time.Duration(c.LeaseSec) * time.Second }
func (c Config) RenewInterval() time.Duration { return time.Duration(c.RenewIntervalSec) * time.Second }
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
