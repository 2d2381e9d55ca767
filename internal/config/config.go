package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"log"
)

type Config struct {
	Redis Redis
}

type Redis struct {
	Addr                string        `env:"Redis_Address" envDefault:"localhost:6379"`
	Password            string        `env:"Redis_Password"`
	DB                  int           `env:"Redis_DB"`
	HighStreamKey       string        `env:"Redis_HighStreamKey" envDefault:"flowq:tasks:high"`
	LowStreamKey        string        `env:"Redis_LowStreamKey" envDefault:"flowq:tasks:low"`
	DLQStreamKey        string        `env:"Redis_DLQStreamKey" envDefault:"flowq:tasks:dead"`
	CheckpointStreamKey string        `env:"Redis_CheckpointStreamKey" envDefault:"flowq:checkpoints"`
	Group               string        `env:"Redis_Group" envDefault:"flowq-workers"`
	MaxStreamLen        int64         `env:"Redis_MaxStreamLen" envDefault:"100000"`
	RecoveryInterval    time.Duration `env:"Redis_RecoveryInterval" envDefault:"30s"`
}

func Load() *Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}

	return &c
}
