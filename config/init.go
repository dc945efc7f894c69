package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/tracing"
)

type Config struct {
	ImapConfig    *ImapConfig
	CacheConfig   *CacheConfig
	MountConfig   *MountConfig
	StatusConfig  *StatusConfig
	CronConfig    *CronConfig
	KeyringConfig *KeyringConfig
	Logger        *logger.Config
	Tracing       *tracing.JaegerConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		ImapConfig:    &ImapConfig{},
		CacheConfig:   &CacheConfig{},
		MountConfig:   &MountConfig{},
		StatusConfig:  &StatusConfig{},
		CronConfig:    &CronConfig{},
		KeyringConfig: &KeyringConfig{},
		Logger:        &logger.Config{},
		Tracing:       &tracing.JaegerConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
