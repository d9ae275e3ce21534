package config

import (
	"log"

	"taskloop/pkg/config"

	"gopkg.in/yaml.v3"
)

type NotificationConfig struct {
	RetryDelaysSeconds []int `yaml:"retry_delays_seconds"`
	SendTimeoutSeconds int   `yaml:"send_timeout_seconds"`
}

type Config struct {
	DB           config.DBConfig    `yaml:"db"`
	MQ           config.MQConfig    `yaml:"mq"`
	Redis        config.RedisConfig `yaml:"redis"`
	SMTP         config.SMTPConfig  `yaml:"smtp"`
	Notification NotificationConfig `yaml:"notification"`
	Server       config.ServerConfig `yaml:"server"`
}

func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var cfg Config
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	config.OverrideServerFromEnv(&cfg.Server)

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8083"
	}

	return &cfg
}
