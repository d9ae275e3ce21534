package config

import (
	"log"

	"taskloop/pkg/config"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MQ      config.MQConfig      `yaml:"mq"`
	Redis   config.RedisConfig   `yaml:"redis"`
	TaskAPI config.TaskAPIConfig `yaml:"task_api"`
	Server  config.ServerConfig  `yaml:"server"`
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

	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideTaskAPIFromEnv(&cfg.TaskAPI)
	config.OverrideServerFromEnv(&cfg.Server)

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8082"
	}

	return &cfg
}
