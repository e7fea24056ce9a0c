package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		TTL      string `yaml:"ttl" env:"REDIS_TTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"postgres"`
	Quiz struct {
		Operation            string `yaml:"operation" env:"QUIZ_OPERATION"`
		Level                int    `yaml:"level" env:"QUIZ_LEVEL"`
		QuestionWindow       string `yaml:"question_window" env:"QUIZ_QUESTION_WINDOW"`
		GracePeriod          string `yaml:"grace_period" env:"QUIZ_GRACE_PERIOD"`
		AdvanceOnAllAnswered bool   `yaml:"advance_on_all_answered" env:"QUIZ_ADVANCE_ON_ALL_ANSWERED"`
		AllowCoTeachers      bool   `yaml:"allow_co_teachers" env:"QUIZ_ALLOW_CO_TEACHERS"`
	} `yaml:"quiz"`
}

// Load reads YAML config from path; environment variables override file
// values. A missing file is not an error so the service can run on env vars
// alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	cfg.Quiz.AdvanceOnAllAnswered = true

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
