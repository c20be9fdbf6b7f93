package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	offlinecache "github.com/science-analyse/banking-assistant-sub001"
)

// Config is the gateway configuration file.
// Durations are given as strings ("8s", "1m").
type Config struct {
	Version        string             `yaml:"version"`
	Origin         string             `yaml:"origin"`
	Host           string             `yaml:"host"`
	DB             string             `yaml:"db"`
	RetryDB        string             `yaml:"retryDb"`
	NetworkTimeout string             `yaml:"networkTimeout"`
	ProbeInterval  string             `yaml:"probeInterval"`
	ProbePath      string             `yaml:"probePath"`
	MaxAttempts    int                `yaml:"maxAttempts"`
	Precache       []string           `yaml:"precache"`
	Rules          offlinecache.Rules `yaml:"rules"`
}

func (c Config) networkTimeout() (time.Duration, error) {
	if c.NetworkTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.NetworkTimeout)
}

func (c Config) probeInterval() (time.Duration, error) {
	if c.ProbeInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.ProbeInterval)
}

// envConfig are the environment overrides, applied on top of the file.
type envConfig struct {
	Version string `env:"GATEWAY_VERSION"`
	Origin  string `env:"GATEWAY_ORIGIN"`
	Host    string `env:"GATEWAY_HOST"`
	DB      string `env:"GATEWAY_DB"`
	RetryDB string `env:"GATEWAY_RETRY_DB"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, err
		}
	}

	var overrides envConfig
	if err := env.Parse(&overrides); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	if overrides.Version != "" {
		config.Version = overrides.Version
	}
	if overrides.Origin != "" {
		config.Origin = overrides.Origin
	}
	if overrides.Host != "" {
		config.Host = overrides.Host
	}
	if overrides.DB != "" {
		config.DB = overrides.DB
	}
	if overrides.RetryDB != "" {
		config.RetryDB = overrides.RetryDB
	}
	return config, nil
}
