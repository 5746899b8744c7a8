package filo

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the file and environment facing shape hosts use to say
// where a `Server` listens or a `Client` dials.
type Config struct {
	IPAddress string `yaml:"ip_address" env:"FILO_IP_ADDRESS"`
	Port      int    `yaml:"port" env:"FILO_PORT"`
	Protocol  string `yaml:"protocol" env:"FILO_PROTOCOL"`
}

// DefaultConfig listens on every IPv4 interface.
func DefaultConfig() Config {
	return Config{
		IPAddress: "0.0.0.0",
		Port:      4040,
		Protocol:  "tcp",
	}
}

// LoadConfig layers defaults, then the YAML file at `path` when
// non-empty, then environment variables, later layers winning. A
// `.env` file in the working directory is honoured.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	_ = godotenv.Load()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}
	return cfg, nil
}

// Endpoint converts the textual shape into a validated `Endpoint`, so
// configuration mistakes surface before any socket operation.
func (c Config) Endpoint() (Endpoint, error) {
	proto, err := ParseProtocol(c.Protocol)
	if err != nil {
		return Endpoint{}, err
	}

	ep := Endpoint{IP: c.IPAddress, Port: c.Port, Protocol: proto}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}
