package metrics

import (
	"fmt"
	"net"
	"time"
)

const (
	defaultMetricsPort           = 2112
	defaultMetricsHost           = "127.0.0.1"
	defaultMetricsUpdateInterval = 100 * time.Millisecond
)

// Config defines the server's metric configuration
type Config struct {
	Enabled        bool          `long:"enabled" description:"Whether to expose prometheus metrics"`
	Host           string        `long:"host" description:"IP of the prometheus server"`
	Port           int           `long:"port" description:"Port of the prometheus server"`
	UpdateInterval time.Duration `long:"updateinterval" description:"The interval of updating Prometheus metrics"`
}

func (cfg *Config) Validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	ip := net.ParseIP(cfg.Host)
	if ip == nil {
		return fmt.Errorf("invalid host: %v", cfg.Host)
	}

	return nil
}

func (cfg *Config) Address() (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), nil
}

func DefaultRecoverydConfig() *Config {
	return &Config{
		Enabled:        false,
		Port:           defaultMetricsPort,
		Host:           defaultMetricsHost,
		UpdateInterval: defaultMetricsUpdateInterval,
	}
}
