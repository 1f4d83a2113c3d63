package vault

import (
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config carries the ambient deployment knobs a constructed Session
// needs beyond per-call credentials: which host to talk to, the
// default session blob name, and the HTTP/retry envelope. It is
// optional — NewSession/NewClient take explicit arguments and never
// require a Config to exist.
type Config struct {
	Host            string        `yaml:"host"`
	SessionName     string        `yaml:"session_name"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	RetryInitial    time.Duration `yaml:"retry_initial"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`
	RetryCeiling    time.Duration `yaml:"retry_ceiling"`
}

const defaultHost = "g.api.mega.co.nz"

// DefaultConfig returns a Config with every field set to its
// hard-coded default.
func DefaultConfig() Config {
	return Config{
		Host:            defaultHost,
		HTTPTimeout:     30 * time.Second,
		RetryInitial:    10 * time.Second,
		RetryMultiplier: 2,
		RetryCeiling:    120000 * time.Second,
	}
}

// LoadConfigFile reads a YAML config file, laying its values over
// DefaultConfig's; missing keys keep their default.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config file")
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	return cfg, nil
}

// NewClientFromConfig builds a Client wired to cfg's endpoint and retry
// envelope, using the default HTTPS transport.
func NewClientFromConfig(cfg Config) *Client {
	c := NewClient(Endpoint{Host: cfg.Host}, newHTTPTransport(cfg.HTTPTimeout))
	c.RetryInitial = cfg.RetryInitial
	c.RetryMultiplier = cfg.RetryMultiplier
	c.RetryCeiling = cfg.RetryCeiling
	return c
}
