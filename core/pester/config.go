package pester

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/ntske"
)

// DefaultTimeout bounds every network operation of a test case unless the
// caller overrides it.
const DefaultTimeout = 100 * time.Millisecond

// Config is the validated run configuration the collaborating CLI hands to
// the core.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
	NTS     bool
	KEPort  int
	CAFile  string
}

type fileConfig struct {
	Host    string `toml:"host,omitempty"`
	Port    int    `toml:"port,omitempty"`
	Timeout string `toml:"timeout,omitempty"`
	NTS     bool   `toml:"nts,omitempty"`
	KEPort  int    `toml:"ke_port,omitempty"`
	CAFile  string `toml:"ca_file,omitempty"`
}

var errNoHost = errors.New("no target host configured")

// LoadConfig reads a run configuration from a TOML file. Omitted fields keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var fc fileConfig
	err = toml.Unmarshal(raw, &fc)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := Config{
		Host:   fc.Host,
		Port:   fc.Port,
		NTS:    fc.NTS,
		KEPort: fc.KEPort,
		CAFile: fc.CAFile,
	}
	if fc.Timeout != "" {
		cfg.Timeout, err = time.ParseDuration(fc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout value %q: %w", fc.Timeout, err)
		}
	}
	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (cfg *Config) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = ntp.ServerPort
	}
	if cfg.KEPort == 0 {
		cfg.KEPort = ntske.ServerPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
}

func (cfg *Config) validate() error {
	if cfg.Host == "" {
		return errNoHost
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("invalid timeout: %v", cfg.Timeout)
	}
	return nil
}
