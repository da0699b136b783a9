// Package config loads the sweeper agent configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalText parses values such as "200ms" or "10m".
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the on-disk agent configuration.
type Config struct {
	Node           string   `yaml:"node"`
	OwnerUser      string   `yaml:"owner_user"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	DataDir        string   `yaml:"data_dir"`
	VerifyInterval Duration `yaml:"verify_interval"`
	VerifyTimeout  Duration `yaml:"verify_timeout"`
	LockTimeout    Duration `yaml:"lock_timeout"`
}

// Default returns the configuration used when fields are unset. The
// node name defaults to the machine hostname.
func Default() Config {
	hostname, _ := os.Hostname()
	return Config{
		Node:           hostname,
		SweepInterval:  Duration{10 * time.Minute},
		DataDir:        "/var/tmp/proclean",
		VerifyInterval: Duration{200 * time.Millisecond},
		VerifyTimeout:  Duration{5 * time.Second},
		LockTimeout:    Duration{time.Minute},
	}
}

// Load reads a config file, layered over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: decode: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the sweeper cannot run with. An empty
// owner_user is legal; it matches no processes.
func (c Config) Validate() error {
	if c.Node == "" {
		return fmt.Errorf("node must not be empty")
	}
	if c.SweepInterval.Duration <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.VerifyInterval.Duration <= 0 {
		return fmt.Errorf("verify_interval must be positive")
	}
	if c.VerifyTimeout.Duration < c.VerifyInterval.Duration {
		return fmt.Errorf("verify_timeout must be at least verify_interval")
	}
	if c.LockTimeout.Duration <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	return nil
}
