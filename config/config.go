// Package config loads the daemon configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the full daemon configuration.
type Config struct {
	// HTTPAddr is where the control api listens.
	HTTPAddr string `yaml:"http_addr"`

	// PollSeconds is how long the daemon sleeps between queue drains.
	PollSeconds int `yaml:"poll_seconds"`

	// TypesFile points at the YAML type catalog declaration. Empty means
	// an empty catalog, which disables embeds and scope narrowing.
	TypesFile string `yaml:"types_file"`

	Store   StoreConfig   `yaml:"store"`
	Elastic ElasticConfig `yaml:"elastic"`
	Queue   QueueConfig   `yaml:"queue"`
}

// StoreConfig selects the transactional store driver.
type StoreConfig struct {
	// Driver is one of memory, leveldb, badger.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ElasticConfig selects the search replica. An empty URL selects the
// in-memory replica.
type ElasticConfig struct {
	URL   string `yaml:"url"`
	Index string `yaml:"index"`
}

// QueueConfig selects the queue transport. An empty region selects the
// in-memory transport.
type QueueConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Env      string `yaml:"env"`
}

// Default is the configuration used when no file is given: everything in
// memory, suitable for local development.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8080",
		PollSeconds: 3,
		Store:       StoreConfig{Driver: "memory"},
		Elastic:     ElasticConfig{Index: "snovault"},
		Queue:       QueueConfig{Env: "local"},
	}
}

// PollInterval returns the queue drain interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// Load reads and validates a configuration file, filling defaults for
// anything omitted.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "leveldb", "badger":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store driver %s requires a path", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Elastic.URL != "" && c.Elastic.Index == "" {
		return fmt.Errorf("config: elastic url given without an index name")
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("config: poll_seconds must be positive")
	}
	return nil
}
