package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Broker is one legacy broker the Propagator must be able to reach.
type Broker struct {
	ID   int32  `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Config is the migration-driver's static startup configuration: the
// dynamic, frequently-changing cluster state (topics, configs, ACLs,
// leadership) lives in legacystore.db and LogMeta's raft log, never here.
type Config struct {
	NodeID  string   `yaml:"nodeId"`
	Brokers []Broker `yaml:"brokers"`
}

// Load reads and parses a YAML config file. An empty path or a missing file
// is not an error: the driver falls back to its command-line flags and an
// empty broker list.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for _, b := range cfg.Brokers {
		if b.Addr == "" {
			return Config{}, fmt.Errorf("config: broker %d has no addr", b.ID)
		}
	}
	return cfg, nil
}
