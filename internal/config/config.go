package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the replication loop.
const (
	DefaultSyncInterval  = Duration(10 * time.Second)
	DefaultSyncBatchSize = 500
	DefaultListenAddr    = ":8080"
)

// Duration wraps time.Duration so YAML configs can say "5s" instead of
// raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the node configuration.
type Config struct {
	// NodeID identifies this process; it becomes the node component of
	// every stamp this node issues.
	NodeID string `yaml:"node_id"`
	// RegionID identifies the region; it becomes updated_by/origin on
	// local writes. Several nodes may share a region in front of a
	// shared store, so it is configured separately from NodeID.
	RegionID string `yaml:"region_id"`
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`
	// Peers are base URLs of the peers this node pulls changes from.
	Peers []string `yaml:"peers"`
	// SyncInterval is the pause between replication passes.
	SyncInterval Duration `yaml:"sync_interval"`
	// SyncBatchSize caps how many changes one pull requests.
	SyncBatchSize int `yaml:"sync_batch_size"`
	// DataDir is where the store keeps its files. Empty means
	// in-memory (useful for local experiments, not for production).
	DataDir string `yaml:"data_dir"`
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParsePeers parses a comma-separated list of peer base URLs:
// "http://eu.kv.internal:8080,http://us.kv.internal:8080"
func ParsePeers(peersStr string) ([]string, error) {
	if peersStr == "" {
		return []string{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := validatePeerURL(part); err != nil {
			return nil, err
		}
		peers = append(peers, strings.TrimRight(part, "/"))
	}

	return peers, nil
}

func validatePeerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid peer URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid peer URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid peer URL %q: missing host", raw)
	}
	return nil
}

// Validate fills defaults and rejects configurations the node cannot
// run with.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id cannot be empty")
	}
	if c.RegionID == "" {
		c.RegionID = c.NodeID
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.SyncBatchSize <= 0 {
		c.SyncBatchSize = DefaultSyncBatchSize
	}
	for _, peer := range c.Peers {
		if err := validatePeerURL(peer); err != nil {
			return err
		}
	}
	return nil
}
