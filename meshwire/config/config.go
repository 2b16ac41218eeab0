// Package config loads the node configuration.
//
// The config file persists deployment identity and topology knobs; peer
// knowledge lives in the directory database, not here, and can be wiped
// independently.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meshwire/meshwire/meshwire/directory"
)

// Config is the on-disk node configuration.
type Config struct {
	// ListenAddr is the UDP address the QUIC transport binds.
	ListenAddr string `yaml:"listen_addr"`

	// AdvertiseHost is the hostname peers should dial back; the node
	// announces its own record only when this is set.
	AdvertiseHost string `yaml:"advertise_host"`

	// KeyFile holds a hex-encoded Ed25519 seed. Generated when missing.
	KeyFile string `yaml:"key_file"`

	// DBPath is the directory database location. Empty selects the
	// in-memory directory.
	DBPath string `yaml:"db_path"`

	// Seeds is the static bootstrap address list.
	Seeds []directory.SeedEntry `yaml:"seeds"`

	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// DialTimeoutSeconds bounds every connect attempt.
	DialTimeoutSeconds int `yaml:"dial_timeout_seconds"`
}

// BootstrapConfig carries the background loop quotas.
type BootstrapConfig struct {
	MinAddresses        int `yaml:"min_addresses"`
	ChannelsToOpen      int `yaml:"channels_to_open"`
	SyncPeers           int `yaml:"sync_peers"`
	ChannelPauseSeconds int `yaml:"channel_pause_seconds"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr: "[::]:7733",
		KeyFile:    "meshwire.key",
		Bootstrap: BootstrapConfig{
			MinAddresses:        10,
			ChannelsToOpen:      5,
			SyncPeers:           3,
			ChannelPauseSeconds: 5,
		},
		DialTimeoutSeconds: 10,
	}
}

// Load reads and parses the config at path, applying defaults for
// anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.Bootstrap.MinAddresses == 0 {
		c.Bootstrap.MinAddresses = def.Bootstrap.MinAddresses
	}
	if c.Bootstrap.ChannelsToOpen == 0 {
		c.Bootstrap.ChannelsToOpen = def.Bootstrap.ChannelsToOpen
	}
	if c.Bootstrap.SyncPeers == 0 {
		c.Bootstrap.SyncPeers = def.Bootstrap.SyncPeers
	}
	if c.Bootstrap.ChannelPauseSeconds == 0 {
		c.Bootstrap.ChannelPauseSeconds = def.Bootstrap.ChannelPauseSeconds
	}
	if c.DialTimeoutSeconds == 0 {
		c.DialTimeoutSeconds = def.DialTimeoutSeconds
	}
}

// ParseSeeds converts the configured seed entries to records.
func (c *Config) ParseSeeds() ([]directory.Record, error) {
	return directory.ParseSeeds(c.Seeds)
}
