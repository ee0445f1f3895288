// Package config loads the ipamclient configuration file.
//
// Config file locations (priority order):
//  1. $IPAMCLIENT_CONFIG
//  2. ./ipamclient.yaml
//  3. $XDG_CONFIG_HOME/ipamclient/config.yaml
//  4. ~/.config/ipamclient/config.yaml
//  5. /etc/ipamclient/config.yaml
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ipamclient/internal/repository"
	"ipamclient/internal/store"
)

// Defaults for missing values
const (
	DefaultRepositoryPath = "./ipamclient.db"
	DefaultPageSize       = 100
	DefaultFetchDepth     = 2
	DefaultTimeout        = 5 * time.Minute
	DefaultConcurrency    = 4
	DefaultDeviceTree     = "default"
	DefaultView           = "default"
	DefaultLogPrefix      = "ipamclient: "
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	// the fetch section defaults to true for the include flags, so start
	// from the defaults and let the file override them
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	return cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Repository: RepositoryConfig{
			Path:     DefaultRepositoryPath,
			PageSize: DefaultPageSize,
		},
		Fetch: FetchConfig{
			Depth:        DefaultFetchDepth,
			Parents:      true,
			Associations: true,
			References:   true,
		},
		Discovery: DiscoveryConfig{
			Timeout:     Duration(DefaultTimeout),
			Concurrency: DefaultConcurrency,
			View:        DefaultView,
			DeviceTree:  DefaultDeviceTree,
		},
		Log: LogConfig{
			Prefix: DefaultLogPrefix,
			Flags:  log.LstdFlags | log.Lshortfile,
		},
	}
}

// applyDefaults fills in missing values with defaults and rejects values
// that cannot be used
func (c *Config) applyDefaults() error {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Repository.Path == "" {
		c.Repository.Path = DefaultRepositoryPath
	}
	if c.Repository.PageSize <= 0 {
		c.Repository.PageSize = DefaultPageSize
	}
	if c.Fetch.Depth < repository.Unlimited {
		c.Fetch.Depth = repository.Unlimited
	}
	if c.Discovery.Timeout <= 0 {
		c.Discovery.Timeout = Duration(DefaultTimeout)
	}
	if c.Discovery.Concurrency <= 0 {
		c.Discovery.Concurrency = DefaultConcurrency
	}
	if c.Discovery.View == "" {
		c.Discovery.View = DefaultView
	}
	if c.Discovery.DeviceTree == "" {
		c.Discovery.DeviceTree = DefaultDeviceTree
	}
	switch c.Discovery.Protocol {
	case "", "ipv4", "ipv6":
	default:
		return fmt.Errorf("discovery protocol must be ipv4, ipv6 or empty, got %q", c.Discovery.Protocol)
	}
	return nil
}

// FetchOptions returns the store fetch options of the fetch section
func (c *Config) FetchOptions() store.FetchOptions {
	return store.FetchOptions{
		MaxDepth:            c.Fetch.Depth,
		IncludeParents:      c.Fetch.Parents,
		IncludeAssociations: c.Fetch.Associations,
		IncludeReferences:   c.Fetch.References,
	}
}

// Logger returns a logger writing to stderr with the log section settings
func (c *Config) Logger() *log.Logger {
	return log.New(os.Stderr, c.Log.Prefix, c.Log.Flags)
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Repository: %s (page size %d)\n", c.Repository.Path, c.Repository.PageSize)
	summary += fmt.Sprintf("Fetch: depth %d, parents %t, associations %t, references %t\n",
		c.Fetch.Depth, c.Fetch.Parents, c.Fetch.Associations, c.Fetch.References)
	summary += fmt.Sprintf("Discovery: %d targets, timeout %s, concurrency %d, view %s",
		len(c.Discovery.Targets), c.Discovery.Timeout.Duration(), c.Discovery.Concurrency, c.Discovery.View)
	return summary
}
