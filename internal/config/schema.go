package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Repository RepositoryConfig `yaml:"repository"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Log        LogConfig        `yaml:"log"`
}

// RepositoryConfig holds the sandbox repository settings
type RepositoryConfig struct {
	Path     string `yaml:"path"`
	RootOID  string `yaml:"root_oid,omitempty"` // empty = repository default
	PageSize int    `yaml:"page_size"`
}

// FetchConfig controls the default remote fetch
type FetchConfig struct {
	Depth        int  `yaml:"depth"` // -1 = unlimited
	Parents      bool `yaml:"parents"`
	Associations bool `yaml:"associations"`
	References   bool `yaml:"references"`
}

// DiscoveryConfig holds nmap scan settings and where results land
type DiscoveryConfig struct {
	Targets           []string `yaml:"targets,omitempty"`
	Ports             string   `yaml:"ports,omitempty"`
	Timeout           Duration `yaml:"timeout"`
	Concurrency       int      `yaml:"concurrency"`
	ServiceDetection  bool     `yaml:"service_detection"`
	SkipHostDiscovery bool     `yaml:"skip_host_discovery"`
	HostKeys          bool     `yaml:"host_keys"`
	View              string   `yaml:"view"`
	DeviceTree        string   `yaml:"device_tree"`
	Protocol          string   `yaml:"protocol,omitempty"` // empty = both families
}

// LogConfig configures the standard logger
type LogConfig struct {
	Prefix string `yaml:"prefix"`
	Flags  int    `yaml:"flags"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
