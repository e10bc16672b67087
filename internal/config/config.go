// Package config provides configuration management for the network manager.
// It handles loading, saving, validating and watching configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/strazto/jellyfin/internal/storage"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = "config"
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "network.config.yaml"
)

// Section keys reported to subscribers when part of the configuration changes.
const (
	SectionServer  = "server"
	SectionNetwork = "network"
	SectionLog     = "log"
	SectionStorage = "storage"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig          `mapstructure:"server" yaml:"server" json:"server"`
	Network NetworkConfig         `mapstructure:"network" yaml:"network" json:"network"`
	Log     LogConfig             `mapstructure:"log" yaml:"log" json:"log"`
	Storage storage.StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`
}

// ServerConfig contains the diagnostics HTTP server configuration
type ServerConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Host         string `mapstructure:"host" yaml:"host" json:"host"`
	Port         int    `mapstructure:"port" yaml:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout" json:"readTimeout"`    // seconds
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout" json:"writeTimeout"` // seconds
}

// NetworkConfig is the administrator-facing network configuration consumed by
// the network engine. The engine never writes it.
type NetworkConfig struct {
	EnableIPv4 bool `mapstructure:"enable_ipv4" yaml:"enable_ipv4" json:"enableIPv4"`
	EnableIPv6 bool `mapstructure:"enable_ipv6" yaml:"enable_ipv6" json:"enableIPv6"`

	// LAN subnets; entries prefixed with "!" are exclusions
	LocalNetworkSubnets []string `mapstructure:"local_network_subnets" yaml:"local_network_subnets" json:"localNetworkSubnets"`
	ExcludedSubnets     []string `mapstructure:"excluded_subnets" yaml:"excluded_subnets" json:"excludedSubnets"`

	// Addresses or adapter names the server may bind to; empty = all
	LocalNetworkAddresses []string `mapstructure:"local_network_addresses" yaml:"local_network_addresses" json:"localNetworkAddresses"`

	IgnoreVirtualInterfaces bool     `mapstructure:"ignore_virtual_interfaces" yaml:"ignore_virtual_interfaces" json:"ignoreVirtualInterfaces"`
	VirtualInterfaceNames   []string `mapstructure:"virtual_interface_names" yaml:"virtual_interface_names" json:"virtualInterfaceNames"`

	EnableRemoteAccess        bool     `mapstructure:"enable_remote_access" yaml:"enable_remote_access" json:"enableRemoteAccess"`
	RemoteIPFilter            []string `mapstructure:"remote_ip_filter" yaml:"remote_ip_filter" json:"remoteIPFilter"`
	IsRemoteIPFilterBlacklist bool     `mapstructure:"is_remote_ip_filter_blacklist" yaml:"is_remote_ip_filter_blacklist" json:"isRemoteIPFilterBlacklist"`

	// "key=host[:port]" rules, key is all, external, internal, a subnet or an adapter name
	PublishedServerURIBySubnet []string `mapstructure:"published_server_uri_by_subnet" yaml:"published_server_uri_by_subnet" json:"publishedServerUriBySubnet"`

	TrustAllIPv6Interfaces bool `mapstructure:"trust_all_ipv6_interfaces" yaml:"trust_all_ipv6_interfaces" json:"trustAllIPv6Interfaces"`
}

// Clone returns a deep copy of the network configuration
func (n NetworkConfig) Clone() NetworkConfig {
	out := n
	out.LocalNetworkSubnets = cloneStrings(n.LocalNetworkSubnets)
	out.ExcludedSubnets = cloneStrings(n.ExcludedSubnets)
	out.LocalNetworkAddresses = cloneStrings(n.LocalNetworkAddresses)
	out.VirtualInterfaceNames = cloneStrings(n.VirtualInterfaceNames)
	out.RemoteIPFilter = cloneStrings(n.RemoteIPFilter)
	out.PublishedServerURIBySubnet = cloneStrings(n.PublishedServerURIBySubnet)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level"`                  // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format" json:"format"`               // json, text
	Output     string `mapstructure:"output" yaml:"output" json:"output"`               // stdout, file, both
	Directory  string `mapstructure:"directory" yaml:"directory" json:"directory"`      // log directory
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" json:"maxSize"`          // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"maxBackups"` // number of backup files
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" json:"maxAge"`             // days
}

// DefaultNetworkConfig returns the network defaults: IPv4 only, no explicit
// LAN (private ranges apply), virtual "veth" adapters ignored, remote access on.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		EnableIPv4:                 true,
		EnableIPv6:                 false,
		LocalNetworkSubnets:        []string{},
		ExcludedSubnets:            []string{},
		LocalNetworkAddresses:      []string{},
		IgnoreVirtualInterfaces:    true,
		VirtualInterfaceNames:      []string{"veth"},
		EnableRemoteAccess:         true,
		RemoteIPFilter:             []string{},
		IsRemoteIPFilterBlacklist:  false,
		PublishedServerURIBySubnet: []string{},
		TrustAllIPv6Interfaces:     false,
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cwd, _ := os.Getwd()
	logDir := filepath.Join(cwd, "logs")

	return &Config{
		Server: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8097,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Network: DefaultNetworkConfig(),
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			Directory:  logDir,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Storage: storage.StorageConfig{
			Type:         storage.StorageTypeMemory,
			MaxSnapshots: 100,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port: %d", c.Server.Port)
		}
		if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
			return fmt.Errorf("server timeouts cannot be negative")
		}
	}

	if !c.Network.EnableIPv4 && !c.Network.EnableIPv6 {
		return fmt.Errorf("at least one of enable_ipv4 and enable_ipv6 must be set")
	}
	for _, entry := range c.Network.PublishedServerURIBySubnet {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("published server uri entry cannot be empty")
		}
	}

	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	validOutputs := map[string]bool{"": true, "stdout": true, "file": true, "both": true}
	if !validOutputs[c.Log.Output] {
		return fmt.Errorf("invalid log output: %s (must be stdout, file, or both)", c.Log.Output)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	return nil
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Network = c.Network.Clone()
	if c.Storage.SQLite != nil {
		sqlite := *c.Storage.SQLite
		out.Storage.SQLite = &sqlite
	}
	return &out
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	// Allow override via environment variable
	if dir := os.Getenv("NETMANAGER_CONFIG_DIR"); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// EnsureConfigDir ensures the configuration directory exists
func EnsureConfigDir() error {
	configDir := GetConfigDir()
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return nil
}

// Manager manages configuration loading, saving and change notification
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex

	subMu       sync.Mutex
	subscribers map[uint64]subscriber
	nextSubID   uint64
}

type subscriber struct {
	key     string
	handler func(key string)
}

// NewManager creates a new configuration manager using the default location
func NewManager() *Manager {
	return NewManagerWithPath(filepath.Join(GetConfigDir(), DefaultConfigFile))
}

// NewManagerWithPath creates a new configuration manager with a custom config path
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{
		configPath:  configPath,
		subscribers: make(map[uint64]subscriber),
	}
}

// GetConfigPath returns the main configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
