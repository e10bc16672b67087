// Package config provides configuration migration utilities
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Migrator handles configuration migration from the legacy flat format
type Migrator struct {
	verbose bool // Enable verbose logging
}

// NewMigrator creates a new configuration migrator
func NewMigrator(verbose bool) *Migrator {
	return &Migrator{
		verbose: verbose,
	}
}

// LegacyNetworkConfig represents the old flat network file where every list
// was a single comma-separated string.
type LegacyNetworkConfig struct {
	EnableIPv4                 *bool  `yaml:"enable_ipv4"`
	EnableIPV6                 bool   `yaml:"enable_ipv6"`
	LANNetworks                string `yaml:"lan_networks"`
	LocalNetworkAddresses      string `yaml:"local_network_addresses"`
	IgnoreVirtualInterfaces    *bool  `yaml:"ignore_virtual_interfaces"`
	VirtualInterfaceNames      string `yaml:"virtual_interface_names"`
	EnableRemoteAccess         *bool  `yaml:"enable_remote_access"`
	RemoteIPFilter             string `yaml:"remote_ip_filter"`
	IsRemoteIPFilterBlacklist  bool   `yaml:"is_remote_ip_filter_blacklist"`
	PublishedServerURIBySubnet string `yaml:"published_server_uri_by_subnet"`
	TrustAllIP6Interfaces      bool   `yaml:"trust_all_ip6_interfaces"`
}

// log prints when verbose is set
func (m *Migrator) log(format string, args ...interface{}) {
	if m.verbose {
		fmt.Printf("[Migrator] "+format+"\n", args...)
	}
}

// splitList splits a legacy comma-separated list, dropping blanks
func splitList(value string) []string {
	result := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// ToNetworkConfig converts the legacy settings into the current section
func (l *LegacyNetworkConfig) ToNetworkConfig() NetworkConfig {
	n := DefaultNetworkConfig()
	if l.EnableIPv4 != nil {
		n.EnableIPv4 = *l.EnableIPv4
	}
	n.EnableIPv6 = l.EnableIPV6
	n.LocalNetworkSubnets = splitList(l.LANNetworks)
	n.LocalNetworkAddresses = splitList(l.LocalNetworkAddresses)
	if l.IgnoreVirtualInterfaces != nil {
		n.IgnoreVirtualInterfaces = *l.IgnoreVirtualInterfaces
	}
	if names := splitList(l.VirtualInterfaceNames); len(names) > 0 {
		// legacy names carry a "veth*" wildcard; keep the prefix only
		for i, name := range names {
			names[i] = strings.ReplaceAll(name, "*", "")
		}
		n.VirtualInterfaceNames = names
	}
	if l.EnableRemoteAccess != nil {
		n.EnableRemoteAccess = *l.EnableRemoteAccess
	}
	n.RemoteIPFilter = splitList(l.RemoteIPFilter)
	n.IsRemoteIPFilterBlacklist = l.IsRemoteIPFilterBlacklist
	n.PublishedServerURIBySubnet = splitList(l.PublishedServerURIBySubnet)
	n.TrustAllIPv6Interfaces = l.TrustAllIP6Interfaces
	return n
}

// MigrateNetworkConfig migrates a legacy flat network file to the sectioned format
func (m *Migrator) MigrateNetworkConfig(oldPath, newPath string) error {
	m.log("Migrating network config: %s -> %s", oldPath, newPath)

	oldData, err := os.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("failed to read legacy config: %w", err)
	}

	var legacy LegacyNetworkConfig
	if err := yaml.Unmarshal(oldData, &legacy); err != nil {
		return fmt.Errorf("failed to parse legacy config: %w", err)
	}

	// start from the existing target file when there is one
	newConfig := DefaultConfig()
	if fileInfo, err := os.Stat(newPath); err == nil && !fileInfo.IsDir() && newPath != oldPath {
		newData, err := os.ReadFile(newPath)
		if err == nil {
			if err := yaml.Unmarshal(newData, newConfig); err != nil {
				m.log("Existing config unreadable, using defaults: %v", err)
			}
		}
	}

	newConfig.Network = legacy.ToNetworkConfig()
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("migrated config is invalid: %w", err)
	}

	newData, err := yaml.Marshal(newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal migrated config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(newPath, newData, 0644); err != nil {
		return fmt.Errorf("failed to write migrated config: %w", err)
	}

	m.log("Network config migrated")
	return nil
}

// BackupConfig backs up the old configuration file
func (m *Migrator) BackupConfig(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	baseName := filepath.Base(configPath)
	ext := filepath.Ext(configPath)
	nameWithoutExt := strings.TrimSuffix(baseName, ext)

	backupName := fmt.Sprintf("%s.backup_%s%s", nameWithoutExt, timestamp(), ext)
	backupPath := filepath.Join(filepath.Dir(configPath), backupName)

	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	m.log("Config backed up to: %s", backupPath)
	return backupPath, nil
}

// NeedsMigration reports whether configPath holds the legacy flat format,
// recognised by a missing "network" section next to legacy keys.
func NeedsMigration(configPath string) bool {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return false
	}

	var probe map[string]interface{}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return false
	}
	if _, ok := probe[SectionNetwork]; ok {
		return false
	}
	for _, key := range []string{"lan_networks", "enable_ipv6", "local_network_addresses", "published_server_uri_by_subnet"} {
		if _, ok := probe[key]; ok {
			return true
		}
	}
	return false
}

// AutoMigrate migrates configPath in place when it is in the legacy format,
// keeping a backup of the original.
func (m *Migrator) AutoMigrate(configPath string) (bool, error) {
	if !NeedsMigration(configPath) {
		m.log("Config already in current format")
		return false, nil
	}

	backupPath, err := m.BackupConfig(configPath)
	if err != nil {
		return false, err
	}

	if err := m.MigrateNetworkConfig(backupPath, configPath); err != nil {
		return false, err
	}
	m.log("Config migrated, original kept at %s", backupPath)
	return true, nil
}

// timestamp formats backup file suffixes
func timestamp() string {
	return time.Now().Format("20060102_150405")
}
