package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strazto/jellyfin/internal/storage"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 8097, config.Server.Port)
	assert.True(t, config.Network.EnableIPv4)
	assert.False(t, config.Network.EnableIPv6)
	assert.True(t, config.Network.IgnoreVirtualInterfaces)
	assert.Equal(t, []string{"veth"}, config.Network.VirtualInterfaceNames)
	assert.True(t, config.Network.EnableRemoteAccess)
	assert.Equal(t, storage.StorageTypeMemory, config.Storage.Type)
	assert.NoError(t, config.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "Valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "Invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name: "Port ignored when server disabled",
			mutate: func(c *Config) {
				c.Server.Enabled = false
				c.Server.Port = 0
			},
		},
		{
			name: "No address family",
			mutate: func(c *Config) {
				c.Network.EnableIPv4 = false
				c.Network.EnableIPv6 = false
			},
			wantErr: true,
			errMsg:  "enable_ipv4",
		},
		{
			name:    "Blank override entry",
			mutate:  func(c *Config) { c.Network.PublishedServerURIBySubnet = []string{" "} },
			wantErr: true,
			errMsg:  "published server uri",
		},
		{
			name:    "Invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name: "SQLite storage without path",
			mutate: func(c *Config) {
				c.Storage.Type = storage.StorageTypeSQLite
				c.Storage.SQLite = nil
			},
			wantErr: true,
			errMsg:  "invalid storage config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.LocalNetworkSubnets = []string{"10.0.0.0/8"}

	clone := cfg.Clone()
	clone.Network.LocalNetworkSubnets[0] = "192.168.0.0/16"

	assert.Equal(t, "10.0.0.0/8", cfg.Network.LocalNetworkSubnets[0])
}

func TestManagerLoadSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManagerWithPath(filepath.Join(tmpDir, "config.yaml"))

	t.Run("Load creates default config when file doesn't exist", func(t *testing.T) {
		config, err := manager.Load()
		require.NoError(t, err)
		assert.NotNil(t, config)
		assert.Equal(t, 8097, config.Server.Port)

		// Check that file was created
		_, err = os.Stat(manager.GetConfigPath())
		assert.NoError(t, err)
	})

	t.Run("Save and Load config", func(t *testing.T) {
		config := DefaultConfig()
		config.Network.LocalNetworkSubnets = []string{"10.0.0.0/8", "!10.9.0.0/16"}
		config.Network.EnableIPv6 = true

		err := manager.Save(config)
		require.NoError(t, err)

		manager2 := NewManagerWithPath(manager.GetConfigPath())
		loaded, err := manager2.Load()
		require.NoError(t, err)

		assert.Equal(t, []string{"10.0.0.0/8", "!10.9.0.0/16"}, loaded.Network.LocalNetworkSubnets)
		assert.True(t, loaded.Network.EnableIPv6)
	})

	t.Run("Save validates config", func(t *testing.T) {
		config := DefaultConfig()
		config.Server.Port = -1

		err := manager.Save(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("Load rejects broken yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("network: [unclosed"), 0644))

		_, err := NewManagerWithPath(path).Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})
}

func TestManagerSubscribe(t *testing.T) {
	manager := NewManagerWithPath(filepath.Join(t.TempDir(), "config.yaml"))
	_, err := manager.Load()
	require.NoError(t, err)

	var networkCalls, allCalls []string
	unsubscribe := manager.Subscribe(SectionNetwork, func(key string) {
		networkCalls = append(networkCalls, key)
	})
	manager.Subscribe("", func(key string) {
		allCalls = append(allCalls, key)
	})

	require.NoError(t, manager.Update(func(c *Config) {
		c.Network.TrustAllIPv6Interfaces = true
	}))
	require.NoError(t, manager.Update(func(c *Config) {
		c.Log.Level = "debug"
	}))

	assert.Equal(t, []string{SectionNetwork}, networkCalls)
	assert.Equal(t, []string{SectionNetwork, SectionLog}, allCalls)

	// Saving identical config notifies nobody
	require.NoError(t, manager.Save(manager.Get()))
	assert.Len(t, allCalls, 2)

	unsubscribe()
	require.NoError(t, manager.Update(func(c *Config) {
		c.Network.EnableRemoteAccess = false
	}))
	assert.Len(t, networkCalls, 1)
	assert.Len(t, allCalls, 3)
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	manager := NewManagerWithPath(path)
	_, err := manager.Load()
	require.NoError(t, err)

	other := NewManagerWithPath(path)
	_, err = other.Load()
	require.NoError(t, err)
	require.NoError(t, other.Update(func(c *Config) {
		c.Network.RemoteIPFilter = []string{"203.0.113.0/24"}
	}))

	changed, err := manager.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{SectionNetwork}, changed)
	assert.Equal(t, []string{"203.0.113.0/24"}, manager.GetNetwork().RemoteIPFilter)
}

func TestManagerWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	manager := NewManagerWithPath(path)
	_, err := manager.Load()
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		changes []string
	)
	manager.Subscribe(SectionNetwork, func(key string) {
		mu.Lock()
		changes = append(changes, key)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, manager.Watch(ctx, nil))

	// Another process edits the file
	editor := NewManagerWithPath(path)
	_, err = editor.Load()
	require.NoError(t, err)
	require.NoError(t, editor.Update(func(c *Config) {
		c.Network.LocalNetworkSubnets = []string{"172.16.0.0/12"}
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"172.16.0.0/12"}, manager.GetNetwork().LocalNetworkSubnets)
}

func TestMigrator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.config.yaml")
	legacy := `enable_ipv6: true
lan_networks: "10.0.0.0/8, !10.1.0.0/16"
local_network_addresses: "eth0"
virtual_interface_names: "veth*,docker*"
remote_ip_filter: "203.0.113.5"
published_server_uri_by_subnet: "external=media.example.com:443,internal=10.0.0.2"
`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))
	require.True(t, NeedsMigration(path))

	migrated, err := NewMigrator(false).AutoMigrate(path)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.False(t, NeedsMigration(path))

	loaded, err := NewManagerWithPath(path).Load()
	require.NoError(t, err)
	assert.True(t, loaded.Network.EnableIPv4)
	assert.True(t, loaded.Network.EnableIPv6)
	assert.Equal(t, []string{"10.0.0.0/8", "!10.1.0.0/16"}, loaded.Network.LocalNetworkSubnets)
	assert.Equal(t, []string{"veth", "docker"}, loaded.Network.VirtualInterfaceNames)
	assert.Equal(t, []string{"external=media.example.com:443", "internal=10.0.0.2"}, loaded.Network.PublishedServerURIBySubnet)

	backups, err := filepath.Glob(filepath.Join(dir, "network.config.backup_*.yaml"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
