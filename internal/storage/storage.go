// Package storage provides the snapshot journal persistence layer with
// multiple backend support
package storage

import (
	"context"
	"fmt"
	"time"
)

// StorageType represents the type of storage backend
type StorageType string

const (
	StorageTypeMemory StorageType = "memory" // In-memory storage (ephemeral)
	StorageTypeSQLite StorageType = "sqlite" // SQLite file-based storage
)

// StorageConfig represents storage configuration
type StorageConfig struct {
	Type         StorageType   `mapstructure:"type" yaml:"type" json:"type"`
	SQLite       *SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
	MaxSnapshots int           `mapstructure:"max_snapshots" yaml:"max_snapshots" json:"maxSnapshots"` // 0 = unlimited
}

// SQLiteConfig contains SQLite-specific configuration
type SQLiteConfig struct {
	Path      string            `mapstructure:"path" yaml:"path" json:"path"`                       // Database file path
	Pragmas   map[string]string `mapstructure:"pragmas" yaml:"pragmas" json:"pragmas,omitempty"`    // SQLite pragmas
	EnableWAL bool              `mapstructure:"enable_wal" yaml:"enable_wal" json:"enableWAL"`      // Enable WAL mode
}

// Validate validates the storage configuration
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "", StorageTypeMemory:
	case StorageTypeSQLite:
		if c.SQLite == nil || c.SQLite.Path == "" {
			return ErrMissingSQLiteConfig
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStorageType, c.Type)
	}
	if c.MaxSnapshots < 0 {
		return fmt.Errorf("max snapshots cannot be negative")
	}
	return nil
}

// InterfaceRecord is one interface address as journaled
type InterfaceRecord struct {
	Address      string `json:"address"`
	Subnet       string `json:"subnet"`
	AdapterName  string `json:"adapterName"`
	AdapterIndex int    `json:"adapterIndex"`
}

// SnapshotRecord is a journaled copy of one published network snapshot
type SnapshotRecord struct {
	ID              string            `json:"id" db:"id"`         // snapshot generation
	Reason          string            `json:"reason" db:"reason"` // startup, network, config
	Full            bool              `json:"full" db:"full"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	IPv4Enabled     bool              `json:"ipv4Enabled"`
	IPv6Enabled     bool              `json:"ipv6Enabled"`
	Interfaces      []InterfaceRecord `json:"interfaces"`
	BindInterfaces  []InterfaceRecord `json:"bindInterfaces"`
	MACAddresses    []string          `json:"macAddresses"`
	LANSubnets      []string          `json:"lanSubnets"`
	ExcludedSubnets []string          `json:"excludedSubnets"`
	Overrides       map[string]string `json:"overrides"`
	RemoteFilter    []string          `json:"remoteFilter"`
}

// Store defines the storage interface
type Store interface {
	SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error
	GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error)
	// ListSnapshots returns newest first
	ListSnapshots(ctx context.Context, limit, offset int) ([]*SnapshotRecord, error)
	// PruneSnapshots keeps the newest keep records and returns how many were removed
	PruneSnapshots(ctx context.Context, keep int) (int64, error)

	// Cleanup
	Close() error
}

// Manager manages the storage backend
type Manager struct {
	store  Store
	config *StorageConfig
}

// NewManager creates a new storage manager
func NewManager(config *StorageConfig) (*Manager, error) {
	mgr := &Manager{
		config: config,
	}

	var store Store
	var err error

	switch config.Type {
	case StorageTypeMemory, "":
		store, err = NewMemoryStore()
	case StorageTypeSQLite:
		if config.SQLite == nil {
			return nil, ErrMissingSQLiteConfig
		}
		store, err = NewSQLiteStore(config.SQLite)
	default:
		return nil, ErrInvalidStorageType
	}

	if err != nil {
		return nil, err
	}

	mgr.store = store
	return mgr, nil
}

// GetStore returns the underlying store
func (m *Manager) GetStore() Store {
	return m.store
}

// Record saves rec and prunes the journal down to the configured maximum
func (m *Manager) Record(ctx context.Context, rec *SnapshotRecord) error {
	if err := m.store.SaveSnapshot(ctx, rec); err != nil {
		return err
	}
	if m.config.MaxSnapshots > 0 {
		if _, err := m.store.PruneSnapshots(ctx, m.config.MaxSnapshots); err != nil {
			return fmt.Errorf("failed to prune snapshots: %w", err)
		}
	}
	return nil
}

// Close closes the storage manager
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// Errors
var (
	ErrInvalidStorageType  = &StorageError{Code: "INVALID_TYPE", Message: "Invalid storage type"}
	ErrMissingSQLiteConfig = &StorageError{Code: "MISSING_CONFIG", Message: "Missing SQLite configuration"}
	ErrSnapshotNotFound    = &StorageError{Code: "NOT_FOUND", Message: "Snapshot not found"}
	ErrMissingSnapshotID   = &StorageError{Code: "INVALID_RECORD", Message: "Snapshot ID is required"}
)

// StorageError represents a storage error
type StorageError struct {
	Code    string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
