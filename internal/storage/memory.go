// Package storage provides in-memory storage implementation
package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store interface with in-memory storage
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*SnapshotRecord
	order     []string // insertion order, oldest first
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	return &MemoryStore{
		snapshots: make(map[string]*SnapshotRecord),
	}, nil
}

// SaveSnapshot stores a snapshot record, replacing one with the same ID
func (s *MemoryStore) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	if rec.ID == "" {
		return ErrMissingSnapshotID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if _, exists := s.snapshots[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	copied := *rec
	s.snapshots[rec.ID] = &copied
	return nil
}

// GetSnapshot retrieves a snapshot by ID
func (s *MemoryStore) GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.snapshots[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	copied := *rec
	return &copied, nil
}

// ListSnapshots lists snapshots newest first
func (s *MemoryStore) ListSnapshots(ctx context.Context, limit, offset int) ([]*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedLocked()
	result := []*SnapshotRecord{}
	if offset >= len(all) {
		return result, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	for _, rec := range all {
		copied := *rec
		result = append(result, &copied)
	}
	return result, nil
}

// PruneSnapshots keeps the newest keep snapshots
func (s *MemoryStore) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sortedLocked()
	if keep < 0 || len(all) <= keep {
		return 0, nil
	}

	removed := int64(0)
	for _, rec := range all[keep:] {
		delete(s.snapshots, rec.ID)
		removed++
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.snapshots[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return removed, nil
}

// sortedLocked returns records newest first; insertion order breaks ties
func (s *MemoryStore) sortedLocked() []*SnapshotRecord {
	position := make(map[string]int, len(s.order))
	for i, id := range s.order {
		position[id] = i
	}
	all := make([]*SnapshotRecord, 0, len(s.snapshots))
	for _, rec := range s.snapshots {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return position[all[i].ID] > position[all[j].ID]
	})
	return all
}

// Close closes the store (no-op for memory store)
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = make(map[string]*SnapshotRecord)
	s.order = nil
	return nil
}

// Stats returns statistics about the store
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"snapshots": len(s.snapshots),
		"type":      "memory",
	}
}
