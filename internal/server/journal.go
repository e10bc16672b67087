package server

import (
	"context"
	"fmt"

	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/network"
	"github.com/strazto/jellyfin/internal/storage"
)

// Journal records published network snapshots in the storage backend.
type Journal struct {
	storage *storage.Manager
}

// NewJournal creates a journal writing to mgr
func NewJournal(mgr *storage.Manager) *Journal {
	return &Journal{storage: mgr}
}

// Record journals snap under reason
func (j *Journal) Record(ctx context.Context, snap *network.Snapshot, reason string, full bool) error {
	if snap == nil {
		return fmt.Errorf("no snapshot to record")
	}
	if err := j.storage.Record(ctx, snapshotRecord(snap, reason, full)); err != nil {
		return fmt.Errorf("failed to journal snapshot %s: %w", snap.Generation, err)
	}
	return nil
}

// Follow records the snapshot of every event until events is closed or ctx
// is done. Failed refreshes carry no snapshot and are skipped.
func (j *Journal) Follow(ctx context.Context, events <-chan network.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Snapshot == nil {
				continue
			}
			if err := j.Record(ctx, ev.Snapshot, ev.Reason, ev.Full); err != nil {
				logger.WithError(err).Error("Failed to journal network snapshot")
			}
		}
	}
}

// List returns journaled snapshots, newest first
func (j *Journal) List(ctx context.Context, limit, offset int) ([]*storage.SnapshotRecord, error) {
	return j.storage.GetStore().ListSnapshots(ctx, limit, offset)
}

// Get returns one journaled snapshot
func (j *Journal) Get(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	return j.storage.GetStore().GetSnapshot(ctx, id)
}

func snapshotRecord(snap *network.Snapshot, reason string, full bool) *storage.SnapshotRecord {
	rec := &storage.SnapshotRecord{
		ID:             snap.Generation.String(),
		Reason:         reason,
		Full:           full,
		CreatedAt:      snap.CreatedAt,
		IPv4Enabled:    snap.IPv4Enabled,
		IPv6Enabled:    snap.IPv6Enabled,
		Interfaces:     interfaceRecords(snap.Interfaces),
		BindInterfaces: interfaceRecords(snap.BindInterfaces),
		MACAddresses:   append([]string(nil), snap.MACAddresses...),
		Overrides:      snap.OverrideTable(),
	}
	for _, p := range snap.LANSubnets {
		rec.LANSubnets = append(rec.LANSubnets, p.String())
	}
	for _, p := range snap.ExcludedSubnets {
		rec.ExcludedSubnets = append(rec.ExcludedSubnets, p.String())
	}
	for _, p := range snap.RemoteFilter {
		rec.RemoteFilter = append(rec.RemoteFilter, p.String())
	}
	return rec
}

func interfaceRecords(list []network.InterfaceAddress) []storage.InterfaceRecord {
	out := make([]storage.InterfaceRecord, 0, len(list))
	for _, iface := range list {
		out = append(out, storage.InterfaceRecord{
			Address:      iface.Address.String(),
			Subnet:       iface.Subnet.String(),
			AdapterName:  iface.AdapterName,
			AdapterIndex: iface.AdapterIndex,
		})
	}
	return out
}
