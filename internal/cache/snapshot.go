package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// SnapshotStore persists a serialized cache between process runs.
type SnapshotStore interface {
	// Put writes the snapshot, replacing any previous one.
	Put(ctx context.Context, data []byte) error

	// Get returns the last snapshot, or nil data when none exists.
	Get(ctx context.Context) ([]byte, error)
}

type snapshot struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

const snapshotVersion = 1

// Snapshot writes every entry, with its original write time, to store.
func (c *Cache) Snapshot(ctx context.Context, store SnapshotStore) (int, error) {
	c.mu.RLock()
	snap := snapshot{Version: snapshotVersion, Entries: make([]Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, e)
	}
	c.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("Snapshot: encode: %w", err)
	}
	if err := store.Put(ctx, data); err != nil {
		return 0, fmt.Errorf("Snapshot: put: %w", err)
	}
	return len(snap.Entries), nil
}

// Restore loads entries from store. Entries keep their original write time so
// freshness is judged as if the process had never stopped. An existing entry
// newer than the restored one is kept.
func (c *Cache) Restore(ctx context.Context, store SnapshotStore) (int, error) {
	data, err := store.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("Restore: get: %w", err)
	}
	if len(data) == 0 {
		return 0, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("Restore: decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("Restore: unsupported snapshot version %d", snap.Version)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, e := range snap.Entries {
		if cur, ok := c.entries[e.Key]; ok && cur.WrittenAt.After(e.WrittenAt) {
			continue
		}
		c.entries[e.Key] = e
		restored++
	}
	return restored, nil
}
