/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/storage"
	"github.com/friendsincode/mixroom/internal/telemetry"
)

const archivePrefix = "rooms/"

// ArchiveSink persists snapshots to an object store (S3 or compatible).
// Slower than redis but durable; typically used as the long-term tier.
type ArchiveSink struct {
	store  storage.ObjectStore
	logger zerolog.Logger
}

// NewArchiveSink wraps an object store as a snapshot sink.
func NewArchiveSink(store storage.ObjectStore, logger zerolog.Logger) *ArchiveSink {
	return &ArchiveSink{
		store:  store,
		logger: logger.With().Str("component", "persistence_archive").Logger(),
	}
}

func (a *ArchiveSink) Name() string { return "archive" }

func archiveKey(roomID string) string {
	return archivePrefix + roomID + ".json"
}

func (a *ArchiveSink) SaveRoom(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.State == nil {
		return fmt.Errorf("save: empty snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := a.store.Put(ctx, archiveKey(snap.State.RoomID), data); err != nil {
		telemetry.PersistOperations.WithLabelValues("archive", "error").Inc()
		return err
	}
	telemetry.PersistOperations.WithLabelValues("archive", "save").Inc()
	return nil
}

func (a *ArchiveSink) LoadRoom(ctx context.Context, roomID string) (*Snapshot, error) {
	data, err := a.store.Get(ctx, archiveKey(roomID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", roomID, err)
	}
	return &snap, nil
}

func (a *ArchiveSink) ListRooms(ctx context.Context) ([]string, error) {
	keys, err := a.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".json")
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (a *ArchiveSink) DeleteRoom(ctx context.Context, roomID string) error {
	if err := a.store.Delete(ctx, archiveKey(roomID)); err != nil {
		telemetry.PersistOperations.WithLabelValues("archive", "error").Inc()
		return err
	}
	telemetry.PersistOperations.WithLabelValues("archive", "delete").Inc()
	return nil
}

func (a *ArchiveSink) Close() error { return nil }
