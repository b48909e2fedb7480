/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package persistence snapshots room state so rooms survive a process
// restart. Persistence is best-effort: the in-memory room engine is the
// source of truth, and a failed save never blocks the event pipeline.
package persistence

import (
	"context"
	"errors"

	"github.com/friendsincode/mixroom/internal/idempotency"
	"github.com/friendsincode/mixroom/internal/models"
)

// ErrNotFound is returned when no snapshot exists for a room.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot bundles a room's state with its dedupe state.
type Snapshot struct {
	State       *models.RoomState  `json:"state"`
	Idempotency *idempotency.State `json:"idempotency,omitempty"`
	SavedAt     int64              `json:"savedAt"`
}

// Sink stores and retrieves room snapshots.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	SaveRoom(ctx context.Context, snap *Snapshot) error
	LoadRoom(ctx context.Context, roomID string) (*Snapshot, error)
	// ListRooms returns the room ids with a stored snapshot.
	ListRooms(ctx context.Context) ([]string, error)
	DeleteRoom(ctx context.Context, roomID string) error
	Close() error
}

// Noop discards everything. Used when no backend is configured.
type Noop struct{}

func (Noop) Name() string                                  { return "noop" }
func (Noop) SaveRoom(context.Context, *Snapshot) error     { return nil }
func (Noop) LoadRoom(context.Context, string) (*Snapshot, error) {
	return nil, ErrNotFound
}
func (Noop) ListRooms(context.Context) ([]string, error) { return nil, nil }
func (Noop) DeleteRoom(context.Context, string) error    { return nil }
func (Noop) Close() error                                { return nil }
