/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package persistence

import (
	"context"
	"errors"
)

// Multi fans saves out to several sinks and reads from the first one that
// answers. Order matters: put the fast tier (redis) before the durable tier
// (archive).
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks. Nil entries are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) SaveRoom(ctx context.Context, snap *Snapshot) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SaveRoom(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) LoadRoom(ctx context.Context, roomID string) (*Snapshot, error) {
	for _, s := range m.sinks {
		snap, err := s.LoadRoom(ctx, roomID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (m *Multi) ListRooms(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range m.sinks {
		list, err := s.ListRooms(ctx)
		if err != nil {
			continue
		}
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Multi) DeleteRoom(ctx context.Context, roomID string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.DeleteRoom(ctx, roomID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
