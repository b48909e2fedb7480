/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package persistence

import (
	"context"
	"errors"
	"testing"
)

// memSink is a map-backed Sink for exercising Multi.
type memSink struct {
	name    string
	rooms   map[string]*Snapshot
	saveErr error
}

func newMemSink(name string) *memSink {
	return &memSink{name: name, rooms: make(map[string]*Snapshot)}
}

func (s *memSink) Name() string { return s.name }

func (s *memSink) SaveRoom(_ context.Context, snap *Snapshot) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rooms[snap.State.RoomID] = snap
	return nil
}

func (s *memSink) LoadRoom(_ context.Context, roomID string) (*Snapshot, error) {
	snap, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

func (s *memSink) ListRooms(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memSink) DeleteRoom(_ context.Context, roomID string) error {
	delete(s.rooms, roomID)
	return nil
}

func (s *memSink) Close() error { return nil }

func TestMultiSaveFansOut(t *testing.T) {
	fast := newMemSink("fast")
	slow := newMemSink("slow")
	m := NewMulti(fast, nil, slow)

	ctx := context.Background()
	if err := m.SaveRoom(ctx, testSnapshot("room-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := fast.rooms["room-1"]; !ok {
		t.Error("fast sink missing snapshot")
	}
	if _, ok := slow.rooms["room-1"]; !ok {
		t.Error("slow sink missing snapshot")
	}
}

func TestMultiSaveCollectsErrors(t *testing.T) {
	broken := newMemSink("broken")
	broken.saveErr = errors.New("disk full")
	ok := newMemSink("ok")
	m := NewMulti(broken, ok)

	err := m.SaveRoom(context.Background(), testSnapshot("room-1"))
	if err == nil {
		t.Fatal("expected error from broken sink")
	}
	// The healthy sink still got the write.
	if _, found := ok.rooms["room-1"]; !found {
		t.Error("healthy sink missing snapshot")
	}
}

func TestMultiLoadFirstHit(t *testing.T) {
	fast := newMemSink("fast")
	slow := newMemSink("slow")
	slowSnap := testSnapshot("room-1")
	slowSnap.SavedAt = 9999
	slow.rooms["room-1"] = slowSnap
	m := NewMulti(fast, slow)

	snap, err := m.LoadRoom(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.SavedAt != 9999 {
		t.Errorf("got snapshot from wrong tier: savedAt = %d", snap.SavedAt)
	}

	if _, err := m.LoadRoom(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing room: got %v, want ErrNotFound", err)
	}
}

func TestMultiListDeduplicates(t *testing.T) {
	fast := newMemSink("fast")
	slow := newMemSink("slow")
	fast.rooms["room-1"] = testSnapshot("room-1")
	slow.rooms["room-1"] = testSnapshot("room-1")
	slow.rooms["room-2"] = testSnapshot("room-2")
	m := NewMulti(fast, slow)

	ids, err := m.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("listed %d rooms, want 2: %v", len(ids), ids)
	}
}
