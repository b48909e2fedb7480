/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/idempotency"
	"github.com/friendsincode/mixroom/internal/models"
)

func setupRedisSink(t *testing.T) (*miniredis.Miniredis, *RedisSink) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSinkWithClient(client, RedisConfig{SnapshotTTL: time.Hour}, zerolog.Nop())
	return mr, sink
}

func testSnapshot(roomID string) *Snapshot {
	state := models.NewRoomState(roomID, "ABC123", "client-1", 1000)
	state.Version = 7
	state.Members = append(state.Members, models.Member{
		ClientID: "client-1",
		Name:     "Host",
		IsHost:   true,
		JoinedAt: 1000,
	})
	return &Snapshot{
		State: state,
		Idempotency: &idempotency.State{
			LastSeqByClient: map[string]uint64{"client-1": 42},
			RecentEventIDs:  []idempotency.RecentEvent{{EventID: "ev-1", Ts: 1500}},
		},
		SavedAt: 2000,
	}
}

func TestRedisSinkRoundTrip(t *testing.T) {
	mr, sink := setupRedisSink(t)
	defer mr.Close()
	defer sink.Close()

	ctx := context.Background()
	if err := sink.SaveRoom(ctx, testSnapshot("room-1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, err := sink.LoadRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.State.RoomID != "room-1" {
		t.Errorf("room id = %q, want room-1", snap.State.RoomID)
	}
	if snap.State.Version != 7 {
		t.Errorf("version = %d, want 7", snap.State.Version)
	}
	if snap.SavedAt != 2000 {
		t.Errorf("savedAt = %d, want 2000", snap.SavedAt)
	}
	if len(snap.State.Members) != 1 || snap.State.Members[0].ClientID != "client-1" {
		t.Errorf("members not restored: %+v", snap.State.Members)
	}
	if snap.Idempotency == nil || snap.Idempotency.LastSeqByClient["client-1"] != 42 {
		t.Errorf("idempotency state not restored: %+v", snap.Idempotency)
	}
}

func TestRedisSinkListAndDelete(t *testing.T) {
	mr, sink := setupRedisSink(t)
	defer mr.Close()
	defer sink.Close()

	ctx := context.Background()
	for _, id := range []string{"room-a", "room-b"} {
		if err := sink.SaveRoom(ctx, testSnapshot(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	ids, err := sink.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("listed %d rooms, want 2: %v", len(ids), ids)
	}

	if err := sink.DeleteRoom(ctx, "room-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := sink.LoadRoom(ctx, "room-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("load after delete: got %v, want ErrNotFound", err)
	}
	ids, err = sink.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(ids) != 1 || ids[0] != "room-b" {
		t.Errorf("index after delete = %v, want [room-b]", ids)
	}
}

func TestRedisSinkLoadMissing(t *testing.T) {
	mr, sink := setupRedisSink(t)
	defer mr.Close()
	defer sink.Close()

	if _, err := sink.LoadRoom(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRedisSinkSaveEmptySnapshot(t *testing.T) {
	mr, sink := setupRedisSink(t)
	defer mr.Close()
	defer sink.Close()

	if err := sink.SaveRoom(context.Background(), &Snapshot{}); err == nil {
		t.Error("expected error for snapshot without state")
	}
}

func TestRedisSinkDisabled(t *testing.T) {
	sink := &RedisSink{logger: zerolog.Nop(), disabled: true}

	ctx := context.Background()
	if err := sink.SaveRoom(ctx, testSnapshot("room-1")); err != nil {
		t.Errorf("disabled save should noop, got %v", err)
	}
	if _, err := sink.LoadRoom(ctx, "room-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("disabled load: got %v, want ErrNotFound", err)
	}
	ids, err := sink.ListRooms(ctx)
	if err != nil || ids != nil {
		t.Errorf("disabled list: got %v, %v", ids, err)
	}
	if err := sink.DeleteRoom(ctx, "room-1"); err != nil {
		t.Errorf("disabled delete should noop, got %v", err)
	}
}

func TestRedisSinkBreakerTripsOnError(t *testing.T) {
	mr, sink := setupRedisSink(t)
	defer sink.Close()
	sink.config.DisableOnError = true

	ctx := context.Background()
	if err := sink.SaveRoom(ctx, testSnapshot("room-1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Kill the server; the next operation trips the breaker.
	mr.Close()
	if err := sink.SaveRoom(ctx, testSnapshot("room-2")); err == nil {
		t.Fatal("expected save error with server down")
	}
	if sink.available() {
		t.Error("sink should be disabled after breaker trip")
	}
	// Subsequent saves are silent noops.
	if err := sink.SaveRoom(ctx, testSnapshot("room-3")); err != nil {
		t.Errorf("tripped save should noop, got %v", err)
	}
}
