/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/events"
	"github.com/friendsincode/mixroom/internal/models"
	"github.com/friendsincode/mixroom/internal/protocol"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []any
}

func (p *capturePublisher) PublishRoom(roomID string, message any) {
	p.mu.Lock()
	p.msgs = append(p.msgs, message)
	p.mu.Unlock()
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s := NewStore(cfg, events.NewBus(), zerolog.Nop())
	s.SetPublisher(&capturePublisher{})
	t.Cleanup(s.Close)
	return s
}

func TestCreateAndJoinRoom(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	created, err := s.CreateRoom("Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.IsHost || created.ClientID == "" || len(created.RoomCode) != DefaultCodeLength {
		t.Fatalf("unexpected create result: %+v", created)
	}
	if created.State.HostID != created.ClientID {
		t.Fatalf("host id = %s, want %s", created.State.HostID, created.ClientID)
	}

	joined, verr := s.JoinRoom(created.RoomCode, "Bob", "")
	if verr != nil {
		t.Fatalf("join: %s", verr.Message)
	}
	if joined.IsHost {
		t.Fatal("second member must not be host")
	}
	if len(joined.State.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(joined.State.Members))
	}
	if joined.State.Members[0].Color == joined.State.Members[1].Color {
		t.Fatal("members share a color")
	}

	// Codes are case-insensitive on join.
	if _, verr := s.JoinRoom("  "+toLower(created.RoomCode)+" ", "Eve", ""); verr != nil {
		t.Fatalf("normalized join: %s", verr.Message)
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func TestJoinUnknownCode(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	if _, verr := s.JoinRoom("ZZZZZZ", "Bob", ""); verr == nil || verr.Code != protocol.CodeRoomNotFound {
		t.Fatalf("expected ROOM_NOT_FOUND, got %+v", verr)
	}
}

func TestLeavePromotesLongestConnectedMember(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	now := int64(1000)
	s.SetNow(func() int64 { now += 1000; return now })

	host, _ := s.CreateRoom("Alice")
	second, _ := s.JoinRoom(host.RoomCode, "Bob", "")
	third, _ := s.JoinRoom(host.RoomCode, "Cara", "")

	res := s.Leave(host.ClientID)
	if !res.Found || !res.WasHost {
		t.Fatalf("unexpected leave result: %+v", res)
	}
	if res.NewHostID != second.ClientID {
		t.Fatalf("new host = %s, want %s", res.NewHostID, second.ClientID)
	}

	snap := s.Snapshot(host.RoomID)
	if snap.HostID != second.ClientID {
		t.Fatalf("snapshot host = %s, want %s", snap.HostID, second.ClientID)
	}
	for _, m := range snap.Members {
		if m.ClientID == third.ClientID && m.IsHost {
			t.Fatal("non-promoted member flagged as host")
		}
	}
}

func TestLeaveReleasesControlLeases(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	host, _ := s.CreateRoom("Alice")
	guest, _ := s.JoinRoom(host.RoomCode, "Bob", "")

	payload, _ := json.Marshal(protocol.ControlGrabPayload{ControlID: models.ControlCrossfader})
	_, verr := s.Mutate(host.RoomID, &protocol.ClientEvent{
		Type: protocol.EventControlGrab, RoomID: host.RoomID, ClientID: guest.ClientID, Payload: payload,
	})
	if verr != nil {
		t.Fatalf("grab: %s", verr.Message)
	}

	s.Leave(guest.ClientID)
	snap := s.Snapshot(host.RoomID)
	if _, held := snap.ControlOwners[models.ControlCrossfader]; held {
		t.Fatal("departed client still holds a lease")
	}
}

func TestEmptyRoomDestroyedAfterGrace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmptyRoomGrace = 20 * time.Millisecond
	s := newTestStore(t, cfg)

	created, _ := s.CreateRoom("Alice")
	res := s.Leave(created.ClientID)
	if !res.RoomEmpty {
		t.Fatalf("expected empty room, got %+v", res)
	}

	deadline := time.After(2 * time.Second)
	for {
		if rooms, _ := s.Stats(); rooms == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("room not destroyed after grace period")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, verr := s.JoinRoom(created.RoomCode, "Bob", ""); verr == nil {
		t.Fatal("join succeeded on destroyed room")
	}
}

func TestRejoinWithinGraceCancelsDestroy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmptyRoomGrace = 100 * time.Millisecond
	s := newTestStore(t, cfg)

	created, _ := s.CreateRoom("Alice")
	s.Leave(created.ClientID)

	rejoined, verr := s.JoinRoom(created.RoomCode, "Alice", created.ClientID)
	if verr != nil {
		t.Fatalf("rejoin: %s", verr.Message)
	}
	if rejoined.ClientID != created.ClientID {
		t.Fatalf("resume id = %s, want %s", rejoined.ClientID, created.ClientID)
	}
	if !rejoined.IsHost {
		t.Fatal("sole rejoined member must be promoted to host")
	}

	time.Sleep(200 * time.Millisecond)
	if rooms, _ := s.Stats(); rooms != 1 {
		t.Fatalf("room destroyed despite rejoin: rooms=%d", rooms)
	}
}

func TestMutateBumpsVersionAndCommits(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	created, _ := s.CreateRoom("Alice")

	payload, _ := json.Marshal(protocol.QueueAddPayload{TrackID: "track-1", Title: "One", DurationSec: 180})
	res, verr := s.Mutate(created.RoomID, &protocol.ClientEvent{
		Type: protocol.EventQueueAdd, RoomID: created.RoomID, ClientID: created.ClientID, Payload: payload,
	})
	if verr != nil {
		t.Fatalf("mutate: %s", verr.Message)
	}
	if len(res.State.Queue) != 1 {
		t.Fatalf("queue = %d, want 1", len(res.State.Queue))
	}

	snap := s.Snapshot(created.RoomID)
	if snap.Version != res.State.Version || len(snap.Queue) != 1 {
		t.Fatalf("state not committed: version=%d queue=%d", snap.Version, len(snap.Queue))
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	created, _ := s.CreateRoom("Alice")

	snap := s.Snapshot(created.RoomID)
	snap.Members[0].Name = "Mallory"

	again := s.Snapshot(created.RoomID)
	if again.Members[0].Name != "Alice" {
		t.Fatal("snapshot mutation leaked into room state")
	}
}

func TestBeaconPublishesForOccupiedRoom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BeaconInterval = 10 * time.Millisecond
	pub := &capturePublisher{}
	s := NewStore(cfg, events.NewBus(), zerolog.Nop())
	s.SetPublisher(pub)
	t.Cleanup(s.Close)

	created, err := s.CreateRoom("Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for pub.count() < 3 {
		select {
		case <-deadline:
			t.Fatal("no beacon ticks observed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	pub.mu.Lock()
	tick, ok := pub.msgs[0].(protocol.BeaconTick)
	pub.mu.Unlock()
	if !ok {
		t.Fatalf("unexpected message type %T", pub.msgs[0])
	}
	if tick.RoomID != created.RoomID || tick.Type != protocol.EventBeaconTick {
		t.Fatalf("unexpected tick: %+v", tick)
	}
	if tick.Payload.DeckA.PlayState != models.PlayStateStopped {
		t.Fatalf("deck A state = %s, want stopped", tick.Payload.DeckA.PlayState)
	}
}

func TestBeaconEpochSeqAdvancesWhilePlaying(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BeaconInterval = 10 * time.Millisecond
	s := newTestStore(t, cfg)
	created, _ := s.CreateRoom("Alice")

	add, _ := json.Marshal(protocol.QueueAddPayload{TrackID: "track-1", DurationSec: 300})
	res, verr := s.Mutate(created.RoomID, &protocol.ClientEvent{
		Type: protocol.EventQueueAdd, RoomID: created.RoomID, ClientID: created.ClientID, Payload: add,
	})
	if verr != nil {
		t.Fatalf("queue add: %s", verr.Message)
	}
	itemID := res.State.Queue[0].ID

	load, _ := json.Marshal(protocol.DeckLoadPayload{DeckID: "A", TrackID: "track-1", QueueItemID: itemID})
	if _, verr := s.Mutate(created.RoomID, &protocol.ClientEvent{
		Type: protocol.EventDeckLoad, RoomID: created.RoomID, ClientID: created.ClientID, Payload: load,
	}); verr != nil {
		t.Fatalf("deck load: %s", verr.Message)
	}
	play, _ := json.Marshal(protocol.DeckPlayPayload{DeckID: "A"})
	if _, verr := s.Mutate(created.RoomID, &protocol.ClientEvent{
		Type: protocol.EventDeckPlay, RoomID: created.RoomID, ClientID: created.ClientID, Payload: play,
	}); verr != nil {
		t.Fatalf("deck play: %s", verr.Message)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap := s.Snapshot(created.RoomID)
		if snap.DeckA.EpochSeq >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("epoch seq never advanced")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
