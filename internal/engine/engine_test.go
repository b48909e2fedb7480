/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/catalog"
	"github.com/friendsincode/mixroom/internal/events"
	"github.com/friendsincode/mixroom/internal/idempotency"
	"github.com/friendsincode/mixroom/internal/persistence"
	"github.com/friendsincode/mixroom/internal/protocol"
	"github.com/friendsincode/mixroom/internal/ratelimit"
	"github.com/friendsincode/mixroom/internal/room"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []any
	kicked bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(message any) bool {
	c.mu.Lock()
	c.msgs = append(c.msgs, message)
	c.mu.Unlock()
	return true
}

func (c *fakeConn) Kick(string) {
	c.mu.Lock()
	c.kicked = true
	c.mu.Unlock()
}

func (c *fakeConn) acks() []protocol.Ack {
	c.mu.Lock()
	defer c.mu.Unlock()
	var acks []protocol.Ack
	for _, m := range c.msgs {
		if ack, ok := m.(protocol.Ack); ok {
			acks = append(acks, ack)
		}
	}
	return acks
}

func (c *fakeConn) lastAck(t *testing.T) protocol.Ack {
	t.Helper()
	acks := c.acks()
	if len(acks) == 0 {
		t.Fatal("no ack received")
	}
	return acks[len(acks)-1]
}

func (c *fakeConn) roomJoined(t *testing.T) protocol.RoomJoined {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if rj, ok := m.(protocol.RoomJoined); ok {
			return rj
		}
	}
	t.Fatal("no ROOM_JOINED received")
	return protocol.RoomJoined{}
}

func (c *fakeConn) serverEvents(typ protocol.EventType) []protocol.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evs []protocol.ServerEvent
	for _, m := range c.msgs {
		if se, ok := m.(protocol.ServerEvent); ok && se.Type == typ {
			evs = append(evs, se)
		}
	}
	return evs
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	bus := events.NewBus()
	rooms := room.NewStore(room.DefaultConfig(), bus, zerolog.Nop())
	e := New(DefaultConfig(), rooms, idempotency.New(0), ratelimit.New(nil), persistence.Noop{}, bus, zerolog.Nop())
	t.Cleanup(func() {
		e.Close()
		rooms.Close()
	})
	return e
}

func sendEvent(e *Engine, connID string, ev protocol.ClientEvent, payload any) {
	if payload != nil {
		raw, _ := json.Marshal(payload)
		ev.Payload = raw
	}
	frame, _ := json.Marshal(ev)
	e.HandleMessage(connID, frame)
}

// createRoom drives the create flow and returns the joined identifiers.
func createRoom(t *testing.T, e *Engine, conn *fakeConn, name string) protocol.RoomJoined {
	t.Helper()
	e.Register(conn)
	sendEvent(e, conn.id, protocol.ClientEvent{Type: protocol.EventRoomCreate}, protocol.RoomCreatePayload{Name: name})
	return conn.roomJoined(t)
}

func joinRoom(t *testing.T, e *Engine, conn *fakeConn, code, name string) protocol.RoomJoined {
	t.Helper()
	e.Register(conn)
	sendEvent(e, conn.id, protocol.ClientEvent{Type: protocol.EventRoomJoin}, protocol.RoomJoinPayload{RoomCode: code, Name: name})
	return conn.roomJoined(t)
}

func TestCreateJoinAndBroadcast(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	guest := &fakeConn{id: "conn-guest"}

	created := createRoom(t, e, host, "Alice")
	if created.State == nil || created.State.HostID != created.ClientID {
		t.Fatalf("bad initial state: %+v", created)
	}

	joined := joinRoom(t, e, guest, created.RoomCode, "Bob")
	if len(joined.State.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(joined.State.Members))
	}

	// The host sees MEMBER_JOINED; the joiner does not (it got ROOM_JOINED).
	if evs := host.serverEvents(protocol.EventMemberJoined); len(evs) != 1 {
		t.Fatalf("host MEMBER_JOINED count = %d, want 1", len(evs))
	}
	if evs := guest.serverEvents(protocol.EventMemberJoined); len(evs) != 0 {
		t.Fatalf("joiner received its own MEMBER_JOINED")
	}
}

func TestMutationAckAndFanOut(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	guest := &fakeConn{id: "conn-guest"}
	created := createRoom(t, e, host, "Alice")
	joinRoom(t, e, guest, created.RoomCode, "Bob")

	sendEvent(e, guest.id, protocol.ClientEvent{
		Type:      protocol.EventQueueAdd,
		RoomID:    created.RoomID,
		ClientID:  guest.roomJoined(t).ClientID,
		ClientSeq: 1,
	}, protocol.QueueAddPayload{TrackID: "track-1", Title: "One", DurationSec: 180})

	ack := guest.lastAck(t)
	if !ack.Accepted || ack.EventID == "" || ack.ClientSeq != 1 {
		t.Fatalf("bad ack: %+v", ack)
	}

	// Both members, sender included, get the broadcast.
	for _, conn := range []*fakeConn{host, guest} {
		evs := conn.serverEvents(protocol.EventQueueAdd)
		if len(evs) != 1 {
			t.Fatalf("%s QUEUE_ADD count = %d, want 1", conn.id, len(evs))
		}
		if evs[0].EventID != ack.EventID {
			t.Fatalf("broadcast event id %s != ack %s", evs[0].EventID, ack.EventID)
		}
		if evs[0].Version == 0 {
			t.Fatal("broadcast missing version")
		}
	}
}

func TestDuplicateReplayAcksWithoutReapply(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	created := createRoom(t, e, host, "Alice")

	ev := protocol.ClientEvent{
		Type:      protocol.EventQueueAdd,
		RoomID:    created.RoomID,
		ClientID:  created.ClientID,
		ClientSeq: 7,
	}
	payload := protocol.QueueAddPayload{TrackID: "track-1", DurationSec: 60}

	sendEvent(e, host.id, ev, payload)
	first := host.lastAck(t)

	sendEvent(e, host.id, ev, payload)
	second := host.lastAck(t)

	if !second.Accepted || second.Code != protocol.CodeDuplicate {
		t.Fatalf("replay ack = %+v, want accepted duplicate", second)
	}
	if second.EventID != first.EventID {
		t.Fatalf("replay event id %s != original %s", second.EventID, first.EventID)
	}
	if evs := host.serverEvents(protocol.EventQueueAdd); len(evs) != 1 {
		t.Fatalf("replay re-broadcast: %d events", len(evs))
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	created := createRoom(t, e, host, "Alice")

	for i := 1; i <= 21; i++ {
		sendEvent(e, host.id, protocol.ClientEvent{
			Type:      protocol.EventQueueAdd,
			RoomID:    created.RoomID,
			ClientID:  created.ClientID,
			ClientSeq: uint64(i),
		}, protocol.QueueAddPayload{TrackID: fmt.Sprintf("track-%d", i), DurationSec: 60})
	}

	ack := host.lastAck(t)
	if ack.Accepted || ack.Code != protocol.CodeRateLimited {
		t.Fatalf("21st add ack = %+v, want RATE_LIMITED", ack)
	}
	if ack.RetryAfterMs <= 0 {
		t.Fatalf("retryAfterMs = %d, want > 0", ack.RetryAfterMs)
	}
}

func TestMutationMembershipChecks(t *testing.T) {
	e := newTestEngine(t)
	stranger := &fakeConn{id: "conn-stranger"}
	e.Register(stranger)

	sendEvent(e, stranger.id, protocol.ClientEvent{
		Type: protocol.EventQueueAdd, RoomID: "nowhere", ClientID: "nobody", ClientSeq: 1,
	}, protocol.QueueAddPayload{TrackID: "track-1", DurationSec: 60})
	if ack := stranger.lastAck(t); ack.Code != protocol.CodeNotInRoom {
		t.Fatalf("ack code = %s, want NOT_IN_ROOM", ack.Code)
	}

	host := &fakeConn{id: "conn-host"}
	created := createRoom(t, e, host, "Alice")

	sendEvent(e, host.id, protocol.ClientEvent{
		Type: protocol.EventQueueAdd, RoomID: "other-room", ClientID: created.ClientID, ClientSeq: 1,
	}, protocol.QueueAddPayload{TrackID: "track-1", DurationSec: 60})
	if ack := host.lastAck(t); ack.Code != protocol.CodeRoomMismatch {
		t.Fatalf("ack code = %s, want ROOM_MISMATCH", ack.Code)
	}

	sendEvent(e, host.id, protocol.ClientEvent{
		Type: protocol.EventQueueAdd, RoomID: created.RoomID, ClientID: "imposter", ClientSeq: 1,
	}, protocol.QueueAddPayload{TrackID: "track-1", DurationSec: 60})
	if ack := host.lastAck(t); ack.Code != protocol.CodeClientMismatch {
		t.Fatalf("ack code = %s, want CLIENT_MISMATCH", ack.Code)
	}
}

func TestCursorThrottleAndFanOut(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	guest := &fakeConn{id: "conn-guest"}
	created := createRoom(t, e, host, "Alice")
	joinRoom(t, e, guest, created.RoomCode, "Bob")

	move := func(x, y float64) {
		sendEvent(e, host.id, protocol.ClientEvent{Type: protocol.EventCursorMove},
			protocol.CursorMovePayload{X: x, Y: y})
	}
	move(10, 20)
	move(11, 21) // Inside the throttle window: dropped silently.

	guest.mu.Lock()
	var updates []protocol.CursorUpdate
	for _, m := range guest.msgs {
		if cu, ok := m.(protocol.CursorUpdate); ok {
			updates = append(updates, cu)
		}
	}
	guest.mu.Unlock()
	if len(updates) != 1 {
		t.Fatalf("cursor updates = %d, want 1", len(updates))
	}
	if updates[0].Cursor.X != 10 || updates[0].Cursor.Y != 20 {
		t.Fatalf("unexpected cursor: %+v", updates[0].Cursor)
	}

	// The mover never receives its own cursor back.
	host.mu.Lock()
	for _, m := range host.msgs {
		if _, ok := m.(protocol.CursorUpdate); ok {
			host.mu.Unlock()
			t.Fatal("cursor echoed to sender")
		}
	}
	host.mu.Unlock()

	// No acks on the lossy path.
	for _, ack := range host.acks() {
		if ack.Type == protocol.EventAck && ack.ClientSeq == 0 && !ack.Accepted {
			t.Fatalf("cursor move produced an ack: %+v", ack)
		}
	}
}

func TestTimePingAnswersImmediately(t *testing.T) {
	e := newTestEngine(t)
	conn := &fakeConn{id: "conn-1"}
	e.Register(conn)

	sendEvent(e, conn.id, protocol.ClientEvent{Type: protocol.EventTimePing},
		protocol.TimePingPayload{T0: 123456})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(conn.msgs))
	}
	pong, ok := conn.msgs[0].(protocol.TimePong)
	if !ok {
		t.Fatalf("unexpected message %T", conn.msgs[0])
	}
	if pong.T0 != 123456 || pong.ServerTs == 0 {
		t.Fatalf("bad pong: %+v", pong)
	}
}

func TestTimePingMeasuresMemberLatency(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	created := createRoom(t, e, host, "Alice")

	// The server observes a 200ms round trip from t0 alone.
	e.SetNow(func() int64 { return 1_000_200 })
	sendEvent(e, host.id, protocol.ClientEvent{Type: protocol.EventTimePing},
		protocol.TimePingPayload{T0: 1_000_000})

	member := e.rooms.Snapshot(created.RoomID).Member(created.ClientID)
	if member == nil {
		t.Fatal("member missing from snapshot")
	}
	if member.LatencyMs != 100 {
		t.Fatalf("latency = %d, want 100", member.LatencyMs)
	}

	// A client-measured rtt takes precedence over the server's observation.
	sendEvent(e, host.id, protocol.ClientEvent{Type: protocol.EventTimePing},
		protocol.TimePingPayload{T0: 1_000_000, RttMs: 80})
	member = e.rooms.Snapshot(created.RoomID).Member(created.ClientID)
	if member.LatencyMs != 40 {
		t.Fatalf("latency = %d, want 40", member.LatencyMs)
	}

	// A t0 ahead of the server clock clamps to zero.
	sendEvent(e, host.id, protocol.ClientEvent{Type: protocol.EventTimePing},
		protocol.TimePingPayload{T0: 2_000_000})
	member = e.rooms.Snapshot(created.RoomID).Member(created.ClientID)
	if member.LatencyMs != 0 {
		t.Fatalf("latency = %d, want 0", member.LatencyMs)
	}
}

func TestReplayOfOlderSeqRejected(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	created := createRoom(t, e, host, "Alice")

	add := func(seq uint64, trackID string) {
		sendEvent(e, host.id, protocol.ClientEvent{
			Type:      protocol.EventQueueAdd,
			RoomID:    created.RoomID,
			ClientID:  created.ClientID,
			ClientSeq: seq,
		}, protocol.QueueAddPayload{TrackID: trackID, DurationSec: 60})
	}
	add(3, "track-3")
	add(5, "track-5")

	// Seq 3 is older than the latest recorded seq, so its original event id
	// is gone: the replay cannot be acknowledged as applied.
	add(3, "track-3")
	ack := host.lastAck(t)
	if ack.Accepted || ack.Code != protocol.CodeDuplicate {
		t.Fatalf("stale replay ack = %+v, want rejected DUPLICATE", ack)
	}
	if ack.EventID != "" {
		t.Fatalf("stale replay carried event id %s", ack.EventID)
	}
	if evs := host.serverEvents(protocol.EventQueueAdd); len(evs) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(evs))
	}
}

func TestRejectionsLoggedAtWarn(t *testing.T) {
	var buf bytes.Buffer
	bus := events.NewBus()
	rooms := room.NewStore(room.DefaultConfig(), bus, zerolog.Nop())
	e := New(DefaultConfig(), rooms, idempotency.New(0), ratelimit.New(nil), persistence.Noop{}, bus, zerolog.New(&buf))
	t.Cleanup(func() {
		e.Close()
		rooms.Close()
	})

	host := &fakeConn{id: "conn-host"}
	created := createRoom(t, e, host, "Alice")

	sendEvent(e, host.id, protocol.ClientEvent{
		Type: protocol.EventQueueAdd, RoomID: "other-room", ClientID: created.ClientID, ClientSeq: 1,
	}, protocol.QueueAddPayload{TrackID: "track-1", DurationSec: 60})

	logged := buf.String()
	for _, want := range []string{
		`"level":"warn"`,
		`"event_type":"QUEUE_ADD"`,
		`"client_id":"` + created.ClientID + `"`,
		`"room_id":"` + created.RoomID + `"`,
		`"code":"ROOM_MISMATCH"`,
	} {
		if !strings.Contains(logged, want) {
			t.Fatalf("rejection log missing %s in %q", want, logged)
		}
	}

	// The rate-limit path leaves the same trail.
	buf.Reset()
	for i := 2; i <= 22; i++ {
		sendEvent(e, host.id, protocol.ClientEvent{
			Type:      protocol.EventQueueAdd,
			RoomID:    created.RoomID,
			ClientID:  created.ClientID,
			ClientSeq: uint64(i),
		}, protocol.QueueAddPayload{TrackID: fmt.Sprintf("track-%d", i), DurationSec: 60})
	}
	if !strings.Contains(buf.String(), `"code":"RATE_LIMITED"`) {
		t.Fatalf("rate limit rejection not logged: %q", buf.String())
	}
}

func TestKickClosesVictimConnection(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	guest := &fakeConn{id: "conn-guest"}
	created := createRoom(t, e, host, "Alice")
	joined := joinRoom(t, e, guest, created.RoomCode, "Bob")

	sendEvent(e, host.id, protocol.ClientEvent{
		Type:      protocol.EventMemberKick,
		RoomID:    created.RoomID,
		ClientID:  created.ClientID,
		ClientSeq: 1,
	}, protocol.MemberKickPayload{ClientID: joined.ClientID})

	if ack := host.lastAck(t); !ack.Accepted {
		t.Fatalf("kick rejected: %+v", ack)
	}
	guest.mu.Lock()
	kicked := guest.kicked
	guest.mu.Unlock()
	if !kicked {
		t.Fatal("victim connection not closed")
	}
}

func TestDisconnectRunsLeaveFlow(t *testing.T) {
	e := newTestEngine(t)
	host := &fakeConn{id: "conn-host"}
	guest := &fakeConn{id: "conn-guest"}
	created := createRoom(t, e, host, "Alice")
	joinRoom(t, e, guest, created.RoomCode, "Bob")

	e.Disconnect(host.id)

	evs := guest.serverEvents(protocol.EventMemberLeft)
	if len(evs) != 1 {
		t.Fatalf("MEMBER_LEFT count = %d, want 1", len(evs))
	}
	hostChanged := guest.serverEvents(protocol.EventHostChanged)
	if len(hostChanged) != 1 {
		t.Fatalf("HOST_CHANGED count = %d, want 1", len(hostChanged))
	}

	_, clients := e.Stats()
	if clients != 1 {
		t.Fatalf("clients = %d, want 1", clients)
	}
}

func TestQueueAddEnrichedFromCatalog(t *testing.T) {
	e := newTestEngine(t)
	e.SetCatalog(catalog.NewStatic(catalog.Track{
		ID: "track-9", Title: "Nine", Artist: "A", DurationSec: 321, BPM: 140,
	}))

	host := &fakeConn{id: "conn-host"}
	created := createRoom(t, e, host, "Alice")

	// Title and duration omitted; the catalog supplies both.
	sendEvent(e, host.id, protocol.ClientEvent{
		Type: protocol.EventQueueAdd, RoomID: created.RoomID, ClientID: created.ClientID, ClientSeq: 1,
	}, protocol.QueueAddPayload{TrackID: "track-9"})

	if ack := host.lastAck(t); !ack.Accepted {
		t.Fatalf("ack rejected: %+v", ack)
	}
	evs := host.serverEvents(protocol.EventQueueAdd)
	if len(evs) != 1 {
		t.Fatalf("QUEUE_ADD broadcast count = %d, want 1", len(evs))
	}
	payload, ok := evs[0].Payload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected broadcast payload: %+v", evs[0].Payload)
	}
	if payload["title"] != "Nine" || payload["durationSec"] != 321.0 {
		t.Fatalf("payload not enriched: %+v", payload)
	}
}
