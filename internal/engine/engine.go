/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine is the event pipeline between the websocket transport and
// the room state machines. It owns connection/session bookkeeping, dedupe,
// rate limits, fan-out, and background snapshot persistence.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/mixroom/internal/catalog"
	"github.com/friendsincode/mixroom/internal/events"
	"github.com/friendsincode/mixroom/internal/idempotency"
	"github.com/friendsincode/mixroom/internal/persistence"
	"github.com/friendsincode/mixroom/internal/protocol"
	"github.com/friendsincode/mixroom/internal/ratelimit"
	"github.com/friendsincode/mixroom/internal/room"
	"github.com/friendsincode/mixroom/internal/telemetry"
)

// Cursor broadcasts are throttled per connection to one per interval.
const cursorThrottleInterval = 33 * time.Millisecond

// Conn is a client connection as the engine sees it. The transport layer
// implements it; Send must not block.
type Conn interface {
	ID() string
	// Send enqueues a message for delivery. Returns false when the
	// connection is gone or its buffer is full.
	Send(message any) bool
	// Kick closes the connection with a reason visible to the client.
	Kick(reason string)
}

// session is the engine-side state of one connection.
type session struct {
	conn     Conn
	clientID string
	roomID   string

	// cursorLimit throttles CURSOR_MOVE fan-out; excess moves are dropped
	// silently.
	cursorLimit *rate.Limiter
}

// Config carries the engine tunables.
type Config struct {
	// PersistInterval is how often dirty rooms are flushed to the sink.
	PersistInterval time.Duration
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{PersistInterval: 3 * time.Second}
}

// Engine routes client events through validation, dedupe, rate limiting,
// and the room state machine, then fans results out.
type Engine struct {
	cfg    Config
	log    zerolog.Logger
	rooms  *room.Store
	idem   *idempotency.Store
	limits *ratelimit.Limiter
	sink   persistence.Sink
	bus    *events.Bus
	tracks catalog.Catalog

	nowFn func() int64

	mu        sync.RWMutex
	sessions  map[string]*session            // by conn id
	byClient  map[string]string              // client id -> conn id
	roomConns map[string]map[string]struct{} // room id -> conn ids

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires the engine and registers it as the room store's publisher.
func New(cfg Config, rooms *room.Store, idem *idempotency.Store, limits *ratelimit.Limiter, sink persistence.Sink, bus *events.Bus, logger zerolog.Logger) *Engine {
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = 3 * time.Second
	}
	if sink == nil {
		sink = persistence.Noop{}
	}
	e := &Engine{
		cfg:       cfg,
		log:       logger.With().Str("component", "engine").Logger(),
		rooms:     rooms,
		idem:      idem,
		limits:    limits,
		sink:      sink,
		bus:       bus,
		nowFn:     func() int64 { return time.Now().UnixMilli() },
		sessions:  make(map[string]*session),
		byClient:  make(map[string]string),
		roomConns: make(map[string]map[string]struct{}),
		dirty:     make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
	rooms.SetPublisher(e)
	return e
}

// SetCatalog attaches a track catalog used to fill in metadata the client
// omitted. Optional; without one, events pass through untouched.
func (e *Engine) SetCatalog(c catalog.Catalog) {
	e.tracks = c
}

// SetNow overrides the clock. Test hook.
func (e *Engine) SetNow(fn func() int64) {
	e.nowFn = fn
}

// Run starts the background persistence worker and the room-destroyed
// cleanup loop. Blocks until ctx is cancelled or Close is called.
func (e *Engine) Run(ctx context.Context) {
	destroyed := e.bus.Subscribe(events.EventRoomDestroyed)
	defer e.bus.Unsubscribe(events.EventRoomDestroyed, destroyed)

	ticker := time.NewTicker(e.cfg.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.flushDirty(context.Background())
			return
		case <-e.stop:
			e.flushDirty(context.Background())
			return
		case <-ticker.C:
			e.flushDirty(ctx)
			rooms, _ := e.rooms.Stats()
			telemetry.RoomsLive.Set(float64(rooms))
		case payload := <-destroyed:
			roomID, _ := payload["room_id"].(string)
			if roomID == "" {
				continue
			}
			e.idem.DeleteRoom(roomID)
			if err := e.sink.DeleteRoom(ctx, roomID); err != nil {
				e.log.Warn().Err(err).Str("room_id", roomID).Msg("snapshot delete failed")
			}
		}
	}
}

// Close stops the background worker.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// Register adds a fresh connection with no room membership yet.
func (e *Engine) Register(conn Conn) {
	e.mu.Lock()
	e.sessions[conn.ID()] = &session{
		conn:        conn,
		cursorLimit: rate.NewLimiter(rate.Every(cursorThrottleInterval), 1),
	}
	e.mu.Unlock()
}

// Disconnect tears a connection down. A connected member leaves its room;
// disconnect and ROOM_LEAVE are the same transition.
func (e *Engine) Disconnect(connID string) {
	e.mu.Lock()
	sess, ok := e.sessions[connID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, connID)
	if sess.clientID != "" {
		delete(e.byClient, sess.clientID)
	}
	if sess.roomID != "" {
		if conns := e.roomConns[sess.roomID]; conns != nil {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(e.roomConns, sess.roomID)
			}
		}
	}
	e.mu.Unlock()

	if sess.clientID == "" {
		return
	}
	e.leaveRoom(sess)
}

// leaveRoom runs the departure flow for a bound session.
func (e *Engine) leaveRoom(sess *session) {
	res := e.rooms.Leave(sess.clientID)
	e.limits.RemoveClient(sess.clientID)
	if !res.Found {
		return
	}
	e.markDirty(res.RoomID)

	nowMs := e.nowFn()
	e.PublishRoom(res.RoomID, protocol.ServerEvent{
		Type:     protocol.EventMemberLeft,
		RoomID:   res.RoomID,
		ClientID: res.ClientID,
		EventID:  newEventID(),
		ServerTs: nowMs,
		Payload:  map[string]any{"clientId": res.ClientID, "wasHost": res.WasHost},
	})
	if res.WasHost && res.NewHostID != "" {
		e.PublishRoom(res.RoomID, protocol.ServerEvent{
			Type:     protocol.EventHostChanged,
			RoomID:   res.RoomID,
			ClientID: res.NewHostID,
			EventID:  newEventID(),
			ServerTs: nowMs,
			Payload:  map[string]any{"hostId": res.NewHostID},
		})
	}
}

// bind attaches room membership to a connection.
func (e *Engine) bind(connID, clientID, roomID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[connID]
	if !ok {
		return nil
	}
	sess.clientID = clientID
	sess.roomID = roomID
	e.byClient[clientID] = connID
	conns := e.roomConns[roomID]
	if conns == nil {
		conns = make(map[string]struct{})
		e.roomConns[roomID] = conns
	}
	conns[connID] = struct{}{}
	return sess
}

// unbind detaches room membership but keeps the connection registered.
func (e *Engine) unbind(connID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[connID]
	if !ok || sess.clientID == "" {
		return nil
	}
	detached := &session{conn: sess.conn, clientID: sess.clientID, roomID: sess.roomID}
	delete(e.byClient, sess.clientID)
	if conns := e.roomConns[sess.roomID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(e.roomConns, sess.roomID)
		}
	}
	sess.clientID = ""
	sess.roomID = ""
	return detached
}

func (e *Engine) session(connID string) *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[connID]
}

// PublishRoom fans a message out to every connection in the room. Full
// client buffers drop the message for that client.
func (e *Engine) PublishRoom(roomID string, message any) {
	e.publishRoomExcept(roomID, "", message)
}

func (e *Engine) publishRoomExcept(roomID, exceptConnID string, message any) {
	if _, isBeacon := message.(protocol.BeaconTick); isBeacon {
		telemetry.BeaconTicksTotal.Inc()
	}

	e.mu.RLock()
	conns := make([]Conn, 0, len(e.roomConns[roomID]))
	for connID := range e.roomConns[roomID] {
		if connID == exceptConnID {
			continue
		}
		if sess, ok := e.sessions[connID]; ok {
			conns = append(conns, sess.conn)
		}
	}
	e.mu.RUnlock()

	for _, conn := range conns {
		if !conn.Send(message) {
			telemetry.BroadcastsDropped.WithLabelValues(messageType(message)).Inc()
		}
	}
}

func messageType(message any) string {
	switch m := message.(type) {
	case protocol.ServerEvent:
		return string(m.Type)
	case protocol.BeaconTick:
		return string(protocol.EventBeaconTick)
	case protocol.CursorUpdate:
		return string(protocol.EventCursorUpdate)
	case protocol.Ack:
		return string(protocol.EventAck)
	default:
		return "other"
	}
}

// markDirty queues a room for the next persistence flush.
func (e *Engine) markDirty(roomID string) {
	e.dirtyMu.Lock()
	e.dirty[roomID] = struct{}{}
	e.dirtyMu.Unlock()
}

// flushDirty snapshots every dirty room to the sink.
func (e *Engine) flushDirty(ctx context.Context) {
	e.dirtyMu.Lock()
	if len(e.dirty) == 0 {
		e.dirtyMu.Unlock()
		return
	}
	pending := make([]string, 0, len(e.dirty))
	for roomID := range e.dirty {
		pending = append(pending, roomID)
	}
	e.dirty = make(map[string]struct{})
	e.dirtyMu.Unlock()

	nowMs := e.nowFn()
	for _, roomID := range pending {
		state := e.rooms.Snapshot(roomID)
		if state == nil {
			continue
		}
		snap := &persistence.Snapshot{
			State:       state,
			Idempotency: e.idem.PersistedState(roomID),
			SavedAt:     nowMs,
		}
		if err := e.sink.SaveRoom(ctx, snap); err != nil {
			e.log.Warn().Err(err).Str("room_id", roomID).Msg("snapshot save failed")
			e.markDirty(roomID)
		}
	}
}

// RestoreRooms loads every persisted room back into the registry at boot.
func (e *Engine) RestoreRooms(ctx context.Context) error {
	ids, err := e.sink.ListRooms(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, roomID := range ids {
		snap, err := e.sink.LoadRoom(ctx, roomID)
		if err != nil {
			e.log.Warn().Err(err).Str("room_id", roomID).Msg("snapshot load failed")
			continue
		}
		if err := e.rooms.AdoptState(snap.State); err != nil {
			e.log.Warn().Err(err).Str("room_id", roomID).Msg("room restore failed")
			continue
		}
		e.idem.RestoreRoom(roomID, snap.Idempotency)
		restored++
	}
	if restored > 0 {
		e.log.Info().Int("rooms", restored).Msg("rooms restored from snapshots")
	}
	return nil
}

// Stats reports live counts for the health endpoint.
func (e *Engine) Stats() (rooms, clients int) {
	return e.rooms.Stats()
}

// RoomByCode resolves a join code for the REST lookup endpoint.
func (e *Engine) RoomByCode(code string) (roomID string, members int, ok bool) {
	return e.rooms.FindByCode(code)
}

// SinkName names the active persistence backend.
func (e *Engine) SinkName() string {
	return e.sink.Name()
}
