/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package room hosts the authoritative room registry and the per-room state
// machine. Every mutation of a room's state runs on that room's work queue,
// so applies are strictly serialized and the broadcast order equals the
// apply order.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/events"
	"github.com/friendsincode/mixroom/internal/models"
	"github.com/friendsincode/mixroom/internal/protocol"
)

// ErrStoreClosed is returned once the store has shut down.
var ErrStoreClosed = errors.New("room store closed")

// memberColors is the palette cycled through as members join.
var memberColors = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e",
	"#06b6d4", "#3b82f6", "#8b5cf6", "#ec4899",
}

// Publisher fans a server message out to every member of a room. The
// transport layer implements it; the store uses it for beacons and
// membership broadcasts.
type Publisher interface {
	PublishRoom(roomID string, message any)
}

// Config carries the store tunables.
type Config struct {
	BeaconInterval time.Duration
	EmptyRoomGrace time.Duration
	OwnershipTTLMs int64
	OwnershipMode  OwnershipMode
	CodeLength     int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		BeaconInterval: 250 * time.Millisecond,
		EmptyRoomGrace: 60 * time.Second,
		OwnershipTTLMs: 2000,
		OwnershipMode:  OwnershipStrict,
		CodeLength:     DefaultCodeLength,
	}
}

// Room is one live room: its state plus the work queue that serializes all
// access to it.
type Room struct {
	ID   string
	Code string

	store *Store
	log   zerolog.Logger

	mu     sync.Mutex
	closed bool
	tasks  chan func()
	done   chan struct{}

	// state is touched only from the run loop.
	state *models.RoomState

	destroyAt *time.Timer
}

// Do enqueues fn on the room's work queue. Returns false once the room shut
// down.
func (r *Room) Do(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.tasks <- fn
	return true
}

// DoSync runs fn on the work queue and waits for it to finish.
func (r *Room) DoSync(fn func()) bool {
	doneCh := make(chan struct{})
	if !r.Do(func() {
		defer close(doneCh)
		fn()
	}) {
		return false
	}
	<-doneCh
	return true
}

// run is the room's actor loop. A panicking task is logged and skipped; the
// room keeps serving.
func (r *Room) run() {
	for {
		select {
		case fn := <-r.tasks:
			r.runTask(fn)
		case <-r.done:
			// Drain what was enqueued before shutdown.
			for {
				select {
				case fn := <-r.tasks:
					r.runTask(fn)
				default:
					return
				}
			}
		}
	}
}

func (r *Room) runTask(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("room task panicked")
		}
	}()
	fn()
}

// shutdown closes the work queue. Idempotent.
func (r *Room) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.destroyAt != nil {
		r.destroyAt.Stop()
	}
	close(r.done)
}

// Store is the registry of live rooms.
type Store struct {
	cfg Config
	log zerolog.Logger
	bus *events.Bus
	pub Publisher

	nowFn func() int64

	mu      sync.RWMutex
	closed  bool
	rooms   map[string]*Room // by room id
	byCode  map[string]*Room
	clients map[string]string // client id -> room id
}

// NewStore creates an empty registry. pub may be nil until the transport is
// wired via SetPublisher.
func NewStore(cfg Config, bus *events.Bus, logger zerolog.Logger) *Store {
	if cfg.BeaconInterval <= 0 {
		cfg.BeaconInterval = 250 * time.Millisecond
	}
	if cfg.EmptyRoomGrace <= 0 {
		cfg.EmptyRoomGrace = 60 * time.Second
	}
	if cfg.OwnershipTTLMs <= 0 {
		cfg.OwnershipTTLMs = 2000
	}
	if cfg.OwnershipMode == "" {
		cfg.OwnershipMode = OwnershipStrict
	}
	return &Store{
		cfg:     cfg,
		log:     logger.With().Str("component", "room_store").Logger(),
		bus:     bus,
		nowFn:   func() int64 { return time.Now().UnixMilli() },
		rooms:   make(map[string]*Room),
		byCode:  make(map[string]*Room),
		clients: make(map[string]string),
	}
}

// SetPublisher wires the transport fan-out. Must be called before the first
// room is created.
func (s *Store) SetPublisher(pub Publisher) {
	s.pub = pub
}

// SetNow overrides the clock. Test hook.
func (s *Store) SetNow(fn func() int64) {
	s.nowFn = fn
}

// JoinResult is the outcome of a successful create or join.
type JoinResult struct {
	RoomID   string
	RoomCode string
	ClientID string
	IsHost   bool
	// State is a snapshot taken right after the member was added.
	State *models.RoomState
}

// LeaveResult reports what a departure changed.
type LeaveResult struct {
	Found     bool
	RoomID    string
	ClientID  string
	WasHost   bool
	NewHostID string
	RoomEmpty bool
}

// CreateRoom mints a room with the caller as host and returns the initial
// snapshot.
func (s *Store) CreateRoom(hostName string) (*JoinResult, error) {
	roomID := uuid.New().String()
	clientID := uuid.New().String()
	nowMs := s.nowFn()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	var code string
	for attempt := 0; ; attempt++ {
		c, err := newRoomCode(s.cfg.CodeLength)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if _, taken := s.byCode[c]; !taken {
			code = c
			break
		}
		if attempt >= 10 {
			s.mu.Unlock()
			return nil, errors.New("room code space exhausted")
		}
	}

	state := models.NewRoomState(roomID, code, clientID, nowMs)
	state.Members = append(state.Members, models.Member{
		ClientID: clientID,
		Name:     hostName,
		Color:    memberColors[0],
		JoinedAt: nowMs,
		IsHost:   true,
	})

	r := &Room{
		ID:    roomID,
		Code:  code,
		store: s,
		log:   s.log.With().Str("room_id", roomID).Logger(),
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
		state: state,
	}
	s.rooms[roomID] = r
	s.byCode[code] = r
	s.clients[clientID] = roomID
	s.mu.Unlock()

	go r.run()
	go r.beaconLoop(s.cfg.BeaconInterval)

	s.log.Info().Str("room_id", roomID).Str("room_code", code).Msg("room created")
	s.bus.Publish(events.EventRoomCreated, events.Payload{
		"room_id": roomID, "room_code": code, "host_id": clientID,
	})

	return &JoinResult{
		RoomID:   roomID,
		RoomCode: code,
		ClientID: clientID,
		IsHost:   true,
		State:    state.Clone(),
	}, nil
}

// JoinRoom adds a member to the room behind code. A resumeClientID reclaims
// a prior identity; otherwise a fresh one is minted.
func (s *Store) JoinRoom(code, name, resumeClientID string) (*JoinResult, *protocol.ValidationError) {
	code = NormalizeRoomCode(code)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, protocol.Reject(protocol.CodeRoomNotFound, "server shutting down")
	}
	r, ok := s.byCode[code]
	if !ok {
		s.mu.Unlock()
		return nil, protocol.Reject(protocol.CodeRoomNotFound, "no room with code %s", code)
	}

	clientID := resumeClientID
	if clientID == "" {
		clientID = uuid.New().String()
	} else if existing, taken := s.clients[clientID]; taken && existing != r.ID {
		s.mu.Unlock()
		return nil, protocol.Reject(protocol.CodeClientMismatch, "client id active in another room")
	}
	s.clients[clientID] = r.ID
	s.mu.Unlock()

	nowMs := s.nowFn()
	var res *JoinResult
	ok = r.DoSync(func() {
		r.cancelDestroy()
		if m := r.state.Member(clientID); m == nil {
			r.state.Members = append(r.state.Members, models.Member{
				ClientID: clientID,
				Name:     name,
				Color:    memberColors[len(r.state.Members)%len(memberColors)],
				JoinedAt: nowMs,
				IsHost:   r.state.HostID == clientID,
			})
		} else if name != "" {
			m.Name = name
		}
		if r.state.HostID == models.HostDeparted {
			r.promoteHostLocked()
		}
		r.state.Version++
		res = &JoinResult{
			RoomID:   r.ID,
			RoomCode: r.Code,
			ClientID: clientID,
			IsHost:   r.state.HostID == clientID,
			State:    r.state.Clone(),
		}
	})
	if !ok {
		s.forgetClient(clientID)
		return nil, protocol.Reject(protocol.CodeRoomNotFound, "room closed")
	}

	s.bus.Publish(events.EventMemberJoined, events.Payload{
		"room_id": r.ID, "client_id": clientID, "name": name,
	})
	return res, nil
}

// Leave removes the client from its room. A departed host's role moves to
// the longest-connected remaining member; an emptied room is destroyed after
// the grace period.
func (s *Store) Leave(clientID string) LeaveResult {
	s.mu.Lock()
	roomID, ok := s.clients[clientID]
	if ok {
		delete(s.clients, clientID)
	}
	r := s.rooms[roomID]
	s.mu.Unlock()
	if !ok || r == nil {
		return LeaveResult{}
	}

	res := LeaveResult{Found: true, RoomID: roomID, ClientID: clientID}
	alive := r.DoSync(func() {
		idx := -1
		for i := range r.state.Members {
			if r.state.Members[i].ClientID == clientID {
				idx = i
				break
			}
		}
		if idx < 0 {
			res.Found = false
			return
		}
		res.WasHost = r.state.Members[idx].IsHost
		r.state.Members = append(r.state.Members[:idx], r.state.Members[idx+1:]...)

		// Departed clients hold no leases.
		for id, owner := range r.state.ControlOwners {
			if owner.ClientID == clientID {
				delete(r.state.ControlOwners, id)
			}
		}

		if res.WasHost {
			r.state.HostID = models.HostDeparted
			r.promoteHostLocked()
			res.NewHostID = r.state.HostID
		}
		r.state.Version++

		if len(r.state.Members) == 0 {
			res.RoomEmpty = true
			r.scheduleDestroy(s.cfg.EmptyRoomGrace)
		}
	})
	if !alive || !res.Found {
		return LeaveResult{Found: alive && res.Found, RoomID: roomID, ClientID: clientID}
	}

	s.bus.Publish(events.EventMemberLeft, events.Payload{
		"room_id": roomID, "client_id": clientID, "was_host": res.WasHost,
	})
	if res.WasHost && res.NewHostID != models.HostDeparted {
		s.bus.Publish(events.EventHostChanged, events.Payload{
			"room_id": roomID, "host_id": res.NewHostID,
		})
	}
	return res
}

// promoteHostLocked hands the host role to the longest-connected member.
// Runs on the room's work queue.
func (r *Room) promoteHostLocked() {
	if len(r.state.Members) == 0 {
		r.state.HostID = models.HostDeparted
		return
	}
	best := 0
	for i := range r.state.Members {
		if r.state.Members[i].JoinedAt < r.state.Members[best].JoinedAt {
			best = i
		}
	}
	r.state.HostID = r.state.Members[best].ClientID
	for i := range r.state.Members {
		r.state.Members[i].IsHost = i == best
	}
}

// scheduleDestroy arms the empty-room timer. Runs on the room's work queue.
func (r *Room) scheduleDestroy(grace time.Duration) {
	if r.destroyAt != nil {
		r.destroyAt.Stop()
	}
	r.destroyAt = time.AfterFunc(grace, func() {
		stillEmpty := false
		r.DoSync(func() {
			stillEmpty = len(r.state.Members) == 0
		})
		if stillEmpty {
			r.store.destroyRoom(r)
		}
	})
}

// cancelDestroy disarms a pending empty-room timer. Runs on the work queue.
func (r *Room) cancelDestroy() {
	if r.destroyAt != nil {
		r.destroyAt.Stop()
		r.destroyAt = nil
	}
}

// destroyRoom tears a room down and drops it from the registry.
func (s *Store) destroyRoom(r *Room) {
	s.mu.Lock()
	delete(s.rooms, r.ID)
	delete(s.byCode, r.Code)
	s.mu.Unlock()

	r.shutdown()
	s.log.Info().Str("room_id", r.ID).Msg("room destroyed")
	s.bus.Publish(events.EventRoomDestroyed, events.Payload{
		"room_id": r.ID, "room_code": r.Code,
	})
}

// Mutate applies a validated client mutation on the room's work queue and
// commits the resulting state.
func (s *Store) Mutate(roomID string, ev *protocol.ClientEvent) (*ApplyResult, *protocol.ValidationError) {
	r := s.room(roomID)
	if r == nil {
		return nil, protocol.Reject(protocol.CodeRoomNotFound, "unknown room %s", roomID)
	}
	cfg := ApplyConfig{
		OwnershipTTLMs: s.cfg.OwnershipTTLMs,
		OwnershipMode:  s.cfg.OwnershipMode,
	}
	nowMs := s.nowFn()

	var res *ApplyResult
	var verr *protocol.ValidationError
	ok := r.DoSync(func() {
		res, verr = Apply(r.state, ev, nowMs, cfg)
		if verr == nil {
			r.state = res.State
		}
	})
	if !ok {
		return nil, protocol.Reject(protocol.CodeRoomNotFound, "room closed")
	}
	if verr != nil {
		return nil, verr
	}

	switch ev.Type {
	case protocol.EventDeckPlay:
		s.bus.Publish(events.EventDeckPlay, events.Payload{"room_id": roomID, "client_id": ev.ClientID})
	case protocol.EventDeckPause:
		s.bus.Publish(events.EventDeckPause, events.Payload{"room_id": roomID, "client_id": ev.ClientID})
	case protocol.EventQueueAdd, protocol.EventQueueRemove, protocol.EventQueueReorder,
		protocol.EventQueueEdit, protocol.EventQueueClear:
		s.bus.Publish(events.EventQueueUpdated, events.Payload{"room_id": roomID})
	}
	return res, nil
}

// UpdateCursor stores a member's cursor position. Lossy path: no version
// bump, no ack.
func (s *Store) UpdateCursor(roomID, clientID string, x, y float64) *protocol.ValidationError {
	if verr := validateCursor(x, y); verr != nil {
		return verr
	}
	r := s.room(roomID)
	if r == nil {
		return protocol.Reject(protocol.CodeRoomNotFound, "unknown room %s", roomID)
	}
	nowMs := s.nowFn()
	r.Do(func() {
		if m := r.state.Member(clientID); m != nil {
			m.Cursor = &models.Cursor{X: x, Y: y, LastUpdated: nowMs}
		}
	})
	return nil
}

// UpdateLatency records a member's one-way latency estimate.
func (s *Store) UpdateLatency(clientID string, latencyMs int) {
	roomID, ok := s.MemberOf(clientID)
	if !ok {
		return
	}
	r := s.room(roomID)
	if r == nil {
		return
	}
	r.Do(func() {
		if m := r.state.Member(clientID); m != nil {
			m.LatencyMs = latencyMs
		}
	})
}

// FindByCode resolves a join code to a live room and its member count.
func (s *Store) FindByCode(code string) (roomID string, members int, ok bool) {
	code = NormalizeRoomCode(code)
	s.mu.RLock()
	r, found := s.byCode[code]
	s.mu.RUnlock()
	if !found {
		return "", 0, false
	}
	r.DoSync(func() {
		members = len(r.state.Members)
	})
	return r.ID, members, true
}

// MemberOf resolves which room a client belongs to.
func (s *Store) MemberOf(clientID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.clients[clientID]
	return roomID, ok
}

// Snapshot returns an independent copy of a room's state, or nil.
func (s *Store) Snapshot(roomID string) *models.RoomState {
	r := s.room(roomID)
	if r == nil {
		return nil
	}
	var snap *models.RoomState
	r.DoSync(func() {
		snap = r.state.Clone()
	})
	return snap
}

// RoomIDs lists the live rooms.
func (s *Store) RoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Stats reports live room and client counts.
func (s *Store) Stats() (rooms, clients int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), len(s.clients)
}

// AdoptState restores a persisted room into the registry, typically at boot.
// Members are dropped: connections do not survive a restart.
func (s *Store) AdoptState(state *models.RoomState) error {
	if state == nil || state.RoomID == "" || state.RoomCode == "" {
		return errors.New("adopt: incomplete room state")
	}
	adopted := state.Clone()
	adopted.Members = adopted.Members[:0]
	adopted.ControlOwners = make(map[string]models.ControlOwner)
	adopted.HostID = models.HostDeparted

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if _, exists := s.rooms[adopted.RoomID]; exists {
		s.mu.Unlock()
		return errors.New("adopt: room already live")
	}
	r := &Room{
		ID:    adopted.RoomID,
		Code:  adopted.RoomCode,
		store: s,
		log:   s.log.With().Str("room_id", adopted.RoomID).Logger(),
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
		state: adopted,
	}
	s.rooms[r.ID] = r
	s.byCode[r.Code] = r
	s.mu.Unlock()

	go r.run()
	go r.beaconLoop(s.cfg.BeaconInterval)
	r.DoSync(func() {
		r.scheduleDestroy(s.cfg.EmptyRoomGrace)
	})
	s.log.Info().Str("room_id", r.ID).Str("room_code", r.Code).Msg("room restored")
	return nil
}

// Close shuts every room down.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.rooms = make(map[string]*Room)
	s.byCode = make(map[string]*Room)
	s.clients = make(map[string]string)
	s.mu.Unlock()

	for _, r := range rooms {
		r.shutdown()
	}
}

func (s *Store) room(roomID string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

func (s *Store) forgetClient(clientID string) {
	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()
}
