/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package idempotency deduplicates client mutation events per room. Replays
// and retries must observe exactly one application.
package idempotency

import "sync"

// DefaultCapacity bounds the recent event-id ring per room.
const DefaultCapacity = 10000

// RecentEvent is one accepted event id with its acceptance timestamp, kept
// for stats and snapshot export.
type RecentEvent struct {
	EventID string `json:"eventId"`
	Ts      int64  `json:"ts"`
}

// State is the persistable per-room dedupe state.
type State struct {
	LastSeqByClient map[string]uint64 `json:"lastSeqByClient"`
	RecentEventIDs  []RecentEvent     `json:"recentEventIds"`
}

type clientRecord struct {
	lastSeq     uint64
	lastEventID string
}

type roomRecord struct {
	clients map[string]*clientRecord
	ring    []RecentEvent
	ids     map[string]struct{}
}

func newRoomRecord() *roomRecord {
	return &roomRecord{
		clients: make(map[string]*clientRecord),
		ids:     make(map[string]struct{}),
	}
}

// Store holds dedupe state for all rooms. Sharded coarsely: one mutex, O(1)
// operations.
type Store struct {
	mu       sync.Mutex
	rooms    map[string]*roomRecord
	capacity int
}

// New creates a store with the given event-id ring capacity per room.
// capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		rooms:    make(map[string]*roomRecord),
		capacity: capacity,
	}
}

// IsDuplicate reports whether the (clientSeq, eventID) pair was already
// accepted. originalEventID is the server event id of the prior acceptance
// when it is still known, so the ack can reference it.
func (s *Store) IsDuplicate(roomID, clientID string, clientSeq uint64, eventID string) (dup bool, originalEventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, ""
	}
	if eventID != "" {
		if _, seen := room.ids[eventID]; seen {
			return true, eventID
		}
	}
	client, ok := room.clients[clientID]
	if !ok {
		return false, ""
	}
	if clientSeq == client.lastSeq {
		return true, client.lastEventID
	}
	if clientSeq < client.lastSeq {
		return true, ""
	}
	return false, ""
}

// Record marks an event accepted: raises the client's high-water sequence
// and appends the event id to the bounded ring, evicting the oldest entry
// when over capacity.
func (s *Store) Record(roomID, clientID string, clientSeq uint64, eventID string, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = newRoomRecord()
		s.rooms[roomID] = room
	}

	client, ok := room.clients[clientID]
	if !ok {
		client = &clientRecord{}
		room.clients[clientID] = client
	}
	if clientSeq > client.lastSeq {
		client.lastSeq = clientSeq
		client.lastEventID = eventID
	}

	room.ring = append(room.ring, RecentEvent{EventID: eventID, Ts: ts})
	room.ids[eventID] = struct{}{}
	if len(room.ring) > s.capacity {
		evicted := room.ring[0]
		room.ring = room.ring[1:]
		delete(room.ids, evicted.EventID)
	}
}

// DeleteRoom drops all state for a destroyed room.
func (s *Store) DeleteRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// PersistedState exports the room's dedupe state for snapshotting. Returns
// nil when the room is unknown.
func (s *Store) PersistedState(roomID string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	state := &State{
		LastSeqByClient: make(map[string]uint64, len(room.clients)),
		RecentEventIDs:  append([]RecentEvent(nil), room.ring...),
	}
	for id, client := range room.clients {
		state.LastSeqByClient[id] = client.lastSeq
	}
	return state
}

// RestoreRoom loads dedupe state from a snapshot, replacing anything held
// for the room.
func (s *Store) RestoreRoom(roomID string, state *State) {
	if state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	room := newRoomRecord()
	for clientID, seq := range state.LastSeqByClient {
		room.clients[clientID] = &clientRecord{lastSeq: seq}
	}
	start := 0
	if len(state.RecentEventIDs) > s.capacity {
		start = len(state.RecentEventIDs) - s.capacity
	}
	for _, ev := range state.RecentEventIDs[start:] {
		room.ring = append(room.ring, ev)
		room.ids[ev.EventID] = struct{}{}
	}
	s.rooms[roomID] = room
}
