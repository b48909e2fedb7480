/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the authoritative room state shared by every
// connected client: members, queue, decks, mixer, and control ownership.
package models

// HostDeparted is the sentinel HostID for a room whose host left and no
// member has been promoted yet.
const HostDeparted = ""

// Cursor is a member's pointer position on the shared surface.
type Cursor struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	LastUpdated int64   `json:"lastUpdated"`
}

// Member is a connected participant of a room.
type Member struct {
	ClientID  string  `json:"clientId"`
	Name      string  `json:"name"`
	Color     string  `json:"color"`
	JoinedAt  int64   `json:"joinedAt"`
	IsHost    bool    `json:"isHost"`
	Cursor    *Cursor `json:"cursor,omitempty"`
	LatencyMs int     `json:"latencyMs"`
}

// ControlOwner is a short-lived lease on a single control.
type ControlOwner struct {
	ClientID    string `json:"clientId"`
	AcquiredAt  int64  `json:"acquiredAt"`
	LastMovedAt int64  `json:"lastMovedAt"`
}

// RoomState is the root aggregate for one room. It is mutated only on the
// room's work queue; everything handed outside that queue is a Clone.
type RoomState struct {
	RoomID    string `json:"roomId"`
	RoomCode  string `json:"roomCode"`
	Version   uint64 `json:"version"`
	CreatedAt int64  `json:"createdAt"`
	HostID    string `json:"hostId"`

	Members []Member    `json:"members"`
	Queue   []QueueItem `json:"queue"`

	DeckA DeckState  `json:"deckA"`
	DeckB DeckState  `json:"deckB"`
	Mixer MixerState `json:"mixer"`

	// ControlOwners maps control id to its current lease holder.
	ControlOwners map[string]ControlOwner `json:"controlOwners"`
}

// NewRoomState seeds a fresh room with empty queue, default mixer, and both
// decks stopped.
func NewRoomState(roomID, roomCode, hostID string, nowMs int64) *RoomState {
	return &RoomState{
		RoomID:        roomID,
		RoomCode:      roomCode,
		Version:       0,
		CreatedAt:     nowMs,
		HostID:        hostID,
		Members:       make([]Member, 0, 4),
		Queue:         make([]QueueItem, 0, 8),
		DeckA:         NewDeckState(DeckA),
		DeckB:         NewDeckState(DeckB),
		Mixer:         NewMixerState(),
		ControlOwners: make(map[string]ControlOwner),
	}
}

// Clone returns a deep copy sharing no mutable sub-structures with the
// receiver, so snapshots stay stable while the room keeps mutating.
func (s *RoomState) Clone() *RoomState {
	if s == nil {
		return nil
	}
	next := *s

	next.Members = make([]Member, len(s.Members))
	for i, m := range s.Members {
		next.Members[i] = m
		if m.Cursor != nil {
			c := *m.Cursor
			next.Members[i].Cursor = &c
		}
	}

	next.Queue = append([]QueueItem(nil), s.Queue...)

	next.DeckA = s.DeckA.clone()
	next.DeckB = s.DeckB.clone()

	next.ControlOwners = make(map[string]ControlOwner, len(s.ControlOwners))
	for id, owner := range s.ControlOwners {
		next.ControlOwners[id] = owner
	}

	return &next
}

// Member returns a pointer into Members for the given client id, or nil.
func (s *RoomState) Member(clientID string) *Member {
	for i := range s.Members {
		if s.Members[i].ClientID == clientID {
			return &s.Members[i]
		}
	}
	return nil
}

// Deck returns the deck for the given id, or nil for an unknown id.
func (s *RoomState) Deck(id DeckID) *DeckState {
	switch id {
	case DeckA:
		return &s.DeckA
	case DeckB:
		return &s.DeckB
	default:
		return nil
	}
}

// QueueIndex returns the position of a queue item, or -1.
func (s *RoomState) QueueIndex(itemID string) int {
	for i := range s.Queue {
		if s.Queue[i].ID == itemID {
			return i
		}
	}
	return -1
}
