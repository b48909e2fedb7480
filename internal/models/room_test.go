/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "testing"

func TestCloneIsIndependent(t *testing.T) {
	cue := 12.5
	s := NewRoomState("room-1", "ABC123", "c1", 1000)
	s.Members = append(s.Members, Member{
		ClientID: "c1",
		Name:     "Host",
		IsHost:   true,
		Cursor:   &Cursor{X: 0.25, Y: 0.75},
	})
	s.Queue = append(s.Queue, QueueItem{ID: "q1", TrackID: "trk-1", Title: "One"})
	s.DeckA.CuePointSec = &cue
	s.ControlOwners["crossfader"] = ControlOwner{ClientID: "c1", AcquiredAt: 1000}

	clone := s.Clone()

	// Mutate the original; the clone must not move.
	s.Members[0].Name = "Renamed"
	s.Members[0].Cursor.X = 0.99
	s.Queue[0].Title = "Changed"
	*s.DeckA.CuePointSec = 99
	s.ControlOwners["crossfader"] = ControlOwner{ClientID: "c2"}
	s.Version = 42

	if clone.Members[0].Name != "Host" {
		t.Errorf("member name leaked: %q", clone.Members[0].Name)
	}
	if clone.Members[0].Cursor.X != 0.25 {
		t.Errorf("cursor leaked: %v", clone.Members[0].Cursor)
	}
	if clone.Queue[0].Title != "One" {
		t.Errorf("queue leaked: %q", clone.Queue[0].Title)
	}
	if *clone.DeckA.CuePointSec != 12.5 {
		t.Errorf("cue point leaked: %v", *clone.DeckA.CuePointSec)
	}
	if clone.ControlOwners["crossfader"].ClientID != "c1" {
		t.Errorf("control owners leaked: %+v", clone.ControlOwners)
	}
	if clone.Version != 0 {
		t.Errorf("version = %d, want 0", clone.Version)
	}
}

func TestCloneNil(t *testing.T) {
	var s *RoomState
	if s.Clone() != nil {
		t.Error("nil clone should stay nil")
	}
}

func TestMemberLookup(t *testing.T) {
	s := NewRoomState("room-1", "ABC123", "c1", 0)
	s.Members = append(s.Members, Member{ClientID: "c1"}, Member{ClientID: "c2"})

	m := s.Member("c2")
	if m == nil || m.ClientID != "c2" {
		t.Fatalf("member lookup = %+v", m)
	}
	// The pointer aims into the slice so callers can mutate in place.
	m.LatencyMs = 40
	if s.Members[1].LatencyMs != 40 {
		t.Error("member pointer does not alias the slice")
	}
	if s.Member("ghost") != nil {
		t.Error("unknown member should be nil")
	}
}

func TestDeckLookup(t *testing.T) {
	s := NewRoomState("room-1", "ABC123", "c1", 0)
	if d := s.Deck(DeckA); d == nil || d.DeckID != DeckA {
		t.Errorf("deck A = %+v", d)
	}
	if d := s.Deck(DeckB); d == nil || d.DeckID != DeckB {
		t.Errorf("deck B = %+v", d)
	}
	if s.Deck("C") != nil {
		t.Error("unknown deck should be nil")
	}
}

func TestQueueIndex(t *testing.T) {
	s := NewRoomState("room-1", "ABC123", "c1", 0)
	s.Queue = append(s.Queue, QueueItem{ID: "q1"}, QueueItem{ID: "q2"})
	if i := s.QueueIndex("q2"); i != 1 {
		t.Errorf("index = %d, want 1", i)
	}
	if i := s.QueueIndex("missing"); i != -1 {
		t.Errorf("index = %d, want -1", i)
	}
}
