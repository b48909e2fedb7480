/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package idempotency

import "testing"

func TestDuplicateBySeq(t *testing.T) {
	s := New(0)
	s.Record("room-1", "client-1", 1, "ev-1", 100)

	dup, orig := s.IsDuplicate("room-1", "client-1", 1, "ev-retry")
	if !dup {
		t.Fatal("replayed seq should be a duplicate")
	}
	if orig != "ev-1" {
		t.Errorf("original event id = %q, want ev-1", orig)
	}

	// Older than the high-water mark: duplicate, original unknown.
	s.Record("room-1", "client-1", 5, "ev-5", 200)
	dup, orig = s.IsDuplicate("room-1", "client-1", 3, "ev-3")
	if !dup || orig != "" {
		t.Errorf("stale seq: dup=%v orig=%q, want true/empty", dup, orig)
	}

	if dup, _ := s.IsDuplicate("room-1", "client-1", 6, "ev-6"); dup {
		t.Error("next seq should not be a duplicate")
	}
}

func TestDuplicateByEventID(t *testing.T) {
	s := New(0)
	s.Record("room-1", "client-1", 1, "ev-1", 100)

	// Same event id from a different client (e.g. reconnect with a fresh
	// client record) is still a duplicate.
	dup, orig := s.IsDuplicate("room-1", "client-2", 1, "ev-1")
	if !dup || orig != "ev-1" {
		t.Errorf("dup=%v orig=%q, want true/ev-1", dup, orig)
	}
}

func TestRoomsIsolated(t *testing.T) {
	s := New(0)
	s.Record("room-1", "client-1", 3, "ev-3", 100)

	if dup, _ := s.IsDuplicate("room-2", "client-1", 3, "ev-3x"); dup {
		t.Error("seq state must not leak across rooms")
	}
}

func TestRingEviction(t *testing.T) {
	s := New(2)
	s.Record("room-1", "c", 1, "ev-1", 100)
	s.Record("room-1", "c", 2, "ev-2", 101)
	s.Record("room-1", "c", 3, "ev-3", 102)

	// ev-1 fell out of the ring; only the seq check can catch it now, and a
	// different client's copy is no longer recognized.
	if dup, _ := s.IsDuplicate("room-1", "other", 1, "ev-1"); dup {
		t.Error("evicted event id should be forgotten")
	}
	if dup, _ := s.IsDuplicate("room-1", "other", 1, "ev-3"); !dup {
		t.Error("retained event id should still be known")
	}
}

func TestDeleteRoom(t *testing.T) {
	s := New(0)
	s.Record("room-1", "c", 1, "ev-1", 100)
	s.DeleteRoom("room-1")

	if dup, _ := s.IsDuplicate("room-1", "c", 1, "ev-1"); dup {
		t.Error("deleted room should hold no state")
	}
	if s.PersistedState("room-1") != nil {
		t.Error("deleted room should export nil state")
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	s := New(0)
	s.Record("room-1", "c1", 4, "ev-4", 100)
	s.Record("room-1", "c2", 9, "ev-9", 101)

	state := s.PersistedState("room-1")
	if state == nil {
		t.Fatal("expected exported state")
	}
	if state.LastSeqByClient["c1"] != 4 || state.LastSeqByClient["c2"] != 9 {
		t.Errorf("exported seqs = %v", state.LastSeqByClient)
	}
	if len(state.RecentEventIDs) != 2 {
		t.Fatalf("exported %d recent ids, want 2", len(state.RecentEventIDs))
	}

	restored := New(0)
	restored.RestoreRoom("room-1", state)
	if dup, _ := restored.IsDuplicate("room-1", "c1", 4, "ev-x"); !dup {
		t.Error("restored seq not honored")
	}
	if dup, orig := restored.IsDuplicate("room-1", "other", 1, "ev-9"); !dup || orig != "ev-9" {
		t.Errorf("restored event id: dup=%v orig=%q", dup, orig)
	}
}

func TestRestoreClampsToCapacity(t *testing.T) {
	state := &State{
		RecentEventIDs: []RecentEvent{
			{EventID: "ev-1", Ts: 1},
			{EventID: "ev-2", Ts: 2},
			{EventID: "ev-3", Ts: 3},
		},
	}
	s := New(2)
	s.RestoreRoom("room-1", state)

	if dup, _ := s.IsDuplicate("room-1", "c", 1, "ev-1"); dup {
		t.Error("oldest entry should be dropped when over capacity")
	}
	if dup, _ := s.IsDuplicate("room-1", "c", 1, "ev-3"); !dup {
		t.Error("newest entry should survive restore")
	}
}
