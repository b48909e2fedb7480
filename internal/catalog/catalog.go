/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog resolves track metadata. Clients may add queue entries by
// track id alone; the catalog fills in title, duration, and BPM.
package catalog

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackNotFound is returned when a track id is not in the catalog.
var ErrTrackNotFound = errors.New("track not found")

// Track is the catalog's view of one piece of media.
type Track struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	DurationSec float64 `json:"durationSec"`
	BPM         float64 `json:"bpm,omitempty"`
}

// Catalog looks up and stores track metadata.
type Catalog interface {
	Lookup(ctx context.Context, trackID string) (*Track, error)
	Save(ctx context.Context, track *Track) error
	Close() error
}

// Static is an in-memory catalog for tests and standalone deployments
// without a database.
type Static struct {
	mu     sync.RWMutex
	tracks map[string]Track
}

// NewStatic creates an in-memory catalog seeded with the given tracks.
func NewStatic(tracks ...Track) *Static {
	s := &Static{tracks: make(map[string]Track, len(tracks))}
	for _, t := range tracks {
		s.tracks[t.ID] = t
	}
	return s
}

func (s *Static) Lookup(_ context.Context, trackID string) (*Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[trackID]
	if !ok {
		return nil, ErrTrackNotFound
	}
	out := t
	return &out, nil
}

func (s *Static) Save(_ context.Context, track *Track) error {
	if track == nil || track.ID == "" {
		return errors.New("track id required")
	}
	s.mu.Lock()
	s.tracks[track.ID] = *track
	s.mu.Unlock()
	return nil
}

func (s *Static) Close() error { return nil }
