/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// DeckID identifies one of the two decks.
type DeckID string

const (
	DeckA DeckID = "A"
	DeckB DeckID = "B"
)

// ParseDeckID validates a wire deck id.
func ParseDeckID(s string) (DeckID, bool) {
	switch DeckID(s) {
	case DeckA, DeckB:
		return DeckID(s), true
	}
	return "", false
}

// PlayState enumerates deck transport states.
type PlayState string

const (
	PlayStateStopped PlayState = "stopped"
	PlayStateCued    PlayState = "cued"
	PlayStatePaused  PlayState = "paused"
	PlayStatePlaying PlayState = "playing"
)

// Playback rate bounds for DECK_TEMPO_SET.
const (
	MinPlaybackRate = 0.5
	MaxPlaybackRate = 1.5
)

// DeckState is the authoritative state of a single deck. The epoch fields
// let clients reconstruct the playhead at any server timestamp: while
// playing, position(t) = EpochStartPlayheadSec + (t-EpochStartTimeMs)/1000 *
// PlaybackRate, clamped to [0, DurationSec].
type DeckState struct {
	DeckID            DeckID    `json:"deckId"`
	LoadedTrackID     string    `json:"loadedTrackId,omitempty"`
	LoadedQueueItemID string    `json:"loadedQueueItemId,omitempty"`
	DurationSec       float64   `json:"durationSec,omitempty"`
	PlayState         PlayState `json:"playState"`
	PlayheadSec       float64   `json:"playheadSec"`
	CuePointSec       *float64  `json:"cuePointSec,omitempty"`
	HotCuePointSec    *float64  `json:"hotCuePointSec,omitempty"`
	PlaybackRate      float64   `json:"playbackRate"`
	DetectedBPM       float64   `json:"detectedBpm,omitempty"`

	EpochID               string  `json:"epochId"`
	EpochSeq              uint64  `json:"epochSeq"`
	EpochStartTimeMs      int64   `json:"epochStartTimeMs"`
	EpochStartPlayheadSec float64 `json:"epochStartPlayheadSec"`
}

// NewDeckState returns a stopped, empty deck.
func NewDeckState(id DeckID) DeckState {
	return DeckState{
		DeckID:       id,
		PlayState:    PlayStateStopped,
		PlaybackRate: 1.0,
	}
}

// Loaded reports whether a track is loaded on the deck.
func (d *DeckState) Loaded() bool {
	return d.LoadedTrackID != ""
}

// PlayheadAt interpolates the authoritative playhead at the given server
// time. Outside the playing state the stored playhead is returned as-is.
func (d *DeckState) PlayheadAt(nowMs int64) float64 {
	if d.PlayState != PlayStatePlaying {
		return d.PlayheadSec
	}
	elapsed := float64(nowMs-d.EpochStartTimeMs) / 1000.0
	pos := d.EpochStartPlayheadSec + elapsed*d.PlaybackRate
	if pos < 0 {
		return 0
	}
	if d.DurationSec > 0 && pos > d.DurationSec {
		return d.DurationSec
	}
	return pos
}

func (d DeckState) clone() DeckState {
	next := d
	if d.CuePointSec != nil {
		v := *d.CuePointSec
		next.CuePointSec = &v
	}
	if d.HotCuePointSec != nil {
		v := *d.HotCuePointSec
		next.HotCuePointSec = &v
	}
	return next
}
