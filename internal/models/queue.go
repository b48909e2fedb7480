/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// QueueItemStatus tracks where a queue item sits in its deck lifecycle.
type QueueItemStatus string

const (
	QueueStatusQueued   QueueItemStatus = "queued"
	QueueStatusLoadedA  QueueItemStatus = "loaded_A"
	QueueStatusLoadedB  QueueItemStatus = "loaded_B"
	QueueStatusPlayingA QueueItemStatus = "playing_A"
	QueueStatusPlayingB QueueItemStatus = "playing_B"
	QueueStatusPlayed   QueueItemStatus = "played"
)

// LoadedStatus returns the loaded_* status for a deck.
func LoadedStatus(deck DeckID) QueueItemStatus {
	if deck == DeckB {
		return QueueStatusLoadedB
	}
	return QueueStatusLoadedA
}

// PlayingStatus returns the playing_* status for a deck.
func PlayingStatus(deck DeckID) QueueItemStatus {
	if deck == DeckB {
		return QueueStatusPlayingB
	}
	return QueueStatusPlayingA
}

// OnDeck reports whether the status pins the item to a deck, which blocks
// removal from the queue.
func (s QueueItemStatus) OnDeck() bool {
	switch s {
	case QueueStatusLoadedA, QueueStatusLoadedB, QueueStatusPlayingA, QueueStatusPlayingB:
		return true
	}
	return false
}

// QueueItem is one entry of the shared track queue.
type QueueItem struct {
	ID          string          `json:"id"`
	TrackID     string          `json:"trackId"`
	Title       string          `json:"title"`
	DurationSec float64         `json:"durationSec"`
	AddedBy     string          `json:"addedBy"`
	AddedAt     int64           `json:"addedAt"`
	Status      QueueItemStatus `json:"status"`
}
