/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package protocol

import (
	"encoding/json"

	"github.com/friendsincode/mixroom/internal/models"
)

// ClientEvent is the client → server envelope. Payload stays raw until the
// handler for the event type decodes it.
type ClientEvent struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	ClientSeq uint64          `json:"clientSeq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ParseClientEvent decodes the outer envelope. Payload decoding is deferred
// to the per-type payload structs below.
func ParseClientEvent(raw []byte) (*ClientEvent, *ValidationError) {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, Reject(CodeInvalidPayload, "malformed envelope: %v", err)
	}
	if ev.Type == "" {
		return nil, Reject(CodeInvalidPayload, "missing event type")
	}
	return &ev, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (ev *ClientEvent) DecodePayload(dst any) *ValidationError {
	if len(ev.Payload) == 0 {
		return Reject(CodeInvalidPayload, "missing payload for %s", ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		return Reject(CodeInvalidPayload, "bad payload for %s: %v", ev.Type, err)
	}
	return nil
}

// Client payload shapes.

type RoomCreatePayload struct {
	Name string `json:"name"`
}

type RoomJoinPayload struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
	// ClientID resumes a prior identity after a reconnect; the server mints
	// a fresh id when empty.
	ClientID string `json:"clientId,omitempty"`
}

type CursorMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ControlGrabPayload struct {
	ControlID string `json:"controlId"`
}

type ControlReleasePayload struct {
	ControlID string `json:"controlId"`
}

type MixerSetPayload struct {
	ControlID string  `json:"controlId"`
	Value     float64 `json:"value"`
}

type FXSetPayload struct {
	Param string  `json:"param"` // "wetDry", "param", or "type"
	Value float64 `json:"value,omitempty"`
	Type  string  `json:"type,omitempty"` // effect name when Param == "type"
}

type FXTogglePayload struct {
	Enabled bool `json:"enabled"`
}

type DeckLoadPayload struct {
	DeckID      string `json:"deckId"`
	TrackID     string `json:"trackId"`
	QueueItemID string `json:"queueItemId"`
	// Bpm is optional analysis metadata; the server fills it from the
	// catalog when the client omits it.
	Bpm float64 `json:"bpm,omitempty"`
}

type DeckPlayPayload struct {
	DeckID string `json:"deckId"`
}

type DeckPausePayload struct {
	DeckID string `json:"deckId"`
}

type DeckCuePayload struct {
	DeckID      string   `json:"deckId"`
	CuePointSec *float64 `json:"cuePointSec,omitempty"`
}

type DeckSeekPayload struct {
	DeckID      string  `json:"deckId"`
	PositionSec float64 `json:"positionSec"`
}

type DeckTempoSetPayload struct {
	DeckID       string  `json:"deckId"`
	PlaybackRate float64 `json:"playbackRate"`
}

type QueueAddPayload struct {
	TrackID     string  `json:"trackId"`
	Title       string  `json:"title,omitempty"`
	DurationSec float64 `json:"durationSec,omitempty"`
	InsertAt    *int    `json:"insertAt,omitempty"`
}

type QueueRemovePayload struct {
	QueueItemID string `json:"queueItemId"`
}

type QueueReorderPayload struct {
	QueueItemID string `json:"queueItemId"`
	NewIndex    int    `json:"newIndex"`
}

// QueueEditUpdates lists the mutable queue item fields.
type QueueEditUpdates struct {
	Title *string `json:"title,omitempty"`
}

type QueueEditPayload struct {
	QueueItemID string           `json:"queueItemId"`
	Updates     QueueEditUpdates `json:"updates"`
}

type MemberKickPayload struct {
	ClientID string `json:"clientId"`
}

type TimePingPayload struct {
	T0 int64 `json:"t0"`
	// RttMs optionally reports the round-trip the client measured from the
	// previous ping, for display next to each member.
	RttMs int `json:"rttMs,omitempty"`
}

// Server → client messages.

// Ack answers exactly one mutation envelope per clientSeq.
type Ack struct {
	Type         EventType `json:"type"`
	ClientSeq    uint64    `json:"clientSeq"`
	EventID      string    `json:"eventId,omitempty"`
	Accepted     bool      `json:"accepted"`
	Error        string    `json:"error,omitempty"`
	Code         ErrorCode `json:"code,omitempty"`
	RetryAfterMs int64     `json:"retryAfterMs,omitempty"`
}

// AcceptedAck builds the success ack for a seq/eventId pair.
func AcceptedAck(clientSeq uint64, eventID string) Ack {
	return Ack{Type: EventAck, ClientSeq: clientSeq, EventID: eventID, Accepted: true}
}

// RejectedAck builds a failure ack from a ValidationError.
func RejectedAck(clientSeq uint64, verr *ValidationError) Ack {
	return Ack{
		Type:      EventAck,
		ClientSeq: clientSeq,
		Accepted:  false,
		Error:     verr.Message,
		Code:      verr.Code,
	}
}

// ServerEvent is the mutation broadcast fanned out to every room member,
// including the sender, for reconciliation against optimistic UI.
type ServerEvent struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"roomId"`
	ClientID  string    `json:"clientId"`
	ClientSeq uint64    `json:"clientSeq"`
	EventID   string    `json:"eventId"`
	ServerTs  int64     `json:"serverTs"`
	Version   uint64    `json:"version"`
	Payload   any       `json:"payload,omitempty"`
}

// CursorUpdate is the lossy cursor broadcast. No version, never echoed to
// the sender.
type CursorUpdate struct {
	Type     EventType     `json:"type"`
	RoomID   string        `json:"roomId"`
	ClientID string        `json:"clientId"`
	Cursor   models.Cursor `json:"cursor"`
}

// BeaconDeck is one deck's epoch snapshot inside a beacon tick.
type BeaconDeck struct {
	DeckID       models.DeckID    `json:"deckId"`
	EpochID      string           `json:"epochId"`
	EpochSeq     uint64           `json:"epochSeq"`
	ServerTs     int64            `json:"serverTs"`
	PlayheadSec  float64          `json:"playheadSec"`
	PlaybackRate float64          `json:"playbackRate"`
	PlayState    models.PlayState `json:"playState"`
	DetectedBPM  float64          `json:"detectedBpm,omitempty"`
}

// BeaconPayload carries both decks plus the room version.
type BeaconPayload struct {
	ServerTs int64      `json:"serverTs"`
	Version  uint64     `json:"version"`
	DeckA    BeaconDeck `json:"deckA"`
	DeckB    BeaconDeck `json:"deckB"`
}

// BeaconTick is the periodic authoritative playhead broadcast.
type BeaconTick struct {
	Type    EventType     `json:"type"`
	RoomID  string        `json:"roomId"`
	Payload BeaconPayload `json:"payload"`
}

// TimePong answers TIME_PING with the untouched t0 plus the server clock.
type TimePong struct {
	Type     EventType `json:"type"`
	T0       int64     `json:"t0"`
	ServerTs int64     `json:"serverTs"`
}

// RoomJoined is the initial state dump sent to a connection after a
// successful create or join.
type RoomJoined struct {
	Type     EventType         `json:"type"`
	RoomID   string            `json:"roomId"`
	RoomCode string            `json:"roomCode"`
	ClientID string            `json:"clientId"`
	ServerTs int64             `json:"serverTs"`
	State    *models.RoomState `json:"state"`
}
