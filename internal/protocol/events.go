/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package protocol defines the wire-level message envelopes exchanged over
// the realtime transport, the event type registry, and the closed error
// taxonomy surfaced in rejected acks.
package protocol

// EventType discriminates client and server message payloads.
type EventType string

// Client → server event types.
const (
	EventRoomCreate EventType = "ROOM_CREATE"
	EventRoomJoin   EventType = "ROOM_JOIN"
	EventRoomLeave  EventType = "ROOM_LEAVE"

	EventCursorMove     EventType = "CURSOR_MOVE"
	EventControlGrab    EventType = "CONTROL_GRAB"
	EventControlRelease EventType = "CONTROL_RELEASE"
	EventMixerSet       EventType = "MIXER_SET"
	EventFXSet          EventType = "FX_SET"
	EventFXToggle       EventType = "FX_TOGGLE"

	EventDeckLoad     EventType = "DECK_LOAD"
	EventDeckPlay     EventType = "DECK_PLAY"
	EventDeckPause    EventType = "DECK_PAUSE"
	EventDeckCue      EventType = "DECK_CUE"
	EventDeckSeek     EventType = "DECK_SEEK"
	EventDeckTempoSet EventType = "DECK_TEMPO_SET"

	EventQueueAdd     EventType = "QUEUE_ADD"
	EventQueueRemove  EventType = "QUEUE_REMOVE"
	EventQueueReorder EventType = "QUEUE_REORDER"
	EventQueueEdit    EventType = "QUEUE_EDIT"
	EventQueueClear   EventType = "QUEUE_CLEAR"

	EventMemberKick EventType = "MEMBER_KICK"

	EventTimePing EventType = "TIME_PING"
)

// Server → client message types.
const (
	EventAck          EventType = "ACK"
	EventCursorUpdate EventType = "CURSOR_UPDATE"
	EventBeaconTick   EventType = "BEACON_TICK"
	EventTimePong     EventType = "TIME_PONG"
	EventRoomJoined   EventType = "ROOM_JOINED"
	EventMemberJoined EventType = "MEMBER_JOINED"
	EventMemberLeft   EventType = "MEMBER_LEFT"
	EventHostChanged  EventType = "HOST_CHANGED"
)

var mutationEvents = map[EventType]bool{
	EventControlGrab:    true,
	EventControlRelease: true,
	EventMixerSet:       true,
	EventFXSet:          true,
	EventFXToggle:       true,
	EventDeckLoad:       true,
	EventDeckPlay:       true,
	EventDeckPause:      true,
	EventDeckCue:        true,
	EventDeckSeek:       true,
	EventDeckTempoSet:   true,
	EventQueueAdd:       true,
	EventQueueRemove:    true,
	EventQueueReorder:   true,
	EventQueueEdit:      true,
	EventQueueClear:     true,
	EventMemberKick:     true,
}

// IsMutation reports whether the event goes through the full pipeline
// (idempotency, rate limit, version bump, ack + broadcast). Cursor moves and
// time pings are the lossy fast paths.
func (t EventType) IsMutation() bool {
	return mutationEvents[t]
}

var hostOnlyEvents = map[EventType]bool{
	EventQueueClear: true,
	EventMemberKick: true,
}

// HostOnly reports whether only the room host may issue the event.
func (t EventType) HostOnly() bool {
	return hostOnlyEvents[t]
}
