/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/mixroom/internal/models"
	"github.com/friendsincode/mixroom/internal/protocol"
	"github.com/friendsincode/mixroom/internal/telemetry"
)

// catalogLookupTimeout bounds the metadata lookup on the mutation path.
const catalogLookupTimeout = 500 * time.Millisecond

func newEventID() string {
	return uuid.New().String()
}

// HandleMessage processes one inbound frame from a connection. Every
// mutation envelope is answered with exactly one ack; lossy traffic (cursor,
// time sync) is never acked.
func (e *Engine) HandleMessage(connID string, raw []byte) {
	sess := e.session(connID)
	if sess == nil {
		return
	}

	ev, verr := protocol.ParseClientEvent(raw)
	if verr != nil {
		e.logRejection(sess, &protocol.ClientEvent{Type: "unknown"}, verr)
		telemetry.EventsTotal.WithLabelValues("unknown", "rejected").Inc()
		sess.conn.Send(protocol.RejectedAck(0, verr))
		return
	}

	switch ev.Type {
	case protocol.EventRoomCreate:
		e.handleRoomCreate(sess, ev)
	case protocol.EventRoomJoin:
		e.handleRoomJoin(sess, ev)
	case protocol.EventRoomLeave:
		e.handleRoomLeave(sess, ev)
	case protocol.EventTimePing:
		e.handleTimePing(sess, ev)
	case protocol.EventCursorMove:
		e.handleCursorMove(sess, ev)
	default:
		if ev.Type.IsMutation() {
			e.handleMutation(sess, ev)
			return
		}
		e.reject(sess, ev, protocol.Reject(protocol.CodeInvalidPayload, "unknown event type %s", ev.Type))
	}
}

func (e *Engine) handleRoomCreate(sess *session, ev *protocol.ClientEvent) {
	if sess.clientID != "" {
		e.reject(sess, ev, protocol.Reject(protocol.CodeRoomMismatch, "already in a room"))
		return
	}
	var p protocol.RoomCreatePayload
	if verr := ev.DecodePayload(&p); verr != nil {
		e.reject(sess, ev, verr)
		return
	}
	if p.Name == "" {
		e.reject(sess, ev, protocol.Reject(protocol.CodeInvalidPayload, "name required"))
		return
	}

	res, err := e.rooms.CreateRoom(p.Name)
	if err != nil {
		e.log.Error().Err(err).Msg("room create failed")
		e.reject(sess, ev, protocol.Reject(protocol.CodeInvalidPayload, "room create failed"))
		return
	}
	e.bind(sess.conn.ID(), res.ClientID, res.RoomID)
	e.markDirty(res.RoomID)
	telemetry.EventsTotal.WithLabelValues(string(ev.Type), "accepted").Inc()

	if ev.ClientSeq > 0 {
		sess.conn.Send(protocol.AcceptedAck(ev.ClientSeq, newEventID()))
	}
	sess.conn.Send(protocol.RoomJoined{
		Type:     protocol.EventRoomJoined,
		RoomID:   res.RoomID,
		RoomCode: res.RoomCode,
		ClientID: res.ClientID,
		ServerTs: e.nowFn(),
		State:    res.State,
	})
}

func (e *Engine) handleRoomJoin(sess *session, ev *protocol.ClientEvent) {
	if sess.clientID != "" {
		e.reject(sess, ev, protocol.Reject(protocol.CodeRoomMismatch, "already in a room"))
		return
	}
	var p protocol.RoomJoinPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		e.reject(sess, ev, verr)
		return
	}
	if p.RoomCode == "" || p.Name == "" {
		e.reject(sess, ev, protocol.Reject(protocol.CodeInvalidPayload, "roomCode and name required"))
		return
	}

	res, verr := e.rooms.JoinRoom(p.RoomCode, p.Name, p.ClientID)
	if verr != nil {
		e.reject(sess, ev, verr)
		return
	}
	e.bind(sess.conn.ID(), res.ClientID, res.RoomID)
	e.markDirty(res.RoomID)
	telemetry.EventsTotal.WithLabelValues(string(ev.Type), "accepted").Inc()

	nowMs := e.nowFn()
	if ev.ClientSeq > 0 {
		sess.conn.Send(protocol.AcceptedAck(ev.ClientSeq, newEventID()))
	}
	sess.conn.Send(protocol.RoomJoined{
		Type:     protocol.EventRoomJoined,
		RoomID:   res.RoomID,
		RoomCode: res.RoomCode,
		ClientID: res.ClientID,
		ServerTs: nowMs,
		State:    res.State,
	})

	member := res.State.Member(res.ClientID)
	e.publishRoomExcept(res.RoomID, sess.conn.ID(), protocol.ServerEvent{
		Type:     protocol.EventMemberJoined,
		RoomID:   res.RoomID,
		ClientID: res.ClientID,
		EventID:  newEventID(),
		ServerTs: nowMs,
		Version:  res.State.Version,
		Payload:  map[string]any{"member": member},
	})
}

func (e *Engine) handleRoomLeave(sess *session, ev *protocol.ClientEvent) {
	detached := e.unbind(sess.conn.ID())
	if detached == nil {
		e.reject(sess, ev, protocol.Reject(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	telemetry.EventsTotal.WithLabelValues(string(ev.Type), "accepted").Inc()
	if ev.ClientSeq > 0 {
		sess.conn.Send(protocol.AcceptedAck(ev.ClientSeq, newEventID()))
	}
	e.leaveRoom(detached)
}

func (e *Engine) handleTimePing(sess *session, ev *protocol.ClientEvent) {
	var p protocol.TimePingPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		// Lossy path: a bad ping is dropped, not acked.
		telemetry.EventsTotal.WithLabelValues(string(ev.Type), "rejected").Inc()
		return
	}
	nowMs := e.nowFn()
	sess.conn.Send(protocol.TimePong{
		Type:     protocol.EventTimePong,
		T0:       p.T0,
		ServerTs: nowMs,
	})
	if sess.clientID == "" || p.T0 <= 0 {
		return
	}
	// One-way estimate: half the server-observed round trip, or half of a
	// client-measured rtt when the ping carries one.
	latency := int((nowMs - p.T0 + 1) / 2)
	if p.RttMs > 0 {
		latency = (p.RttMs + 1) / 2
	}
	if latency < 0 {
		latency = 0
	}
	e.rooms.UpdateLatency(sess.clientID, latency)
}

func (e *Engine) handleCursorMove(sess *session, ev *protocol.ClientEvent) {
	if sess.clientID == "" {
		// No room, nothing to fan out to. Dropped silently: lossy path.
		return
	}
	if !sess.cursorLimit.Allow() {
		telemetry.EventsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
		return
	}
	var p protocol.CursorMovePayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return
	}
	if verr := e.rooms.UpdateCursor(sess.roomID, sess.clientID, p.X, p.Y); verr != nil {
		telemetry.EventsTotal.WithLabelValues(string(ev.Type), "rejected").Inc()
		return
	}
	telemetry.EventsTotal.WithLabelValues(string(ev.Type), "accepted").Inc()

	// Cursor updates go to everyone but the mover.
	e.publishRoomExcept(sess.roomID, sess.conn.ID(), protocol.CursorUpdate{
		Type:     protocol.EventCursorUpdate,
		RoomID:   sess.roomID,
		ClientID: sess.clientID,
		Cursor:   models.Cursor{X: p.X, Y: p.Y, LastUpdated: e.nowFn()},
	})
}

func (e *Engine) handleMutation(sess *session, ev *protocol.ClientEvent) {
	if sess.clientID == "" {
		e.reject(sess, ev, protocol.Reject(protocol.CodeNotInRoom, "join a room first"))
		return
	}
	if ev.RoomID != sess.roomID {
		e.reject(sess, ev, protocol.Reject(protocol.CodeRoomMismatch, "event targets another room"))
		return
	}
	if ev.ClientID != sess.clientID {
		e.reject(sess, ev, protocol.Reject(protocol.CodeClientMismatch, "event claims another client"))
		return
	}
	if ev.ClientSeq == 0 {
		e.reject(sess, ev, protocol.Reject(protocol.CodeInvalidPayload, "clientSeq required"))
		return
	}

	// Replays ack with the original event id and are not re-applied or
	// re-broadcast. When the original id is no longer known (the seq is
	// older than the latest recorded one), the replay is refused instead.
	if dup, originalID := e.idem.IsDuplicate(sess.roomID, sess.clientID, ev.ClientSeq, ""); dup {
		telemetry.EventsTotal.WithLabelValues(string(ev.Type), "duplicate").Inc()
		if originalID == "" {
			verr := protocol.Reject(protocol.CodeDuplicate, "clientSeq %d already consumed", ev.ClientSeq)
			e.logRejection(sess, ev, verr)
			sess.conn.Send(protocol.RejectedAck(ev.ClientSeq, verr))
			return
		}
		sess.conn.Send(protocol.Ack{
			Type:      protocol.EventAck,
			ClientSeq: ev.ClientSeq,
			EventID:   originalID,
			Accepted:  true,
			Code:      protocol.CodeDuplicate,
		})
		return
	}

	if limited := e.limits.CheckAndRecord(sess.clientID, ev.Type); !limited.Allowed {
		telemetry.EventsTotal.WithLabelValues(string(ev.Type), "rate_limited").Inc()
		verr := protocol.Reject(protocol.CodeRateLimited, "rate limit exceeded for %s", ev.Type)
		e.logRejection(sess, ev, verr)
		ack := protocol.RejectedAck(ev.ClientSeq, verr)
		ack.RetryAfterMs = limited.RetryAfterMs
		sess.conn.Send(ack)
		return
	}

	e.enrichFromCatalog(ev)

	start := time.Now()
	res, verr := e.rooms.Mutate(sess.roomID, ev)
	telemetry.EventApplyDuration.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())
	if verr != nil {
		e.reject(sess, ev, verr)
		return
	}

	nowMs := e.nowFn()
	eventID := newEventID()
	e.idem.Record(sess.roomID, sess.clientID, ev.ClientSeq, eventID, nowMs)
	e.markDirty(sess.roomID)
	telemetry.EventsTotal.WithLabelValues(string(ev.Type), "accepted").Inc()

	sess.conn.Send(protocol.AcceptedAck(ev.ClientSeq, eventID))

	// The mutation broadcast includes the sender, which reconciles its
	// optimistic UI against the authoritative result.
	e.PublishRoom(sess.roomID, protocol.ServerEvent{
		Type:      ev.Type,
		RoomID:    sess.roomID,
		ClientID:  sess.clientID,
		ClientSeq: ev.ClientSeq,
		EventID:   eventID,
		ServerTs:  nowMs,
		Version:   res.State.Version,
		Payload:   res.Broadcast,
	})

	if res.KickedClientID != "" {
		e.kickClient(res.KickedClientID)
	}
}

// enrichFromCatalog fills in metadata the client omitted. Lookup failures
// leave the event untouched; apply validation decides what is acceptable.
func (e *Engine) enrichFromCatalog(ev *protocol.ClientEvent) {
	if e.tracks == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), catalogLookupTimeout)
	defer cancel()

	switch ev.Type {
	case protocol.EventQueueAdd:
		var p protocol.QueueAddPayload
		if verr := ev.DecodePayload(&p); verr != nil {
			return
		}
		if p.Title != "" && p.DurationSec > 0 {
			return
		}
		track, err := e.tracks.Lookup(ctx, p.TrackID)
		if err != nil {
			return
		}
		if p.Title == "" {
			p.Title = track.Title
		}
		if p.DurationSec <= 0 {
			p.DurationSec = track.DurationSec
		}
		if data, err := json.Marshal(p); err == nil {
			ev.Payload = data
		}
	case protocol.EventDeckLoad:
		var p protocol.DeckLoadPayload
		if verr := ev.DecodePayload(&p); verr != nil {
			return
		}
		if p.Bpm > 0 {
			return
		}
		track, err := e.tracks.Lookup(ctx, p.TrackID)
		if err != nil || track.BPM <= 0 {
			return
		}
		p.Bpm = track.BPM
		if data, err := json.Marshal(p); err == nil {
			ev.Payload = data
		}
	}
}

// kickClient closes the victim's connection; the transport close then runs
// the normal departure flow.
func (e *Engine) kickClient(clientID string) {
	e.mu.RLock()
	connID, ok := e.byClient[clientID]
	var conn Conn
	if ok {
		if sess, found := e.sessions[connID]; found {
			conn = sess.conn
		}
	}
	e.mu.RUnlock()
	if conn != nil {
		conn.Kick("kicked by host")
	}
}

func (e *Engine) reject(sess *session, ev *protocol.ClientEvent, verr *protocol.ValidationError) {
	e.logRejection(sess, ev, verr)
	telemetry.EventsTotal.WithLabelValues(string(ev.Type), "rejected").Inc()
	sess.conn.Send(protocol.RejectedAck(ev.ClientSeq, verr))
}

// logRejection leaves the warn-level trail every refused event gets.
func (e *Engine) logRejection(sess *session, ev *protocol.ClientEvent, verr *protocol.ValidationError) {
	e.log.Warn().
		Str("event_type", string(ev.Type)).
		Str("client_id", sess.clientID).
		Str("room_id", sess.roomID).
		Str("code", string(verr.Code)).
		Msg("event rejected")
}
