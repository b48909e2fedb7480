/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientEvent(t *testing.T) {
	raw := []byte(`{"type":"QUEUE_ADD","roomId":"room-1","clientId":"c1","clientSeq":3,"payload":{"trackId":"trk-9"}}`)
	ev, verr := ParseClientEvent(raw)
	if verr != nil {
		t.Fatalf("parse: %v", verr)
	}
	if ev.Type != EventQueueAdd || ev.RoomID != "room-1" || ev.ClientSeq != 3 {
		t.Errorf("envelope = %+v", ev)
	}

	var p QueueAddPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		t.Fatalf("decode payload: %v", verr)
	}
	if p.TrackID != "trk-9" {
		t.Errorf("trackId = %q", p.TrackID)
	}
}

func TestParseClientEventRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type":`},
		{"missing type", `{"roomId":"room-1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, verr := ParseClientEvent([]byte(tc.raw))
			if verr == nil {
				t.Fatal("expected rejection")
			}
			if verr.Code != CodeInvalidPayload {
				t.Errorf("code = %s, want INVALID_PAYLOAD", verr.Code)
			}
		})
	}
}

func TestDecodePayloadRejects(t *testing.T) {
	ev := &ClientEvent{Type: EventDeckSeek}
	var p DeckSeekPayload
	if verr := ev.DecodePayload(&p); verr == nil || verr.Code != CodeInvalidPayload {
		t.Errorf("empty payload: got %v", verr)
	}

	ev.Payload = json.RawMessage(`{"positionSec":"not a number"}`)
	if verr := ev.DecodePayload(&p); verr == nil || verr.Code != CodeInvalidPayload {
		t.Errorf("mistyped payload: got %v", verr)
	}
}

func TestMutationClassification(t *testing.T) {
	if !EventQueueAdd.IsMutation() || !EventMemberKick.IsMutation() {
		t.Error("queue and kick events are mutations")
	}
	for _, et := range []EventType{EventCursorMove, EventTimePing, EventRoomJoin, EventAck} {
		if et.IsMutation() {
			t.Errorf("%s should not be a mutation", et)
		}
	}
}

func TestHostOnlyClassification(t *testing.T) {
	if !EventQueueClear.HostOnly() || !EventMemberKick.HostOnly() {
		t.Error("queue clear and kick are host-only")
	}
	if EventQueueAdd.HostOnly() || EventDeckPlay.HostOnly() {
		t.Error("regular mutations are not host-only")
	}
}

func TestAckShapes(t *testing.T) {
	ack := AcceptedAck(7, "ev-1")
	if !ack.Accepted || ack.ClientSeq != 7 || ack.EventID != "ev-1" || ack.Type != EventAck {
		t.Errorf("accepted ack = %+v", ack)
	}

	rej := RejectedAck(7, Reject(CodeNotHost, "only the host may clear the queue"))
	if rej.Accepted || rej.Code != CodeNotHost || rej.Error == "" {
		t.Errorf("rejected ack = %+v", rej)
	}

	// Rejected acks must not leak an event id.
	data, err := json.Marshal(rej)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["eventId"]; ok {
		t.Error("rejected ack carries eventId")
	}
}

func TestValidationErrorString(t *testing.T) {
	if got := (&ValidationError{Code: CodeRateLimited}).Error(); got != "RATE_LIMITED" {
		t.Errorf("bare code = %q", got)
	}
	verr := Reject(CodeDeckNotFound, "deck %q", "C")
	if got := verr.Error(); got != `DECK_NOT_FOUND: deck "C"` {
		t.Errorf("formatted = %q", got)
	}
}
