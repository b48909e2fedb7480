/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"math"

	"github.com/friendsincode/mixroom/internal/models"
	"github.com/friendsincode/mixroom/internal/protocol"
)

// Cursor coordinates are pixels-or-percent, bounded to a fixed surface.
const maxCursorCoord = 10000

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validateCursor bounds-checks a cursor position.
func validateCursor(x, y float64) *protocol.ValidationError {
	if !finite(x) || !finite(y) {
		return protocol.Reject(protocol.CodeInvalidCursorPosition, "cursor coordinates must be finite")
	}
	if x < 0 || x > maxCursorCoord || y < 0 || y > maxCursorCoord {
		return protocol.Reject(protocol.CodeInvalidCursorPosition, "cursor out of bounds: (%g, %g)", x, y)
	}
	return nil
}

// validateControl checks the control id and value against the registry.
// MIXER_SET clamps on apply; rejection here is reserved for non-finite
// values and unknown controls.
func validateControl(controlID string, value float64) *protocol.ValidationError {
	if !models.KnownControl(controlID) {
		return protocol.Reject(protocol.CodeInvalidControlID, "unknown control %q", controlID)
	}
	if !finite(value) {
		return protocol.Reject(protocol.CodeValueOutOfBounds, "value for %s must be finite", controlID)
	}
	return nil
}

// validateSeek checks a seek or cue position against the loaded track.
func validateSeek(deck *models.DeckState, positionSec float64) *protocol.ValidationError {
	if !finite(positionSec) || positionSec < 0 {
		return protocol.Reject(protocol.CodeInvalidSeekPosition, "position must be finite and >= 0")
	}
	if deck.DurationSec > 0 && positionSec > deck.DurationSec {
		return protocol.Reject(protocol.CodeInvalidSeekPosition,
			"position %.3f beyond track duration %.3f", positionSec, deck.DurationSec)
	}
	return nil
}

// validateHost rejects host-only events from non-hosts.
func validateHost(state *models.RoomState, clientID string, t protocol.EventType) *protocol.ValidationError {
	if !t.HostOnly() {
		return nil
	}
	if state.HostID != clientID {
		return protocol.Reject(protocol.CodeNotHost, "%s requires host", t)
	}
	return nil
}

// checkOwnership applies the control ownership policy for a MIXER_SET by
// sender at nowMs. Permitted outcomes: sender owns it, nobody owns it, or
// the owner's lease has expired (TTL from lastMovedAt).
func checkOwnership(state *models.RoomState, controlID, sender string, nowMs, ttlMs int64) *protocol.ValidationError {
	owner, ok := state.ControlOwners[controlID]
	if !ok || owner.ClientID == sender {
		return nil
	}
	if nowMs-owner.LastMovedAt >= ttlMs {
		return nil
	}
	return protocol.Reject(protocol.CodeContestedControl,
		"control %s held by another client", controlID)
}
