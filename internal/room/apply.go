/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"github.com/google/uuid"

	"github.com/friendsincode/mixroom/internal/models"
	"github.com/friendsincode/mixroom/internal/protocol"
)

// OwnershipMode selects the contention policy for owned controls.
type OwnershipMode string

const (
	// OwnershipStrict accepts writes from non-owners only once the lease
	// expired; the stale lease is cleared.
	OwnershipStrict OwnershipMode = "strict"
	// OwnershipPermissive additionally transfers the lease to the writer.
	OwnershipPermissive OwnershipMode = "permissive"
)

// ApplyConfig carries the tunables the state machine needs.
type ApplyConfig struct {
	OwnershipTTLMs int64
	OwnershipMode  OwnershipMode
}

// ApplyResult is the outcome of one accepted mutation.
type ApplyResult struct {
	State *models.RoomState
	// Broadcast is the payload fanned out with the ServerEvent; it echoes
	// the request enriched with server-minted fields (queueItemId, epoch).
	Broadcast map[string]any
	// KickedClientID is set for MEMBER_KICK so the pipeline can drop the
	// victim's connection.
	KickedClientID string
}

// newEpoch resets a deck's epoch at nowMs with the given start playhead.
func newEpoch(d *models.DeckState, nowMs int64, playheadSec float64) {
	d.EpochID = uuid.New().String()
	d.EpochSeq = 0
	d.EpochStartTimeMs = nowMs
	d.EpochStartPlayheadSec = playheadSec
}

// Apply runs a validated mutation against state and returns an independent
// next state with the version bumped. It never mutates its input; the only
// caller is the room's work queue, so the total broadcast order equals the
// apply order.
func Apply(state *models.RoomState, ev *protocol.ClientEvent, serverTs int64, cfg ApplyConfig) (*ApplyResult, *protocol.ValidationError) {
	if verr := validateHost(state, ev.ClientID, ev.Type); verr != nil {
		return nil, verr
	}

	next := state.Clone()
	res := &ApplyResult{State: next}

	var verr *protocol.ValidationError
	switch ev.Type {
	case protocol.EventControlGrab:
		verr = applyControlGrab(next, ev, serverTs, res)
	case protocol.EventControlRelease:
		verr = applyControlRelease(next, ev, res)
	case protocol.EventMixerSet:
		verr = applyMixerSet(next, ev, serverTs, cfg, res)
	case protocol.EventFXSet:
		verr = applyFXSet(next, ev, res)
	case protocol.EventFXToggle:
		verr = applyFXToggle(next, ev, res)
	case protocol.EventDeckLoad:
		verr = applyDeckLoad(next, ev, serverTs, res)
	case protocol.EventDeckPlay:
		verr = applyDeckPlay(next, ev, serverTs, res)
	case protocol.EventDeckPause:
		verr = applyDeckPause(next, ev, serverTs, res)
	case protocol.EventDeckCue:
		verr = applyDeckCue(next, ev, serverTs, res)
	case protocol.EventDeckSeek:
		verr = applyDeckSeek(next, ev, serverTs, res)
	case protocol.EventDeckTempoSet:
		verr = applyDeckTempo(next, ev, serverTs, res)
	case protocol.EventQueueAdd:
		verr = applyQueueAdd(next, ev, serverTs, res)
	case protocol.EventQueueRemove:
		verr = applyQueueRemove(next, ev, res)
	case protocol.EventQueueReorder:
		verr = applyQueueReorder(next, ev, res)
	case protocol.EventQueueEdit:
		verr = applyQueueEdit(next, ev, res)
	case protocol.EventQueueClear:
		verr = applyQueueClear(next, res)
	case protocol.EventMemberKick:
		verr = applyMemberKick(next, ev, res)
	default:
		verr = protocol.Reject(protocol.CodeInvalidPayload, "unsupported mutation %s", ev.Type)
	}
	if verr != nil {
		return nil, verr
	}

	next.Version++
	return res, nil
}

func applyControlGrab(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.ControlGrabPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	if !models.KnownControl(p.ControlID) {
		return protocol.Reject(protocol.CodeInvalidControlID, "unknown control %q", p.ControlID)
	}
	next.ControlOwners[p.ControlID] = models.ControlOwner{
		ClientID:    ev.ClientID,
		AcquiredAt:  nowMs,
		LastMovedAt: nowMs,
	}
	res.Broadcast = map[string]any{"controlId": p.ControlID}
	return nil
}

func applyControlRelease(next *models.RoomState, ev *protocol.ClientEvent, res *ApplyResult) *protocol.ValidationError {
	var p protocol.ControlReleasePayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	if !models.KnownControl(p.ControlID) {
		return protocol.Reject(protocol.CodeInvalidControlID, "unknown control %q", p.ControlID)
	}
	delete(next.ControlOwners, p.ControlID)
	res.Broadcast = map[string]any{"controlId": p.ControlID}
	return nil
}

func applyMixerSet(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, cfg ApplyConfig, res *ApplyResult) *protocol.ValidationError {
	var p protocol.MixerSetPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	if verr := validateControl(p.ControlID, p.Value); verr != nil {
		return verr
	}
	if verr := checkOwnership(next, p.ControlID, ev.ClientID, nowMs, cfg.OwnershipTTLMs); verr != nil {
		return verr
	}

	// Expired lease held by someone else: clear it, or hand it to the
	// writer in permissive mode.
	if owner, ok := next.ControlOwners[p.ControlID]; ok && owner.ClientID != ev.ClientID {
		if cfg.OwnershipMode == OwnershipPermissive {
			next.ControlOwners[p.ControlID] = models.ControlOwner{
				ClientID:    ev.ClientID,
				AcquiredAt:  nowMs,
				LastMovedAt: nowMs,
			}
		} else {
			delete(next.ControlOwners, p.ControlID)
		}
	}

	bounds, _ := models.ControlBoundsFor(p.ControlID)
	value := bounds.Clamp(p.Value)

	if deckID, kind, ok := models.DeckControl(p.ControlID); ok {
		deck := next.Deck(deckID)
		switch kind {
		case "tempo":
			playhead := deck.PlayheadAt(nowMs)
			deck.PlaybackRate = value
			deck.PlayheadSec = playhead
			newEpoch(deck, nowMs, playhead)
		case "jog":
			// Jog nudges the playhead by up to one second per event.
			playhead := deck.PlayheadAt(nowMs) + value
			if playhead < 0 {
				playhead = 0
			}
			if deck.DurationSec > 0 && playhead > deck.DurationSec {
				playhead = deck.DurationSec
			}
			deck.PlayheadSec = playhead
			newEpoch(deck, nowMs, playhead)
		}
	} else if !next.Mixer.SetControl(p.ControlID, value) {
		return protocol.Reject(protocol.CodeInvalidControlID, "unknown control %q", p.ControlID)
	}

	if owner, ok := next.ControlOwners[p.ControlID]; ok && owner.ClientID == ev.ClientID {
		owner.LastMovedAt = nowMs
		next.ControlOwners[p.ControlID] = owner
	}

	res.Broadcast = map[string]any{"controlId": p.ControlID, "value": value}
	return nil
}

func applyFXSet(next *models.RoomState, ev *protocol.ClientEvent, res *ApplyResult) *protocol.ValidationError {
	var p protocol.FXSetPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	switch p.Param {
	case "wetDry":
		if !finite(p.Value) {
			return protocol.Reject(protocol.CodeValueOutOfBounds, "fx wetDry must be finite")
		}
		next.Mixer.FX.WetDry = models.ControlBounds{Min: 0, Max: 1}.Clamp(p.Value)
		res.Broadcast = map[string]any{"param": p.Param, "value": next.Mixer.FX.WetDry}
	case "param":
		if !finite(p.Value) {
			return protocol.Reject(protocol.CodeValueOutOfBounds, "fx param must be finite")
		}
		next.Mixer.FX.Param = models.ControlBounds{Min: 0, Max: 1}.Clamp(p.Value)
		res.Broadcast = map[string]any{"param": p.Param, "value": next.Mixer.FX.Param}
	case "type":
		fxType, ok := models.ParseFXType(p.Type)
		if !ok {
			return protocol.Reject(protocol.CodeInvalidPayload, "unknown fx type %q", p.Type)
		}
		next.Mixer.FX.Type = fxType
		res.Broadcast = map[string]any{"param": p.Param, "type": string(fxType)}
	default:
		return protocol.Reject(protocol.CodeInvalidPayload, "unknown fx param %q", p.Param)
	}
	return nil
}

func applyFXToggle(next *models.RoomState, ev *protocol.ClientEvent, res *ApplyResult) *protocol.ValidationError {
	var p protocol.FXTogglePayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	next.Mixer.FX.Enabled = p.Enabled
	res.Broadcast = map[string]any{"enabled": p.Enabled}
	return nil
}

// resolveDeck decodes a deck id from the wire and fetches the deck.
func resolveDeck(next *models.RoomState, raw string) (*models.DeckState, *protocol.ValidationError) {
	deckID, ok := models.ParseDeckID(raw)
	if !ok {
		return nil, protocol.Reject(protocol.CodeDeckNotFound, "unknown deck %q", raw)
	}
	return next.Deck(deckID), nil
}

func applyDeckLoad(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.DeckLoadPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	deck, verr := resolveDeck(next, p.DeckID)
	if verr != nil {
		return verr
	}
	idx := next.QueueIndex(p.QueueItemID)
	if idx < 0 {
		return protocol.Reject(protocol.CodeQueueItemNotFound, "queue item %s not found", p.QueueItemID)
	}
	item := &next.Queue[idx]

	// A queue item can sit on at most one deck.
	other := next.Deck(otherDeck(deck.DeckID))
	if other.LoadedQueueItemID == item.ID {
		return protocol.Reject(protocol.CodeCannotRemoveLoadedItem,
			"queue item %s is loaded on deck %s", item.ID, other.DeckID)
	}

	// Finalize whatever was on this deck.
	if deck.LoadedQueueItemID != "" {
		if prev := next.QueueIndex(deck.LoadedQueueItemID); prev >= 0 {
			next.Queue[prev].Status = models.QueueStatusPlayed
		}
	}

	deck.LoadedTrackID = item.TrackID
	deck.LoadedQueueItemID = item.ID
	deck.DurationSec = item.DurationSec
	deck.DetectedBPM = p.Bpm
	deck.PlayheadSec = 0
	deck.CuePointSec = nil
	deck.HotCuePointSec = nil
	deck.PlayState = models.PlayStateStopped
	newEpoch(deck, nowMs, 0)

	item.Status = models.LoadedStatus(deck.DeckID)

	res.Broadcast = map[string]any{
		"deckId":      string(deck.DeckID),
		"trackId":     item.TrackID,
		"queueItemId": item.ID,
		"durationSec": item.DurationSec,
		"epochId":     deck.EpochID,
	}
	if p.Bpm > 0 {
		res.Broadcast["detectedBpm"] = p.Bpm
	}
	return nil
}

func applyDeckPlay(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.DeckPlayPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	deck, verr := resolveDeck(next, p.DeckID)
	if verr != nil {
		return verr
	}
	if !deck.Loaded() {
		return protocol.Reject(protocol.CodeDeckNotFound, "no track loaded on deck %s", deck.DeckID)
	}

	deck.PlayState = models.PlayStatePlaying
	newEpoch(deck, nowMs, deck.PlayheadSec)

	if idx := next.QueueIndex(deck.LoadedQueueItemID); idx >= 0 {
		next.Queue[idx].Status = models.PlayingStatus(deck.DeckID)
	}

	res.Broadcast = map[string]any{
		"deckId":      string(deck.DeckID),
		"epochId":     deck.EpochID,
		"playheadSec": deck.PlayheadSec,
	}
	return nil
}

func applyDeckPause(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.DeckPausePayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	deck, verr := resolveDeck(next, p.DeckID)
	if verr != nil {
		return verr
	}
	if !deck.Loaded() {
		return protocol.Reject(protocol.CodeDeckNotFound, "no track loaded on deck %s", deck.DeckID)
	}

	if deck.PlayState == models.PlayStatePlaying {
		deck.PlayheadSec = deck.PlayheadAt(nowMs)
	}
	deck.PlayState = models.PlayStatePaused
	newEpoch(deck, nowMs, deck.PlayheadSec)

	if idx := next.QueueIndex(deck.LoadedQueueItemID); idx >= 0 {
		next.Queue[idx].Status = models.LoadedStatus(deck.DeckID)
	}

	res.Broadcast = map[string]any{
		"deckId":      string(deck.DeckID),
		"epochId":     deck.EpochID,
		"playheadSec": deck.PlayheadSec,
	}
	return nil
}

func applyDeckCue(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.DeckCuePayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	deck, verr := resolveDeck(next, p.DeckID)
	if verr != nil {
		return verr
	}
	if !deck.Loaded() {
		return protocol.Reject(protocol.CodeDeckNotFound, "no track loaded on deck %s", deck.DeckID)
	}

	if p.CuePointSec != nil {
		if verr := validateSeek(deck, *p.CuePointSec); verr != nil {
			return verr
		}
		v := *p.CuePointSec
		deck.CuePointSec = &v
	}
	cue := 0.0
	if deck.CuePointSec != nil {
		cue = *deck.CuePointSec
	}
	deck.PlayheadSec = cue
	deck.PlayState = models.PlayStateCued
	newEpoch(deck, nowMs, cue)

	if idx := next.QueueIndex(deck.LoadedQueueItemID); idx >= 0 {
		next.Queue[idx].Status = models.LoadedStatus(deck.DeckID)
	}

	res.Broadcast = map[string]any{
		"deckId":      string(deck.DeckID),
		"epochId":     deck.EpochID,
		"cuePointSec": cue,
	}
	return nil
}

func applyDeckSeek(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.DeckSeekPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	deck, verr := resolveDeck(next, p.DeckID)
	if verr != nil {
		return verr
	}
	if !deck.Loaded() {
		return protocol.Reject(protocol.CodeDeckNotFound, "no track loaded on deck %s", deck.DeckID)
	}
	if verr := validateSeek(deck, p.PositionSec); verr != nil {
		return verr
	}

	deck.PlayheadSec = p.PositionSec
	newEpoch(deck, nowMs, p.PositionSec)

	res.Broadcast = map[string]any{
		"deckId":      string(deck.DeckID),
		"epochId":     deck.EpochID,
		"positionSec": p.PositionSec,
	}
	return nil
}

func applyDeckTempo(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.DeckTempoSetPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	deck, verr := resolveDeck(next, p.DeckID)
	if verr != nil {
		return verr
	}
	if !finite(p.PlaybackRate) {
		return protocol.Reject(protocol.CodeValueOutOfBounds, "playback rate must be finite")
	}

	rate := models.ControlBounds{Min: models.MinPlaybackRate, Max: models.MaxPlaybackRate}.Clamp(p.PlaybackRate)
	playhead := deck.PlayheadAt(nowMs)
	deck.PlaybackRate = rate
	deck.PlayheadSec = playhead
	newEpoch(deck, nowMs, playhead)

	res.Broadcast = map[string]any{
		"deckId":       string(deck.DeckID),
		"epochId":      deck.EpochID,
		"playbackRate": rate,
	}
	return nil
}

func applyQueueAdd(next *models.RoomState, ev *protocol.ClientEvent, nowMs int64, res *ApplyResult) *protocol.ValidationError {
	var p protocol.QueueAddPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	if p.TrackID == "" {
		return protocol.Reject(protocol.CodeInvalidPayload, "trackId required")
	}
	if !finite(p.DurationSec) || p.DurationSec < 0 {
		return protocol.Reject(protocol.CodeInvalidPayload, "durationSec must be finite and >= 0")
	}

	item := models.QueueItem{
		ID:          uuid.New().String(),
		TrackID:     p.TrackID,
		Title:       p.Title,
		DurationSec: p.DurationSec,
		AddedBy:     ev.ClientID,
		AddedAt:     nowMs,
		Status:      models.QueueStatusQueued,
	}

	at := len(next.Queue)
	if p.InsertAt != nil {
		at = *p.InsertAt
		if at < 0 {
			at = 0
		}
		if at > len(next.Queue) {
			at = len(next.Queue)
		}
	}
	next.Queue = append(next.Queue, models.QueueItem{})
	copy(next.Queue[at+1:], next.Queue[at:])
	next.Queue[at] = item

	res.Broadcast = map[string]any{
		"queueItemId": item.ID,
		"trackId":     item.TrackID,
		"title":       item.Title,
		"durationSec": item.DurationSec,
		"insertAt":    at,
	}
	return nil
}

func applyQueueRemove(next *models.RoomState, ev *protocol.ClientEvent, res *ApplyResult) *protocol.ValidationError {
	var p protocol.QueueRemovePayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	idx := next.QueueIndex(p.QueueItemID)
	if idx < 0 {
		return protocol.Reject(protocol.CodeQueueItemNotFound, "queue item %s not found", p.QueueItemID)
	}
	if next.Queue[idx].Status.OnDeck() {
		return protocol.Reject(protocol.CodeCannotRemoveLoadedItem,
			"queue item %s is on a deck", p.QueueItemID)
	}
	next.Queue = append(next.Queue[:idx], next.Queue[idx+1:]...)

	res.Broadcast = map[string]any{"queueItemId": p.QueueItemID}
	return nil
}

func applyQueueReorder(next *models.RoomState, ev *protocol.ClientEvent, res *ApplyResult) *protocol.ValidationError {
	var p protocol.QueueReorderPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	idx := next.QueueIndex(p.QueueItemID)
	if idx < 0 {
		return protocol.Reject(protocol.CodeQueueItemNotFound, "queue item %s not found", p.QueueItemID)
	}
	if len(next.Queue) == 0 {
		return protocol.Reject(protocol.CodeInvalidQueueIndex, "queue empty")
	}

	target := p.NewIndex
	if target < 0 {
		target = 0
	}
	if target > len(next.Queue)-1 {
		target = len(next.Queue) - 1
	}

	item := next.Queue[idx]
	next.Queue = append(next.Queue[:idx], next.Queue[idx+1:]...)
	next.Queue = append(next.Queue, models.QueueItem{})
	copy(next.Queue[target+1:], next.Queue[target:])
	next.Queue[target] = item

	res.Broadcast = map[string]any{"queueItemId": p.QueueItemID, "newIndex": target}
	return nil
}

func applyQueueEdit(next *models.RoomState, ev *protocol.ClientEvent, res *ApplyResult) *protocol.ValidationError {
	var p protocol.QueueEditPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	idx := next.QueueIndex(p.QueueItemID)
	if idx < 0 {
		return protocol.Reject(protocol.CodeQueueItemNotFound, "queue item %s not found", p.QueueItemID)
	}
	updates := map[string]any{}
	if p.Updates.Title != nil {
		next.Queue[idx].Title = *p.Updates.Title
		updates["title"] = *p.Updates.Title
	}

	res.Broadcast = map[string]any{"queueItemId": p.QueueItemID, "updates": updates}
	return nil
}

func applyQueueClear(next *models.RoomState, res *ApplyResult) *protocol.ValidationError {
	kept := next.Queue[:0]
	removed := 0
	for _, item := range next.Queue {
		if item.Status.OnDeck() {
			kept = append(kept, item)
		} else {
			removed++
		}
	}
	next.Queue = kept

	res.Broadcast = map[string]any{"removed": removed}
	return nil
}

func applyMemberKick(next *models.RoomState, ev *protocol.ClientEvent, res *ApplyResult) *protocol.ValidationError {
	var p protocol.MemberKickPayload
	if verr := ev.DecodePayload(&p); verr != nil {
		return verr
	}
	if p.ClientID == ev.ClientID {
		return protocol.Reject(protocol.CodePermissionDenied, "cannot kick yourself")
	}
	if next.Member(p.ClientID) == nil {
		return protocol.Reject(protocol.CodeClientMismatch, "client %s not in room", p.ClientID)
	}

	res.KickedClientID = p.ClientID
	res.Broadcast = map[string]any{"clientId": p.ClientID}
	return nil
}

func otherDeck(id models.DeckID) models.DeckID {
	if id == models.DeckA {
		return models.DeckB
	}
	return models.DeckA
}
