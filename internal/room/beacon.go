/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"time"

	"github.com/friendsincode/mixroom/internal/models"
	"github.com/friendsincode/mixroom/internal/protocol"
)

// beaconLoop broadcasts the authoritative playhead for both decks at a fixed
// interval. State reads happen on the room's work queue; the publish happens
// off it so a slow transport never stalls applies.
func (r *Room) beaconLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.beaconTick()
		case <-r.done:
			return
		}
	}
}

func (r *Room) beaconTick() {
	if r.store.pub == nil {
		return
	}
	nowMs := r.store.nowFn()

	var tick protocol.BeaconTick
	var members int
	ok := r.DoSync(func() {
		members = len(r.state.Members)
		if members == 0 {
			return
		}
		if r.state.DeckA.PlayState == models.PlayStatePlaying {
			r.state.DeckA.EpochSeq++
		}
		if r.state.DeckB.PlayState == models.PlayStatePlaying {
			r.state.DeckB.EpochSeq++
		}
		tick = protocol.BeaconTick{
			Type:   protocol.EventBeaconTick,
			RoomID: r.ID,
			Payload: protocol.BeaconPayload{
				ServerTs: nowMs,
				Version:  r.state.Version,
				DeckA:    beaconDeck(&r.state.DeckA, nowMs),
				DeckB:    beaconDeck(&r.state.DeckB, nowMs),
			},
		}
	})
	if !ok || members == 0 {
		return
	}
	r.store.pub.PublishRoom(r.ID, tick)
}

// beaconDeck snapshots one deck's epoch for a beacon frame.
func beaconDeck(d *models.DeckState, nowMs int64) protocol.BeaconDeck {
	return protocol.BeaconDeck{
		DeckID:       d.DeckID,
		EpochID:      d.EpochID,
		EpochSeq:     d.EpochSeq,
		ServerTs:     nowMs,
		PlayheadSec:  d.PlayheadAt(nowMs),
		PlaybackRate: d.PlaybackRate,
		PlayState:    d.PlayState,
		DetectedBPM:  d.DetectedBPM,
	}
}
