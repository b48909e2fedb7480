/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// ControlBounds is the accepted value range for one control.
type ControlBounds struct {
	Min float64
	Max float64
}

// Clamp limits v to the bounds.
func (b ControlBounds) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Contains reports whether v lies inside the bounds.
func (b ControlBounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Control ids addressable by MIXER_SET and CONTROL_GRAB/RELEASE.
const (
	ControlCrossfader   = "crossfader"
	ControlMasterVolume = "masterVolume"

	ControlChannelAFader  = "channelA.fader"
	ControlChannelAGain   = "channelA.gain"
	ControlChannelAEQLow  = "channelA.eq.low"
	ControlChannelAEQMid  = "channelA.eq.mid"
	ControlChannelAEQHigh = "channelA.eq.high"
	ControlChannelAFilter = "channelA.filter"

	ControlChannelBFader  = "channelB.fader"
	ControlChannelBGain   = "channelB.gain"
	ControlChannelBEQLow  = "channelB.eq.low"
	ControlChannelBEQMid  = "channelB.eq.mid"
	ControlChannelBEQHigh = "channelB.eq.high"
	ControlChannelBFilter = "channelB.filter"

	ControlFXWetDry = "fx.wetDry"
	ControlFXParam  = "fx.param"

	ControlDeckAJog   = "deckA.jog"
	ControlDeckATempo = "deckA.tempo"
	ControlDeckBJog   = "deckB.jog"
	ControlDeckBTempo = "deckB.tempo"
)

var controlRegistry = map[string]ControlBounds{
	ControlCrossfader:   {0, 1},
	ControlMasterVolume: {0, 1},

	ControlChannelAFader:  {0, 1},
	ControlChannelAGain:   {-1, 1},
	ControlChannelAEQLow:  {-1, 1},
	ControlChannelAEQMid:  {-1, 1},
	ControlChannelAEQHigh: {-1, 1},
	ControlChannelAFilter: {0, 1},

	ControlChannelBFader:  {0, 1},
	ControlChannelBGain:   {-1, 1},
	ControlChannelBEQLow:  {-1, 1},
	ControlChannelBEQMid:  {-1, 1},
	ControlChannelBEQHigh: {-1, 1},
	ControlChannelBFilter: {0, 1},

	ControlFXWetDry: {0, 1},
	ControlFXParam:  {0, 1},

	ControlDeckAJog:   {-1, 1},
	ControlDeckATempo: {MinPlaybackRate, MaxPlaybackRate},
	ControlDeckBJog:   {-1, 1},
	ControlDeckBTempo: {MinPlaybackRate, MaxPlaybackRate},
}

// ControlBoundsFor returns the bounds for a control id.
func ControlBoundsFor(controlID string) (ControlBounds, bool) {
	b, ok := controlRegistry[controlID]
	return b, ok
}

// KnownControl reports whether the control id is part of the enumerated set.
func KnownControl(controlID string) bool {
	_, ok := controlRegistry[controlID]
	return ok
}

// SetControl writes a clamped value to the mixer field addressed by
// controlID. Deck-addressed controls (jog, tempo) are not mixer fields and
// return false.
func (m *MixerState) SetControl(controlID string, value float64) bool {
	bounds, ok := controlRegistry[controlID]
	if !ok {
		return false
	}
	value = bounds.Clamp(value)

	switch controlID {
	case ControlCrossfader:
		m.Crossfader = value
	case ControlMasterVolume:
		m.MasterVolume = value
	case ControlChannelAFader:
		m.ChannelA.Fader = value
	case ControlChannelAGain:
		m.ChannelA.Gain = value
	case ControlChannelAEQLow:
		m.ChannelA.EQ.Low = value
	case ControlChannelAEQMid:
		m.ChannelA.EQ.Mid = value
	case ControlChannelAEQHigh:
		m.ChannelA.EQ.High = value
	case ControlChannelAFilter:
		m.ChannelA.Filter = value
	case ControlChannelBFader:
		m.ChannelB.Fader = value
	case ControlChannelBGain:
		m.ChannelB.Gain = value
	case ControlChannelBEQLow:
		m.ChannelB.EQ.Low = value
	case ControlChannelBEQMid:
		m.ChannelB.EQ.Mid = value
	case ControlChannelBEQHigh:
		m.ChannelB.EQ.High = value
	case ControlChannelBFilter:
		m.ChannelB.Filter = value
	case ControlFXWetDry:
		m.FX.WetDry = value
	case ControlFXParam:
		m.FX.Param = value
	default:
		return false
	}
	return true
}

// DeckControl resolves a deck-addressed control id to its deck and kind
// ("jog" or "tempo").
func DeckControl(controlID string) (DeckID, string, bool) {
	switch controlID {
	case ControlDeckAJog:
		return DeckA, "jog", true
	case ControlDeckATempo:
		return DeckA, "tempo", true
	case ControlDeckBJog:
		return DeckB, "jog", true
	case ControlDeckBTempo:
		return DeckB, "tempo", true
	}
	return "", "", false
}
