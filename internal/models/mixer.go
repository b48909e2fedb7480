/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// FXType enumerates the mixer effect units.
type FXType string

const (
	FXNone   FXType = "none"
	FXEcho   FXType = "echo"
	FXReverb FXType = "reverb"
	FXFilter FXType = "filter"
)

// ParseFXType validates a wire fx type.
func ParseFXType(s string) (FXType, bool) {
	switch FXType(s) {
	case FXNone, FXEcho, FXReverb, FXFilter:
		return FXType(s), true
	}
	return "", false
}

// EQState holds the three band gains of a channel strip, each -1..1.
type EQState struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// ChannelStrip is one deck channel on the mixer.
type ChannelStrip struct {
	Fader  float64 `json:"fader"`  // 0..1
	Gain   float64 `json:"gain"`   // -1..1
	EQ     EQState `json:"eq"`     // -1..1 per band
	Filter float64 `json:"filter"` // 0..1, 0.5 = neutral
}

// FXState is the shared effect unit.
type FXState struct {
	Type    FXType  `json:"type"`
	Enabled bool    `json:"enabled"`
	WetDry  float64 `json:"wetDry"` // 0..1
	Param   float64 `json:"param"`  // 0..1
}

// MixerState is the shared mixer.
type MixerState struct {
	Crossfader   float64      `json:"crossfader"`   // 0..1, 0.5 = center
	MasterVolume float64      `json:"masterVolume"` // 0..1
	ChannelA     ChannelStrip `json:"channelA"`
	ChannelB     ChannelStrip `json:"channelB"`
	FX           FXState      `json:"fx"`
}

// NewMixerState returns the mixer in its neutral resting position.
func NewMixerState() MixerState {
	strip := ChannelStrip{Fader: 1.0, Filter: 0.5}
	return MixerState{
		Crossfader:   0.5,
		MasterVolume: 1.0,
		ChannelA:     strip,
		ChannelB:     strip,
		FX:           FXState{Type: FXNone},
	}
}
