// Package transport implements the clip-launcher / transport subsystem
// (spec.md §4.G): tracks, piano-roll clips, the clip-slot state machine, and
// the scene-launch/record-arm/quantize logic that drives them, all mutated
// from the UI thread and consumed by the audio thread only through a
// state.StateSnapshot.
package transport

import (
	"fmt"
	"sync"

	"github.com/fluxdaw/fluxdaw/pluginhost"
)

// TrackMax is the fixed track-matrix width (spec.md §3.1).
const TrackMax = 16

// EffectsMax bounds a track's ordered effects-plugin slots.
const EffectsMax = 8

// EffectSlot is one position in a track's effects chain: modeled after a
// plugin-chain/plugin-instance pairing, with the loaded plugin itself
// replaced by a pluginhost.HandleID — the arena, not the track, owns the
// actual PluginHandle.
type EffectSlot struct {
	Handle     pluginhost.HandleID
	Name       string
	Bypassed   bool
	Parameters map[string]float32
}

// Track is a single mixer channel plus its clip-launcher row. Name, volume,
// mute, solo and the effects chain mirror a per-channel mixer state;
// instrument/effects references are non-owning HandleIDs per spec.md §3's
// ownership rule ("Track instrument/fx references are non-owning").
type Track struct {
	mu sync.RWMutex

	Name   string
	Volume float32 // [0, 1.5]
	Mute   bool
	Solo   bool

	Instrument pluginhost.HandleID
	Effects    []EffectSlot

	// LiveKeys mirrors a real-time keyboard/MIDI-in overlay: per-pitch held
	// flag and the velocity it was struck with, OR-merged with clip notes by
	// notesource (spec.md §4.C).
	LiveKeys     [128]bool
	LiveVelocity [128]float32
}

// NewTrack returns a Track with conservative defaults (full volume,
// unmuted, not soloed, no instrument loaded).
func NewTrack(name string) *Track {
	return &Track{Name: name, Volume: 1.0, Instrument: pluginhost.NoHandle}
}

// SetVolume clamps to the documented [0, 1.5] range.
func (t *Track) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1.5 {
		v = 1.5
	}
	t.mu.Lock()
	t.Volume = v
	t.mu.Unlock()
}

// SetInstrument assigns handle as the track's live instrument reference,
// the non-owning HandleID the audio thread reads out of every
// state.StateSnapshot (spec.md §3's ownership rule: the arena owns the
// PluginHandle, the track only ever holds a reference to it).
func (t *Track) SetInstrument(handle pluginhost.HandleID) {
	t.mu.Lock()
	t.Instrument = handle
	t.mu.Unlock()
}

// AddEffect inserts a plugin into the effects chain at position (position
// == len(Effects) appends it), grounded on PluginChain.AddPlugin's
// append/insert shape but capped at EffectsMax slots.
func (t *Track) AddEffect(position int, handle pluginhost.HandleID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Effects) >= EffectsMax {
		return fmt.Errorf("transport: track %q: effects chain full (max %d)", t.Name, EffectsMax)
	}
	if position < 0 || position > len(t.Effects) {
		return fmt.Errorf("transport: invalid effect position %d", position)
	}
	slot := EffectSlot{Handle: handle, Name: name, Parameters: make(map[string]float32)}
	t.Effects = append(t.Effects, EffectSlot{})
	copy(t.Effects[position+1:], t.Effects[position:])
	t.Effects[position] = slot
	return nil
}

// RemoveEffect drops the slot at position.
func (t *Track) RemoveEffect(position int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if position < 0 || position >= len(t.Effects) {
		return fmt.Errorf("transport: invalid effect position %d", position)
	}
	t.Effects = append(t.Effects[:position], t.Effects[position+1:]...)
	return nil
}

// SetParameter sets a named parameter on the effect at position.
func (t *Track) SetParameter(position int, name string, value float32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if position < 0 || position >= len(t.Effects) {
		return fmt.Errorf("transport: invalid effect position %d", position)
	}
	t.Effects[position].Parameters[name] = value
	return nil
}

// PressKey records a live-keyboard note-on for pitch at velocity.
func (t *Track) PressKey(pitch int, velocity float32) {
	if pitch < 0 || pitch > 127 {
		return
	}
	t.mu.Lock()
	t.LiveKeys[pitch] = true
	t.LiveVelocity[pitch] = velocity
	t.mu.Unlock()
}

// ReleaseKey records a live-keyboard note-off for pitch.
func (t *Track) ReleaseKey(pitch int) {
	if pitch < 0 || pitch > 127 {
		return
	}
	t.mu.Lock()
	t.LiveKeys[pitch] = false
	t.mu.Unlock()
}

// SnapshotLiveKeys returns a copy of the held-pitch bitmap for push_snapshot.
func (t *Track) SnapshotLiveKeys() (held [128]bool, velocity [128]float32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.LiveKeys, t.LiveVelocity
}
