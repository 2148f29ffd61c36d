// Package state implements the UI<->audio shared-state rendezvous
// (spec.md §4.B): a mutex-guarded StateSnapshot the UI thread writes once
// per tick and the audio thread reads once per block, plus the
// processing-in-flight counters plugin lifecycle calls wait on before
// touching anything the audio thread might still be using.
package state

import (
	"github.com/fluxdaw/fluxdaw/pluginhost"
	"github.com/fluxdaw/fluxdaw/transport"
)

// Fixed capacities, re-exported from transport so callers need not import
// both packages just to size an array (spec.md §3.1).
const (
	TrackMax    = transport.TrackMax
	SceneMax    = transport.SceneMax
	ClipNoteMax = transport.ClipNoteMax
)

// SnapshotNote is the StateSnapshot's flat, fixed-capacity mirror of
// transport.Note — copied in, never aliased, so the audio thread never
// holds a pointer into UI-owned memory.
type SnapshotNote struct {
	Pitch           int16
	Start           float64
	Duration        float64
	Velocity        float32
	ReleaseVelocity float32
}

// SnapshotClip mirrors transport.PianoClip for one track/scene cell.
type SnapshotClip struct {
	Present     bool
	LengthBeats float64
	NoteCount   int
	Notes       [ClipNoteMax]SnapshotNote
}

// SnapshotSlot mirrors transport.ClipSlot's State field only — the audio
// thread needs nothing else from a slot but "is this the one playing".
type SnapshotSlot struct {
	State transport.SlotState
}

// SnapshotTrack mirrors the audio-relevant subset of transport.Track.
type SnapshotTrack struct {
	Volume       float32
	Mute         bool
	Solo         bool
	Instrument   pluginhost.HandleID
	Effects      []pluginhost.HandleID
	LiveKeys     [128]bool
	LiveVelocity [128]float32
}

// StateSnapshot is the immutable value the audio thread reads once per
// block (spec.md §3 "StateSnapshot"). Every field is a plain value or a
// fixed-size array; the only heap-indirected fields (Effects, per-clip Notes
// being copied rather than referenced) are always deep-copied on write, so
// the audio thread never observes a write in progress.
type StateSnapshot struct {
	Playing      bool
	BPM          float64
	PlayheadBeat float64

	Tracks [TrackMax]SnapshotTrack
	Slots  [TrackMax][SceneMax]SnapshotSlot
	Clips  [TrackMax][SceneMax]SnapshotClip
}
