package transport

import "fmt"

// SceneMax is the fixed scene-matrix height (spec.md §3.1).
const SceneMax = 32

// SlotState is a ClipSlot's position in the launcher state machine
// (spec.md §3, §4.G).
type SlotState int32

const (
	SlotEmpty SlotState = iota
	SlotStopped
	SlotQueued
	SlotPlaying
	SlotRecordQueued
	SlotRecording
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotStopped:
		return "stopped"
	case SlotQueued:
		return "queued"
	case SlotPlaying:
		return "playing"
	case SlotRecordQueued:
		return "record_queued"
	case SlotRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// active reports whether s is one of the launcher's live states {queued,
// playing, record_queued, recording}, the states validateExclusivity counts.
func (s SlotState) active() bool {
	switch s {
	case SlotQueued, SlotPlaying, SlotRecordQueued, SlotRecording:
		return true
	default:
		return false
	}
}

// ClipSlot is one cell of the track x scene launcher matrix.
type ClipSlot struct {
	State       SlotState
	Clip        *PianoClip
	LengthBeats float64 // > 0; mirrors Clip.LengthBeats once non-empty

	// RecordStart is the playhead_beat at which recording began, used by
	// Transport.tick to detect the target_length crossing (spec.md §4.G
	// "Recording completion").
	RecordStart float64
}

// DefaultClipLengthBeats is used when arming an empty slot for recording
// without an explicit length (spec.md §4.G: "create with default length").
const DefaultClipLengthBeats = 4.0

// NewClipSlot returns an empty slot.
func NewClipSlot() *ClipSlot {
	return &ClipSlot{State: SlotEmpty}
}

// validateExclusivity panics-free checks the invariant across one track's
// row: at most one slot is playing or recording, and at most one is queued
// or record_queued (a queued slot waits beside the playing one until the
// next quantize boundary promotes it). Called defensively from Transport
// ops after every mutation.
func validateExclusivity(row []*ClipSlot) error {
	sounding, pending := 0, 0
	for _, s := range row {
		if s == nil || !s.State.active() {
			continue
		}
		if s.State == SlotQueued || s.State == SlotRecordQueued {
			pending++
		} else {
			sounding++
		}
	}
	if sounding > 1 || pending > 1 {
		return fmt.Errorf("transport: slot-exclusivity invariant violated: %d playing/recording and %d queued slots in one track row", sounding, pending)
	}
	return nil
}
