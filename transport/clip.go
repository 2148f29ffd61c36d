package transport

import "fmt"

// ClipNoteMax bounds a PianoClip's note list (spec.md §3.1).
const ClipNoteMax = 256

// Note is one piano-roll event: pitch/start/duration/velocity all in the
// clip's own beat/unit space (spec.md §3 PianoClip).
type Note struct {
	Pitch           int     // [0, 127]
	Start           float64 // beats, >= 0
	Duration        float64 // beats, > 0
	Velocity        float32 // [0, 1]
	ReleaseVelocity float32 // [0, 1]
}

// PianoClip is a fixed-capacity note list plus a loop length. Notes may
// cross the clip boundary (start+duration > LengthBeats); notesource wraps
// them modulo LengthBeats rather than rejecting them here.
type PianoClip struct {
	Notes       []Note
	LengthBeats float64
}

// NewPianoClip returns an empty clip with the given loop length.
func NewPianoClip(lengthBeats float64) *PianoClip {
	return &PianoClip{LengthBeats: lengthBeats}
}

// AddNote appends n, rejecting anything past ClipNoteMax or with non-positive
// duration/length (spec.md §3 invariants).
func (c *PianoClip) AddNote(n Note) error {
	if len(c.Notes) >= ClipNoteMax {
		return fmt.Errorf("transport: clip note list full (max %d)", ClipNoteMax)
	}
	if n.Pitch < 0 || n.Pitch > 127 {
		return fmt.Errorf("transport: pitch %d out of [0,127]", n.Pitch)
	}
	if n.Start < 0 {
		return fmt.Errorf("transport: note start %.3f must be >= 0", n.Start)
	}
	if n.Duration <= 0 {
		return fmt.Errorf("transport: note duration %.3f must be > 0", n.Duration)
	}
	c.Notes = append(c.Notes, n)
	return nil
}

// End returns the note's end beat within the clip's own coordinate space
// (not wrapped — callers wrap explicitly, matching spec.md §4.C step 7).
func (n Note) End() float64 { return n.Start + n.Duration }

// Wraps reports whether n extends past the clip's loop point.
func (n Note) Wraps(lengthBeats float64) bool { return n.End() > lengthBeats }
