// Package midiimport converts a Standard MIDI File into a transport.PianoClip,
// supplementing spec.md §4.C's piano-clip model with a way to populate a
// clip from an existing MIDI file instead of only live recording.
// Grounded on the tick-timeline-building pattern in the pack's SMF player
// (other_examples' meltysynth-backed MIDI player): walk every track's
// delta-time events accumulating an absolute tick count, skip meta
// messages, and convert channel-voice bytes directly rather than going
// through a playback bridge.
package midiimport

import (
	"bytes"
	"fmt"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/fluxdaw/fluxdaw/transport"
)

// noteOnStatus and noteOffStatus are the high nibble of a channel-voice
// status byte (low nibble carries the channel, ignored here — all notes
// in a file import land on one PianoClip regardless of source channel).
const (
	noteOnStatus  = 0x90
	noteOffStatus = 0x80
)

type pendingNote struct {
	startTick int
	velocity  byte
}

// FromBytes parses a Standard MIDI File and returns a PianoClip holding
// every note-on/note-off pair found across all tracks, with tick
// positions converted to beats via the file's pulses-per-quarter-note
// (a MIDI "beat" is one quarter note, matching spec.md's beat unit).
// Tempo meta events are ignored: only the tick grid matters for note
// placement, not wall-clock tempo.
func FromBytes(data []byte) (*transport.PianoClip, error) {
	smfData, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("midiimport: parsing SMF: %w", err)
	}

	ppq := 480
	if mt, ok := smfData.TimeFormat.(smf.MetricTicks); ok {
		ppq = int(mt)
	}
	if ppq <= 0 {
		ppq = 480
	}

	type noteEvent struct {
		pitch    int
		start    float64
		end      float64
		velocity float32
	}
	var notes []noteEvent
	lastTick := 0

	for _, track := range smfData.Tracks {
		absTick := 0
		open := map[int]pendingNote{}
		for _, event := range track {
			absTick += int(event.Delta)
			msg := event.Message
			if msg.IsMeta() || !msg.IsPlayable() {
				continue
			}
			raw := msg.Bytes()
			if len(raw) < 3 {
				continue
			}
			status := raw[0] & 0xF0
			key := int(raw[1])
			velocity := raw[2]

			switch {
			case status == noteOnStatus && velocity > 0:
				open[key] = pendingNote{startTick: absTick, velocity: velocity}
			case status == noteOffStatus || (status == noteOnStatus && velocity == 0):
				if p, ok := open[key]; ok {
					notes = append(notes, noteEvent{
						pitch:    key,
						start:    float64(p.startTick) / float64(ppq),
						end:      float64(absTick) / float64(ppq),
						velocity: float32(p.velocity) / 127,
					})
					delete(open, key)
				}
			}
		}
		if absTick > lastTick {
			lastTick = absTick
		}
	}

	lengthBeats := float64(lastTick) / float64(ppq)
	if lengthBeats <= 0 {
		lengthBeats = transport.DefaultClipLengthBeats
	}

	clip := transport.NewPianoClip(lengthBeats)
	for _, n := range notes {
		duration := n.end - n.start
		if duration <= 0 {
			continue
		}
		if err := clip.AddNote(transport.Note{
			Pitch:    n.pitch,
			Start:    n.start,
			Duration: duration,
			Velocity: n.velocity,
		}); err != nil {
			return nil, fmt.Errorf("midiimport: %w", err)
		}
	}
	return clip, nil
}
