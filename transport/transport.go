package transport

import "fmt"

// QuantizeGrid is a selectable launch-quantize interval, in beats
// (spec.md §4.G: "selectable from {1/4, 1/2, 1, 2, 4} beats").
type QuantizeGrid float64

const (
	Quantize1_4 QuantizeGrid = 0.25
	Quantize1_2 QuantizeGrid = 0.5
	Quantize1   QuantizeGrid = 1
	Quantize2   QuantizeGrid = 2
	Quantize4   QuantizeGrid = 4
)

// Transport owns the track/scene clip matrix and the playhead. All methods
// are UI-thread only; the audio thread only ever sees a read-only copy via
// state.StateSnapshot.
type Transport struct {
	Tracks []*Track
	Clips  [TrackMax][SceneMax]*ClipSlot

	Playing     bool
	BPM         float64
	PlayheadBeat float64
	Quantize    QuantizeGrid

	// QueuedScene[t] is the scene index promotion target for track t's next
	// quantize boundary, or -1 if none queued.
	QueuedScene [TrackMax]int

	prevQuantizePhase [TrackMax]float64
}

// NewTransport returns a Transport with TrackMax empty tracks, an empty clip
// matrix, 120 BPM, and whole-beat quantize as conservative defaults.
func NewTransport() *Transport {
	tr := &Transport{BPM: 120, Quantize: Quantize1}
	for t := 0; t < TrackMax; t++ {
		tr.Tracks = append(tr.Tracks, NewTrack(fmt.Sprintf("Track %d", t+1)))
		tr.QueuedScene[t] = -1
		for s := 0; s < SceneMax; s++ {
			tr.Clips[t][s] = NewClipSlot()
		}
	}
	return tr
}

func (tr *Transport) row(t int) []*ClipSlot { return tr.Clips[t][:] }

// LaunchScene implements spec.md §4.G's two launch-scene transitions: an
// immediate jump when transport is stopped, a quantized queue when playing.
func (tr *Transport) LaunchScene(scene int) error {
	if scene < 0 || scene >= SceneMax {
		return fmt.Errorf("transport: scene %d out of range", scene)
	}
	if !tr.Playing {
		for t := range tr.Tracks {
			slot := tr.Clips[t][scene]
			if slot.State == SlotEmpty {
				continue
			}
			for s, other := range tr.row(t) {
				if s == scene {
					continue
				}
				if other.State != SlotEmpty {
					other.State = SlotStopped
				}
			}
			slot.State = SlotPlaying
		}
		tr.Playing = true
		tr.PlayheadBeat = 0
		return nil
	}

	for t := range tr.Tracks {
		slot := tr.Clips[t][scene]
		if slot.State == SlotEmpty {
			continue
		}
		if slot.State == SlotPlaying {
			// Already the active clip on this track: re-launching it is a
			// no-op per spec.md §8's round-trip law, not a requeue.
			continue
		}
		slot.State = SlotQueued
		tr.QueuedScene[t] = scene
		if err := validateExclusivity(tr.row(t)); err != nil {
			return err
		}
	}
	return nil
}

// StopAll implements spec.md §4.G "Stop all": every non-empty slot goes to
// stopped, all queues are cleared, but transport.Playing is left true (note
// sources reconcile note-offs on the next block rather than the transport
// snapping silent mid-block).
func (tr *Transport) StopAll() {
	for t := range tr.Tracks {
		tr.QueuedScene[t] = -1
		for _, slot := range tr.row(t) {
			if slot.State != SlotEmpty {
				slot.State = SlotStopped
			}
		}
	}
}

// RecordArm implements spec.md §4.G's record-arm transitions.
func (tr *Transport) RecordArm(track, scene int, lengthBeats float64) error {
	if track < 0 || track >= TrackMax || scene < 0 || scene >= SceneMax {
		return fmt.Errorf("transport: track %d / scene %d out of range", track, scene)
	}
	slot := tr.Clips[track][scene]

	if !tr.Playing {
		if slot.State == SlotEmpty {
			if lengthBeats <= 0 {
				lengthBeats = DefaultClipLengthBeats
			}
			slot.Clip = NewPianoClip(lengthBeats)
			slot.LengthBeats = lengthBeats
		}
		slot.RecordStart = 0
		slot.State = SlotRecording
		tr.Playing = true
		tr.PlayheadBeat = 0
		return validateExclusivity(tr.row(track))
	}

	slot.State = SlotRecordQueued
	tr.QueuedScene[track] = scene
	return validateExclusivity(tr.row(track))
}

// Tick advances the UI-side playhead by dt seconds and promotes any
// queued/record_queued slots that cross the quantize grid this tick
// (spec.md §4.G: "compares playhead_beat modulo the grid against the
// previous tick's value to detect a crossing").
func (tr *Transport) Tick(dtSeconds float64) {
	if !tr.Playing {
		return
	}
	prev := tr.PlayheadBeat
	tr.PlayheadBeat += (tr.BPM / 60) * dtSeconds

	grid := float64(tr.Quantize)
	prevPhase := prev - grid*float64(int(prev/grid))
	advance := tr.PlayheadBeat - prev
	crossed := advance >= grid || prevPhase+advance >= grid

	for t := range tr.Tracks {
		scene := tr.QueuedScene[t]
		if scene < 0 {
			continue
		}
		slot := tr.Clips[t][scene]
		switch slot.State {
		case SlotQueued:
			if crossed {
				for s, other := range tr.row(t) {
					if s != scene && other.State == SlotPlaying {
						other.State = SlotStopped
					}
				}
				slot.State = SlotPlaying
				tr.QueuedScene[t] = -1
			}
		case SlotRecordQueued:
			if crossed {
				slot.RecordStart = tr.PlayheadBeat
				slot.State = SlotRecording
				tr.QueuedScene[t] = -1
			}
		}
	}

	tr.checkRecordingCompletion()
}

// checkRecordingCompletion implements spec.md §4.G "Recording completion":
// once a recording slot's elapsed beats reach its target length, it
// promotes to playing (the clip loops) — a one-shot stop is a caller-level
// decision made via StopAll, so this always loops.
func (tr *Transport) checkRecordingCompletion() {
	for t := range tr.Tracks {
		for _, slot := range tr.row(t) {
			if slot.State != SlotRecording {
				continue
			}
			target := slot.LengthBeats
			if target <= 0 {
				continue
			}
			if tr.PlayheadBeat-slot.RecordStart >= target {
				slot.State = SlotPlaying
			}
		}
	}
}
