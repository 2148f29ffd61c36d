// Package notesource implements the per-track note sequencer (spec.md
// §4.C): turning a piano-roll clip on the active scene, plus live-keyboard
// overlay, into a sample-accurate stream of note_on/note_off events for one
// audio block.
package notesource

import (
	"github.com/fluxdaw/fluxdaw/abi"
	"github.com/fluxdaw/fluxdaw/state"
	"github.com/fluxdaw/fluxdaw/transport"
)

// EventMax bounds the number of events emitted per block (spec.md §3.1); any
// further events in an unusually dense block are dropped silently
// (best-effort, per spec.md §4.C).
const EventMax = 128

// NoteSource holds the per-track sequencer state that must persist across
// blocks: the clip-relative playhead, what the downstream plugin believes is
// currently sounding, and the last active scene (to detect a scene change).
type NoteSource struct {
	currentBeat   float64
	activePitches [128]bool
	lastScene     int // -1 == none yet
	scratch       out // reused event buffer returned by Process
}

// New returns a NoteSource with no scene resolved yet.
func New() *NoteSource {
	return &NoteSource{lastScene: -1}
}

// out accumulates events for one Process call, capped at EventMax.
type out struct {
	events [EventMax]abi.NoteEvent
	n      int
}

func (o *out) push(e abi.NoteEvent) {
	if o.n >= EventMax {
		return
	}
	o.events[o.n] = e
	o.n++
}

func noteEvent(typ abi.EventType, sampleOffset uint32, pitch int, velocity float32) abi.NoteEvent {
	return abi.NoteEvent{
		Header:   abi.EventHeader{SampleOffset: sampleOffset, Type: typ},
		PortIndex: 0,
		Channel:   0,
		Key:       int16(pitch),
		Velocity:  float64(velocity),
	}
}

// reconcile emits, at sampleOffset, a note_off for every pitch in
// activePitches not present in target and a note_on for every pitch in
// target not yet in activePitches, then updates activePitches to match
// target. Offs are pushed before ons at the same offset (spec.md §4.C
// ordering rule).
func (ns *NoteSource) reconcile(o *out, target [128]bool, velocities [128]float32, sampleOffset uint32) {
	for p := 0; p < 128; p++ {
		if ns.activePitches[p] && !target[p] {
			o.push(noteEvent(abi.EventNoteOff, sampleOffset, p, 0))
		}
	}
	for p := 0; p < 128; p++ {
		if target[p] && !ns.activePitches[p] {
			o.push(noteEvent(abi.EventNoteOn, sampleOffset, p, velocities[p]))
		}
	}
	ns.activePitches = target
}

// liveOnly returns the live-key set as a target pitch map, used whenever no
// clip governs this block (not playing, or no active scene).
func liveOnly(live [128]bool) [128]bool { return live }

// findActiveScene returns the first scene index whose slot is playing for
// track t, or -1 if none (spec.md §4.C step 3).
func findActiveScene(snap *state.StateSnapshot, track int) int {
	for s := 0; s < state.SceneMax; s++ {
		if snap.Slots[track][s].State == transport.SlotPlaying {
			return s
		}
	}
	return -1
}

// Process runs the step 1-9 algorithm for one track for one block and
// returns the events produced (a view into an internal buffer, valid only
// until the next Process call on this NoteSource).
func (ns *NoteSource) Process(snap *state.StateSnapshot, track int, sampleRate float64, frameCount uint32) []abi.NoteEvent {
	o := &ns.scratch
	o.n = 0

	live := snap.Tracks[track].LiveKeys
	liveVel := snap.Tracks[track].LiveVelocity

	// Step 2: not playing -> reconcile against live only, offset 0.
	if !snap.Playing {
		ns.reconcile(o, liveOnly(live), liveVel, 0)
		return o.events[:o.n]
	}

	// Step 3: resolve active scene.
	scene := findActiveScene(snap, track)
	if scene < 0 {
		ns.reconcile(o, liveOnly(live), liveVel, 0)
		ns.lastScene = -1
		return o.events[:o.n]
	}

	// Step 4: scene changed -> reset playhead.
	if scene != ns.lastScene {
		ns.currentBeat = 0
		ns.lastScene = scene
	}

	clip := snap.Clips[track][scene]
	if !clip.Present || clip.LengthBeats <= 0 {
		ns.reconcile(o, liveOnly(live), liveVel, 0)
		return o.events[:o.n]
	}

	// Step 5: beat math for this block.
	beatsPerSample := snap.BPM / 60 / sampleRate
	blockBeats := beatsPerSample * float64(frameCount)
	beatStart := ns.currentBeat
	beatEnd := beatStart + blockBeats
	clipLen := clip.LengthBeats

	// Step 6: beat-boundary pitch reconciliation at offset 0 (clip notes
	// active at beat_start, OR-merged with live keys).
	boundary := live
	for i := 0; i < clip.NoteCount; i++ {
		n := clip.Notes[i]
		if noteActiveAt(n, clipLen, beatStart) {
			boundary[int(n.Pitch)] = true
		}
	}
	ns.reconcile(o, boundary, mergeVelocity(liveVel, clip, beatStart, clipLen), 0)

	// Steps 7-8: walk notes intersecting [beat_start, beat_end), including
	// wraparound when the block crosses the clip's loop point.
	if beatEnd < clipLen {
		ns.emitSpan(o, clip, beatStart, beatEnd, 0, beatsPerSample, clipLen)
	} else {
		firstSpanSamples := floorDiv(clipLen-beatStart, beatsPerSample)
		ns.emitSpan(o, clip, beatStart, clipLen, 0, beatsPerSample, clipLen)
		wrappedEnd := mod(beatEnd, clipLen)
		ns.emitSpan(o, clip, 0, wrappedEnd, uint32(firstSpanSamples), beatsPerSample, clipLen)
	}

	// Step 9: advance the playhead.
	ns.currentBeat = mod(beatEnd, clipLen)

	return o.events[:o.n]
}

// noteActiveAt reports whether note n (possibly clip-wrapping) is sounding
// at beat position pos.
func noteActiveAt(n state.SnapshotNote, clipLen, pos float64) bool {
	start := n.Start
	end := n.Start + n.Duration
	if end <= clipLen {
		return pos >= start && pos < end
	}
	wrappedEnd := mod(end, clipLen)
	return pos >= start || pos < wrappedEnd
}

// mergeVelocity resolves the velocity to report for the step-6 boundary
// reconciliation: live-key velocity takes precedence (the player's own
// touch), clip-note velocity otherwise.
func mergeVelocity(live [128]float32, clip state.SnapshotClip, pos, clipLen float64) [128]float32 {
	out := live
	for i := 0; i < clip.NoteCount; i++ {
		n := clip.Notes[i]
		if noteActiveAt(n, clipLen, pos) && out[int(n.Pitch)] == 0 {
			out[int(n.Pitch)] = n.Velocity
		}
	}
	return out
}

// emitSpan walks every note intersecting [spanStart, spanEnd) within the
// clip's own coordinate space, splitting any note that crosses clipLen into
// its two sub-spans (spec.md §4.C step 7), and pushes note_on/note_off
// events at baseSampleOffset + floor((t - spanStart)/beatsPerSample).
func (ns *NoteSource) emitSpan(o *out, clip state.SnapshotClip, spanStart, spanEnd float64, baseSampleOffset uint32, beatsPerSample, clipLen float64) {
	for i := 0; i < clip.NoteCount; i++ {
		n := clip.Notes[i]
		if n.Start+n.Duration <= clipLen {
			ns.emitNoteInSpan(o, n, n.Start, n.Start+n.Duration, spanStart, spanEnd, baseSampleOffset, beatsPerSample)
			continue
		}
		// Wrapping note: split into [start, clipLen) and [0, wrappedEnd).
		wrappedEnd := mod(n.Start+n.Duration, clipLen)
		ns.emitNoteInSpan(o, n, n.Start, clipLen, spanStart, spanEnd, baseSampleOffset, beatsPerSample)
		ns.emitNoteInSpan(o, n, 0, wrappedEnd, spanStart, spanEnd, baseSampleOffset, beatsPerSample)
	}
}

func (ns *NoteSource) emitNoteInSpan(o *out, n state.SnapshotNote, segStart, segEnd, spanStart, spanEnd float64, baseSampleOffset uint32, beatsPerSample float64) {
	if segStart > spanStart && segStart < spanEnd {
		offset := baseSampleOffset + uint32(floorDiv(segStart-spanStart, beatsPerSample))
		o.push(noteEvent(abi.EventNoteOn, offset, int(n.Pitch), n.Velocity))
		ns.activePitches[int(n.Pitch)] = true
	}
	if segEnd > spanStart && segEnd < spanEnd {
		offset := baseSampleOffset + uint32(floorDiv(segEnd-spanStart, beatsPerSample))
		o.push(noteEvent(abi.EventNoteOff, offset, int(n.Pitch), n.ReleaseVelocity))
		ns.activePitches[int(n.Pitch)] = false
	}
}

func floorDiv(a, b float64) int64 {
	if b == 0 {
		return 0
	}
	v := a / b
	i := int64(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return i
}

func mod(a, m float64) float64 {
	if m == 0 {
		return 0
	}
	r := a - m*float64(int64(a/m))
	if r < 0 {
		r += m
	}
	return r
}
