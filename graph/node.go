// Package graph implements the audio processing graph (spec.md §4.E): a DAG
// of note_source/synth/gain/mixer/master nodes, topologically sorted once at
// prepare time and walked every block in the six-step order the spec
// mandates (note sources, active-synth dispatch, gain, mixer, master).
package graph

import (
	"github.com/fluxdaw/fluxdaw/abi"
	"github.com/fluxdaw/fluxdaw/pluginhost"
)

// eventCapacity bounds the per-block event buffer a synth node's Events
// slice is drawn from (spec.md §3.1 EVENT_MAX).
const eventCapacity = 128

// NodeID is a dense integer identity assigned at graph-construction time.
type NodeID int

// PortKind distinguishes an audio port from an events port.
type PortKind int

const (
	PortAudio PortKind = iota
	PortEvents
)

// NodeKind is the node's role in the fixed five-kind vocabulary (spec.md §3).
type NodeKind int

const (
	NodeNoteSource NodeKind = iota
	NodeSynth
	NodeGain
	NodeMixer
	NodeMaster
)

func (k NodeKind) String() string {
	switch k {
	case NodeNoteSource:
		return "note_source"
	case NodeSynth:
		return "synth"
	case NodeGain:
		return "gain"
	case NodeMixer:
		return "mixer"
	case NodeMaster:
		return "master"
	default:
		return "unknown"
	}
}

// Node is one vertex of the graph. Content is mutated only by the audio
// thread during Process (spec.md §3: "Created at engine construction;
// destroyed at teardown; content mutated only by the audio thread").
type Node struct {
	ID    NodeID
	Kind  NodeKind
	Track int // which track row this node belongs to, -1 for master/mixer

	// Buffer is this node's stereo scratch output, always exactly max_frames
	// long once Prepare has run (spec.md §4.E invariant).
	Buffer abi.AudioBuffer

	// Events is the note_source output queue for this block; a view into
	// eventsBuf, nil-length for every node kind but synth.
	Events abi.SliceInputEvents

	// eventsBuf is the fixed-capacity backing store Events is sliced from
	// each block (spec.md §3.1 EVENT_MAX), so filling it in Graph.Process
	// never allocates on the audio thread (spec.md §5).
	eventsBuf [eventCapacity]abi.NoteEvent

	// Handle is the synth node's instrument plugin reference;
	// pluginhost.NoHandle means "no instrument loaded, output silence"
	// rather than an error (spec.md §7 plugin_load_failed policy).
	Handle pluginhost.HandleID
}

// Connection is an ordered (from, to) edge carrying audio or events
// (spec.md §3 "Connection").
type Connection struct {
	FromNode NodeID
	FromPort int
	ToNode   NodeID
	ToPort   int
	Kind     PortKind
}

// setEvents copies events into the node's fixed-capacity buffer and points
// Events at the resulting slice, without allocating (events beyond
// eventCapacity are dropped — the note source itself already caps at the
// same EVENT_MAX, so this only guards against a mismatched limit).
func (n *Node) setEvents(events []abi.NoteEvent) {
	k := copy(n.eventsBuf[:], events)
	n.Events = abi.SliceInputEvents(n.eventsBuf[:k])
}

func newNodeBuffer(maxFrames uint32) abi.AudioBuffer {
	return abi.AudioBuffer{Channels: [][]float32{
		make([]float32, maxFrames),
		make([]float32, maxFrames),
	}}
}
