package graph

import (
	"fmt"

	"github.com/fluxdaw/fluxdaw/abi"
	"github.com/fluxdaw/fluxdaw/jobpool"
	"github.com/fluxdaw/fluxdaw/notesource"
	"github.com/fluxdaw/fluxdaw/pluginhost"
	"github.com/fluxdaw/fluxdaw/state"
)

// DefaultParallelThreshold is the active-synth count below which the graph
// runs synths sequentially rather than paying job-pool dispatch overhead
// (spec.md §4.E).
const DefaultParallelThreshold = 3

// Graph owns every Node and Connection and exposes the single
// Process(snapshot, frame_count, steady_time) entry point the engine calls
// once per block (spec.md §4.E).
type Graph struct {
	nodes       []*Node
	connections []Connection
	renderOrder []NodeID

	sampleRate float64
	maxFrames  uint32
	prepared   bool

	arena *pluginhost.Arena
	pool  *jobpool.Pool

	noteSources [state.TrackMax]*notesource.NoteSource
	trackSynth  [state.TrackMax]NodeID
	trackGain   [state.TrackMax]NodeID
	hasSynth    [state.TrackMax]bool
	hasGain     [state.TrackMax]bool

	mixerNode  NodeID
	masterNode NodeID
	hasMixer   bool
	hasMaster  bool

	ParallelThreshold int
}

// New returns an empty, unprepared Graph. arena resolves synth Handles;
// pool dispatches the active-synth batch.
func New(sampleRate float64, maxFrames uint32, arena *pluginhost.Arena, pool *jobpool.Pool) *Graph {
	g := &Graph{
		sampleRate:        sampleRate,
		maxFrames:         maxFrames,
		arena:             arena,
		pool:              pool,
		ParallelThreshold: DefaultParallelThreshold,
	}
	for t := range g.noteSources {
		g.noteSources[t] = notesource.New()
	}
	return g
}

func (g *Graph) addNode(kind NodeKind, track int) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Node{ID: id, Kind: kind, Track: track, Buffer: newNodeBuffer(g.maxFrames)})
	g.prepared = false
	return id
}

// AddNoteSource adds a note_source node for track.
func (g *Graph) AddNoteSource(track int) NodeID { return g.addNode(NodeNoteSource, track) }

// AddSynth adds a synth node for track and records it as that track's
// instrument node.
func (g *Graph) AddSynth(track int) NodeID {
	id := g.addNode(NodeSynth, track)
	g.trackSynth[track] = id
	g.hasSynth[track] = true
	return id
}

// AddGain adds a gain node for track (spec.md §4.E: "exactly one audio
// input, one synth upstream").
func (g *Graph) AddGain(track int) NodeID {
	id := g.addNode(NodeGain, track)
	g.trackGain[track] = id
	g.hasGain[track] = true
	return id
}

// AddMixer adds the single mixer node.
func (g *Graph) AddMixer() NodeID {
	id := g.addNode(NodeMixer, -1)
	g.mixerNode = id
	g.hasMixer = true
	return id
}

// AddMaster adds the single master node.
func (g *Graph) AddMaster() NodeID {
	id := g.addNode(NodeMaster, -1)
	g.masterNode = id
	g.hasMaster = true
	return id
}

// Connect records an edge from (fromNode, fromPort) to (toNode, toPort).
func (g *Graph) Connect(from NodeID, fromPort int, to NodeID, toPort int, kind PortKind) error {
	if int(from) >= len(g.nodes) || int(to) >= len(g.nodes) {
		return fmt.Errorf("graph: invalid_graph: connection references an unknown node")
	}
	g.connections = append(g.connections, Connection{FromNode: from, FromPort: fromPort, ToNode: to, ToPort: toPort, Kind: kind})
	g.prepared = false
	return nil
}

// WireStandardTrack connects note_source -> synth (events) and
// synth -> gain (audio) for one track, the shape every track uses.
func (g *Graph) WireStandardTrack(noteSrc, synth, gain NodeID) error {
	if err := g.Connect(noteSrc, 0, synth, 0, PortEvents); err != nil {
		return err
	}
	return g.Connect(synth, 0, gain, 0, PortAudio)
}

// WireToMixer connects a gain node's audio output into the mixer.
func (g *Graph) WireToMixer(gain NodeID) error {
	return g.Connect(gain, 0, g.mixerNode, 0, PortAudio)
}

// WireMixerToMaster connects the mixer's audio output into master.
func (g *Graph) WireMixerToMaster() error {
	return g.Connect(g.mixerNode, 0, g.masterNode, 0, PortAudio)
}

// Prepare computes render_order via Kahn's algorithm, ties broken by
// insertion order (spec.md §4.E). Returns invalid_graph on any cycle.
func (g *Graph) Prepare() error {
	n := len(g.nodes)
	inDegree := make([]int, n)
	adj := make([][]NodeID, n)
	for _, c := range g.connections {
		adj[c.FromNode] = append(adj[c.FromNode], c.ToNode)
		inDegree[c.ToNode]++
	}

	queue := make([]NodeID, 0, n)
	for id := 0; id < n; id++ {
		if inDegree[id] == 0 {
			queue = append(queue, NodeID(id))
		}
	}

	order := make([]NodeID, 0, n)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != n {
		return fmt.Errorf("graph: invalid_graph: cycle detected (%d of %d nodes ordered)", len(order), n)
	}

	g.renderOrder = order
	g.prepared = true
	return nil
}

// RenderOrder exposes the computed topological order, for tests.
func (g *Graph) RenderOrder() []NodeID { return g.renderOrder }

// Resize reallocates every node's scratch Buffer at newMaxFrames and
// updates the bound Process checks frameCount against (spec.md §4.F's
// buffer-size change sequence). The caller is responsible for having
// already quiesced the audio thread (state.SharedState.WaitForIdle) before
// calling this, same as every other topology-changing operation.
func (g *Graph) Resize(newMaxFrames uint32) error {
	if newMaxFrames == 0 {
		return fmt.Errorf("graph: max_frames must be > 0")
	}
	for _, n := range g.nodes {
		n.Buffer = newNodeBuffer(newMaxFrames)
	}
	g.maxFrames = newMaxFrames
	return nil
}

// synthIsSleeping reports whether the synth's plugin handle is currently
// skipping Process calls.
func (g *Graph) synthIsSleeping(handle pluginhost.HandleID, hasEvents bool) bool {
	h, ok := g.arena.Resolve(handle)
	if !ok {
		return true
	}
	return h.ShouldSkipProcess(hasEvents)
}

// Process runs one block through every render step in spec.md §4.E order:
// solo scan, note sources, active-synth dispatch, gain, mixer, master.
func (g *Graph) Process(snap *state.StateSnapshot, frameCount uint32, steadyTime int64) error {
	if !g.prepared {
		return fmt.Errorf("graph: invalid_graph: Process called before a successful Prepare")
	}
	if frameCount > g.maxFrames {
		return fmt.Errorf("graph: frame_count %d exceeds max_frames %d", frameCount, g.maxFrames)
	}

	// Step 1: solo_active.
	soloActive := false
	for t := 0; t < state.TrackMax; t++ {
		if snap.Tracks[t].Solo {
			soloActive = true
			break
		}
	}

	// Step 2: run every note source in sequence.
	for t := 0; t < state.TrackMax; t++ {
		if !g.hasSynth[t] {
			continue
		}
		events := g.noteSources[t].Process(snap, t, g.sampleRate, frameCount)
		g.nodes[g.trackSynth[t]].setEvents(events)
	}

	// Step 3: active-synth set.
	type task struct {
		node   NodeID
		track  int
		handle pluginhost.HandleID
	}
	var active []task
	for t := 0; t < state.TrackMax; t++ {
		if !g.hasSynth[t] {
			continue
		}
		handle := snap.Tracks[t].Instrument
		if !handle.Valid() {
			g.nodes[g.trackSynth[t]].Buffer.Zero()
			continue
		}
		hasEvents := g.nodes[g.trackSynth[t]].Events.Len() > 0
		if g.synthIsSleeping(handle, hasEvents) {
			g.nodes[g.trackSynth[t]].Buffer.Zero()
			continue
		}
		active = append(active, task{node: g.trackSynth[t], track: t, handle: handle})
	}

	// Step 4: dispatch (parallel above threshold, sequential otherwise).
	runSynth := func(_ any, i int) {
		t := active[i]
		node := g.nodes[t.node]
		node.Buffer.Zero()
		h, ok := g.arena.Resolve(t.handle)
		if !ok {
			return
		}
		ctx := &abi.ProcessContext{
			SteadyTime:   steadyTime,
			FramesCount:  frameCount,
			AudioInputs:  nil,
			AudioOutputs: &node.Buffer,
			InEvents:     node.Events,
			OutEvents:    &abi.SliceOutputEvents{},
		}
		h.Process(ctx)
	}
	if len(active) >= g.ParallelThreshold {
		g.pool.SubmitBatch(len(active), runSynth, nil)
	} else {
		for i := range active {
			runSynth(nil, i)
		}
	}

	// Step 5: gain nodes.
	for t := 0; t < state.TrackMax; t++ {
		if !g.hasGain[t] {
			continue
		}
		gain := g.nodes[g.trackGain[t]]
		if g.hasSynth[t] {
			copyBuffer(&gain.Buffer, &g.nodes[g.trackSynth[t]].Buffer, frameCount)
		} else {
			gain.Buffer.Zero()
		}
		mul := snap.Tracks[t].Volume
		if snap.Tracks[t].Mute || (soloActive && !snap.Tracks[t].Solo) {
			mul = 0
		}
		scaleBuffer(&gain.Buffer, mul, frameCount)
	}

	// Step 6: mixer and master, in render order, summing audio inputs.
	for _, id := range g.renderOrder {
		node := g.nodes[id]
		if node.Kind != NodeMixer && node.Kind != NodeMaster {
			continue
		}
		node.Buffer.Zero()
		for _, c := range g.connections {
			if c.ToNode != id || c.Kind != PortAudio {
				continue
			}
			addBuffer(&node.Buffer, &g.nodes[c.FromNode].Buffer, frameCount)
		}
	}

	return nil
}

// MasterBuffer returns the master node's stereo output for the device
// callback to copy out, or (nil, false) if no master node exists yet.
func (g *Graph) MasterBuffer() (*abi.AudioBuffer, bool) {
	if !g.hasMaster {
		return nil, false
	}
	return &g.nodes[g.masterNode].Buffer, true
}

func copyBuffer(dst, src *abi.AudioBuffer, frameCount uint32) {
	for c := range dst.Channels {
		if c >= len(src.Channels) {
			continue
		}
		copy(dst.Channels[c][:frameCount], src.Channels[c][:frameCount])
	}
}

func scaleBuffer(b *abi.AudioBuffer, mul float32, frameCount uint32) {
	for _, ch := range b.Channels {
		for i := uint32(0); i < frameCount; i++ {
			ch[i] *= mul
		}
	}
}

func addBuffer(dst, src *abi.AudioBuffer, frameCount uint32) {
	for c := range dst.Channels {
		if c >= len(src.Channels) {
			continue
		}
		for i := uint32(0); i < frameCount; i++ {
			dst.Channels[c][i] += src.Channels[c][i]
		}
	}
}
