package graph

import (
	"testing"

	"github.com/fluxdaw/fluxdaw/jobpool"
	"github.com/fluxdaw/fluxdaw/pluginhost"
	"github.com/fluxdaw/fluxdaw/state"
)

func buildSingleTrackGraph(t *testing.T, maxFrames uint32) (*Graph, NodeID, NodeID, NodeID) {
	t.Helper()
	pool := jobpool.New(2)
	t.Cleanup(pool.Close)
	arena := pluginhost.NewArena()
	g := New(48000, maxFrames, arena, pool)

	ns := g.AddNoteSource(0)
	synth := g.AddSynth(0)
	gain := g.AddGain(0)
	mixer := g.AddMixer()
	master := g.AddMaster()

	if err := g.WireStandardTrack(ns, synth, gain); err != nil {
		t.Fatalf("WireStandardTrack: %v", err)
	}
	if err := g.WireToMixer(gain); err != nil {
		t.Fatalf("WireToMixer: %v", err)
	}
	if err := g.WireMixerToMaster(); err != nil {
		t.Fatalf("WireMixerToMaster: %v", err)
	}
	if err := g.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return g, synth, mixer, master
}

func TestPrepareProducesValidTopologicalOrder(t *testing.T) {
	g, synth, mixer, master := buildSingleTrackGraph(t, 256)
	order := g.RenderOrder()
	if len(order) != len(g.nodes) {
		t.Fatalf("render order has %d entries, want %d", len(order), len(g.nodes))
	}
	pos := map[NodeID]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos[synth] >= pos[mixer] {
		t.Fatal("synth must be ordered before mixer")
	}
	if pos[mixer] >= pos[master] {
		t.Fatal("mixer must be ordered before master")
	}
}

func TestPrepareDetectsCycle(t *testing.T) {
	pool := jobpool.New(1)
	defer pool.Close()
	arena := pluginhost.NewArena()
	g := New(48000, 64, arena, pool)
	a := g.AddGain(0)
	b := g.AddGain(1)
	if err := g.Connect(a, 0, b, 0, PortAudio); err != nil {
		t.Fatal(err)
	}
	if err := g.Connect(b, 0, a, 0, PortAudio); err != nil {
		t.Fatal(err)
	}
	if err := g.Prepare(); err == nil {
		t.Fatal("expected Prepare to reject a cyclic graph")
	}
}

func TestProcessWithNoInstrumentOutputsSilence(t *testing.T) {
	g, _, _, _ := buildSingleTrackGraph(t, 256)
	snap := &state.StateSnapshot{Playing: false}

	if err := g.Process(snap, 256, 0); err != nil {
		t.Fatalf("Process: %v", err)
	}
	buf, ok := g.MasterBuffer()
	if !ok {
		t.Fatal("expected a master buffer")
	}
	for _, ch := range buf.Channels {
		for _, s := range ch {
			if s != 0 {
				t.Fatal("expected silence with no instrument loaded")
			}
		}
	}
}

func TestProcessRejectsOversizedBlock(t *testing.T) {
	g, _, _, _ := buildSingleTrackGraph(t, 64)
	snap := &state.StateSnapshot{}
	if err := g.Process(snap, 128, 0); err == nil {
		t.Fatal("expected an error when frame_count exceeds max_frames")
	}
}

func TestMuteZerosGainOutput(t *testing.T) {
	g, _, _, _ := buildSingleTrackGraph(t, 256)
	snap := &state.StateSnapshot{Playing: false}
	snap.Tracks[0].Volume = 1
	snap.Tracks[0].Mute = true

	if err := g.Process(snap, 256, 0); err != nil {
		t.Fatalf("Process: %v", err)
	}
	gainNode := g.nodes[g.trackGain[0]]
	for _, ch := range gainNode.Buffer.Channels {
		for _, s := range ch {
			if s != 0 {
				t.Fatal("muted track's gain buffer should be all zero")
			}
		}
	}
}
