package fluxdaw

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fluxdaw/fluxdaw/config"
	"github.com/fluxdaw/fluxdaw/engine"
	"github.com/fluxdaw/fluxdaw/graph"
	"github.com/fluxdaw/fluxdaw/jobpool"
	"github.com/fluxdaw/fluxdaw/midiimport"
	"github.com/fluxdaw/fluxdaw/pluginhost"
	"github.com/fluxdaw/fluxdaw/state"
	"github.com/fluxdaw/fluxdaw/transport"
)

// HostConfig holds the construction-time parameters for a Host.
type HostConfig struct {
	SampleRate   float64
	MaxFrames    uint32
	WorkerCount  int
	ErrorHandler ErrorHandler
	Config       config.Config
}

// Host wires together the job pool, plugin arena, transport, graph and
// audio engine into one running instance (spec.md §2): a single owning
// object with a UUID identity and an ErrorHandler boundary, with
// channel creation/removal and topology serialization flowing through
// Transport + Graph + Arena instead of per-channel native audio nodes.
type Host struct {
	id uuid.UUID

	mu        sync.RWMutex
	isRunning bool

	Transport  *transport.Transport
	Graph      *graph.Graph
	Arena      *pluginhost.Arena
	Pool       *jobpool.Pool
	Shared     *state.SharedState
	Engine     *engine.Engine
	Device     *engine.Device
	Dispatcher *Dispatcher
	Serializer *Serializer

	maxFrames    uint32
	sampleRate   float64
	errorHandler ErrorHandler
}

// NewHost constructs every subsystem and wires a standard per-track
// chain (note_source -> synth -> gain -> mixer -> master) for each of
// transport.TrackMax tracks, then Prepare()s the graph. The caller still
// needs to call Start to open the device and begin the callback stream.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("fluxdaw: SampleRate must be > 0")
	}
	if cfg.MaxFrames == 0 {
		cfg.MaxFrames = 256
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler{}
	}

	pool := jobpool.New(cfg.WorkerCount)
	arena := pluginhost.NewArena()
	tr := transport.NewTransport()
	g := graph.New(cfg.SampleRate, cfg.MaxFrames, arena, pool)
	g.ParallelThreshold = cfg.Config.ParallelThreshold

	mixer := g.AddMixer()
	master := g.AddMaster()
	for t := 0; t < transport.TrackMax; t++ {
		ns := g.AddNoteSource(t)
		synth := g.AddSynth(t)
		gain := g.AddGain(t)
		if err := g.WireStandardTrack(ns, synth, gain); err != nil {
			pool.Close()
			return nil, fmt.Errorf("fluxdaw: %w: %v", ErrInvalidGraph, err)
		}
		if err := g.WireToMixer(gain); err != nil {
			pool.Close()
			return nil, fmt.Errorf("fluxdaw: %w: %v", ErrInvalidGraph, err)
		}
	}
	if err := g.WireMixerToMaster(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("fluxdaw: %w: %v", ErrInvalidGraph, err)
	}
	_ = mixer
	_ = master
	if err := g.Prepare(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("fluxdaw: %w: %v", ErrInvalidGraph, err)
	}

	shared := state.NewSharedState()
	eng := engine.New(g, shared, pool, cfg.SampleRate, cfg.MaxFrames,
		cfg.Config.WorkerMinSleepNS, cfg.Config.WorkerMaxSleepNS, zerolog.Nop())

	h := &Host{
		id:           uuid.New(),
		Transport:    tr,
		Graph:        g,
		Arena:        arena,
		Pool:         pool,
		Shared:       shared,
		Engine:       eng,
		maxFrames:    cfg.MaxFrames,
		sampleRate:   cfg.SampleRate,
		errorHandler: cfg.ErrorHandler,
	}
	h.Dispatcher = NewDispatcher(h)
	h.Serializer = NewSerializer(h)
	return h, nil
}

// ID returns the host's identity.
func (h *Host) ID() uuid.UUID { return h.id }

// loadedHandles enumerates every plugin handle currently referenced by the
// track matrix (instruments and effects alike), for control-API operations
// that must walk the whole plugin population — such as the buffer-size
// change sequence in dispatcher.go, which has to stop/deactivate every
// loaded plugin before the graph is resized and reactivate them after.
func (h *Host) loadedHandles() []pluginhost.HandleID {
	var handles []pluginhost.HandleID
	for _, t := range h.Transport.Tracks {
		if t.Instrument.Valid() {
			handles = append(handles, t.Instrument)
		}
		for _, fx := range t.Effects {
			if fx.Handle.Valid() {
				handles = append(handles, fx.Handle)
			}
		}
	}
	return handles
}

// Start opens the default audio output device and begins the callback
// stream.
func (h *Host) Start(sampleRate int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isRunning {
		return fmt.Errorf("fluxdaw: host already running")
	}
	dev, err := engine.NewDevice(h.Engine, sampleRate, h.maxFrames)
	if err != nil {
		return fmt.Errorf("fluxdaw: opening audio device: %w", err)
	}
	if err := h.Dispatcher.Start(); err != nil {
		return fmt.Errorf("fluxdaw: starting dispatcher: %w", err)
	}
	h.Device = dev
	h.Device.Start()
	h.isRunning = true
	return nil
}

// PushSnapshot implements spec.md §6's single push_snapshot entry point:
// it copies the UI-owned Transport/Track state into a state.StateSnapshot
// and hands it to SharedState for the audio thread to pick up on its next
// block. This is the only path by which UI-thread mutation reaches the
// audio thread.
func (h *Host) PushSnapshot() {
	tr := h.Transport
	var snap state.StateSnapshot
	snap.Playing = tr.Playing
	snap.BPM = tr.BPM
	snap.PlayheadBeat = tr.PlayheadBeat

	for t := 0; t < transport.TrackMax; t++ {
		track := tr.Tracks[t]
		held, vel := track.SnapshotLiveKeys()
		effects := make([]pluginhost.HandleID, len(track.Effects))
		for i, fx := range track.Effects {
			effects[i] = fx.Handle
		}
		snap.Tracks[t] = state.SnapshotTrack{
			Volume:       track.Volume,
			Mute:         track.Mute,
			Solo:         track.Solo,
			Instrument:   track.Instrument,
			Effects:      effects,
			LiveKeys:     held,
			LiveVelocity: vel,
		}
		for s := 0; s < transport.SceneMax; s++ {
			slot := tr.Clips[t][s]
			snap.Slots[t][s] = state.SnapshotSlot{State: slot.State}
			if slot.Clip == nil {
				continue
			}
			clip := state.SnapshotClip{
				Present:     true,
				LengthBeats: slot.LengthBeats,
				NoteCount:   len(slot.Clip.Notes),
			}
			for i, n := range slot.Clip.Notes {
				if i >= len(clip.Notes) {
					break
				}
				clip.Notes[i] = state.SnapshotNote{
					Pitch:           int16(n.Pitch),
					Start:           n.Start,
					Duration:        n.Duration,
					Velocity:        n.Velocity,
					ReleaseVelocity: n.ReleaseVelocity,
				}
			}
			snap.Clips[t][s] = clip
		}
	}

	h.Shared.WriteSnapshot(snap)
}

// ImportClip parses a Standard MIDI File and installs the resulting
// PianoClip into the given track/scene cell (supplementing spec.md
// §4.G's record-arm path with file-based clip creation).
func (h *Host) ImportClip(track, scene int, smfData []byte) error {
	if track < 0 || track >= transport.TrackMax || scene < 0 || scene >= transport.SceneMax {
		return fmt.Errorf("fluxdaw: track %d / scene %d out of range", track, scene)
	}
	clip, err := midiimport.FromBytes(smfData)
	if err != nil {
		return fmt.Errorf("fluxdaw: importing clip: %w", err)
	}
	slot := h.Transport.Clips[track][scene]
	slot.Clip = clip
	slot.LengthBeats = clip.LengthBeats
	slot.State = transport.SlotStopped
	return nil
}

// Tick advances the transport's playhead by dt and then republishes the
// snapshot, so a UI-thread scheduler can drive both from one call.
func (h *Host) Tick(dt time.Duration) {
	h.Transport.Tick(dt.Seconds())
	h.PushSnapshot()
}

// Stop halts the device stream and waits for any in-flight block to
// finish before returning.
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isRunning {
		return nil
	}
	if h.Device != nil {
		if err := h.Device.Stop(); err != nil {
			h.errorHandler.HandleError(fmt.Errorf("fluxdaw: stopping device: %w", err))
		}
	}
	if err := h.Dispatcher.Stop(); err != nil {
		h.errorHandler.HandleError(fmt.Errorf("fluxdaw: stopping dispatcher: %w", err))
	}
	h.Shared.WaitForIdle()
	h.Pool.Close()
	h.isRunning = false
	return nil
}
