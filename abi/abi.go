// Package abi defines the plugin ABI contract consumed by pluginhost: the
// thin surface a dynamically loaded instrument/effect must expose so the
// host can negotiate extensions and drive its lifecycle. Modeled after the
// CLAP-shaped entry/factory/plugin vtables described in spec.md §6, with Go
// interfaces standing in for the C vtable.
package abi

import "fmt"

// ProcessStatus is the per-block return code from Plugin.Process.
type ProcessStatus int32

const (
	ProcessError ProcessStatus = iota
	ProcessContinue
	ProcessContinueIfNotQuiet
	ProcessTail
	ProcessSleep
)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessError:
		return "error"
	case ProcessContinue:
		return "continue"
	case ProcessContinueIfNotQuiet:
		return "continue_if_not_quiet"
	case ProcessTail:
		return "tail"
	case ProcessSleep:
		return "sleep"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// EventType enumerates the event kinds the host and plugin exchange.
type EventType uint16

const (
	EventNoteOn EventType = iota
	EventNoteOff
	EventNoteEnd
	EventNoteChoke
	EventTransport
)

// EventHeader is the common prefix of every queued event, mirroring the
// wire-shaped struct in spec.md §6.
type EventHeader struct {
	Size         uint32
	SampleOffset uint32
	SpaceID      uint16
	Type         EventType
	Flags        uint32
}

// NoteEvent is a note_on/note_off/note_end/note_choke body.
type NoteEvent struct {
	Header    EventHeader
	NoteID    int32
	PortIndex int16
	Channel   int16
	Key       int16
	Velocity  float64
}

// TransportInfo is the read-only transport view supplied to Process.
type TransportInfo struct {
	Tempo           float64
	BeatPosition    float64
	SecondsPosition float64
	BarStartBeat    float64
	BarNumber       int32
	Playing         bool
}

// AudioBuffer is a set of per-channel float32 sample slices, each exactly
// frameCount long. Nil/empty Channels means "no buffer" (synth inputs).
type AudioBuffer struct {
	Channels [][]float32
}

// FrameCount returns the length of the first channel, or 0 if empty.
func (b *AudioBuffer) FrameCount() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Zero fills every channel with silence.
func (b *AudioBuffer) Zero() {
	if b == nil {
		return
	}
	for _, ch := range b.Channels {
		for i := range ch {
			ch[i] = 0
		}
	}
}

// InputEvents is a read-only, time-ordered view over events landing in a block.
type InputEvents interface {
	Len() int
	Get(i int) NoteEvent
}

// OutputEvents is a sink a plugin may push events into during Process.
type OutputEvents interface {
	Push(e NoteEvent)
}

// SliceInputEvents adapts a plain slice to InputEvents.
type SliceInputEvents []NoteEvent

func (s SliceInputEvents) Len() int            { return len(s) }
func (s SliceInputEvents) Get(i int) NoteEvent { return s[i] }

// SliceOutputEvents is a growable OutputEvents backed by a slice.
type SliceOutputEvents struct {
	Events []NoteEvent
}

func (s *SliceOutputEvents) Push(e NoteEvent) { s.Events = append(s.Events, e) }

// ProcessContext is the per-block argument bundle passed to Plugin.Process,
// mirroring spec.md §6's Process struct.
type ProcessContext struct {
	SteadyTime   int64
	FramesCount  uint32
	Transport    *TransportInfo
	AudioInputs  *AudioBuffer
	AudioOutputs *AudioBuffer
	InEvents     InputEvents
	OutEvents    OutputEvents
}

// HostContext is the callback surface the host exposes back to a plugin
// (the reverse direction of the ABI: plugin -> host).
type HostContext interface {
	// RequestProcess asks the host to not skip this plugin's Process call
	// even if it previously returned ProcessSleep.
	RequestProcess()
	// RequestCallback asks the host to invoke Plugin.OnMainThread soon.
	RequestCallback()
	// GetExtension looks up a host-side extension by stable string ID.
	// Returns nil if unknown.
	GetExtension(id string) any
}

// Descriptor is static plugin metadata returned by a Factory.
type Descriptor struct {
	ID     string
	Name   string
	Vendor string
}

// Plugin is the per-instance vtable a loaded plugin exposes.
type Plugin interface {
	Init() bool
	Destroy()
	Activate(sampleRate float64, minFrames, maxFrames uint32) bool
	Deactivate()
	StartProcessing() bool
	StopProcessing()
	Process(ctx *ProcessContext) ProcessStatus
	// GetExtension looks up a plugin-side extension by stable string ID
	// (e.g. ExtThreadPool, ExtState). Returns nil if unsupported.
	GetExtension(id string) any
	OnMainThread()
}

// Factory enumerates and instantiates plugins from a loaded library.
type Factory interface {
	PluginCount() uint32
	Descriptor(i uint32) *Descriptor
	CreatePlugin(host HostContext, id string) Plugin
}

// Entry is the top-level symbol a dynamically loaded plugin library exposes.
type Entry interface {
	Init(path string) bool
	Deinit()
	GetFactory(id string) Factory
}

// Stable extension IDs negotiated during Entry.Init / Factory.CreatePlugin.
const (
	ExtThreadPool  = "thread_pool"
	ExtThreadCheck = "thread_check"
	ExtState       = "state"
	FactoryIDPlugin = "plugin-factory"
)
