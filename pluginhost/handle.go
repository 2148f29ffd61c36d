// Package pluginhost implements the plugin lifecycle adapter (spec.md
// §4.D) and the thread-pool fan-out bridge (§4.H): loading a plugin
// library, walking it through init -> activate -> (start/stop)_processing
// -> deactivate -> destroy under the ABI's strict per-call thread rules,
// and negotiating the thread_pool / thread_check extensions.
//
// Plugin identity crosses the UI/audio snapshot boundary as raw pointers in
// the source material; spec.md §9's Design Note replaces that with an
// arena of handles addressed by a (index, generation) pair, so a stale
// snapshot can never resolve to a handle that has since been reused.
package pluginhost

import (
	"fmt"
	"sync"

	"github.com/fluxdaw/fluxdaw/abi"
)

// HandleID addresses a PluginHandle inside an Arena. Generation guards
// against a snapshot holding a stale index after the slot is reused.
type HandleID struct {
	Index      int32
	Generation uint32
}

// NoHandle is the "no plugin" reference. It is not the zero value of
// HandleID: the zero value has Index 0, is Valid, and addresses slot 0.
var NoHandle = HandleID{Index: -1}

// Valid reports whether h addresses a slot at all (cheaply, without
// consulting the arena — Arena.Resolve still re-checks the generation).
func (h HandleID) Valid() bool { return h.Index >= 0 }

// LifecycleState is the plugin instance state machine (spec.md §4.D).
type LifecycleState int32

const (
	StateUnloaded LifecycleState = iota
	StateLoaded
	StateInitialized
	StateActivated
	StateProcessingStarted
	StateDeactivated
	StateDestroyed
	StateDead // consecutive-error limit exceeded; held silent until reload
)

func (s LifecycleState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	case StateActivated:
		return "activated"
	case StateProcessingStarted:
		return "processing_started"
	case StateDeactivated:
		return "deactivated"
	case StateDestroyed:
		return "destroyed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ConsecutiveErrorLimit is the default N from spec.md §7 after which a
// plugin is marked dead until the UI requests a reload.
const ConsecutiveErrorLimit = 32

// PluginHandle owns one loaded plugin instance: its dynamic library (a
// loadedLibrary, see loader.go), the ABI entry/factory/plugin pointers, and
// lifecycle flags.
// Mutated only by the thread the ABI assigns each call to (§5): UI thread
// for init/activate/deactivate/destroy, audio thread for
// start/stop_processing and process.
type PluginHandle struct {
	mu sync.Mutex // guards state transitions only, never held during Process

	id       HandleID
	path     string
	lib      *loadedLibrary
	entry    abi.Entry
	factory  abi.Factory
	plugin   abi.Plugin
	state    LifecycleState
	sleeping bool
	woken    bool

	consecutiveErrors int
	extensions        *extensionSet
}

// ID returns the handle's arena address.
func (h *PluginHandle) ID() HandleID { return h.id }

// State returns the current lifecycle state.
func (h *PluginHandle) State() LifecycleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Path returns the library path the handle was loaded from.
func (h *PluginHandle) Path() string { return h.path }

// Sleeping reports whether the adapter is currently skipping Process calls
// for this node after a ProcessSleep return (spec.md §4.D).
func (h *PluginHandle) Sleeping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sleeping
}

// RequestWake marks the handle as woken so the next block resumes Process
// calls even while it is sleeping, mirroring a plugin's request_process host
// callback. The sleeping flag itself stays set until Process returns a
// status other than ProcessSleep.
func (h *PluginHandle) RequestWake() {
	h.mu.Lock()
	h.woken = true
	h.mu.Unlock()
}

// Activate transitions initialized -> activated. Main/UI thread only; must
// not be called while any block is in flight (spec.md §4.D).
func (h *PluginHandle) Activate(sampleRate float64, minFrames, maxFrames uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateInitialized && h.state != StateDeactivated {
		return fmt.Errorf("pluginhost: activate called in state %s", h.state)
	}
	if !h.plugin.Activate(sampleRate, minFrames, maxFrames) {
		return fmt.Errorf("pluginhost: %s: activate returned false", h.path)
	}
	h.state = StateActivated
	return nil
}

// Deactivate transitions activated -> deactivated. Main/UI thread only;
// requires stop_processing to have already run.
func (h *PluginHandle) Deactivate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateActivated {
		return fmt.Errorf("pluginhost: deactivate called in state %s", h.state)
	}
	h.plugin.Deactivate()
	h.state = StateDeactivated
	return nil
}

// Destroy releases the plugin instance and unloads the library. Main/UI
// thread only.
func (h *PluginHandle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateDeactivated && h.state != StateInitialized && h.state != StateDead {
		return fmt.Errorf("pluginhost: destroy called in state %s", h.state)
	}
	h.plugin.Destroy()
	if h.lib != nil {
		h.lib.Close()
	}
	h.state = StateDestroyed
	return nil
}

// StartProcessing transitions activated -> processing_started. Audio
// thread only.
func (h *PluginHandle) StartProcessing() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateActivated {
		return fmt.Errorf("pluginhost: start_processing called in state %s", h.state)
	}
	if !h.plugin.StartProcessing() {
		return fmt.Errorf("pluginhost: %s: start_processing returned false", h.path)
	}
	h.state = StateProcessingStarted
	return nil
}

// StopProcessing transitions processing_started -> activated. Audio
// thread only. Required before Deactivate.
func (h *PluginHandle) StopProcessing() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateProcessingStarted {
		return fmt.Errorf("pluginhost: stop_processing called in state %s", h.state)
	}
	h.plugin.StopProcessing()
	h.state = StateActivated
	return nil
}

// Process invokes the plugin's per-block process call. Audio thread only.
// On ProcessError, outputs are left as whatever the caller zeroed them to
// and the consecutive-error counter advances; after ConsecutiveErrorLimit
// the handle is marked StateDead and every subsequent block is skipped
// until the UI calls Reset.
func (h *PluginHandle) Process(ctx *abi.ProcessContext) abi.ProcessStatus {
	h.mu.Lock()
	state := h.state
	dead := h.state == StateDead
	h.mu.Unlock()
	if dead {
		ctx.AudioOutputs.Zero()
		return abi.ProcessError
	}
	if state != StateProcessingStarted {
		ctx.AudioOutputs.Zero()
		return abi.ProcessError
	}

	status := h.plugin.Process(ctx)

	h.mu.Lock()
	switch status {
	case abi.ProcessError:
		h.consecutiveErrors++
		if h.consecutiveErrors >= ConsecutiveErrorLimit {
			h.state = StateDead
		}
	case abi.ProcessSleep:
		h.consecutiveErrors = 0
		h.sleeping = true
		h.woken = false
	default:
		h.consecutiveErrors = 0
		h.sleeping = false
	}
	h.mu.Unlock()

	if status == abi.ProcessError {
		ctx.AudioOutputs.Zero()
	}
	return status
}

// ShouldSkipProcess reports whether the adapter should skip calling
// Process this block: the plugin is sleeping, has no input events, and has
// not been woken (spec.md §4.D "sleep" handling).
func (h *PluginHandle) ShouldSkipProcess(hasInputEvents bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDead {
		return true
	}
	if !h.sleeping {
		return false
	}
	if hasInputEvents || h.woken {
		return false
	}
	return true
}

// Reset clears the dead/error state so the UI can retry after a reload.
func (h *PluginHandle) Reset() {
	h.mu.Lock()
	h.consecutiveErrors = 0
	if h.state == StateDead {
		// Only a processing_started handle can go dead (Process requires
		// it), and stop_processing was never called, so restore that state.
		h.state = StateProcessingStarted
	}
	h.mu.Unlock()
}

// Extensions returns the negotiated plugin-side extension set (thread_pool,
// state), discovered during Init. thread_check is answered on the host side
// by ThreadRegistry and is not part of this set.
func (h *PluginHandle) Extensions() *extensionSet { return h.extensions }
