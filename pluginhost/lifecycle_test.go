package pluginhost

import (
	"testing"

	"github.com/fluxdaw/fluxdaw/abi"
)

// fakePlugin is a minimal in-process stand-in for a dynamically loaded
// abi.Plugin, used so lifecycle/extension tests never need a real binary or
// purego.Dlopen.
type fakePlugin struct {
	activated  bool
	processing bool
	destroyed  bool

	processStatus abi.ProcessStatus
	processCalls  int

	threadPool PluginThreadPool
	state      PluginState
}

func (p *fakePlugin) Init() bool { return true }
func (p *fakePlugin) Destroy()   { p.destroyed = true }
func (p *fakePlugin) Activate(sampleRate float64, minFrames, maxFrames uint32) bool {
	p.activated = true
	return true
}
func (p *fakePlugin) Deactivate()          { p.activated = false }
func (p *fakePlugin) StartProcessing() bool { p.processing = true; return true }
func (p *fakePlugin) StopProcessing()       { p.processing = false }
func (p *fakePlugin) Process(ctx *abi.ProcessContext) abi.ProcessStatus {
	p.processCalls++
	return p.processStatus
}
func (p *fakePlugin) OnMainThread() {}
func (p *fakePlugin) GetExtension(id string) any {
	switch id {
	case abi.ExtThreadPool:
		if p.threadPool == nil {
			return nil
		}
		return p.threadPool
	case abi.ExtState:
		if p.state == nil {
			return nil
		}
		return p.state
	default:
		return nil
	}
}

func newActivatedHandle(t *testing.T, p *fakePlugin) *PluginHandle {
	t.Helper()
	a := NewArena()
	id, err := a.AdoptForTesting("fake://"+t.Name(), p)
	if err != nil {
		t.Fatalf("AdoptForTesting: %v", err)
	}
	h, ok := a.Resolve(id)
	if !ok {
		t.Fatal("Resolve returned false immediately after adopt")
	}
	if err := h.Activate(48000, 32, 512); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := h.StartProcessing(); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	return h
}

func TestLifecycleHappyPath(t *testing.T) {
	p := &fakePlugin{processStatus: abi.ProcessContinue}
	a := NewArena()
	id, err := a.AdoptForTesting("fake://happy", p)
	if err != nil {
		t.Fatalf("AdoptForTesting: %v", err)
	}
	h, ok := a.Resolve(id)
	if !ok {
		t.Fatal("Resolve failed")
	}
	if h.State() != StateInitialized {
		t.Fatalf("state = %s, want initialized", h.State())
	}
	if err := h.Activate(48000, 32, 512); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := h.StartProcessing(); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	if h.State() != StateProcessingStarted {
		t.Fatalf("state = %s, want processing_started", h.State())
	}
	if err := h.StopProcessing(); err != nil {
		t.Fatalf("StopProcessing: %v", err)
	}
	if err := h.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := a.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if !p.destroyed {
		t.Fatal("expected Destroy to be called")
	}
	if _, ok := a.Resolve(id); ok {
		t.Fatal("Resolve should fail after Free (stale generation)")
	}
}

func TestDeactivateBeforeStopProcessingFails(t *testing.T) {
	p := &fakePlugin{processStatus: abi.ProcessContinue}
	h := newActivatedHandle(t, p)
	if err := h.Deactivate(); err == nil {
		t.Fatal("expected Deactivate to fail while still processing_started")
	}
}

func TestConsecutiveErrorLimitMarksDead(t *testing.T) {
	p := &fakePlugin{processStatus: abi.ProcessError}
	h := newActivatedHandle(t, p)

	out := &abi.AudioBuffer{Channels: [][]float32{{1, 1, 1, 1}}}
	ctx := &abi.ProcessContext{AudioOutputs: out}

	for i := 0; i < ConsecutiveErrorLimit; i++ {
		if h.State() == StateDead {
			t.Fatalf("went dead after %d errors, want %d", i, ConsecutiveErrorLimit)
		}
		status := h.Process(ctx)
		if status != abi.ProcessError {
			t.Fatalf("Process returned %s, want error", status)
		}
		for _, s := range out.Channels[0] {
			if s != 0 {
				t.Fatal("AudioOutputs should be zeroed after a process_error")
			}
		}
		out.Channels[0][0] = 1 // re-arm the zero check for the next iteration
	}
	if h.State() != StateDead {
		t.Fatalf("state = %s, want dead after %d consecutive errors", h.State(), ConsecutiveErrorLimit)
	}

	status := h.Process(ctx)
	if status != abi.ProcessError {
		t.Fatalf("Process on a dead handle returned %s, want error", status)
	}
	if p.processCalls != ConsecutiveErrorLimit {
		t.Fatalf("plugin.Process called %d times, want %d (dead handle must skip the underlying call)", p.processCalls, ConsecutiveErrorLimit)
	}

	h.Reset()
	if h.State() != StateProcessingStarted {
		t.Fatalf("state after Reset = %s, want processing_started", h.State())
	}
}

func TestShouldSkipProcessRespectsSleepAndWake(t *testing.T) {
	p := &fakePlugin{processStatus: abi.ProcessSleep}
	h := newActivatedHandle(t, p)

	out := &abi.AudioBuffer{Channels: [][]float32{{1}}}
	h.Process(&abi.ProcessContext{AudioOutputs: out})
	if !h.Sleeping() {
		t.Fatal("expected handle to be sleeping after process_sleep")
	}
	if !h.ShouldSkipProcess(false) {
		t.Fatal("expected skip while sleeping with no input events and no wake")
	}
	if h.ShouldSkipProcess(true) {
		t.Fatal("pending input events must force a Process call even while sleeping")
	}
	h.RequestWake()
	if h.ShouldSkipProcess(false) {
		t.Fatal("a pending wake request must force a Process call")
	}
}
