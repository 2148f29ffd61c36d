package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxdaw/fluxdaw/transport"
)

// IdlePollInterval is how often WaitForIdle re-checks the processing
// counter (spec.md §4.B: "spins with short sleeps").
const IdlePollInterval = 50 * time.Microsecond

// SharedState is the single rendezvous between the UI (writer) and audio
// (reader) threads. The mutex is held only for the snapshot memcpy; the
// audio-block critical section runs against the returned copy lock-free
// (spec.md §4.B).
type SharedState struct {
	mu       sync.Mutex
	snapshot StateSnapshot
	hasData  bool

	processingCounter atomic.Int64

	// pluginStarted/fxStarted are per-track (and per-track-per-effect-slot)
	// atomic flags recording whether start_processing has run, set and
	// cleared exclusively from the audio thread per spec.md §4.B / §5 to
	// satisfy the ABI's thread rules for that call.
	pluginStarted [TrackMax]atomic.Bool
	fxStarted     [TrackMax][transport.EffectsMax]atomic.Bool

	requestStartProcessing   [TrackMax]atomic.Bool
	requestStopProcessing    [TrackMax]atomic.Bool
}

// NewSharedState returns an empty SharedState; read_snapshot before the
// first write_snapshot reports (StateSnapshot{}, false) — callers must
// treat that as "snapshot_unavailable" (spec.md §7) and output silence.
func NewSharedState() *SharedState {
	return &SharedState{}
}

// WriteSnapshot copies snap into internal storage under the lock. UI thread
// only.
func (s *SharedState) WriteSnapshot(snap StateSnapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.hasData = true
	s.mu.Unlock()
}

// ReadSnapshot returns a copy of the current snapshot and whether one has
// ever been written. Audio thread, hot path: the lock is held only for the
// struct copy.
func (s *SharedState) ReadSnapshot() (StateSnapshot, bool) {
	s.mu.Lock()
	snap := s.snapshot
	ok := s.hasData
	s.mu.Unlock()
	return snap, ok
}

// ProcessingStart marks a block as in flight. Audio thread only, once per
// block, paired with ProcessingEnd.
func (s *SharedState) ProcessingStart() { s.processingCounter.Add(1) }

// ProcessingEnd marks the in-flight block as finished.
func (s *SharedState) ProcessingEnd() { s.processingCounter.Add(-1) }

// WaitForIdle spins with short sleeps until no block is in flight. UI
// thread only; call before any plugin-lifecycle call that must not race a
// process call (activate, deactivate, destroy, buffer-size change).
func (s *SharedState) WaitForIdle() {
	for s.processingCounter.Load() != 0 {
		time.Sleep(IdlePollInterval)
	}
}

// PluginStarted reports whether start_processing has been invoked for
// track t's instrument.
func (s *SharedState) PluginStarted(t int) bool {
	if t < 0 || t >= TrackMax {
		return false
	}
	return s.pluginStarted[t].Load()
}

// SetPluginStarted sets/clears the instrument start_processing flag for
// track t. Audio thread only.
func (s *SharedState) SetPluginStarted(t int, started bool) {
	if t < 0 || t >= TrackMax {
		return
	}
	s.pluginStarted[t].Store(started)
}

// FxStarted reports whether start_processing has been invoked for track t's
// effect slot f.
func (s *SharedState) FxStarted(t, f int) bool {
	if t < 0 || t >= TrackMax || f < 0 || f >= len(s.fxStarted[0]) {
		return false
	}
	return s.fxStarted[t][f].Load()
}

// SetFxStarted sets/clears the effect-slot start_processing flag. Audio
// thread only.
func (s *SharedState) SetFxStarted(t, f int, started bool) {
	if t < 0 || t >= TrackMax || f < 0 || f >= len(s.fxStarted[0]) {
		return
	}
	s.fxStarted[t][f].Store(started)
}

// RequestStartProcessing asks the audio thread to call start_processing on
// track t's instrument at the next block boundary (UI thread, satisfying
// the ABI rule that only the audio thread may call start_processing).
func (s *SharedState) RequestStartProcessing(t int) {
	if t < 0 || t >= TrackMax {
		return
	}
	s.requestStartProcessing[t].Store(true)
}

// TakeStartProcessingRequest atomically consumes the pending request, if
// any. Audio thread only, called at block start.
func (s *SharedState) TakeStartProcessingRequest(t int) bool {
	if t < 0 || t >= TrackMax {
		return false
	}
	return s.requestStartProcessing[t].Swap(false)
}

// RequestStopProcessing is the symmetric counterpart for stop_processing.
func (s *SharedState) RequestStopProcessing(t int) {
	if t < 0 || t >= TrackMax {
		return
	}
	s.requestStopProcessing[t].Store(true)
}

// TakeStopProcessingRequest atomically consumes the pending stop request.
func (s *SharedState) TakeStopProcessingRequest(t int) bool {
	if t < 0 || t >= TrackMax {
		return false
	}
	return s.requestStopProcessing[t].Swap(false)
}
