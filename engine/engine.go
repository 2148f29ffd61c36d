// Package engine implements the audio engine (spec.md §4.F): it owns the
// graph, shared state and job pool, slices oversized device callbacks into
// max_frames chunks, advances steady_time, and adaptively tunes the job
// pool's idle-sleep bound from measured callback-time utilization.
package engine

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxdaw/fluxdaw/abi"
	"github.com/fluxdaw/fluxdaw/graph"
	"github.com/fluxdaw/fluxdaw/jobpool"
	"github.com/fluxdaw/fluxdaw/state"
)

// LoadStats is the DSP-load telemetry the engine publishes for the UI meter
// (spec.md §7: "rising DSP% meter").
type LoadStats struct {
	UsagePercent    float64
	UnderrunCount   int64
	LastUnderrunAt  time.Time
	GraphErrorCount int64
}

// Engine drives one graph against one device callback stream.
type Engine struct {
	Graph  *graph.Graph
	Shared *state.SharedState
	Pool   *jobpool.Pool

	sampleRate float64
	maxFrames  uint32

	steadyTime atomic.Int64

	sleepMinNS atomic.Int64
	sleepMaxNS atomic.Int64

	usageBits      atomic.Uint64 // math.Float64bits(usagePercent)
	underrunCount  atomic.Int64
	lastUnderrun   atomic.Int64 // unix nanos, 0 == never
	graphErrCount  atomic.Int64

	log zerolog.Logger
}

// New wires an Engine around an already-Prepare'd graph.
func New(g *graph.Graph, shared *state.SharedState, pool *jobpool.Pool, sampleRate float64, maxFrames uint32, minSleepNS, maxSleepNS int64, log zerolog.Logger) *Engine {
	e := &Engine{
		Graph:      g,
		Shared:     shared,
		Pool:       pool,
		sampleRate: sampleRate,
		maxFrames:  maxFrames,
		log:        log.With().Str("component", "engine").Logger(),
	}
	e.sleepMinNS.Store(minSleepNS)
	e.sleepMaxNS.Store(maxSleepNS)
	return e
}

// LoadStats returns a snapshot of current DSP-load telemetry.
func (e *Engine) LoadStats() LoadStats {
	usage := math.Float64frombits(e.usageBits.Load())
	last := e.lastUnderrun.Load()
	var lastAt time.Time
	if last != 0 {
		lastAt = time.Unix(0, last)
	}
	return LoadStats{
		UsagePercent:    usage,
		UnderrunCount:   e.underrunCount.Load(),
		LastUnderrunAt:  lastAt,
		GraphErrorCount: e.graphErrCount.Load(),
	}
}

// Callback is the device-facing per-callback entry point (spec.md §4.F):
// zero the output, read one snapshot, slice frameCount into max_frames
// chunks, run the graph, copy master L/R into the interleaved buffer, and
// update adaptive sleep from measured wall time.
//
// out is interleaved stereo float32, exactly 2*frameCount long.
func (e *Engine) Callback(out []float32, frameCount uint32) {
	for i := range out {
		out[i] = 0
	}

	snap, ok := e.Shared.ReadSnapshot()
	if !ok {
		// snapshot_unavailable (spec.md §7): output silence for this block.
		return
	}

	started := time.Now()
	e.Shared.ProcessingStart()
	defer e.Shared.ProcessingEnd()

	var offset uint32
	remaining := frameCount
	for remaining > 0 {
		chunk := remaining
		if chunk > e.maxFrames {
			chunk = e.maxFrames
		}
		steady := e.steadyTime.Load()
		if err := e.Graph.Process(&snap, chunk, steady); err != nil {
			// Hot path: never log here (§1.1's "never on the audio callback's
			// hot path itself, where only atomic counters are touched").
			// A non-realtime poller surfaces graphErrCount via LoadStats.
			e.graphErrCount.Add(1)
		} else if buf, ok := e.Graph.MasterBuffer(); ok {
			interleave(out, offset, buf, chunk)
		}
		e.steadyTime.Add(int64(chunk))
		offset += chunk * 2
		remaining -= chunk
	}

	elapsed := time.Since(started)
	e.updateAdaptiveSleep(elapsed, frameCount, snap.Playing)
}

// interleave copies chunk frames of buf's (up to) two channels into out
// starting at sampleOffset, interleaved L/R. A mono master buffer is
// duplicated to both output channels; silence fills any missing channel.
func interleave(out []float32, sampleOffset uint32, buf *abi.AudioBuffer, chunk uint32) {
	var left, right []float32
	if len(buf.Channels) > 0 {
		left = buf.Channels[0]
	}
	if len(buf.Channels) > 1 {
		right = buf.Channels[1]
	} else {
		right = left
	}
	for i := uint32(0); i < chunk; i++ {
		var l, r float32
		if int(i) < len(left) {
			l = left[i]
		}
		if int(i) < len(right) {
			r = right[i]
		}
		out[sampleOffset+i*2] = l
		out[sampleOffset+i*2+1] = r
	}
}

// chunkBudget returns the wall-clock budget for a chunk of frameCount
// frames at the engine's sample rate (spec.md §4.F "chunk_time_budget").
func (e *Engine) chunkBudget(frameCount uint32) time.Duration {
	return time.Duration(float64(frameCount) / e.sampleRate * float64(time.Second))
}

// updateAdaptiveSleep implements the §4.F adaptive sleep table.
func (e *Engine) updateAdaptiveSleep(elapsed time.Duration, frameCount uint32, playing bool) {
	budget := e.chunkBudget(frameCount)
	if budget <= 0 {
		return
	}
	usage := float64(elapsed) / float64(budget)
	e.usageBits.Store(math.Float64bits(usage * 100))

	if elapsed > budget {
		e.underrunCount.Add(1)
		e.lastUnderrun.Store(time.Now().UnixNano())
	}

	smin := e.sleepMinNS.Load()
	smax := e.sleepMaxNS.Load()
	current := e.Pool.SleepNS()

	lowThreshold := 0.05
	if !playing {
		lowThreshold = 0.20
	}

	var next int64
	switch {
	case usage >= 0.40:
		next = smin
	case usage >= lowThreshold:
		next = clamp(int64(budget)/10, smin, smax)
	default:
		next = clamp(current*2, smin, smax)
	}
	e.Pool.SetSleepNS(next)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetBufferSize implements the §4.F buffer-size change sequence: the caller
// (Host/Dispatcher) is responsible for the plugin stop_processing /
// deactivate / activate / start_processing calls against each loaded
// handle around this call; Engine's part is waiting for the in-flight block
// to finish, resizing the graph's node buffers, and swapping maxFrames.
func (e *Engine) SetBufferSize(newMaxFrames uint32) error {
	if newMaxFrames == 0 {
		return fmt.Errorf("engine: buffer size must be > 0")
	}
	e.Shared.WaitForIdle()
	if err := e.Graph.Resize(newMaxFrames); err != nil {
		return err
	}
	e.maxFrames = newMaxFrames
	return nil
}
