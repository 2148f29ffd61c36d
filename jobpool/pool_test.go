package jobpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitBatchRunsEveryIndexExactlyOnce(t *testing.T) {
	p := New(4)
	defer p.Close()

	const n = 257
	var seen [n]atomic.Int32
	p.SubmitBatch(n, func(ctx any, index int) {
		seen[index].Add(1)
	}, nil)

	for i, c := range seen {
		if c.Load() != 1 {
			t.Fatalf("index %d ran %d times, want 1", i, c.Load())
		}
	}
}

func TestSubmitBatchCallerParticipates(t *testing.T) {
	p := New(0) // GOMAXPROCS workers
	defer p.Close()

	var ran atomic.Int64
	p.SubmitBatch(3, func(ctx any, index int) {
		ran.Add(1)
	}, nil)
	if ran.Load() != 3 {
		t.Fatalf("ran = %d, want 3", ran.Load())
	}
}

func TestSubmitBatchZeroTasksIsNoop(t *testing.T) {
	p := New(2)
	defer p.Close()
	called := false
	p.SubmitBatch(0, func(ctx any, index int) { called = true }, nil)
	if called {
		t.Fatal("fn should not run for a zero-length batch")
	}
}

func TestPoolExhaustionFallsBackInline(t *testing.T) {
	p := New(2)
	defer p.Close()

	// Saturate every slot with batches that block until released, then
	// confirm one more submission still completes (pool_exhausted ->
	// inline execution, never a hang or error).
	release := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < MaxBatchSlots; i++ {
		go p.SubmitBatch(2, func(ctx any, index int) {
			started.Add(1)
			<-release
		}, nil)
	}
	deadline := time.Now().Add(2 * time.Second)
	for started.Load() < MaxBatchSlots && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		p.SubmitBatch(4, func(ctx any, index int) {}, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit_batch did not fall back to inline execution when pool was exhausted")
	}
	close(release)
}

func TestSetSleepNSClampsNegative(t *testing.T) {
	p := New(1)
	defer p.Close()
	p.SetSleepNS(-5)
	if p.SleepNS() != 0 {
		t.Fatalf("SleepNS() = %d, want 0", p.SleepNS())
	}
	p.SetSleepNS(1234)
	if p.SleepNS() != 1234 {
		t.Fatalf("SleepNS() = %d, want 1234", p.SleepNS())
	}
}

func TestCloseIsIdempotentAndStopsWorkers(t *testing.T) {
	p := New(2)
	p.Close()
	p.Close() // must not panic or double-close wakeCh
}
