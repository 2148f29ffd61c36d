package state

// Run this file under -race: it drives SharedState the way the real UI and
// audio threads do concurrently — one goroutine writing snapshots and
// issuing start/stop requests while another reads snapshots and flips the
// per-track started flags, the exact cross-thread shape spec.md §4.B
// describes ("single rendezvous between the UI (writer) and audio (reader)
// threads").

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRaceWriteAndReadSnapshotConcurrently(t *testing.T) {
	s := NewSharedState()

	stop := make(chan struct{})
	var writes atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var bpm float64
		for {
			select {
			case <-stop:
				return
			default:
				bpm++
				s.WriteSnapshot(StateSnapshot{BPM: bpm})
				writes.Add(1)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		s.ReadSnapshot()
	}
	close(stop)
	wg.Wait()

	if writes.Load() == 0 {
		t.Fatal("writer goroutine never ran")
	}
}

func TestRaceProcessingCounterAndWaitForIdle(t *testing.T) {
	s := NewSharedState()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.ProcessingStart()
				s.ProcessingEnd()
			}
		}
	}()

	for i := 0; i < 50; i++ {
		s.WaitForIdle()
	}
	close(stop)
	wg.Wait()
}

func TestRacePerTrackFlagsAndStartStopRequests(t *testing.T) {
	s := NewSharedState()

	var wg sync.WaitGroup
	for track := 0; track < TrackMax; track++ {
		track := track
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.RequestStartProcessing(track)
				s.TakeStartProcessingRequest(track)
				s.RequestStopProcessing(track)
				s.TakeStopProcessingRequest(track)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.SetPluginStarted(track, i%2 == 0)
				s.PluginStarted(track)
				s.SetFxStarted(track, 0, i%2 == 0)
				s.FxStarted(track, 0)
			}
		}()
	}
	wg.Wait()
}
