package transport

import "testing"

func TestLaunchSceneWhileStoppedIsImmediate(t *testing.T) {
	tr := NewTransport()
	tr.Clips[0][2].State = SlotStopped
	tr.Clips[0][2].Clip = NewPianoClip(4)

	if err := tr.LaunchScene(2); err != nil {
		t.Fatalf("LaunchScene: %v", err)
	}
	if !tr.Playing {
		t.Fatal("expected transport to start playing")
	}
	if tr.PlayheadBeat != 0 {
		t.Fatalf("playhead = %v, want 0", tr.PlayheadBeat)
	}
	if tr.Clips[0][2].State != SlotPlaying {
		t.Fatalf("slot state = %s, want playing", tr.Clips[0][2].State)
	}
}

func TestLaunchSceneWhilePlayingQueues(t *testing.T) {
	tr := NewTransport()
	tr.Clips[0][0].State = SlotStopped
	tr.Clips[0][0].Clip = NewPianoClip(4)
	tr.Clips[0][5].State = SlotStopped
	tr.Clips[0][5].Clip = NewPianoClip(4)

	if err := tr.LaunchScene(0); err != nil {
		t.Fatalf("LaunchScene(0): %v", err)
	}
	if err := tr.LaunchScene(5); err != nil {
		t.Fatalf("LaunchScene(5): %v", err)
	}
	if tr.Clips[0][5].State != SlotQueued {
		t.Fatalf("state = %s, want queued", tr.Clips[0][5].State)
	}
	if tr.Clips[0][0].State != SlotPlaying {
		t.Fatalf("original slot should remain playing until the quantize boundary, got %s", tr.Clips[0][0].State)
	}
	if err := validateExclusivity(tr.row(0)); err != nil {
		t.Fatal(err)
	}
}

func TestRelaunchingAlreadyPlayingSceneIsNoOp(t *testing.T) {
	tr := NewTransport()
	tr.Clips[0][0].State = SlotStopped
	tr.Clips[0][0].Clip = NewPianoClip(4)

	if err := tr.LaunchScene(0); err != nil {
		t.Fatalf("LaunchScene(0): %v", err)
	}
	if tr.Clips[0][0].State != SlotPlaying {
		t.Fatalf("state = %s, want playing", tr.Clips[0][0].State)
	}

	if err := tr.LaunchScene(0); err != nil {
		t.Fatalf("re-launch LaunchScene(0): %v", err)
	}
	if tr.Clips[0][0].State != SlotPlaying {
		t.Fatalf("re-launching an already-playing scene must stay playing, got %s", tr.Clips[0][0].State)
	}
	if tr.QueuedScene[0] != -1 {
		t.Fatalf("re-launching an already-playing scene must not queue anything, got QueuedScene[0] = %d", tr.QueuedScene[0])
	}
}

func TestQuantizedSceneSwitchPromotesOnBoundaryCrossing(t *testing.T) {
	tr := NewTransport()
	tr.BPM = 120
	tr.Quantize = Quantize1
	tr.Clips[0][0].State = SlotStopped
	tr.Clips[0][0].Clip = NewPianoClip(4)
	tr.Clips[0][5].State = SlotStopped
	tr.Clips[0][5].Clip = NewPianoClip(4)

	if err := tr.LaunchScene(0); err != nil {
		t.Fatal(err)
	}
	if err := tr.LaunchScene(5); err != nil {
		t.Fatal(err)
	}

	// 120 BPM -> 2 beats/sec; ticking 0.4s three times advances 2.4 beats,
	// crossing the 1.0 grid line on the second tick, exercising the "modulo
	// the grid" crossing check.
	for i := 0; i < 3; i++ {
		tr.Tick(0.4)
	}

	if tr.Clips[0][5].State != SlotPlaying {
		t.Fatalf("queued scene should have promoted to playing by now, got %s", tr.Clips[0][5].State)
	}
	if tr.Clips[0][0].State != SlotStopped {
		t.Fatalf("previously playing scene should have demoted to stopped, got %s", tr.Clips[0][0].State)
	}
	if err := validateExclusivity(tr.row(0)); err != nil {
		t.Fatal(err)
	}
}

func TestStopAllClearsQueuesButKeepsPlaying(t *testing.T) {
	tr := NewTransport()
	tr.Clips[0][0].State = SlotStopped
	tr.Clips[0][0].Clip = NewPianoClip(4)
	if err := tr.LaunchScene(0); err != nil {
		t.Fatal(err)
	}
	tr.QueuedScene[0] = 3
	tr.Clips[0][3].State = SlotQueued

	tr.StopAll()

	if !tr.Playing {
		t.Fatal("StopAll must leave Playing true per spec.md §4.G")
	}
	if tr.QueuedScene[0] != -1 {
		t.Fatal("StopAll must clear queued_scene")
	}
	if tr.Clips[0][0].State != SlotStopped || tr.Clips[0][3].State != SlotStopped {
		t.Fatal("StopAll must move every non-empty slot to stopped")
	}
}

func TestRecordArmWhileStoppedCreatesClipAndStartsRecording(t *testing.T) {
	tr := NewTransport()
	if err := tr.RecordArm(1, 0, 8); err != nil {
		t.Fatalf("RecordArm: %v", err)
	}
	slot := tr.Clips[1][0]
	if slot.State != SlotRecording {
		t.Fatalf("state = %s, want recording", slot.State)
	}
	if slot.Clip == nil || slot.Clip.LengthBeats != 8 {
		t.Fatal("expected a freshly created 8-beat clip")
	}
	if !tr.Playing || tr.PlayheadBeat != 0 {
		t.Fatal("record-arm while stopped must start the transport at beat 0")
	}
}

func TestRecordingCompletionPromotesToPlaying(t *testing.T) {
	tr := NewTransport()
	if err := tr.RecordArm(0, 0, 2); err != nil {
		t.Fatal(err)
	}
	tr.BPM = 120 // 2 beats/sec
	tr.Tick(1.1) // > 2 beats elapsed
	if tr.Clips[0][0].State != SlotPlaying {
		t.Fatalf("state = %s, want playing after recording target length elapsed", tr.Clips[0][0].State)
	}
}

func TestSlotExclusivityInvariantAcrossFullMatrix(t *testing.T) {
	tr := NewTransport()
	for t2 := 0; t2 < TrackMax; t2++ {
		for s := 0; s < SceneMax; s++ {
			if err := validateExclusivity(tr.row(t2)); err != nil {
				t.Fatalf("track %d: %v", t2, err)
			}
		}
	}
}
