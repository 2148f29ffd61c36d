package midiimport

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// writeVarLen encodes n using the MIDI file variable-length quantity
// format (big-endian base-128, continuation bit set on all but the last
// byte), used by the raw SMF bytes this test hand-builds below.
func writeVarLen(buf *bytes.Buffer, n uint32) {
	var stack [4]byte
	i := 0
	stack[i] = byte(n & 0x7F)
	n >>= 7
	for n > 0 {
		i++
		stack[i] = byte(n&0x7F) | 0x80
		n >>= 7
	}
	for ; i >= 0; i-- {
		buf.WriteByte(stack[i])
	}
}

// buildSingleNoteSMF hand-assembles a minimal format-0 Standard MIDI File
// with one track containing a single note (pitch 60, velocity 100,
// one beat long at 480 ppq) followed by an end-of-track meta event.
func buildSingleNoteSMF(t *testing.T) []byte {
	t.Helper()
	var track bytes.Buffer
	writeVarLen(&track, 0)
	track.Write([]byte{0x90, 60, 100}) // note on, channel 0

	writeVarLen(&track, 480)
	track.Write([]byte{0x80, 60, 0}) // note off, channel 0

	writeVarLen(&track, 0)
	track.Write([]byte{0xFF, 0x2F, 0x00}) // end of track

	var file bytes.Buffer
	file.WriteString("MThd")
	binary.Write(&file, binary.BigEndian, uint32(6))
	binary.Write(&file, binary.BigEndian, uint16(0))   // format 0
	binary.Write(&file, binary.BigEndian, uint16(1))   // 1 track
	binary.Write(&file, binary.BigEndian, uint16(480)) // 480 ppq

	file.WriteString("MTrk")
	binary.Write(&file, binary.BigEndian, uint32(track.Len()))
	file.Write(track.Bytes())

	return file.Bytes()
}

func TestFromBytesParsesSingleNote(t *testing.T) {
	clip, err := FromBytes(buildSingleNoteSMF(t))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if len(clip.Notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(clip.Notes))
	}
	n := clip.Notes[0]
	if n.Pitch != 60 {
		t.Errorf("Pitch = %d, want 60", n.Pitch)
	}
	if n.Start != 0 {
		t.Errorf("Start = %v, want 0", n.Start)
	}
	if n.Duration != 1 {
		t.Errorf("Duration = %v, want 1 beat", n.Duration)
	}
	want := float32(100) / 127
	if n.Velocity != want {
		t.Errorf("Velocity = %v, want %v", n.Velocity, want)
	}
	if clip.LengthBeats != 1 {
		t.Errorf("LengthBeats = %v, want 1", clip.LengthBeats)
	}
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	if _, err := FromBytes([]byte("not a midi file")); err == nil {
		t.Fatal("expected an error for invalid SMF data")
	}
}
