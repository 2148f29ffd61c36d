package engine

import (
	"fmt"
	"io"
	"sync"

	"github.com/hajimehoshi/oto/v2"
)

// Device wraps an oto/v2 stereo output stream, converting the engine's
// pull-based Callback into the io.Reader oto.Player expects. Grounded on
// oto/v2's ReaderContext pattern: the player repeatedly calls Read, and a
// player-driven stream is exactly the "device calls back into the host"
// shape spec.md §4.F describes, just inverted at the io.Reader boundary.
//
// oto/v2 only speaks signed 16-bit little-endian PCM, so Device converts
// the engine's float32 master buffer to int16 at the io.Reader boundary;
// the graph itself stays float32 throughout.
type Device struct {
	ctx    *oto.Context
	player oto.Player

	mu        sync.Mutex
	engine    *Engine
	maxFrames uint32
	scratch   []float32
}

// bitDepthBytes and channelCount fix the oto/v2 stream format: 16-bit
// stereo PCM, 4 bytes per frame.
const (
	bitDepthBytes = 2
	channelCount  = 2
	bytesPerFrame = bitDepthBytes * channelCount
)

// NewDevice opens the default audio output device at sampleRate, stereo,
// 16-bit PCM, and binds it to e.
func NewDevice(e *Engine, sampleRate int, maxFrames uint32) (*Device, error) {
	ctx, ready, err := oto.NewContext(sampleRate, channelCount, bitDepthBytes)
	if err != nil {
		return nil, fmt.Errorf("engine: oto.NewContext: %w", err)
	}
	<-ready

	d := &Device{ctx: ctx, engine: e, maxFrames: maxFrames}
	d.scratch = make([]float32, maxFrames*channelCount)
	d.player = ctx.NewPlayer(d)
	return d, nil
}

// Read implements io.Reader, pulling one Engine.Callback's worth of audio
// per call and encoding it little-endian int16 for oto.
func (d *Device) Read(p []byte) (int, error) {
	frames := uint32(len(p) / bytesPerFrame)
	if frames == 0 {
		return 0, nil
	}
	if frames > d.maxFrames {
		frames = d.maxFrames
	}

	d.mu.Lock()
	out := d.scratch[:frames*channelCount]
	d.engine.Callback(out, frames)
	d.mu.Unlock()

	n := 0
	for _, s := range out {
		putInt16LE(p[n:], floatToInt16(s))
		n += bitDepthBytes
	}
	return n, nil
}

// Start begins playback.
func (d *Device) Start() { d.player.Play() }

// Stop halts playback without releasing the underlying context.
func (d *Device) Stop() error { return d.player.Close() }

var _ io.Reader = (*Device)(nil)

func floatToInt16(f float32) int16 {
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	return int16(f * 32767)
}

func putInt16LE(dst []byte, v int16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}
