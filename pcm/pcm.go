// Package pcm holds the audio sample formats shared between the capture
// side and the recognition worker, and the window buffer that turns a
// stream of raw capture chunks into bounded recognition requests.
package pcm

import (
	"encoding/binary"
	"math"
	"sync"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	// MaxWindowSeconds bounds a single recognition request. Older samples
	// slide out of the window; they are never averaged or resampled.
	MaxWindowSeconds = 30
	MaxWindowSamples = SampleRate * MaxWindowSeconds
)

// Window is a bounded, trailing slice of captured audio submitted as one
// recognition request. It is ephemeral: formed on flush, consumed by the
// next generate dispatch, not retained afterward.
type Window struct {
	Samples []float32
}

func (w Window) Empty() bool { return len(w.Samples) == 0 }

func (w Window) Seconds() float64 {
	return float64(len(w.Samples)) / float64(SampleRate)
}

// RMS returns the root-mean-square level of the window, used for the
// level meter and for silence diagnostics.
func (w Window) RMS() float64 {
	if len(w.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w.Samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(w.Samples)))
}

// Buffer accumulates raw 16-bit little-endian mono PCM chunks from the
// capture callback. Chunks keep accumulating across flushes so every
// window is the trailing MaxWindowSamples of the whole take; Reset starts
// a fresh take (capture restart).
type Buffer struct {
	mu  sync.Mutex
	raw []byte
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	b.raw = append(b.raw, chunk...)
	// Anything older than the window cap can never be part of a future
	// flush, so drop it instead of growing without bound. Keep byte
	// alignment on sample boundaries.
	if max := MaxWindowSamples * 2; len(b.raw) > max {
		over := len(b.raw) - max
		if over%2 != 0 {
			over++
		}
		b.raw = append(b.raw[:0], b.raw[over:]...)
	}
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.raw)
}

// Flush decodes the accumulated take into a Window, tail-truncated to
// MaxWindowSamples. The accumulated bytes are kept: the next flush sees
// the same take grown by whatever arrived in between.
func (b *Buffer) Flush() Window {
	b.mu.Lock()
	raw := make([]byte, len(b.raw))
	copy(raw, b.raw)
	b.mu.Unlock()

	samples := DecodeS16LE(raw)
	if len(samples) > MaxWindowSamples {
		samples = samples[len(samples)-MaxWindowSamples:]
	}
	return Window{Samples: samples}
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	b.raw = b.raw[:0]
	b.mu.Unlock()
}

// DecodeS16LE converts raw 16-bit little-endian mono PCM to float32
// samples in [-1, 1). A trailing odd byte is ignored.
func DecodeS16LE(raw []byte) []float32 {
	n := len(raw) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}
