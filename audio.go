package stemsync

import (
	"io"
	"unsafe"
)

type (
	// AudioBuffer is a buffer of stereo audio samples of variable length, each
	// sample represented by [2]float32. [0] is left channel, [1] is right
	AudioBuffer [][2]float32

	// AudioSource is anything that can fill an AudioBuffer when asked to. The
	// audio context calls ReadAudio from its own goroutine at a fixed cadence,
	// so implementations must not block.
	AudioSource interface {
		ReadAudio(buf AudioBuffer) error
	}

	// AudioContext is the process-wide audio output. It is created once and
	// individual sources are played on it.
	AudioContext interface {
		Play(s AudioSource) CloserWaiter
		SampleRate() int
	}

	// CloserWaiter is an io.Closer that can also be waited on until the
	// playback has actually stopped.
	CloserWaiter interface {
		io.Closer
		Wait()
	}

	// PCM is a fully decoded audio asset: the interleaved stereo frames and the
	// sample rate they are meant to be played at.
	PCM struct {
		Frames     AudioBuffer
		SampleRate int
	}
)

// Duration returns the length of the asset in seconds.
func (p *PCM) Duration() float64 {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Frames)) / float64(p.SampleRate)
}

// Clear zeroes the buffer.
func (buf AudioBuffer) Clear() {
	clear(buf)
}

// Flat returns the buffer viewed as a single []float32 of interleaved left and
// right samples. No copy is made; writes through the returned slice are visible
// in buf.
func (buf AudioBuffer) Flat() []float32 {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Slice(&buf[0][0], 2*len(buf))
}
