package oto

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/stemsync/stemsync"
)

type (
	// OtoContext is the process-wide audio output. Oto allows only one
	// context per process, so it is created once by Shared and never closed.
	OtoContext struct {
		context    *oto.Context
		sampleRate int
	}

	// OtoPlayer is a source being played on the context.
	OtoPlayer struct {
		player *oto.Player
		reader *sourceReader
		done   chan struct{}
		once   sync.Once
	}

	// sourceReader pulls audio from an AudioSource and serves it as the byte
	// stream oto reads from.
	sourceReader struct {
		source stemsync.AudioSource
		buf    stemsync.AudioBuffer
		err    error
	}
)

const (
	DefaultSampleRate = 44100
	otoBufferTime     = 100 * time.Millisecond
)

var (
	shared    *OtoContext
	sharedErr error
	sharedMu  sync.Once
)

// Shared returns the process-wide context, creating it on first use with the
// given sample rate. Later calls return the same context regardless of the
// sample rate asked for.
func Shared(sampleRate int) (*OtoContext, error) {
	sharedMu.Do(func() {
		shared, sharedErr = newContext(sampleRate)
	})
	return shared, sharedErr
}

func newContext(sampleRate int) (*OtoContext, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   otoBufferTime,
	}
	context, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoContext{context: context, sampleRate: sampleRate}, nil
}

func (c *OtoContext) SampleRate() int { return c.sampleRate }

// Play starts playing the source. The source is read from oto's own
// goroutine until the returned player is closed or the source returns an
// error.
func (c *OtoContext) Play(s stemsync.AudioSource) stemsync.CloserWaiter {
	r := &sourceReader{source: s}
	p := &OtoPlayer{reader: r, done: make(chan struct{})}
	p.player = c.context.NewPlayer(r)
	p.player.Play()
	go p.watch()
	return p
}

func (p *OtoPlayer) watch() {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			if !p.player.IsPlaying() {
				p.finish()
				return
			}
		}
	}
}

func (p *OtoPlayer) finish() {
	p.once.Do(func() { close(p.done) })
}

// Wait blocks until the player has stopped.
func (p *OtoPlayer) Wait() {
	<-p.done
}

func (p *OtoPlayer) Close() error {
	p.finish()
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

func (r *sourceReader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	frames := len(b) / 8
	if frames == 0 {
		return 0, nil
	}
	if cap(r.buf) < frames {
		r.buf = make(stemsync.AudioBuffer, frames)
	}
	buf := r.buf[:frames]
	if err := r.source.ReadAudio(buf); err != nil {
		r.err = err
		if err != io.EOF {
			r.err = fmt.Errorf("audio source failed: %w", err)
		}
		return 0, r.err
	}
	return FloatBufferToFloat32LE(buf, b), nil
}
