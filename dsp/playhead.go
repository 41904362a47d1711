package dsp

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/stemsync/stemsync"
)

type (
	// Playhead reads decoded PCM at a variable rate. Transport and rate changes
	// are requested from the control goroutine through atomics and take effect
	// at the start of the next block read by the audio goroutine.
	//
	// When preserve-pitch is on and a stretcher pair was given, the resampled
	// signal is passed through a PitchShifter at 1/rate so that only the tempo
	// changes.
	Playhead struct {
		pcm      *stemsync.PCM
		srcRatio float64 // source frames per output frame at rate 1

		rate          atomicFloat64
		preservePitch atomic.Bool
		playing       atomic.Bool
		ended         atomic.Bool
		seekPending   atomic.Bool
		seekFraction  atomicFloat64
		position      atomicFloat64 // published, in seconds
		underruns     atomic.Int64

		// only touched by the audio goroutine
		pos        float64 // in frames
		stretching bool
		stretch    [2]*PitchShifter
		chans      [2][]float32
	}
)

// NewPlayhead creates a paused playhead at the start of pcm that renders at
// outputRate frames per second. stretch may hold
// two shifters (left and right) for tempo changes that keep the pitch; if it
// is nil, the playhead ignores preserve-pitch.
func NewPlayhead(pcm *stemsync.PCM, outputRate int, stretch []*PitchShifter, maxBlock int) (*Playhead, error) {
	if pcm == nil || pcm.SampleRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("playhead needs decoded audio and an output with sample rates: %w", stemsync.ErrInvalidParameter)
	}
	if len(stretch) == 2 && maxBlock <= 0 {
		return nil, fmt.Errorf("block size %d: %w", maxBlock, stemsync.ErrInvalidParameter)
	}
	if len(stretch) != 0 && len(stretch) != 2 {
		return nil, fmt.Errorf("playhead needs 0 or 2 stretchers, got %d: %w", len(stretch), stemsync.ErrInvalidParameter)
	}
	p := &Playhead{pcm: pcm, srcRatio: float64(pcm.SampleRate) / float64(outputRate)}
	if len(stretch) == 2 {
		p.stretch = [2]*PitchShifter{stretch[0], stretch[1]}
		p.chans = [2][]float32{make([]float32, maxBlock), make([]float32, maxBlock)}
	}
	p.rate.Store(1)
	return p, nil
}

// Duration of the underlying audio in seconds.
func (p *Playhead) Duration() float64 {
	return p.pcm.Duration()
}

// CurrentTime returns the last published position in seconds.
func (p *Playhead) CurrentTime() float64 {
	return p.position.Load()
}

// Seek requests the position to be moved to fraction of the duration. The
// published position changes immediately; the audio follows on the next block.
func (p *Playhead) Seek(fraction float64) {
	fraction = stemsync.Clamp01(fraction)
	p.seekFraction.Store(fraction)
	p.position.Store(fraction * p.Duration())
	p.ended.Store(false)
	p.seekPending.Store(true)
}

func (p *Playhead) Play()  { p.playing.Store(true) }
func (p *Playhead) Pause() { p.playing.Store(false) }

func (p *Playhead) Playing() bool { return p.playing.Load() }
func (p *Playhead) Ended() bool   { return p.ended.Load() }

func (p *Playhead) Rate() float64 { return p.rate.Load() }

// Underruns returns the number of frames the stretcher could not deliver.
func (p *Playhead) Underruns() int64 { return p.underruns.Load() }

// SetRate sets the playback rate multiplier, 1 being the natural speed of the
// audio regardless of the sample rates involved. Non-positive and non-finite rates
// are ignored.
func (p *Playhead) SetRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return
	}
	p.rate.Store(rate)
}

func (p *Playhead) SetPreservePitch(v bool) { p.preservePitch.Store(v) }

// Read fills buf with the next block of audio, silence when paused or past the
// end. It reports whether the audio is discontinuous with the previous block,
// which is the case after a seek was applied.
func (p *Playhead) Read(buf stemsync.AudioBuffer) (discontinuity bool) {
	if p.seekPending.Swap(false) {
		p.pos = p.seekFraction.Load() * float64(len(p.pcm.Frames))
		p.resetStretch()
		discontinuity = true
	}
	if !p.playing.Load() || p.ended.Load() {
		buf.Clear()
		p.publish()
		return discontinuity
	}
	rate := p.rate.Load()
	stretch := p.stretch[0] != nil && p.preservePitch.Load() && !IsNeutralRate(rate)
	if stretch != p.stretching {
		p.resetStretch()
		p.stretching = stretch
		discontinuity = true
	}
	n := p.resample(buf, rate*p.srcRatio)
	if n < len(buf) {
		clear(buf[n:])
		p.ended.Store(true)
		p.playing.Store(false)
	}
	if stretch {
		p.applyStretch(buf, 1/rate)
	}
	p.publish()
	return discontinuity
}

// IsNeutralRate reports whether rate is close enough to 1 that the pitch
// compensating stretch can be skipped.
func IsNeutralRate(rate float64) bool {
	return stemsync.IsNeutralFactor(rate)
}

func (p *Playhead) resample(buf stemsync.AudioBuffer, step float64) int {
	frames := p.pcm.Frames
	last := len(frames) - 1
	for i := range buf {
		if p.pos < 0 {
			p.pos = 0
		}
		if last < 0 || p.pos > float64(last) {
			return i
		}
		idx := int(p.pos)
		frac := float32(p.pos - float64(idx))
		a := frames[idx]
		if idx < last && frac != 0 {
			b := frames[idx+1]
			buf[i][0] = a[0] + (b[0]-a[0])*frac
			buf[i][1] = a[1] + (b[1]-a[1])*frac
		} else {
			buf[i] = a
		}
		p.pos += step
	}
	return len(buf)
}

func (p *Playhead) applyStretch(buf stemsync.AudioBuffer, factor float64) {
	if n := shiftBlock(buf, p.stretch, p.chans, factor); n > 0 {
		p.underruns.Add(int64(n))
	}
}

func (p *Playhead) resetStretch() {
	for _, s := range p.stretch {
		if s != nil {
			s.Reset()
		}
	}
}

func (p *Playhead) publish() {
	p.position.Store(math.Min(p.pos/float64(p.pcm.SampleRate), p.Duration()))
}

// shiftBlock runs one stereo block through a pair of shifters in place. It
// returns the number of frames that had to be zero padded. buf is processed in
// chunks of len(chans[0]) frames, which must not be 0.
func shiftBlock(buf stemsync.AudioBuffer, shifters [2]*PitchShifter, chans [2][]float32, factor float64) (missing int) {
	for len(buf) > 0 {
		n := min(len(buf), len(chans[0]))
		block := buf[:n]
		l, r := chans[0][:n], chans[1][:n]
		for i, f := range block {
			l[i], r[i] = f[0], f[1]
		}
		shifters[0].Push(l, factor)
		shifters[1].Push(r, factor)
		nl := shifters[0].Pull(l)
		nr := shifters[1].Pull(r)
		got := min(nl, nr)
		clear(l[nl:])
		clear(r[nr:])
		for i := range block {
			block[i] = [2]float32{l[i], r[i]}
		}
		missing += n - got
		buf = buf[n:]
	}
	return missing
}
