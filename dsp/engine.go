package dsp

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stemsync/stemsync"
)

type (
	// ProcessingMode is how an Engine realizes pitch and speed. It is either
	// TruePitchShift or CombinedRate and is resolved once per track.
	ProcessingMode interface {
		String() string
		isProcessingMode()
	}

	// TruePitchShift decouples pitch from tempo: the playhead stretches time
	// with the Stretch pair and the engine transposes with the Pitch pair.
	TruePitchShift struct {
		Pitch   [2]*PitchShifter
		Stretch [2]*PitchShifter
	}

	// CombinedRate plays the audio faster or slower so that pitch and tempo
	// move together, like a turntable.
	CombinedRate struct{}

	// Options configure the engines. All engines of a session share them.
	Options struct {
		SampleRate        int
		BlockSize         int // frames per audio callback
		FFTSize           int
		Oversampling      int
		GainRamp          time.Duration
		DisablePitchShift bool
	}

	// Engine is the per-track processing chain: playhead, pitch transform
	// and gain. Process runs on the audio goroutine; every other method may
	// be called from the control goroutine and only touches atomics.
	Engine struct {
		mode     ProcessingMode
		playhead *Playhead

		pitchFactor atomicFloat64
		applied     atomicFloat64
		gainTarget  atomicFloat64
		detached    atomic.Bool
		underruns   atomic.Int64

		// only touched by the audio goroutine
		shifters [2]*PitchShifter
		chans    [2][]float32
		shifting bool
		gain     gainRamp
	}
)

func (TruePitchShift) isProcessingMode() {}
func (CombinedRate) isProcessingMode()   {}

func (TruePitchShift) String() string { return "true pitch shift" }
func (CombinedRate) String() string   { return "combined rate" }

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SampleRate:   44100,
		BlockSize:    4096,
		FFTSize:      DefaultFFTSize,
		Oversampling: DefaultOversampling,
		GainRamp:     10 * time.Millisecond,
	}
}

// ResolveMode sets up the true pitch-shift path. If that is not possible, it
// returns CombinedRate together with an error wrapping
// stemsync.ErrEngineUnavailable; the returned mode is always usable.
func ResolveMode(opts Options) (ProcessingMode, error) {
	if opts.DisablePitchShift {
		return CombinedRate{}, fmt.Errorf("pitch shifting disabled in configuration: %w", stemsync.ErrEngineUnavailable)
	}
	var m TruePitchShift
	for i := range 2 {
		var err error
		if m.Pitch[i], err = NewPitchShifter(opts.FFTSize, opts.Oversampling, float64(opts.SampleRate), opts.BlockSize); err != nil {
			return CombinedRate{}, fmt.Errorf("could not create pitch shifter: %w", err)
		}
		if m.Stretch[i], err = NewPitchShifter(opts.FFTSize, opts.Oversampling, float64(opts.SampleRate), opts.BlockSize); err != nil {
			return CombinedRate{}, fmt.Errorf("could not create time stretcher: %w", err)
		}
	}
	return m, nil
}

// NewEngine creates a paused engine over pcm at neutral pitch and speed and
// full volume.
func NewEngine(pcm *stemsync.PCM, mode ProcessingMode, opts Options) (*Engine, error) {
	if opts.SampleRate <= 0 || opts.BlockSize <= 0 {
		return nil, fmt.Errorf("engine needs a positive sample rate and block size: %w", stemsync.ErrInvalidParameter)
	}
	var stretch []*PitchShifter
	e := &Engine{mode: mode}
	switch m := mode.(type) {
	case TruePitchShift:
		stretch = m.Stretch[:]
		e.shifters = m.Pitch
		e.chans = [2][]float32{make([]float32, opts.BlockSize), make([]float32, opts.BlockSize)}
	case CombinedRate:
	default:
		return nil, fmt.Errorf("unknown processing mode %v: %w", mode, stemsync.ErrInvalidParameter)
	}
	p, err := NewPlayhead(pcm, opts.SampleRate, stretch, opts.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("could not create playhead: %w", err)
	}
	e.playhead = p
	e.gain = newGainRamp(int(opts.GainRamp.Seconds() * float64(opts.SampleRate)))
	e.pitchFactor.Store(1)
	e.applied.Store(1)
	e.gainTarget.Store(1)
	e.SetParams(stemsync.NeutralPitch, stemsync.NeutralSpeed)
	return e, nil
}

func (e *Engine) Mode() ProcessingMode { return e.mode }

// SetParams applies the session pitch (in semitones) and speed. The change is
// observed by the next Process call.
func (e *Engine) SetParams(semitones, speed float64) {
	switch e.mode.(type) {
	case TruePitchShift:
		e.playhead.SetPreservePitch(true)
		e.playhead.SetRate(speed)
		e.pitchFactor.Store(stemsync.PitchFactor(semitones))
	default:
		e.playhead.SetPreservePitch(false)
		e.playhead.SetRate(stemsync.CombinedRate(speed, semitones))
		e.pitchFactor.Store(1)
	}
}

// PlaybackRate is the rate the playhead advances at relative to real time.
func (e *Engine) PlaybackRate() float64 {
	return e.playhead.Rate()
}

// PitchFactor is the frequency ratio the engine has been asked to apply.
func (e *Engine) PitchFactor() float64 { return e.pitchFactor.Load() }

// AppliedPitchFactor is the frequency ratio used by the last processed block;
// 1 when the transform was bypassed.
func (e *Engine) AppliedPitchFactor() float64 { return e.applied.Load() }

// SetGain sets the target gain, clamped to [0,1].
func (e *Engine) SetGain(v float64) { e.gainTarget.Store(stemsync.Clamp01(v)) }

// Detach silences the engine permanently. Process called after Detach only
// writes zeros.
func (e *Engine) Detach()        { e.detached.Store(true) }
func (e *Engine) Detached() bool { return e.detached.Load() }

// Underruns returns the total number of frames that were zero padded because
// a pitch or time transform could not deliver them in time.
func (e *Engine) Underruns() int64 {
	return e.underruns.Load() + e.playhead.Underruns()
}

func (e *Engine) Play()                 { e.playhead.Play() }
func (e *Engine) Pause()                { e.playhead.Pause() }
func (e *Engine) Seek(fraction float64) { e.playhead.Seek(fraction) }
func (e *Engine) Playing() bool         { return e.playhead.Playing() }
func (e *Engine) Ended() bool           { return e.playhead.Ended() }
func (e *Engine) CurrentTime() float64  { return e.playhead.CurrentTime() }
func (e *Engine) Duration() float64     { return e.playhead.Duration() }

// Process renders the next block into out, overwriting it.
func (e *Engine) Process(out stemsync.AudioBuffer) {
	if e.detached.Load() {
		out.Clear()
		return
	}
	discontinuity := e.playhead.Read(out)
	pf := e.pitchFactor.Load()
	shift := e.shifters[0] != nil && !stemsync.IsNeutralFactor(pf)
	if shift {
		if !e.shifting || discontinuity {
			e.shifters[0].Reset()
			e.shifters[1].Reset()
		}
		if n := shiftBlock(out, e.shifters, e.chans, pf); n > 0 {
			e.underruns.Add(int64(n))
		}
		e.applied.Store(pf)
	} else {
		e.applied.Store(1)
	}
	e.shifting = shift
	e.gain.apply(out, float32(e.gainTarget.Load()))
}
