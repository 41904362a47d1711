package dsp_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/dsp"
)

func testPCM(frames int, f func(i int) float32) *stemsync.PCM {
	pcm := &stemsync.PCM{Frames: make(stemsync.AudioBuffer, frames), SampleRate: testRate}
	for i := range pcm.Frames {
		v := f(i)
		pcm.Frames[i] = [2]float32{v, -v}
	}
	return pcm
}

func newEngine(t *testing.T, pcm *stemsync.PCM, opts dsp.Options) *dsp.Engine {
	t.Helper()
	mode, err := dsp.ResolveMode(opts)
	if err != nil && !opts.DisablePitchShift {
		t.Fatalf("ResolveMode failed: %v", err)
	}
	e, err := dsp.NewEngine(pcm, mode, opts)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestEngineBypassIsTransparent(t *testing.T) {
	pcm := testPCM(10000, func(i int) float32 { return float32(i%100) / 100 })
	opts := dsp.DefaultOptions()
	e := newEngine(t, pcm, opts)
	if _, ok := e.Mode().(dsp.TruePitchShift); !ok {
		t.Fatalf("expected true pitch shift mode, got %v", e.Mode())
	}
	e.Play()
	out := make(stemsync.AudioBuffer, opts.BlockSize)
	e.Process(out)
	for i, v := range out {
		if v != pcm.Frames[i] {
			t.Fatalf("frame %d: got %v, expected %v", i, v, pcm.Frames[i])
		}
	}
	if e.AppliedPitchFactor() != 1 {
		t.Fatalf("expected bypass, applied factor was %v", e.AppliedPitchFactor())
	}
}

func TestEngineCombinedRateFallback(t *testing.T) {
	opts := dsp.DefaultOptions()
	opts.DisablePitchShift = true
	mode, err := dsp.ResolveMode(opts)
	if !errors.Is(err, stemsync.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, ok := mode.(dsp.CombinedRate); !ok {
		t.Fatalf("expected combined rate mode, got %v", mode)
	}
	e, err := dsp.NewEngine(testPCM(1000, func(int) float32 { return 0 }), mode, opts)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	e.SetParams(3, 1.2)
	if expected := 1.2 * math.Pow(2, 3.0/12); math.Abs(e.PlaybackRate()-expected) > 1e-9 {
		t.Fatalf("playback rate %v, expected %v", e.PlaybackRate(), expected)
	}
	if math.Abs(e.PlaybackRate()-1.42705) > 1e-4 {
		t.Fatalf("playback rate %v, expected about 1.42705", e.PlaybackRate())
	}
	if e.PitchFactor() != 1 {
		t.Fatalf("combined rate engine should not transpose, pitch factor %v", e.PitchFactor())
	}
}

func TestEngineInvalidGeometryFallsBack(t *testing.T) {
	opts := dsp.DefaultOptions()
	opts.FFTSize = 1500
	mode, err := dsp.ResolveMode(opts)
	if !errors.Is(err, stemsync.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, ok := mode.(dsp.CombinedRate); !ok {
		t.Fatalf("expected combined rate mode, got %v", mode)
	}
}

func TestEnginePitchObservedWithinOneBlock(t *testing.T) {
	opts := dsp.DefaultOptions()
	e := newEngine(t, testPCM(testRate, func(i int) float32 { return float32(math.Sin(float64(i) / 10)) }), opts)
	e.Play()
	out := make(stemsync.AudioBuffer, opts.BlockSize)
	e.Process(out)
	e.SetParams(12, 1)
	e.Process(out)
	if e.AppliedPitchFactor() != 2 {
		t.Fatalf("applied pitch factor %v after one block, expected 2", e.AppliedPitchFactor())
	}
	if e.PlaybackRate() != 1 {
		t.Fatalf("pitch change altered the playback rate to %v", e.PlaybackRate())
	}
	e.SetParams(0, 1)
	e.Process(out)
	if e.AppliedPitchFactor() != 1 {
		t.Fatalf("applied pitch factor %v after returning to neutral", e.AppliedPitchFactor())
	}
	if e.Underruns() != 0 {
		t.Fatalf("expected no underruns, got %d", e.Underruns())
	}
}

func TestEngineSpeedKeepsPitch(t *testing.T) {
	opts := dsp.DefaultOptions()
	freq := 440.0
	e := newEngine(t, testPCM(testRate*4, func(i int) float32 {
		return float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/testRate))
	}), opts)
	e.SetParams(0, 1.5)
	e.Play()
	var rendered []float32
	out := make(stemsync.AudioBuffer, opts.BlockSize)
	for range 10 {
		e.Process(out)
		for _, f := range out {
			rendered = append(rendered, f[0])
		}
	}
	if got := estimateFrequency(rendered[8192:]); math.Abs(got-freq)/freq > 0.05 {
		t.Fatalf("speed 1.5 changed 440 Hz into %.1f Hz", got)
	}
	if expected := 10 * float64(opts.BlockSize) * 1.5 / testRate; math.Abs(e.CurrentTime()-expected) > 1e-6 {
		t.Fatalf("position %v, expected %v", e.CurrentTime(), expected)
	}
}

func TestEngineGainRamp(t *testing.T) {
	opts := dsp.DefaultOptions()
	opts.GainRamp = 10 * time.Millisecond
	e := newEngine(t, testPCM(testRate, func(int) float32 { return 0.8 }), opts)
	e.Play()
	e.SetGain(0.5)
	out := make(stemsync.AudioBuffer, opts.BlockSize)
	e.Process(out)
	if out[0][0] >= 0.8 || out[0][0] <= 0.4 {
		t.Fatalf("first frame %v should be inside the ramp", out[0][0])
	}
	rampFrames := int(opts.GainRamp.Seconds() * testRate)
	for i := rampFrames; i < len(out); i++ {
		if out[i][0] != 0.4 || out[i][1] != -0.4 {
			t.Fatalf("frame %d: got %v, expected [0.4 -0.4]", i, out[i])
		}
	}
	for i := 1; i < rampFrames; i++ {
		if out[i][0] > out[i-1][0] {
			t.Fatalf("ramp is not monotonic at frame %d", i)
		}
	}
}

func TestEngineDetachSilences(t *testing.T) {
	opts := dsp.DefaultOptions()
	e := newEngine(t, testPCM(testRate, func(int) float32 { return 1 }), opts)
	e.Play()
	e.Detach()
	out := make(stemsync.AudioBuffer, 256)
	for i := range out {
		out[i] = [2]float32{1, 1}
	}
	e.Process(out)
	for i, v := range out {
		if v != [2]float32{} {
			t.Fatalf("frame %d: detached engine wrote %v", i, v)
		}
	}
}

func TestEngineSeekAndEnd(t *testing.T) {
	opts := dsp.DefaultOptions()
	opts.BlockSize = 1000
	e := newEngine(t, testPCM(3000, func(int) float32 { return 0.25 }), opts)
	e.Seek(0.5)
	if got, expected := e.CurrentTime(), e.Duration()/2; got != expected {
		t.Fatalf("seek did not publish the position: got %v, expected %v", got, expected)
	}
	e.Play()
	out := make(stemsync.AudioBuffer, 1000)
	e.Process(out)
	if e.Ended() {
		t.Fatalf("engine ended too early")
	}
	e.Process(out)
	if !e.Ended() || e.Playing() {
		t.Fatalf("expected the engine to end and stop playing")
	}
	if out[len(out)-1] != [2]float32{} {
		t.Fatalf("frames past the end should be silent, got %v", out[len(out)-1])
	}
	if e.CurrentTime() != e.Duration() {
		t.Fatalf("ended at %v, expected %v", e.CurrentTime(), e.Duration())
	}
}

func TestEnginePausedIsSilent(t *testing.T) {
	opts := dsp.DefaultOptions()
	e := newEngine(t, testPCM(testRate, func(int) float32 { return 1 }), opts)
	out := make(stemsync.AudioBuffer, opts.BlockSize)
	e.Process(out)
	if out[100] != [2]float32{} || e.CurrentTime() != 0 {
		t.Fatalf("paused engine produced %v at %v", out[100], e.CurrentTime())
	}
}
