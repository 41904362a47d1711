package dsp_test

import (
	"math"
	"testing"

	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/dsp"
)

func TestPlayheadInterpolates(t *testing.T) {
	pcm := testPCM(100, func(i int) float32 { return float32(i) })
	p, err := dsp.NewPlayhead(pcm, testRate, nil, 0)
	if err != nil {
		t.Fatalf("NewPlayhead failed: %v", err)
	}
	p.SetRate(0.5)
	p.Play()
	buf := make(stemsync.AudioBuffer, 8)
	p.Read(buf)
	for i, v := range buf {
		if expected := float32(i) / 2; v[0] != expected || v[1] != -expected {
			t.Fatalf("frame %d: got %v, expected %v", i, v, expected)
		}
	}
}

func TestPlayheadSourceRate(t *testing.T) {
	pcm := testPCM(48000, func(i int) float32 { return 0 })
	pcm.SampleRate = 48000
	p, err := dsp.NewPlayhead(pcm, 24000, nil, 0)
	if err != nil {
		t.Fatalf("NewPlayhead failed: %v", err)
	}
	p.Play()
	p.Read(make(stemsync.AudioBuffer, 12000))
	if math.Abs(p.CurrentTime()-0.5) > 1e-9 {
		t.Fatalf("12000 frames at 24 kHz should advance 0.5 s, got %v", p.CurrentTime())
	}
}

func TestPlayheadSeekIsDiscontinuity(t *testing.T) {
	p, err := dsp.NewPlayhead(testPCM(1000, func(int) float32 { return 0 }), testRate, nil, 0)
	if err != nil {
		t.Fatalf("NewPlayhead failed: %v", err)
	}
	buf := make(stemsync.AudioBuffer, 10)
	if p.Read(buf) {
		t.Fatalf("first read without a seek reported a discontinuity")
	}
	p.Seek(2)
	if p.CurrentTime() != p.Duration() {
		t.Fatalf("seek fraction was not clamped")
	}
	if !p.Read(buf) {
		t.Fatalf("read after seek did not report a discontinuity")
	}
	p.SetRate(-1)
	if p.Rate() != 1 {
		t.Fatalf("negative rate was accepted")
	}
}
