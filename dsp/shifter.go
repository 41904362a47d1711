package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/stemsync/stemsync"
	"github.com/viterin/vek"
)

type (
	// PitchShifter is a streaming phase-vocoder pitch transform for a single
	// channel. Samples are pushed into an input queue; every time a full
	// analysis frame is available, one hop of output is synthesized into the
	// output queue. The duration of the signal is preserved and only its
	// frequency content is scaled by the factor given to Push.
	//
	// The input queue is primed with Latency() samples of silence, so after
	// any push there are at least as many samples ready to pull as were pushed
	// in total.
	PitchShifter struct {
		fftSize    int
		osamp      int
		step       int
		freqPerBin float64
		expct      float64 // expected phase advance per bin per hop

		in, out *fifo

		window    []float64
		frame32   []float32
		frame     []float64
		windowed  []float64
		spectrum  []complex128
		lastPhase []float64
		sumPhase  []float64
		anaMagn   []float64
		anaFreq   []float64
		synMagn   []float64
		synFreq   []float64
		accum     []float64
		hop32     []float32
	}
)

const (
	DefaultFFTSize      = 2048
	DefaultOversampling = 4
	minFFTSize          = 256
)

// NewPitchShifter creates a shifter with the given analysis frame size and
// overlap factor. maxBlock is the largest number of samples that will be
// pushed or pulled in one call; the queues are sized from it once here.
func NewPitchShifter(fftSize, oversampling int, sampleRate float64, maxBlock int) (*PitchShifter, error) {
	if fftSize < minFFTSize || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d is not a power of two >= %d: %w", fftSize, minFFTSize, stemsync.ErrEngineUnavailable)
	}
	if oversampling < 2 || fftSize%oversampling != 0 {
		return nil, fmt.Errorf("oversampling %d does not divide fft size %d: %w", oversampling, fftSize, stemsync.ErrEngineUnavailable)
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("sample rate %v not supported: %w", sampleRate, stemsync.ErrEngineUnavailable)
	}
	if maxBlock <= 0 {
		return nil, fmt.Errorf("block size %d: %w", maxBlock, stemsync.ErrInvalidParameter)
	}
	half := fftSize/2 + 1
	p := &PitchShifter{
		fftSize:    fftSize,
		osamp:      oversampling,
		step:       fftSize / oversampling,
		freqPerBin: sampleRate / float64(fftSize),
		expct:      2 * math.Pi / float64(oversampling),
		in:         newFIFO(fftSize + maxBlock),
		out:        newFIFO(fftSize + maxBlock),
		window:     make([]float64, fftSize),
		frame32:    make([]float32, fftSize),
		frame:      make([]float64, fftSize),
		windowed:   make([]float64, fftSize),
		spectrum:   make([]complex128, fftSize),
		lastPhase:  make([]float64, half),
		sumPhase:   make([]float64, half),
		anaMagn:    make([]float64, half),
		anaFreq:    make([]float64, half),
		synMagn:    make([]float64, half),
		synFreq:    make([]float64, half),
		accum:      make([]float64, fftSize),
		hop32:      make([]float32, fftSize/oversampling),
	}
	for k := range p.window {
		p.window[k] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(k)/float64(fftSize))
	}
	p.Reset()
	return p, nil
}

// Latency is the delay, in samples, between a sample going in and the
// corresponding sample coming out.
func (p *PitchShifter) Latency() int {
	return p.fftSize - 1
}

// Available returns the number of output samples ready to be pulled.
func (p *PitchShifter) Available() int {
	return p.out.Len()
}

// Reset clears all phase state and queued audio.
func (p *PitchShifter) Reset() {
	p.in.Reset()
	p.out.Reset()
	clear(p.lastPhase)
	clear(p.sumPhase)
	clear(p.accum)
	clear(p.frame32)
	for rem := p.Latency(); rem > 0; {
		rem -= p.in.Push(p.frame32[:min(rem, len(p.frame32))])
	}
}

// Push feeds samples into the input queue, synthesizing output hops as full
// frames become available. It returns the number of samples accepted; fewer
// than len(s) means the output queue is full and needs to be pulled.
func (p *PitchShifter) Push(s []float32, factor float64) int {
	total := 0
	for len(s) > 0 {
		n := p.in.Push(s)
		total += n
		s = s[n:]
		hops := 0
		for p.in.Len() >= p.fftSize && p.out.Free() >= p.step {
			p.hop(factor)
			hops++
		}
		if n == 0 && hops == 0 {
			break
		}
	}
	return total
}

// Pull moves up to len(dst) synthesized samples into dst.
func (p *PitchShifter) Pull(dst []float32) int {
	return p.out.Pop(dst)
}

func (p *PitchShifter) hop(factor float64) {
	n := p.fftSize
	half := n / 2
	p.in.Peek(p.frame32)
	for k, v := range p.frame32 {
		p.frame[k] = float64(v)
	}
	vek.Mul_Into(p.windowed, p.frame, p.window)
	x := fft.FFTReal(p.windowed)

	// analysis: estimate the true frequency of each bin from its phase advance
	for k := 0; k <= half; k++ {
		magn := 2 * cmplx.Abs(x[k])
		phase := cmplx.Phase(x[k])
		d := phase - p.lastPhase[k]
		p.lastPhase[k] = phase
		d -= float64(k) * p.expct
		qpd := int(d / math.Pi)
		if qpd >= 0 {
			qpd += qpd & 1
		} else {
			qpd -= qpd & 1
		}
		d -= math.Pi * float64(qpd)
		d = float64(p.osamp) * d / (2 * math.Pi)
		p.anaMagn[k] = magn
		p.anaFreq[k] = (float64(k) + d) * p.freqPerBin
	}

	// scale the spectrum
	clear(p.synMagn)
	clear(p.synFreq)
	for k := 0; k <= half; k++ {
		idx := int(float64(k) * factor)
		if idx <= half {
			p.synMagn[idx] += p.anaMagn[k]
			p.synFreq[idx] = p.anaFreq[k] * factor
		}
	}

	// synthesis: accumulate phase from the shifted frequencies
	for k := 0; k <= half; k++ {
		d := p.synFreq[k]/p.freqPerBin - float64(k)
		d = 2 * math.Pi * d / float64(p.osamp)
		d += float64(k) * p.expct
		p.sumPhase[k] = math.Mod(p.sumPhase[k]+d, 2*math.Pi)
		p.spectrum[k] = cmplx.Rect(p.synMagn[k], p.sumPhase[k])
	}
	for k := half + 1; k < n; k++ {
		p.spectrum[k] = 0
	}
	y := fft.IFFT(p.spectrum)

	// overlap-add; fft.IFFT is normalized by 1/n, hence 4/osamp instead of
	// 2/(n/2 * osamp)
	scale := 4 / float64(p.osamp)
	for k := 0; k < n; k++ {
		p.accum[k] += scale * p.window[k] * real(y[k])
	}
	for k := range p.hop32 {
		p.hop32[k] = float32(p.accum[k])
	}
	p.out.Push(p.hop32)
	copy(p.accum, p.accum[p.step:])
	clear(p.accum[n-p.step:])
	p.in.Discard(p.step)
}
