package dsp

import (
	"math"
	"sync/atomic"
)

// atomicFloat64 is a float64 that can be shared between the control and the
// audio goroutines.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}
