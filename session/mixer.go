package session

import (
	"sync/atomic"

	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/dsp"
	"github.com/viterin/vek/vek32"
)

// Mixer is the audio graph of a session: it sums the output of every attached
// engine. ReadAudio is called from the audio goroutine and never blocks; the
// engine list is replaced as a whole by Add and Clear, which are
// meant to be called from the control domain only.
type Mixer struct {
	engines atomic.Pointer[[]*dsp.Engine]
	scratch stemsync.AudioBuffer
}

func NewMixer(blockSize int) *Mixer {
	if blockSize <= 0 {
		blockSize = dsp.DefaultOptions().BlockSize
	}
	m := &Mixer{scratch: make(stemsync.AudioBuffer, blockSize)}
	m.engines.Store(&[]*dsp.Engine{})
	return m
}

func (m *Mixer) Add(e *dsp.Engine) {
	old := *m.engines.Load()
	next := make([]*dsp.Engine, len(old), len(old)+1)
	copy(next, old)
	next = append(next, e)
	m.engines.Store(&next)
}

func (m *Mixer) Clear() {
	m.engines.Store(&[]*dsp.Engine{})
}

func (m *Mixer) Len() int {
	return len(*m.engines.Load())
}

// ReadAudio implements stemsync.AudioSource.
func (m *Mixer) ReadAudio(buf stemsync.AudioBuffer) error {
	buf.Clear()
	engines := *m.engines.Load()
	for len(buf) > 0 {
		n := min(len(buf), len(m.scratch))
		out := buf[:n].Flat()
		for _, e := range engines {
			if e.Detached() {
				continue
			}
			s := m.scratch[:n]
			e.Process(s)
			vek32.Add_Inplace(out, s.Flat())
		}
		buf = buf[n:]
	}
	return nil
}
