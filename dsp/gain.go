package dsp

import (
	"github.com/stemsync/stemsync"
	"github.com/viterin/vek/vek32"
)

// gainRamp applies a gain to stereo blocks, moving linearly from the current
// gain to a new target over length frames so that volume changes do not click.
type gainRamp struct {
	current   float32
	target    float32
	delta     float32
	remaining int
	length    int
}

func newGainRamp(length int) gainRamp {
	return gainRamp{current: 1, target: 1, length: max(length, 0)}
}

func (g *gainRamp) apply(buf stemsync.AudioBuffer, target float32) {
	if target != g.target {
		g.target = target
		if g.length == 0 {
			g.current = target
			g.remaining = 0
		} else {
			g.remaining = g.length
			g.delta = (target - g.current) / float32(g.length)
		}
	}
	i := 0
	for ; i < len(buf) && g.remaining > 0; i++ {
		g.remaining--
		if g.remaining == 0 {
			g.current = g.target
		} else {
			g.current += g.delta
		}
		buf[i][0] *= g.current
		buf[i][1] *= g.current
	}
	rest := buf[i:]
	switch {
	case len(rest) == 0 || g.current == 1:
	case g.current == 0:
		rest.Clear()
	default:
		vek32.MulNumber_Inplace(rest.Flat(), g.current)
	}
}
