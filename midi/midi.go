// Package midi maps MIDI control changes and pitch bend onto the global pitch
// and speed of a session.
package midi

import (
	"log"
	"math"

	"gitlab.com/gomidi/midi/v2"
)

type (
	// Target is what the controls act on; *session.Session implements it.
	Target interface {
		SetGlobalPitch(semitones float64) error
		SetGlobalSpeed(rate float64) error
	}

	// Mapping selects the controller numbers. Channel is 1-based; 0 listens
	// on all channels.
	Mapping struct {
		PitchCC uint8
		SpeedCC uint8
		Channel uint8
	}

	Controller struct {
		mapping Mapping
		target  Target
		logger  *log.Logger
	}
)

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

func NewController(mapping Mapping, target Target, logger *log.Logger) *Controller {
	return &Controller{mapping: mapping, target: target, logger: logger}
}

// HandleMessage has the signature expected by midi.ListenTo.
func (c *Controller) HandleMessage(msg midi.Message, timestampms int32) {
	var ch, cc, val uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetControlChange(&ch, &cc, &val):
		if !c.listens(ch) {
			return
		}
		switch cc {
		case c.mapping.PitchCC:
			c.report(c.target.SetGlobalPitch(PitchFromCC(val)))
		case c.mapping.SpeedCC:
			c.report(c.target.SetGlobalSpeed(SpeedFromCC(val)))
		}
	case msg.GetPitchBend(&ch, &rel, &abs):
		if c.listens(ch) {
			c.report(c.target.SetGlobalPitch(PitchFromBend(rel)))
		}
	}
}

func (c *Controller) listens(ch uint8) bool {
	return c.mapping.Channel == 0 || c.mapping.Channel == ch+1
}

func (c *Controller) report(err error) {
	if err != nil && c.logger != nil {
		c.logger.Printf("midi: %v", err)
	}
}

// PitchFromCC maps 0..127 onto -12..+12 semitones, rounded to whole
// semitones.
func PitchFromCC(value uint8) float64 {
	return math.Round(float64(min(value, 127))*24/127 - 12)
}

// SpeedFromCC maps 0..127 exponentially onto MinSpeed..MaxSpeed so that the
// center of the knob is close to normal speed.
func SpeedFromCC(value uint8) float64 {
	x := float64(min(value, 127)) / 127
	return MinSpeed * math.Pow(MaxSpeed/MinSpeed, x)
}

// PitchFromBend maps the full pitch bend range onto -12..+12 semitones.
func PitchFromBend(relative int16) float64 {
	return max(float64(relative)/8192*12, -12)
}
