package session

import (
	"fmt"
	"math"

	"github.com/stemsync/stemsync"
)

// SessionState holds the global pitch and speed of a session. It is owned by
// the Session and only touched from the control domain. Every change is
// pushed to the registered observers synchronously.
type SessionState struct {
	semitones float64
	speed     float64
	observers []func(semitones, speed float64)
}

func NewSessionState() *SessionState {
	return &SessionState{semitones: stemsync.NeutralPitch, speed: stemsync.NeutralSpeed}
}

func (s *SessionState) Semitones() float64 { return s.semitones }
func (s *SessionState) Speed() float64     { return s.speed }

// Observe registers fn to be called with the new values after every change.
func (s *SessionState) Observe(fn func(semitones, speed float64)) {
	s.observers = append(s.observers, fn)
}

// SetSemitones sets the transposition, clamped to the supported range.
func (s *SessionState) SetSemitones(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("pitch %v: %w", v, stemsync.ErrInvalidParameter)
	}
	s.semitones = stemsync.ClampPitch(v)
	s.notify()
	return nil
}

// SetSpeed sets the rate multiplier, clamped to the supported range.
func (s *SessionState) SetSpeed(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("speed %v: %w", v, stemsync.ErrInvalidParameter)
	}
	s.speed = stemsync.ClampSpeed(v)
	s.notify()
	return nil
}

// Reset returns both parameters to neutral.
func (s *SessionState) Reset() {
	s.semitones = stemsync.NeutralPitch
	s.speed = stemsync.NeutralSpeed
	s.notify()
}

func (s *SessionState) notify() {
	for _, fn := range s.observers {
		fn(s.semitones, s.speed)
	}
}
