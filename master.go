package stemsync

type (
	// MasterClockSnapshot is a read-only view of the master transport.
	// CurrentTime and Duration are in seconds.
	MasterClockSnapshot struct {
		CurrentTime float64
		Duration    float64
		Paused      bool
		Rate        float64
	}

	// MasterEventKind enumerates the transport events of the master clock.
	MasterEventKind int

	// MasterEvent is a transport event together with the master state at the
	// moment it was emitted.
	MasterEvent struct {
		Kind     MasterEventKind
		Snapshot MasterClockSnapshot
	}
)

const (
	MasterPlay MasterEventKind = iota
	MasterPause
	MasterSeeking
	MasterSeeked
	MasterEnded
	MasterRateChange
)

func (k MasterEventKind) String() string {
	switch k {
	case MasterPlay:
		return "play"
	case MasterPause:
		return "pause"
	case MasterSeeking:
		return "seeking"
	case MasterSeeked:
		return "seeked"
	case MasterEnded:
		return "ended"
	case MasterRateChange:
		return "ratechange"
	}
	return "unknown"
}

// Fraction returns the position of the master as a fraction of its duration,
// clamped to [0,1]. A master without a known duration is at 0.
func (s MasterClockSnapshot) Fraction() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return Clamp01(s.CurrentTime / s.Duration)
}
