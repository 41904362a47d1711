package session

import (
	"sync/atomic"
	"time"

	"github.com/stemsync/stemsync"
)

type (
	// Broker carries the messages between the goroutines of a session. Loads
	// and other background work report to the controller loop through
	// ToController; the session reports everything a user interface might
	// want to show through ToUI. Both channels are bounded; Publish never
	// blocks and drops the message if nobody is listening.
	Broker struct {
		ToController chan any
		ToUI         chan any
		dropped      atomic.Uint64
	}

	// AllReadyMsg is sent whenever the group readiness flips.
	AllReadyMsg struct {
		Ready bool
	}

	// TrackStateMsg is sent whenever a track changes state. Reason is set
	// for errored tracks.
	TrackStateMsg struct {
		ID     string
		State  stemsync.ReadyState
		Reason string
	}

	// TransportTextMsg carries the label of the group transport button.
	TransportTextMsg struct {
		Text string
	}

	// ParamsMsg is sent after the global pitch or speed changed.
	ParamsMsg struct {
		Semitones float64
		Speed     float64
	}

	// loadResultMsg is posted by a load goroutine when it is done.
	loadResultMsg struct {
		generation uint64
		id         string
		pcm        *stemsync.PCM
		err        error
	}
)

const (
	PlayAllText  = "Play All"
	PauseAllText = "Pause All"
)

func NewBroker() *Broker {
	return &Broker{
		ToController: make(chan any, 1024),
		ToUI:         make(chan any, 1024),
	}
}

// Publish offers msg to the user interface. It returns false, and counts the
// message as dropped, when ToUI is full.
func (b *Broker) Publish(msg any) bool {
	if trySend(b.ToUI, msg) {
		return true
	}
	b.dropped.Add(1)
	return false
}

// Dropped is the number of UI messages lost because ToUI was full.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// trySend never blocks; a nil channel counts as full.
func trySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
		return true
	default:
		return false
	}
}

// TimeoutReceive waits at most t for a value from c. ok is false on timeout
// and when c is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	timer := time.NewTimer(t)
	defer timer.Stop()
	select {
	case v, ok = <-c:
	case <-timer.C:
	}
	return v, ok
}
