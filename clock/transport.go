// Package clock provides a software master clock: a transport that keeps time
// with the wall clock, for when there is no external player to follow.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/stemsync/stemsync"
)

type (
	// Transport is a play/pause/seek transport of fixed duration. It
	// implements session.MasterClock. All methods are safe for concurrent
	// use.
	Transport struct {
		mu       sync.Mutex
		duration float64
		position float64 // at anchor
		anchor   time.Time
		paused   bool
		rate     float64
		events   chan stemsync.MasterEvent
		now      func() time.Time
	}

	Option func(*Transport)
)

const tickInterval = 20 * time.Millisecond

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// NewTransport returns a paused transport at 0 lasting duration seconds.
func NewTransport(duration float64, opts ...Option) *Transport {
	t := &Transport{
		duration: duration,
		paused:   true,
		rate:     1,
		events:   make(chan stemsync.MasterEvent, 64),
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	t.anchor = t.now()
	return t
}

func (t *Transport) Events() <-chan stemsync.MasterEvent { return t.events }

func (t *Transport) Snapshot() stemsync.MasterClockSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Transport) snapshot() stemsync.MasterClockSnapshot {
	return stemsync.MasterClockSnapshot{
		CurrentTime: t.current(),
		Duration:    t.duration,
		Paused:      t.paused,
		Rate:        t.rate,
	}
}

func (t *Transport) current() float64 {
	pos := t.position
	if !t.paused {
		pos += t.now().Sub(t.anchor).Seconds() * t.rate
	}
	return min(max(pos, 0), t.duration)
}

// rebase folds the elapsed time into position.
func (t *Transport) rebase() {
	t.position = t.current()
	t.anchor = t.now()
}

func (t *Transport) SetRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rate <= 0 || rate == t.rate {
		return
	}
	t.rebase()
	t.rate = rate
	t.emit(stemsync.MasterRateChange)
}

// SetDuration changes the length of the transport, e.g. once the length of
// the stems is known.
func (t *Transport) SetDuration(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rebase()
	t.duration = max(seconds, 0)
	t.position = min(t.position, t.duration)
}

// Play starts the transport; an ended transport restarts from the beginning.
func (t *Transport) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.rebase()
	if t.position >= t.duration {
		t.position = 0
	}
	t.paused = false
	t.emit(stemsync.MasterPlay)
}

func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return
	}
	t.rebase()
	t.paused = true
	t.emit(stemsync.MasterPause)
}

// Toggle plays a paused transport and pauses a playing one.
func (t *Transport) Toggle() {
	if t.Snapshot().Paused {
		t.Play()
	} else {
		t.Pause()
	}
}

// Seek moves to the given time in seconds, emitting seeking and seeked.
func (t *Transport) Seek(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(stemsync.MasterSeeking)
	t.position = min(max(seconds, 0), t.duration)
	t.anchor = t.now()
	t.emit(stemsync.MasterSeeked)
}

// Tick emits ended when a playing transport has reached its duration.
func (t *Transport) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused || t.current() < t.duration {
		return
	}
	t.rebase()
	t.paused = true
	t.emit(stemsync.MasterEnded)
}

// Run calls Tick periodically until ctx is done.
func (t *Transport) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Tick()
		}
	}
}

// emit is called with the mutex held; events are dropped if nobody reads
// them.
func (t *Transport) emit(kind stemsync.MasterEventKind) {
	select {
	case t.events <- stemsync.MasterEvent{Kind: kind, Snapshot: t.snapshot()}:
	default:
	}
}
