package session

import (
	"log"
	"math"
	"time"

	"github.com/stemsync/stemsync"
)

type (
	// SyncConfig holds the tunables of the synchronization controller.
	SyncConfig struct {
		// DriftThreshold is how far a track may be from the master before it
		// is seeked back into place.
		DriftThreshold time.Duration
		// SeekDebounce is how long the master must stay put after a seek
		// before the tracks follow.
		SeekDebounce time.Duration
	}

	// Controller mirrors the transport of the master clock onto the tracks.
	// It is not safe for concurrent use; the Session calls it with its mutex
	// held.
	Controller struct {
		cfg    SyncConfig
		logger *log.Logger
		ui     chan<- any

		text     string
		debounce *time.Timer
		settle   <-chan time.Time
	}
)

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		DriftThreshold: 200 * time.Millisecond,
		SeekDebounce:   200 * time.Millisecond,
	}
}

func NewController(cfg SyncConfig, logger *log.Logger, ui chan<- any) *Controller {
	return &Controller{cfg: cfg, logger: logger, ui: ui, text: PlayAllText}
}

// TransportText is the label the group transport button should show.
func (c *Controller) TransportText() string { return c.text }

// Settle returns a channel that fires when a debounced seek should be
// applied. nil when no seek is pending.
func (c *Controller) Settle() <-chan time.Time { return c.settle }

// Handle dispatches a master event.
func (c *Controller) Handle(ev stemsync.MasterEvent, tracks []TrackHandle) {
	switch ev.Kind {
	case stemsync.MasterPlay:
		c.OnPlay(ev.Snapshot, tracks)
	case stemsync.MasterPause:
		c.OnPause(tracks)
	case stemsync.MasterSeeked:
		c.OnSeeked()
	case stemsync.MasterEnded:
		c.OnEnded(tracks)
	case stemsync.MasterSeeking, stemsync.MasterRateChange:
		// the tracks follow on seeked; the rate is owned by the session state
	}
}

// OnPlay aligns every audio-capable track with the master and starts it.
func (c *Controller) OnPlay(snap stemsync.MasterClockSnapshot, tracks []TrackHandle) {
	for _, t := range tracks {
		if !t.State().AudioCapable() {
			continue
		}
		c.Align(t, snap)
		t.Play()
	}
	c.setText(PauseAllText)
}

func (c *Controller) OnPause(tracks []TrackHandle) {
	for _, t := range tracks {
		if t.State() == stemsync.Playing {
			t.Pause()
		}
	}
	c.setText(PlayAllText)
}

// OnSeeked (re)arms the debounce timer. The tracks follow once it fires and
// Settled is called.
func (c *Controller) OnSeeked() {
	if c.debounce == nil {
		c.debounce = time.NewTimer(c.cfg.SeekDebounce)
	} else {
		c.debounce.Stop()
		c.debounce.Reset(c.cfg.SeekDebounce)
	}
	c.settle = c.debounce.C
}

// Settled applies a debounced seek: every audio-capable track is aligned with
// the master and resumes the play/pause state of the master.
func (c *Controller) Settled(snap stemsync.MasterClockSnapshot, tracks []TrackHandle) {
	c.settle = nil
	for _, t := range tracks {
		if !t.State().AudioCapable() {
			continue
		}
		c.Align(t, snap)
		if snap.Paused {
			t.Pause()
		} else {
			t.Play()
		}
	}
	if snap.Paused {
		c.setText(PlayAllText)
	} else {
		c.setText(PauseAllText)
	}
}

// OnEnded stops every playing or paused track without seeking.
func (c *Controller) OnEnded(tracks []TrackHandle) {
	for _, t := range tracks {
		if s := t.State(); s == stemsync.Playing || s == stemsync.Paused {
			t.Stop()
		}
	}
	c.setText(PlayAllText)
}

// Align seeks the track to the position of the master if it has drifted
// further than the threshold. It reports whether a seek was issued.
func (c *Controller) Align(t TrackHandle, snap stemsync.MasterClockSnapshot) bool {
	delta := math.Abs(t.CurrentTime() - snap.CurrentTime)
	if delta <= c.cfg.DriftThreshold.Seconds() {
		return false
	}
	if c.logger != nil {
		c.logger.Printf("track %q drifted %.3fs from the master, seeking to %.3fs", t.ID(), delta, snap.CurrentTime)
	}
	t.Seek(snap.Fraction())
	return true
}

// Stop releases the debounce timer.
func (c *Controller) Stop() {
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.settle = nil
}

func (c *Controller) setText(text string) {
	if c.text == text {
		return
	}
	c.text = text
	if c.ui != nil {
		trySend(c.ui, any(TransportTextMsg{Text: text}))
	}
}

// Reset returns the transport text to its initial state and drops a pending
// seek.
func (c *Controller) Reset() {
	c.Stop()
	c.setText(PlayAllText)
}
