package session

import (
	"context"
	"net/url"

	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/dsp"
)

type (
	// TrackHandle is the view of a track the controller drives. *Track
	// implements it; tests substitute their own.
	TrackHandle interface {
		ID() string
		State() stemsync.ReadyState
		CurrentTime() float64
		Play()
		Pause()
		Seek(fraction float64)
		// Stop pauses the track and returns it to Ready.
		Stop()
	}

	// Track is one stem of the session. All fields are guarded by the
	// session mutex; the engine is the only part shared with the audio
	// goroutine.
	Track struct {
		id        string
		locator   *url.URL
		state     stemsync.ReadyState
		volume    float64
		semitones float64
		speed     float64
		reason    error
		engine    *dsp.Engine
		cancel    context.CancelFunc
		onChange  func(*Track)
	}

	// TrackInfo is a copy of the state of a track for display.
	TrackInfo struct {
		ID                 string
		Locator            string
		State              stemsync.ReadyState
		Volume             float64
		Reason             string
		Mode               string
		CurrentTime        float64
		Duration           float64
		PlaybackRate       float64
		PitchFactor        float64
		AppliedPitchFactor float64
		Underruns          int64
	}
)

func newTrack(id string, locator *url.URL, onChange func(*Track)) *Track {
	return &Track{
		id:       id,
		locator:  locator,
		state:    stemsync.Unattached,
		volume:   1,
		speed:    stemsync.NeutralSpeed,
		onChange: onChange,
	}
}

func (t *Track) ID() string                 { return t.id }
func (t *Track) State() stemsync.ReadyState { return t.state }
func (t *Track) Err() error                 { return t.reason }

func (t *Track) CurrentTime() float64 {
	if t.engine == nil {
		return 0
	}
	return t.engine.CurrentTime()
}

func (t *Track) Play() {
	if !t.state.AudioCapable() {
		return
	}
	t.engine.Play()
	t.setState(stemsync.Playing, nil)
}

func (t *Track) Pause() {
	if t.state != stemsync.Playing {
		return
	}
	t.engine.Pause()
	t.setState(stemsync.Paused, nil)
}

func (t *Track) Stop() {
	if t.state != stemsync.Playing && t.state != stemsync.Paused {
		return
	}
	t.engine.Pause()
	t.setState(stemsync.Ready, nil)
}

func (t *Track) Seek(fraction float64) {
	if t.engine == nil {
		return
	}
	t.engine.Seek(fraction)
}

func (t *Track) setParams(semitones, speed float64) {
	t.semitones, t.speed = semitones, speed
	if t.engine != nil {
		t.engine.SetParams(semitones, speed)
	}
}

func (t *Track) setVolume(v float64) {
	t.volume = stemsync.Clamp01(v)
	if t.engine != nil {
		t.engine.SetGain(t.volume)
	}
}

// attach hands a freshly created engine to the track, applying the parameters
// that were set while it was loading.
func (t *Track) attach(e *dsp.Engine) {
	t.engine = e
	t.cancel = nil
	e.SetParams(t.semitones, t.speed)
	e.SetGain(t.volume)
	t.setState(stemsync.Ready, nil)
}

func (t *Track) fail(err error) {
	t.cancel = nil
	t.setState(stemsync.Errored, err)
}

// release detaches the engine and cancels a pending load. The track must not
// be used afterwards.
func (t *Track) release() {
	if t.engine != nil {
		t.engine.Detach()
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.engine = nil
	t.onChange = nil
}

func (t *Track) setState(s stemsync.ReadyState, reason error) {
	if t.state == stemsync.Errored {
		return
	}
	changed := t.state != s
	t.state = s
	t.reason = reason
	if changed && t.onChange != nil {
		t.onChange(t)
	}
}

func (t *Track) info() TrackInfo {
	ret := TrackInfo{
		ID:     t.id,
		State:  t.state,
		Volume: t.volume,
	}
	if t.locator != nil {
		ret.Locator = t.locator.String()
	}
	if t.reason != nil {
		ret.Reason = t.reason.Error()
	}
	if t.engine != nil {
		ret.Mode = t.engine.Mode().String()
		ret.CurrentTime = t.engine.CurrentTime()
		ret.Duration = t.engine.Duration()
		ret.PlaybackRate = t.engine.PlaybackRate()
		ret.PitchFactor = t.engine.PitchFactor()
		ret.AppliedPitchFactor = t.engine.AppliedPitchFactor()
		ret.Underruns = t.engine.Underruns()
	}
	return ret
}
