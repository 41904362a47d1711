package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/url"
	"sync"

	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/dsp"
)

type (
	// MasterClock is the transport stems are synchronized against, typically
	// the player of the video the stems were separated from.
	MasterClock interface {
		Snapshot() stemsync.MasterClockSnapshot
		SetRate(rate float64)
		Events() <-chan stemsync.MasterEvent
	}

	// AssetLoader turns the URI of a stem into decoded audio. Load is called
	// from its own goroutine and should give up when ctx is cancelled.
	AssetLoader interface {
		Load(ctx context.Context, uri *url.URL) (*stemsync.PCM, error)
	}

	Config struct {
		Sync SyncConfig
		DSP  dsp.Options
	}

	// Session is the stem player of one master clock. All exported methods
	// are safe for concurrent use; they and the event loop in Run are
	// serialized by a single mutex. The audio goroutine only ever talks to
	// the Mixer.
	Session struct {
		mu sync.Mutex

		cfg        Config
		master     MasterClock
		loader     AssetLoader
		logger     *log.Logger
		broker     *Broker
		registry   *Registry
		state      *SessionState
		mixer      *Mixer
		controller *Controller

		jobID       string
		allReady    bool
		loads       context.Context
		cancelLoads context.CancelFunc
	}
)

func DefaultConfig() Config {
	return Config{Sync: DefaultSyncConfig(), DSP: dsp.DefaultOptions()}
}

// New creates an empty session. A nil logger discards the log.
func New(cfg Config, master MasterClock, loader AssetLoader, broker *Broker, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if broker == nil {
		broker = NewBroker()
	}
	s := &Session{
		cfg:        cfg,
		master:     master,
		loader:     loader,
		logger:     logger,
		broker:     broker,
		registry:   NewRegistry(),
		state:      NewSessionState(),
		mixer:      NewMixer(cfg.DSP.BlockSize),
		controller: NewController(cfg.Sync, logger, broker.ToUI),
	}
	s.loads, s.cancelLoads = context.WithCancel(context.Background())
	s.state.Observe(s.applyParams)
	return s
}

// Mixer is the audio source of the session, to be played on an audio
// context.
func (s *Session) Mixer() *Mixer { return s.mixer }

func (s *Session) Broker() *Broker { return s.broker }

// Observe registers fn to be called, from the control domain, after every
// change of the global pitch or speed.
func (s *Session) Observe(fn func(semitones, speed float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Observe(fn)
}

// CreateTracks replaces the tracks of the session with one per definition and
// starts loading them. A definition with an unusable locator produces an
// Errored track; it never prevents the others from loading.
func (s *Session) CreateTracks(defs []stemsync.TrackDefinition, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyAll()
	if err := s.registry.Populate(defs, s.trackChanged); err != nil {
		return fmt.Errorf("CreateTracks: %w", err)
	}
	s.jobID = jobID
	gen := s.registry.Generation()
	for _, t := range s.registry.Tracks() {
		t.setParams(s.state.Semitones(), s.state.Speed())
		if t.State() == stemsync.Errored {
			s.logger.Printf("job %s: %v", jobID, t.Err())
			continue
		}
		ctx, cancel := context.WithCancel(s.loads)
		t.cancel = cancel
		t.setState(stemsync.Loading, nil)
		go s.load(ctx, gen, t.ID(), t.locator)
	}
	return nil
}

func (s *Session) load(ctx context.Context, gen uint64, id string, uri *url.URL) {
	pcm, err := s.loader.Load(ctx, uri)
	if err == nil && (pcm == nil || len(pcm.Frames) == 0) {
		err = errors.New("asset contains no audio")
	}
	select {
	case s.broker.ToController <- any(loadResultMsg{generation: gen, id: id, pcm: pcm, err: err}):
	case <-ctx.Done():
	}
}

// DestroyAll detaches every track from the audio graph, cancels pending loads
// and resets the global parameters. Calling it on an empty session is a
// no-op apart from the reset.
func (s *Session) DestroyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyAll()
}

func (s *Session) destroyAll() {
	// the engines are detached before the mixer forgets them, so that a block
	// rendering concurrently goes silent
	s.registry.Clear()
	s.mixer.Clear()
	s.jobID = ""
	s.controller.Reset()
	s.state.Reset()
	s.updateAllReady()
}

// Close destroys the tracks and cancels every load that is still running.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyAll()
	s.cancelLoads()
}

func (s *Session) SetGlobalPitch(semitones float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SetSemitones(semitones)
}

func (s *Session) SetGlobalSpeed(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SetSpeed(rate)
}

// Params returns the global pitch in semitones and the speed.
func (s *Session) Params() (semitones, speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Semitones(), s.state.Speed()
}

// SetVolume sets the gain of one track, clamped to [0,1].
func (s *Session) SetVolume(id string, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if math.IsNaN(volume) {
		return fmt.Errorf("volume %v: %w", volume, stemsync.ErrInvalidParameter)
	}
	if s.registry.Len() == 0 {
		return fmt.Errorf("SetVolume(%q): %w", id, stemsync.ErrNoSession)
	}
	t, ok := s.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("SetVolume(%q): %w", id, stemsync.ErrUnknownTrack)
	}
	t.setVolume(volume)
	return nil
}

func (s *Session) IsTrackReady(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.registry.Lookup(id)
	return ok && t.State().AudioCapable()
}

// TrackHandles returns the state of every track in definition order.
func (s *Session) TrackHandles() []TrackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]TrackInfo, 0, s.registry.Len())
	for _, t := range s.registry.Tracks() {
		ret = append(ret, t.info())
	}
	return ret
}

func (s *Session) AllReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allReady
}

func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

func (s *Session) TransportText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller.TransportText()
}

// Run is the control loop of the session. It follows the master clock and
// attaches loaded tracks until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	events := s.master.Events()
	for {
		s.mu.Lock()
		settle := s.controller.Settle()
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.controller.Stop()
			s.mu.Unlock()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.mu.Lock()
			s.controller.Handle(ev, s.registry.Handles())
			s.mu.Unlock()
		case <-settle:
			s.mu.Lock()
			s.controller.Settled(s.master.Snapshot(), s.registry.Handles())
			s.mu.Unlock()
		case msg := <-s.broker.ToController:
			s.mu.Lock()
			s.handle(msg)
			s.mu.Unlock()
		}
	}
}

func (s *Session) handle(msg any) {
	switch m := msg.(type) {
	case loadResultMsg:
		s.loaded(m)
	case func():
		m()
	default:
		s.logger.Printf("session: unexpected message %T", msg)
	}
}

func (s *Session) loaded(m loadResultMsg) {
	if m.generation != s.registry.Generation() {
		return
	}
	t, ok := s.registry.Lookup(m.id)
	if !ok || t.State() != stemsync.Loading {
		return
	}
	if m.err != nil {
		s.trackFailed(t, &stemsync.LoadFailure{ID: t.ID(), URI: t.locator.String(), Err: m.err})
		return
	}
	if m.pcm.SampleRate != s.cfg.DSP.SampleRate {
		s.logger.Printf("track %q is %d Hz, playing at %d Hz", t.ID(), m.pcm.SampleRate, s.cfg.DSP.SampleRate)
	}
	mode, err := dsp.ResolveMode(s.cfg.DSP)
	if err != nil {
		s.logger.Printf("track %q: %v; pitch and speed are coupled", t.ID(), err)
	}
	e, err := dsp.NewEngine(m.pcm, mode, s.cfg.DSP)
	if err != nil {
		s.trackFailed(t, &stemsync.LoadFailure{ID: t.ID(), URI: t.locator.String(), Err: err})
		return
	}
	t.attach(e)
	s.mixer.Add(e)
	if snap := s.master.Snapshot(); !snap.Paused {
		s.controller.Align(t, snap)
		t.Play()
	}
}

func (s *Session) trackFailed(t *Track, err error) {
	s.logger.Print(err)
	s.alert(Error, "LoadFailure", err.Error())
	t.fail(err)
}

// trackChanged is called by a track after every state change.
func (s *Session) trackChanged(t *Track) {
	msg := TrackStateMsg{ID: t.ID(), State: t.State()}
	if err := t.Err(); err != nil {
		msg.Reason = err.Error()
	}
	s.broker.Publish(msg)
	s.updateAllReady()
}

func (s *Session) updateAllReady() {
	ready := s.registry.AllReady()
	if ready == s.allReady {
		return
	}
	s.allReady = ready
	s.broker.Publish(AllReadyMsg{Ready: ready})
}

// applyParams pushes the global parameters to every track and the master.
func (s *Session) applyParams(semitones, speed float64) {
	for _, t := range s.registry.Tracks() {
		t.setParams(semitones, speed)
	}
	if s.master != nil {
		s.master.SetRate(speed)
	}
	s.broker.Publish(ParamsMsg{Semitones: semitones, Speed: speed})
}
