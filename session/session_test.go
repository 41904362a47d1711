package session_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/dsp"
	"github.com/stemsync/stemsync/session"
)

const testRate = 44100

type fakeMaster struct {
	mu     sync.Mutex
	snap   stemsync.MasterClockSnapshot
	events chan stemsync.MasterEvent
}

func newFakeMaster(duration float64) *fakeMaster {
	return &fakeMaster{
		snap:   stemsync.MasterClockSnapshot{Duration: duration, Paused: true, Rate: 1},
		events: make(chan stemsync.MasterEvent, 16),
	}
}

func (m *fakeMaster) Snapshot() stemsync.MasterClockSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *fakeMaster) SetRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Rate = rate
}

func (m *fakeMaster) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Rate
}

func (m *fakeMaster) Events() <-chan stemsync.MasterEvent { return m.events }

func (m *fakeMaster) emit(kind stemsync.MasterEventKind, edit func(*stemsync.MasterClockSnapshot)) {
	m.mu.Lock()
	if edit != nil {
		edit(&m.snap)
	}
	snap := m.snap
	m.mu.Unlock()
	m.events <- stemsync.MasterEvent{Kind: kind, Snapshot: snap}
}

// fakeLoader serves a sine of the given length for every URI except the ones
// listed in fail.
type fakeLoader struct {
	seconds float64
	fail    map[string]error
	block   chan struct{}
}

func (l *fakeLoader) Load(ctx context.Context, uri *url.URL) (*stemsync.PCM, error) {
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := l.fail[uri.String()]; ok {
		return nil, err
	}
	pcm := &stemsync.PCM{Frames: make(stemsync.AudioBuffer, int(l.seconds*testRate)), SampleRate: testRate}
	for i := range pcm.Frames {
		v := float32(0.25 * math.Sin(2*math.Pi*220*float64(i)/testRate))
		pcm.Frames[i] = [2]float32{v, v}
	}
	return pcm, nil
}

type fixture struct {
	session *session.Session
	master  *fakeMaster
	cancel  context.CancelFunc
	done    chan error
}

func newFixture(t *testing.T, loader session.AssetLoader, edit func(*session.Config)) *fixture {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Sync.SeekDebounce = 20 * time.Millisecond
	if edit != nil {
		edit(&cfg)
	}
	master := newFakeMaster(4)
	s := session.New(cfg, master, loader, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{session: s, master: master, cancel: cancel, done: make(chan error, 1)}
	go func() { f.done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if _, ok := session.TimeoutReceive(f.done, 3*time.Second); !ok {
			t.Errorf("session loop did not stop")
		}
		s.Close()
	})
	return f
}

// waitFor consumes UI messages until pred accepts one.
func (f *fixture) waitFor(t *testing.T, what string, pred func(any) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok := session.TimeoutReceive(f.session.Broker().ToUI, 100*time.Millisecond)
		if ok && pred(msg) {
			return
		}
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) waitAllReady(t *testing.T) {
	t.Helper()
	f.waitFor(t, "all tracks ready", func(msg any) bool {
		m, ok := msg.(session.AllReadyMsg)
		return ok && m.Ready
	})
}

func (f *fixture) waitState(t *testing.T, id string, state stemsync.ReadyState) {
	t.Helper()
	f.waitFor(t, fmt.Sprintf("%s to become %v", id, state), func(msg any) bool {
		m, ok := msg.(session.TrackStateMsg)
		return ok && m.ID == id && m.State == state
	})
}

func stems(names ...string) []stemsync.TrackDefinition {
	ret := make([]stemsync.TrackDefinition, len(names))
	for i, n := range names {
		ret[i] = stemsync.TrackDefinition{ID: n, Locator: "file:///stems/" + n + ".wav"}
	}
	return ret
}

func TestPartialFailure(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 1}, nil)
	defs := append(stems("vocals", "drums", "bass", "other"), stemsync.TrackDefinition{ID: "piano", Locator: "piano.wav"})
	if err := f.session.CreateTracks(defs, "job-1"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	f.waitAllReady(t)
	handles := f.session.TrackHandles()
	if len(handles) != 5 {
		t.Fatalf("expected 5 tracks, got %d", len(handles))
	}
	for i, h := range handles {
		if h.ID != defs[i].ID {
			t.Fatalf("track %d is %q, expected definition order %q", i, h.ID, defs[i].ID)
		}
	}
	for _, h := range handles[:4] {
		if h.State != stemsync.Ready || !f.session.IsTrackReady(h.ID) {
			t.Fatalf("track %q is %v, expected ready", h.ID, h.State)
		}
	}
	if piano := handles[4]; piano.State != stemsync.Errored || piano.Reason == "" {
		t.Fatalf("piano should be errored with a reason, got %v %q", piano.State, piano.Reason)
	}
	if f.session.IsTrackReady("piano") {
		t.Fatalf("errored track reported ready")
	}
	if !f.session.AllReady() {
		t.Fatalf("errored tracks must not block readiness")
	}
	if f.session.JobID() != "job-1" {
		t.Fatalf("job id %q", f.session.JobID())
	}
	if n := f.session.Mixer().Len(); n != 4 {
		t.Fatalf("expected 4 engines in the mixer, got %d", n)
	}
}

func TestLoadFailureIsReported(t *testing.T) {
	cause := errors.New("404")
	loader := &fakeLoader{seconds: 1, fail: map[string]error{"file:///stems/bass.wav": cause}}
	f := newFixture(t, loader, nil)
	if err := f.session.CreateTracks(stems("vocals", "bass"), "job"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	f.waitState(t, "bass", stemsync.Errored)
	f.waitAllReady(t)
	if f.session.IsTrackReady("bass") || !f.session.IsTrackReady("vocals") {
		t.Fatalf("unexpected readiness after a failed load")
	}
}

func TestCreateTracksRejectsMisuse(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 1}, nil)
	err := f.session.CreateTracks(append(stems("vocals"), stems("vocals")...), "job")
	if !errors.Is(err, stemsync.ErrDuplicateTrack) {
		t.Fatalf("expected ErrDuplicateTrack, got %v", err)
	}
	err = f.session.CreateTracks([]stemsync.TrackDefinition{{Locator: "file:///a.wav"}}, "job")
	if !errors.Is(err, stemsync.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if len(f.session.TrackHandles()) != 0 {
		t.Fatalf("rejected definitions must not create tracks")
	}
}

func TestDestroyAllIsIdempotent(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 1}, nil)
	if err := f.session.CreateTracks(stems("vocals", "drums"), "job"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	f.waitAllReady(t)
	if err := f.session.SetGlobalPitch(5); err != nil {
		t.Fatalf("SetGlobalPitch failed: %v", err)
	}
	if err := f.session.SetGlobalSpeed(1.5); err != nil {
		t.Fatalf("SetGlobalSpeed failed: %v", err)
	}
	for range 2 {
		f.session.DestroyAll()
		if semitones, speed := f.session.Params(); semitones != 0 || speed != 1 {
			t.Fatalf("params (%v, %v) after DestroyAll, expected neutral", semitones, speed)
		}
		if f.master.Rate() != 1 {
			t.Fatalf("master rate %v after DestroyAll", f.master.Rate())
		}
		if len(f.session.TrackHandles()) != 0 || f.session.AllReady() || f.session.Mixer().Len() != 0 {
			t.Fatalf("DestroyAll left tracks behind")
		}
		if f.session.TransportText() != session.PlayAllText {
			t.Fatalf("transport text %q after DestroyAll", f.session.TransportText())
		}
	}
	if err := f.session.SetVolume("vocals", 1); !errors.Is(err, stemsync.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestDestroyAllCancelsLoads(t *testing.T) {
	loader := &fakeLoader{seconds: 1, block: make(chan struct{})}
	f := newFixture(t, loader, nil)
	if err := f.session.CreateTracks(stems("vocals"), "job"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	f.session.DestroyAll()
	if err := f.session.CreateTracks(stems("drums"), "job-2"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	close(loader.block)
	f.waitAllReady(t)
	handles := f.session.TrackHandles()
	if len(handles) != 1 || handles[0].ID != "drums" {
		t.Fatalf("stale load leaked into the new job: %+v", handles)
	}
}

func TestCombinedRateFallback(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 1}, func(cfg *session.Config) {
		cfg.DSP.DisablePitchShift = true
	})
	if err := f.session.CreateTracks(stems("vocals", "drums"), "job"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	var alerts []session.Alert
	f.waitFor(t, "all tracks ready", func(msg any) bool {
		if a, ok := msg.(session.Alert); ok {
			alerts = append(alerts, a)
		}
		m, ok := msg.(session.AllReadyMsg)
		return ok && m.Ready
	})
	if len(alerts) != 0 {
		t.Fatalf("the fallback should only be logged, got alerts %+v", alerts)
	}
	if err := f.session.SetGlobalSpeed(1.2); err != nil {
		t.Fatalf("SetGlobalSpeed failed: %v", err)
	}
	if err := f.session.SetGlobalPitch(3); err != nil {
		t.Fatalf("SetGlobalPitch failed: %v", err)
	}
	h := f.session.TrackHandles()[0]
	if expected := 1.2 * math.Pow(2, 3.0/12); math.Abs(h.PlaybackRate-expected) > 1e-9 {
		t.Fatalf("track rate %v, expected %v", h.PlaybackRate, expected)
	}
	if f.master.Rate() != 1.2 {
		t.Fatalf("master rate %v, expected 1.2", f.master.Rate())
	}
	if h.Mode != (dsp.CombinedRate{}).String() {
		t.Fatalf("track mode %q", h.Mode)
	}
}

func TestParametersAreClamped(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 1}, nil)
	if err := f.session.SetGlobalPitch(30); err != nil {
		t.Fatalf("SetGlobalPitch failed: %v", err)
	}
	if err := f.session.SetGlobalSpeed(10); err != nil {
		t.Fatalf("SetGlobalSpeed failed: %v", err)
	}
	if semitones, speed := f.session.Params(); semitones != 12 || speed != 4 {
		t.Fatalf("params (%v, %v), expected (12, 4)", semitones, speed)
	}
	if err := f.session.SetGlobalSpeed(math.NaN()); !errors.Is(err, stemsync.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 4}, nil)
	if err := f.session.CreateTracks(stems("vocals", "drums"), "job"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	f.waitAllReady(t)
	mixer := f.session.Mixer()
	buf := make(stemsync.AudioBuffer, 4096)

	f.master.emit(stemsync.MasterPlay, func(s *stemsync.MasterClockSnapshot) { s.Paused = false })
	f.waitFor(t, "pause all text", func(msg any) bool {
		m, ok := msg.(session.TransportTextMsg)
		return ok && m.Text == session.PauseAllText
	})
	for _, h := range f.session.TrackHandles() {
		if h.State != stemsync.Playing {
			t.Fatalf("track %q is %v after play", h.ID, h.State)
		}
	}
	if err := mixer.ReadAudio(buf); err != nil {
		t.Fatalf("ReadAudio failed: %v", err)
	}
	if peak(buf) == 0 {
		t.Fatalf("playing mixer produced silence")
	}

	if err := f.session.SetGlobalPitch(12); err != nil {
		t.Fatalf("SetGlobalPitch failed: %v", err)
	}
	mixer.ReadAudio(buf)
	for _, h := range f.session.TrackHandles() {
		if h.AppliedPitchFactor != 2 {
			t.Fatalf("track %q applied %v one block after the pitch change, expected 2", h.ID, h.AppliedPitchFactor)
		}
	}

	if err := f.session.SetVolume("drums", 0); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if err := f.session.SetVolume("piano", 0); !errors.Is(err, stemsync.ErrUnknownTrack) {
		t.Fatalf("expected ErrUnknownTrack, got %v", err)
	}

	f.master.emit(stemsync.MasterPause, func(s *stemsync.MasterClockSnapshot) { s.Paused = true })
	f.waitFor(t, "play all text", func(msg any) bool {
		m, ok := msg.(session.TransportTextMsg)
		return ok && m.Text == session.PlayAllText
	})
	for range 3 {
		mixer.ReadAudio(buf)
	}
	if p := peak(buf); p != 0 {
		t.Fatalf("paused mixer still produces audio with peak %v", p)
	}
	for _, h := range f.session.TrackHandles() {
		if h.State != stemsync.Paused {
			t.Fatalf("track %q is %v after pause", h.ID, h.State)
		}
	}
}

func TestSeekedAlignsTracks(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 4}, nil)
	if err := f.session.CreateTracks(stems("vocals"), "job"); err != nil {
		t.Fatalf("CreateTracks failed: %v", err)
	}
	f.waitAllReady(t)
	f.master.emit(stemsync.MasterSeeking, func(s *stemsync.MasterClockSnapshot) { s.CurrentTime = 2 })
	f.master.emit(stemsync.MasterSeeked, nil)
	eventually(t, "track to follow the seek", func() bool {
		h := f.session.TrackHandles()
		return len(h) == 1 && math.Abs(h[0].CurrentTime-2) < 1e-9
	})
	if h := f.session.TrackHandles()[0]; h.State != stemsync.Ready {
		t.Fatalf("a paused master should leave the track ready, got %v", h.State)
	}
}

func TestTeardownDuringRendering(t *testing.T) {
	f := newFixture(t, &fakeLoader{seconds: 2}, nil)
	f.master.emit(stemsync.MasterPlay, func(s *stemsync.MasterClockSnapshot) { s.Paused = false })
	mixer := f.session.Mixer()
	stop := make(chan struct{})
	rendered := make(chan error, 1)
	go func() {
		buf := make(stemsync.AudioBuffer, 512)
		for {
			select {
			case <-stop:
				rendered <- nil
				return
			default:
			}
			if err := mixer.ReadAudio(buf); err != nil {
				rendered <- err
				return
			}
		}
	}()
	for i := range 20 {
		if err := f.session.CreateTracks(stems("vocals", "drums"), fmt.Sprintf("job-%d", i)); err != nil {
			t.Fatalf("CreateTracks failed: %v", err)
		}
		if err := f.session.SetGlobalPitch(float64(i%5 - 2)); err != nil {
			t.Fatalf("SetGlobalPitch failed: %v", err)
		}
		if err := f.session.SetGlobalSpeed(1 + float64(i%3)/4); err != nil {
			t.Fatalf("SetGlobalSpeed failed: %v", err)
		}
		if i%2 == 1 {
			time.Sleep(2 * time.Millisecond)
			f.session.DestroyAll()
		}
	}
	f.session.DestroyAll()
	close(stop)
	if err, ok := session.TimeoutReceive(rendered, 3*time.Second); !ok || err != nil {
		t.Fatalf("rendering goroutine did not finish cleanly: %v", err)
	}
	buf := make(stemsync.AudioBuffer, 512)
	if err := mixer.ReadAudio(buf); err != nil {
		t.Fatalf("ReadAudio failed: %v", err)
	}
	if p := peak(buf); p != 0 {
		t.Fatalf("mixer still produces audio with peak %v after DestroyAll", p)
	}
	if mixer.Len() != 0 || len(f.session.TrackHandles()) != 0 {
		t.Fatalf("DestroyAll left tracks behind")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func peak(buf stemsync.AudioBuffer) float32 {
	var ret float32
	for _, f := range buf.Flat() {
		ret = max(ret, float32(math.Abs(float64(f))))
	}
	return ret
}
