package cmd

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/stemsync/stemsync/music"
	"github.com/stemsync/stemsync/session"
)

type (
	// Display keeps the values derived from the global parameters: the
	// transposed key and the adjusted tempo. Update is meant to be registered
	// with Session.Observe.
	Display struct {
		mu        sync.Mutex
		key       string
		bpm       float64
		semitones float64
		speed     float64
	}

	// StatusData is what the status template is executed with.
	StatusData struct {
		Transport string // "playing" or "paused"
		Button    string
		Time      float64
		Duration  float64
		Semitones float64
		Speed     float64
		Key       string // transposed; empty when the original key is unknown
		Tempo     float64
		Ready     int
		Tracks    int
		Job       string
	}
)

func NewDisplay(key string, bpm float64) *Display {
	return &Display{key: key, bpm: bpm, speed: 1}
}

func (d *Display) Update(semitones, speed float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.semitones, d.speed = semitones, speed
}

// SetKey sets the original key of the song; "" when unknown.
func (d *Display) SetKey(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.key = key
}

// SetTempo sets the original tempo in bpm; 0 when unknown.
func (d *Display) SetTempo(bpm float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bpm = bpm
}

// Key returns the transposed key, "" if the original key is unknown or
// cannot be parsed.
func (d *Display) Key() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.key == "" {
		return ""
	}
	k, err := music.TransposeKey(d.key, d.semitones)
	if err != nil {
		return ""
	}
	return k
}

func (d *Display) Tempo() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return music.AdjustedTempo(d.bpm, d.speed)
}

func NewStatusTemplate(text string) (*template.Template, error) {
	t, err := template.New("status").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("could not parse status template: %w", err)
	}
	return t, nil
}

// CollectStatus gathers the status of s.
func CollectStatus(s *session.Session, master session.MasterClock, d *Display) StatusData {
	snap := master.Snapshot()
	semitones, speed := s.Params()
	ret := StatusData{
		Transport: "playing",
		Button:    s.TransportText(),
		Time:      snap.CurrentTime,
		Duration:  snap.Duration,
		Semitones: semitones,
		Speed:     speed,
		Key:       d.Key(),
		Tempo:     d.Tempo(),
		Job:       s.JobID(),
	}
	if snap.Paused {
		ret.Transport = "paused"
	}
	for _, t := range s.TrackHandles() {
		ret.Tracks++
		if t.State.AudioCapable() {
			ret.Ready++
		}
	}
	return ret
}

func RenderStatus(t *template.Template, d StatusData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, d); err != nil {
		return "", fmt.Errorf("could not render status: %w", err)
	}
	return b.String(), nil
}
