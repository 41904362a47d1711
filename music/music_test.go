package music_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stemsync/stemsync/music"
)

func TestTransposeKey(t *testing.T) {
	cases := []struct {
		key       string
		semitones float64
		expected  string
	}{
		{"Am", 0, "Am"},
		{"Am", 2, "Bm"},
		{"Am", 3, "Cm"},
		{"G#m", 1, "Am"},
		{"C", -1, "B"},
		{"Eb", 0, "D#"},
		{"Bbmaj", 12, "A#maj"},
		{"F#", -12, "F#"},
		{"D", 2.6, "F"},
		{"D", 2.4, "E"},
		{"dm", -2.4, "Cm"},
	}
	for _, c := range cases {
		got, err := music.TransposeKey(c.key, c.semitones)
		if err != nil {
			t.Fatalf("TransposeKey(%q, %v) failed: %v", c.key, c.semitones, err)
		}
		if got != c.expected {
			t.Fatalf("TransposeKey(%q, %v) = %q, expected %q", c.key, c.semitones, got, c.expected)
		}
	}
}

func TestTransposeKeyRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "H", "?m"} {
		if _, err := music.TransposeKey(key, 1); !errors.Is(err, music.ErrInvalidKey) {
			t.Fatalf("TransposeKey(%q) error %v, expected ErrInvalidKey", key, err)
		}
	}
	if _, err := music.TransposeKey("C", math.NaN()); !errors.Is(err, music.ErrInvalidKey) {
		t.Fatalf("NaN semitones should be rejected, got %v", err)
	}
}

func TestAdjustedTempo(t *testing.T) {
	if got := music.AdjustedTempo(120, 1.5); got != 180 {
		t.Fatalf("AdjustedTempo(120, 1.5) = %v, expected 180", got)
	}
	if got := music.AdjustedTempo(0, 1.5); got != 0 {
		t.Fatalf("unknown tempo should stay 0, got %v", got)
	}
}
