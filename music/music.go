// Package music computes the display values that follow the global pitch and
// speed: the transposed key and the adjusted tempo.
package music

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var notes = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var ErrInvalidKey = errors.New("invalid key")

// TransposeKey shifts a key such as "Am", "G#m" or "Eb" by the given number of
// semitones, rounded to the nearest integer. Flats are accepted but the
// result is always spelled with sharps; the quality suffix ("m", "maj", ...)
// is kept as is.
func TransposeKey(key string, semitones float64) (string, error) {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return "", fmt.Errorf("%w: semitones %v", ErrInvalidKey, semitones)
	}
	note, suffix, err := splitKey(strings.TrimSpace(key))
	if err != nil {
		return "", err
	}
	shifted := mod(note+int(math.Round(semitones)), 12)
	return notes[shifted] + suffix, nil
}

func splitKey(key string) (note int, suffix string, err error) {
	if key == "" {
		return 0, "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	root := strings.ToUpper(key[:1])
	note = -1
	for i, n := range notes {
		if n == root {
			note = i
			break
		}
	}
	if note < 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	rest := key[1:]
	switch {
	case strings.HasPrefix(rest, "#"), strings.HasPrefix(rest, "♯"):
		note++
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "#"), "♯")
	case strings.HasPrefix(rest, "b"), strings.HasPrefix(rest, "♭"):
		note--
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "b"), "♭")
	}
	return mod(note, 12), rest, nil
}

// AdjustedTempo is the tempo heard when a track of the given tempo is played
// at speed.
func AdjustedTempo(bpm, speed float64) float64 {
	if bpm <= 0 || speed <= 0 {
		return 0
	}
	return bpm * speed
}

func mod(a, b int) int {
	return (a%b + b) % b
}
