package stemsync

import "math"

const (
	// NeutralPitch and NeutralSpeed are the values the session parameters are
	// reset to on every teardown.
	NeutralPitch = 0.0
	NeutralSpeed = 1.0

	MinPitchSemitones = -12.0
	MaxPitchSemitones = 12.0
	MinSpeedRate      = 0.25
	MaxSpeedRate      = 4.0

	// BypassTolerance is how close to 1.0 a pitch factor must be for the
	// pitch transform to be skipped entirely.
	BypassTolerance = 1e-3
)

// PitchFactor returns the frequency ratio of a transposition by the given
// number of semitones, 2^(semitones/12). Every other part of the module
// derives pitch ratios through this function.
func PitchFactor(semitones float64) float64 {
	if semitones == 0 {
		return 1
	}
	return math.Pow(2, semitones/12)
}

// CombinedRate returns the single playback rate used when pitch and tempo
// cannot be decoupled: speed * 2^(semitones/12).
func CombinedRate(speed, semitones float64) float64 {
	return speed * PitchFactor(semitones)
}

// IsNeutralFactor reports whether a pitch factor is close enough to 1.0 that
// processing it would only add artifacts.
func IsNeutralFactor(factor float64) bool {
	return math.Abs(factor-1) <= BypassTolerance
}

// ClampPitch limits semitones to [MinPitchSemitones, MaxPitchSemitones].
func ClampPitch(semitones float64) float64 {
	return clamp(semitones, MinPitchSemitones, MaxPitchSemitones)
}

// ClampSpeed limits a rate multiplier to [MinSpeedRate, MaxSpeedRate].
func ClampSpeed(rate float64) float64 {
	return clamp(rate, MinSpeedRate, MaxSpeedRate)
}

// Clamp01 limits a value to [0, 1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 1)
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
