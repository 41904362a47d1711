// Package config loads the settings of the stemsync commands from a YAML file
// and STEMSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stemsync/stemsync/dsp"
	"github.com/stemsync/stemsync/loader"
	"github.com/stemsync/stemsync/session"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Sync   Sync   `yaml:"sync"`
		Audio  Audio  `yaml:"audio"`
		DSP    DSP    `yaml:"dsp"`
		Stems  Stems  `yaml:"stems"`
		MIDI   MIDI   `yaml:"midi"`
		Status Status `yaml:"status"`
	}

	Sync struct {
		DriftThreshold time.Duration `yaml:"drift_threshold"`
		SeekDebounce   time.Duration `yaml:"seek_debounce"`
	}

	Audio struct {
		SampleRate int `yaml:"sample_rate"`
		BlockSize  int `yaml:"block_size"`
	}

	DSP struct {
		PitchShift   bool          `yaml:"pitch_shift"`
		FFTSize      int           `yaml:"fft_size"`
		Oversampling int           `yaml:"oversampling"`
		GainRamp     time.Duration `yaml:"gain_ramp"`
	}

	Stems struct {
		Names     []string `yaml:"names,flow"`
		Extension string   `yaml:"extension"`
	}

	// MIDI device is matched by name prefix; "" disables MIDI, "*" takes the
	// first input.
	MIDI struct {
		Device  string `yaml:"device"`
		PitchCC int    `yaml:"pitch_cc"`
		SpeedCC int    `yaml:"speed_cc"`
	}

	Status struct {
		Template string `yaml:"template"`
	}

	// LookupFunc has the signature of os.LookupEnv.
	LookupFunc func(key string) (string, bool)
)

const EnvPrefix = "STEMSYNC_"

const DefaultStatusTemplate = `{{ .Transport | upper }} {{ printf "%6.2f" .Time }}/{{ printf "%.2f" .Duration }}` +
	` | pitch {{ printf "%+.1f" .Semitones }} speed {{ printf "%.2f" .Speed }}x` +
	`{{ with .Key }} | key {{ . }}{{ end }}{{ if gt .Tempo 0.0 }} | {{ printf "%.1f" .Tempo }} bpm{{ end }}` +
	` | {{ .Ready }}/{{ .Tracks }} ready`

var ErrInvalid = errors.New("invalid configuration")

func Defaults() Config {
	sync := session.DefaultSyncConfig()
	opts := dsp.DefaultOptions()
	return Config{
		Sync: Sync{DriftThreshold: sync.DriftThreshold, SeekDebounce: sync.SeekDebounce},
		Audio: Audio{
			SampleRate: opts.SampleRate,
			BlockSize:  opts.BlockSize,
		},
		DSP: DSP{
			PitchShift:   !opts.DisablePitchShift,
			FFTSize:      opts.FFTSize,
			Oversampling: opts.Oversampling,
			GainRamp:     opts.GainRamp,
		},
		Stems: Stems{
			Names:     append([]string(nil), loader.DefaultStemNames...),
			Extension: loader.DefaultExtension,
		},
		MIDI:   MIDI{PitchCC: 1, SpeedCC: 2},
		Status: Status{Template: DefaultStatusTemplate},
	}
}

// Load reads the file at path (skipped when path is empty) over the defaults
// and then applies the environment.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("could not read config: %w", err)
		}
		if c, err = Parse(b); err != nil {
			return c, fmt.Errorf("%v: %w", path, err)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Parse decodes YAML on top of the defaults. Keys missing from the document
// keep their default values.
func Parse(b []byte) (Config, error) {
	c := Defaults()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("yaml.Unmarshal failed: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides settings from variables such as
// STEMSYNC_SYNC_DRIFT_THRESHOLD or STEMSYNC_STEMS_NAMES=vocals,drums.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	return errors.Join(
		envDuration(lookup, "SYNC_DRIFT_THRESHOLD", &c.Sync.DriftThreshold),
		envDuration(lookup, "SYNC_SEEK_DEBOUNCE", &c.Sync.SeekDebounce),
		envInt(lookup, "AUDIO_SAMPLE_RATE", &c.Audio.SampleRate),
		envInt(lookup, "AUDIO_BLOCK_SIZE", &c.Audio.BlockSize),
		envBool(lookup, "DSP_PITCH_SHIFT", &c.DSP.PitchShift),
		envInt(lookup, "DSP_FFT_SIZE", &c.DSP.FFTSize),
		envInt(lookup, "DSP_OVERSAMPLING", &c.DSP.Oversampling),
		envDuration(lookup, "DSP_GAIN_RAMP", &c.DSP.GainRamp),
		envList(lookup, "STEMS_NAMES", &c.Stems.Names),
		envStr(lookup, "STEMS_EXTENSION", &c.Stems.Extension),
		envStr(lookup, "MIDI_DEVICE", &c.MIDI.Device),
		envInt(lookup, "MIDI_PITCH_CC", &c.MIDI.PitchCC),
		envInt(lookup, "MIDI_SPEED_CC", &c.MIDI.SpeedCC),
		envStr(lookup, "STATUS_TEMPLATE", &c.Status.Template),
	)
}

// Validate checks the values that would otherwise fail far from where they
// were set. The FFT geometry is not checked here: a bad geometry only means
// the pitch shifter is unavailable and the session falls back.
func (c Config) Validate() error {
	var errs []error
	if c.Sync.DriftThreshold <= 0 {
		errs = append(errs, fmt.Errorf("sync.drift_threshold must be positive, got %v", c.Sync.DriftThreshold))
	}
	if c.Sync.SeekDebounce < 0 {
		errs = append(errs, fmt.Errorf("sync.seek_debounce must not be negative, got %v", c.Sync.SeekDebounce))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", c.Audio.BlockSize))
	}
	if len(c.Stems.Names) == 0 {
		errs = append(errs, errors.New("stems.names must not be empty"))
	}
	for _, cc := range []int{c.MIDI.PitchCC, c.MIDI.SpeedCC} {
		if cc < 0 || cc > 127 {
			errs = append(errs, fmt.Errorf("midi controller numbers must be in 0..127, got %d", cc))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c Config) Session() session.Config {
	return session.Config{
		Sync: session.SyncConfig{
			DriftThreshold: c.Sync.DriftThreshold,
			SeekDebounce:   c.Sync.SeekDebounce,
		},
		DSP: dsp.Options{
			SampleRate:        c.Audio.SampleRate,
			BlockSize:         c.Audio.BlockSize,
			FFTSize:           c.DSP.FFTSize,
			Oversampling:      c.DSP.Oversampling,
			GainRamp:          c.DSP.GainRamp,
			DisablePitchShift: !c.DSP.PitchShift,
		},
	}
}

func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func envStr(lookup LookupFunc, key string, dst *string) error {
	if v, ok := lookup(EnvPrefix + key); ok {
		*dst = v
	}
	return nil
}

func envList(lookup LookupFunc, key string, dst *[]string) error {
	v, ok := lookup(EnvPrefix + key)
	if !ok {
		return nil
	}
	var list []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	*dst = list
	return nil
}

func envInt(lookup LookupFunc, key string, dst *int) error {
	v, ok := lookup(EnvPrefix + key)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = i
	return nil
}

func envBool(lookup LookupFunc, key string, dst *bool) error {
	v, ok := lookup(EnvPrefix + key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

func envFloat(lookup LookupFunc, key string, dst *float64) error {
	v, ok := lookup(EnvPrefix + key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = f
	return nil
}

// envDuration accepts Go durations ("250ms") or plain seconds ("0.25").
func envDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	v, ok := lookup(EnvPrefix + key)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return nil
	}
	var seconds float64
	if err := envFloat(func(string) (string, bool) { return v, true }, key, &seconds); err != nil {
		return err
	}
	*dst = time.Duration(seconds * float64(time.Second))
	return nil
}
