package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/config"
	"github.com/stemsync/stemsync/loader"
	"github.com/stemsync/stemsync/session"
)

type (
	// Transport is the part of the master clock the console can drive. It is
	// nil when an external player owns the transport.
	Transport interface {
		Play()
		Pause()
		Toggle()
		Seek(seconds float64)
	}

	// Console executes the commands typed at the prompt of stemsync-play.
	Console struct {
		Session   *session.Session
		Master    session.MasterClock
		Transport Transport
		Status    *template.Template
		Stems     config.Stems
		Display   *Display
	}
)

var (
	ErrQuit         = errors.New("quit")
	ErrUnknownCmd   = errors.New("unknown command")
	ErrNoTransport  = errors.New("the transport is controlled by the remote player")
	errMissingValue = errors.New("missing value")
)

var (
	infoColor    = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	readyColor   = color.New(color.FgGreen)
)

const ConsoleHelp = `commands:
  play | pause | toggle       control the transport
  seek <seconds|m:ss>         seek the transport
  pitch <semitones>           set the global pitch, -12..12
  speed <rate>                set the global speed, 0.25..4
  reset                       neutral pitch and speed
  volume <track> <0..1>       set the volume of a track
  load <dir|url>              replace the stems with a new job
  key <key> | tempo <bpm>     set the original key and tempo for display
  tracks | status | help | quit`

// NewConsole creates a console for s and registers its display as an
// observer of the global parameters. transport may be nil.
func NewConsole(s *session.Session, master session.MasterClock, transport Transport, status *template.Template, stems config.Stems, display *Display) *Console {
	s.Observe(display.Update)
	semitones, speed := s.Params()
	display.Update(semitones, speed)
	return &Console{
		Session:   s,
		Master:    master,
		Transport: transport,
		Status:    status,
		Stems:     stems,
		Display:   display,
	}
}

// Execute runs one command line and returns the text to print. It returns
// ErrQuit when the user asks to leave.
func (c *Console) Execute(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "quit", "exit", "q":
		return "", ErrQuit
	case "help", "?":
		return ConsoleHelp, nil
	case "play", "pause", "toggle", "seek":
		return c.transport(strings.ToLower(fields[0]), args)
	case "pitch":
		v, err := floatArg(args)
		if err != nil {
			return "", err
		}
		if err := c.Session.SetGlobalPitch(v); err != nil {
			return "", err
		}
		return c.StatusLine()
	case "speed":
		v, err := floatArg(args)
		if err != nil {
			return "", err
		}
		if err := c.Session.SetGlobalSpeed(v); err != nil {
			return "", err
		}
		return c.StatusLine()
	case "reset":
		c.Session.SetGlobalPitch(stemsync.NeutralPitch)
		c.Session.SetGlobalSpeed(stemsync.NeutralSpeed)
		return c.StatusLine()
	case "volume":
		if len(args) < 2 {
			return "", fmt.Errorf("volume <track> <0..1>: %w", errMissingValue)
		}
		v, err := floatArg(args[1:])
		if err != nil {
			return "", err
		}
		return "", c.Session.SetVolume(args[0], v)
	case "load":
		if len(args) < 1 {
			return "", fmt.Errorf("load <dir|url>: %w", errMissingValue)
		}
		defs, err := loader.StemDefinitions(args[0], c.Stems.Names, c.Stems.Extension)
		if err != nil {
			return "", err
		}
		job := uuid.NewString()
		if err := c.Session.CreateTracks(defs, job); err != nil {
			return "", err
		}
		return fmt.Sprintf("job %s: loading %d stems", job, len(defs)), nil
	case "key":
		if len(args) < 1 {
			c.Display.SetKey("")
			return c.StatusLine()
		}
		c.Display.SetKey(args[0])
		return c.StatusLine()
	case "tempo":
		v, err := floatArg(args)
		if err != nil {
			return "", err
		}
		c.Display.SetTempo(v)
		return c.StatusLine()
	case "tracks":
		return c.tracks(), nil
	case "status":
		return c.StatusLine()
	}
	return "", fmt.Errorf("%w %q, try help", ErrUnknownCmd, fields[0])
}

func (c *Console) transport(cmd string, args []string) (string, error) {
	if c.Transport == nil {
		return "", ErrNoTransport
	}
	switch cmd {
	case "play":
		c.Transport.Play()
	case "pause":
		c.Transport.Pause()
	case "toggle":
		c.Transport.Toggle()
	case "seek":
		if len(args) < 1 {
			return "", fmt.Errorf("seek <seconds|m:ss>: %w", errMissingValue)
		}
		t, err := ParseTime(args[0])
		if err != nil {
			return "", err
		}
		c.Transport.Seek(t)
	}
	return c.StatusLine()
}

func (c *Console) StatusLine() (string, error) {
	return RenderStatus(c.Status, CollectStatus(c.Session, c.Master, c.Display))
}

func (c *Console) tracks() string {
	var b strings.Builder
	for _, t := range c.Session.TrackHandles() {
		fmt.Fprintf(&b, "%-10s %-8v vol %.2f %6.2f/%.2f", t.ID, t.State, t.Volume, t.CurrentTime, t.Duration)
		if t.Mode != "" {
			fmt.Fprintf(&b, " [%s rate %.3f pitch %.3f]", t.Mode, t.PlaybackRate, t.AppliedPitchFactor)
		}
		if t.Underruns > 0 {
			fmt.Fprintf(&b, " underruns %d", t.Underruns)
		}
		if t.Reason != "" {
			b.WriteString(" " + errorColor.Sprint(t.Reason))
		}
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return "no tracks"
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Describe turns a message from the session into a line for the console;
// messages not worth showing give "".
func Describe(msg any) string {
	switch m := msg.(type) {
	case session.Alert:
		switch m.Priority {
		case session.Error:
			return errorColor.Sprintf("error: %s", m.Message)
		case session.Warning:
			return warningColor.Sprintf("warning: %s", m.Message)
		case session.Info:
			return infoColor.Sprint(m.Message)
		}
	case session.TrackStateMsg:
		if m.State == stemsync.Errored {
			return errorColor.Sprintf("%s: %v (%s)", m.ID, m.State, m.Reason)
		}
		if m.State == stemsync.Ready {
			return infoColor.Sprintf("%s: %v", m.ID, m.State)
		}
	case session.AllReadyMsg:
		if m.Ready {
			return readyColor.Sprint("all stems ready")
		}
	}
	return ""
}

// ParseTime reads seconds ("83.5") or minutes and seconds ("1:23.5").
func ParseTime(s string) (float64, error) {
	minutes := 0.0
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		m, err := strconv.Atoi(s[:i])
		if err != nil || m < 0 {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		minutes = float64(m)
		s = s[i+1:]
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil || sec < 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return minutes*60 + sec, nil
}

func floatArg(args []string) (float64, error) {
	if len(args) < 1 {
		return 0, errMissingValue
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[0], stemsync.ErrInvalidParameter)
	}
	return v, nil
}
