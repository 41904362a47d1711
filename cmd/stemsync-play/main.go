package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"
	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/clock"
	"github.com/stemsync/stemsync/cmd"
	"github.com/stemsync/stemsync/config"
	"github.com/stemsync/stemsync/loader"
	"github.com/stemsync/stemsync/midi"
	"github.com/stemsync/stemsync/oto"
	"github.com/stemsync/stemsync/rpc"
	"github.com/stemsync/stemsync/session"
	"github.com/stemsync/stemsync/version"
)

func main() {
	configFile := flag.String("config", "", "YAML configuration file. STEMSYNC_* environment variables override it.")
	render := flag.String("render", "", "Render the mix offline to this .wav file instead of playing it.")
	bitDepth := flag.Int("bits", 16, "Bit depth of the rendered .wav file, 16 or 24.")
	pitch := flag.Float64("pitch", 0, "Initial global pitch in semitones.")
	speed := flag.Float64("speed", 1, "Initial global speed.")
	remote := flag.String("remote", "", "Follow the transport of a remote player listening on this address, e.g. "+rpc.DefaultAddress+".")
	midiDevice := flag.String("midi", "", "Control pitch and speed from the MIDI input whose name starts with this; * takes the first one.")
	key := flag.String("key", "", "Original key of the song, shown transposed in the status line.")
	tempo := flag.Float64("tempo", 0, "Original tempo of the song in bpm, shown adjusted in the status line.")
	verbose := flag.Bool("verbose", false, "Log to standard error.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load configuration: %v\n", err)
		os.Exit(1)
	}
	if *midiDevice != "" {
		cfg.MIDI.Device = *midiDevice
	}
	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "stemsync: ", log.LstdFlags)
	}
	defs, err := loader.StemDefinitions(flag.Arg(0), cfg.Stems.Names, cfg.Stems.Extension)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stem location: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *render != "" {
		err = renderMix(ctx, cfg, defs, *render, *bitDepth, *pitch, *speed, logger)
	} else {
		err = play(ctx, cfg, defs, *remote, *pitch, *speed, *key, *tempo, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func play(ctx context.Context, cfg config.Config, defs []stemsync.TrackDefinition, remote string, pitch, speed float64, key string, tempo float64, logger *log.Logger) error {
	audioContext, err := oto.Shared(cfg.Audio.SampleRate)
	if err != nil {
		return fmt.Errorf("could not acquire oto AudioContext: %w", err)
	}
	var master session.MasterClock
	var transport cmd.Transport
	var tr *clock.Transport
	if remote != "" {
		rc, err := rpc.Receiver(remote)
		if err != nil {
			return fmt.Errorf("could not listen for the remote player: %w", err)
		}
		defer rc.Close()
		master = rc
	} else {
		tr = clock.NewTransport(0)
		go tr.Run(ctx)
		master, transport = tr, tr
	}
	s := session.New(cfg.Session(), master, loader.NewDecoder(cfg.Audio.SampleRate), nil, logger)
	defer s.Close()
	go s.Run(ctx)
	if err := createTracks(s, defs, pitch, speed); err != nil {
		return err
	}
	if cfg.MIDI.Device != "" {
		c := midi.NewController(midi.Mapping{PitchCC: uint8(cfg.MIDI.PitchCC), SpeedCC: uint8(cfg.MIDI.SpeedCC)}, s, logger)
		in, err := cmd.OpenMidiInput(cfg.MIDI.Device, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "MIDI control disabled: %v\n", err)
		} else {
			defer in.Close()
		}
	}
	status, err := cmd.NewStatusTemplate(cfg.Status.Template)
	if err != nil {
		return err
	}
	console := cmd.NewConsole(s, master, transport, status, cfg.Stems, cmd.NewDisplay(key, tempo))
	player := audioContext.Play(s.Mixer())
	defer player.Close()
	rl, err := readline.NewEx(&readline.Config{Prompt: "stemsync> ", InterruptPrompt: "^C", EOFPrompt: "quit"})
	if err != nil {
		return fmt.Errorf("readline.NewEx failed: %w", err)
	}
	defer rl.Close()
	fmt.Fprintln(rl.Stdout(), version.Banner("stemsync-play"))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-s.Broker().ToUI:
				if line := cmd.Describe(msg); line != "" {
					fmt.Fprintln(rl.Stdout(), line)
				}
				if m, ok := msg.(session.AllReadyMsg); ok && m.Ready && tr != nil {
					tr.SetDuration(longestTrack(s))
				}
			}
		}
	}()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err := console.Execute(line)
		if errors.Is(err, cmd.ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(rl.Stderr(), err)
			continue
		}
		if out = strings.TrimSpace(out); out != "" {
			fmt.Fprintln(rl.Stdout(), out)
		}
	}
}

func longestTrack(s *session.Session) float64 {
	d := 0.0
	for _, t := range s.TrackHandles() {
		d = max(d, t.Duration)
	}
	return d
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Plays the separated stems of a song in sync with a master transport, with global pitch and speed.\nUsage: %s [flags] <stem directory or URL>\n", os.Args[0])
	flag.PrintDefaults()
}
