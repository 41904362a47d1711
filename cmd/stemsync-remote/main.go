package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/clock"
	"github.com/stemsync/stemsync/cmd"
	"github.com/stemsync/stemsync/rpc"
	"github.com/stemsync/stemsync/version"
)

const heartbeat = 500 * time.Millisecond

var rateColor = color.New(color.FgCyan)

func main() {
	address := flag.String("addr", "localhost"+rpc.DefaultAddress, "Address of the stemsync-play -remote listener.")
	duration := flag.Float64("duration", 180, "Length of the simulated video in seconds.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if err := run(*address, *duration); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(address string, duration float64) error {
	sender, err := rpc.Dial(address)
	if err != nil {
		return err
	}
	defer sender.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	tr := clock.NewTransport(duration)
	go tr.Run(ctx)
	rl, err := readline.NewEx(&readline.Config{Prompt: "remote> ", InterruptPrompt: "^C", EOFPrompt: "quit"})
	if err != nil {
		return fmt.Errorf("readline.NewEx failed: %w", err)
	}
	defer rl.Close()
	fmt.Fprintln(rl.Stdout(), version.Banner("stemsync-remote"))
	go forward(ctx, tr, sender, rl.Stderr())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "play":
			tr.Play()
		case "pause":
			tr.Pause()
		case "toggle":
			tr.Toggle()
		case "seek":
			if len(fields) < 2 {
				fmt.Fprintln(rl.Stderr(), "seek <seconds|m:ss>")
				continue
			}
			t, err := cmd.ParseTime(fields[1])
			if err != nil {
				fmt.Fprintln(rl.Stderr(), err)
				continue
			}
			tr.Seek(t)
		case "quit", "exit", "q":
			return nil
		default:
			fmt.Fprintln(rl.Stderr(), "commands: play | pause | toggle | seek <time> | quit")
			continue
		}
		s := tr.Snapshot()
		fmt.Fprintf(rl.Stdout(), "%.2f/%.2f paused=%v %s\n", s.CurrentTime, s.Duration, s.Paused, rateColor.Sprintf("%.2fx", s.Rate))
	}
}

// forward sends every transport event to the session and adopts the rate
// the session asks for. A heartbeat keeps the remote snapshot fresh.
func forward(ctx context.Context, tr *clock.Transport, sender *rpc.Sender, errOut io.Writer) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		var ev stemsync.MasterEvent
		select {
		case <-ctx.Done():
			return
		case ev = <-tr.Events():
		case <-ticker.C:
			ev = stemsync.MasterEvent{Kind: stemsync.MasterRateChange, Snapshot: tr.Snapshot()}
		}
		rate, err := sender.Send(ev)
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		if rate > 0 {
			tr.SetRate(rate)
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Simulates a video player driving stemsync-play -remote.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
