package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stemsync/stemsync"
	"github.com/stemsync/stemsync/clock"
	"github.com/stemsync/stemsync/config"
	"github.com/stemsync/stemsync/loader"
	"github.com/stemsync/stemsync/session"
)

const pollInterval = 10 * time.Millisecond

// renderMix plays the stems through a session as fast as possible. The
// master clock runs on the rendered frames instead of the wall clock.
func renderMix(ctx context.Context, cfg config.Config, defs []stemsync.TrackDefinition, out string, bits int, pitch, speed float64, logger *log.Logger) error {
	rate := cfg.Audio.SampleRate
	var elapsed atomic.Int64
	tr := clock.NewTransport(0, clock.WithNow(func() time.Time { return time.Unix(0, elapsed.Load()) }))
	s := session.New(cfg.Session(), tr, loader.NewDecoder(rate), nil, logger)
	defer s.Close()
	go s.Run(ctx)
	if err := createTracks(s, defs, pitch, speed); err != nil {
		return err
	}
	if err := waitTracks(ctx, s, func(t session.TrackInfo) bool { return t.State != stemsync.Loading }); err != nil {
		return err
	}
	if !s.AllReady() {
		return errors.New("none of the stems could be loaded")
	}
	for _, t := range s.TrackHandles() {
		if t.State == stemsync.Errored {
			fmt.Fprintf(os.Stderr, "skipping %s: %s\n", t.ID, t.Reason)
		}
	}
	duration := longestTrack(s)
	tr.SetDuration(duration)
	tr.Play()
	if err := waitTracks(ctx, s, func(t session.TrackInfo) bool { return !t.State.AudioCapable() || t.State == stemsync.Playing }); err != nil {
		return err
	}
	_, speed = s.Params()
	total := int(math.Ceil(duration / speed * float64(rate)))
	mix := make(stemsync.AudioBuffer, 0, total)
	block := make(stemsync.AudioBuffer, cfg.Audio.BlockSize)
	for len(mix) < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(block), total-len(mix))
		if err := s.Mixer().ReadAudio(block[:n]); err != nil {
			return fmt.Errorf("rendering failed: %w", err)
		}
		mix = append(mix, block[:n]...)
		elapsed.Store(int64(float64(len(mix)) / float64(rate) * float64(time.Second)))
		tr.Tick()
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("could not create %v: %w", out, err)
	}
	defer f.Close()
	if err := stemsync.WriteWav(f, mix, rate, bits); err != nil {
		return fmt.Errorf("could not write %v: %w", out, err)
	}
	return f.Close()
}

// createTracks starts a new job and then applies the parameters, since a new
// job resets them to neutral.
func createTracks(s *session.Session, defs []stemsync.TrackDefinition, pitch, speed float64) error {
	if err := s.CreateTracks(defs, uuid.NewString()); err != nil {
		return err
	}
	if err := s.SetGlobalPitch(pitch); err != nil {
		return fmt.Errorf("invalid -pitch: %w", err)
	}
	if err := s.SetGlobalSpeed(speed); err != nil {
		return fmt.Errorf("invalid -speed: %w", err)
	}
	return nil
}

func waitTracks(ctx context.Context, s *session.Session, done func(session.TrackInfo) bool) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok := true
		for _, t := range s.TrackHandles() {
			ok = ok && done(t)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
