// Package rpc lets an external player act as the master clock of a session.
// The player sends its transport events over net/rpc to a RemoteClock; every
// reply carries the playback rate the session wants the player to use.
package rpc

import (
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"sync"
	"time"

	"github.com/stemsync/stemsync"
)

type (
	MasterServer struct {
		clock *RemoteClock
	}

	SyncReply struct {
		Rate float64
	}

	// RemoteClock implements session.MasterClock from the events received
	// from the remote player. Between events, the position is extrapolated
	// from the last snapshot.
	RemoteClock struct {
		mu       sync.Mutex
		last     stemsync.MasterClockSnapshot
		at       time.Time
		rate     float64
		events   chan stemsync.MasterEvent
		listener net.Listener
	}

	// Sender is the client side, used by the remote player.
	Sender struct {
		client *rpc.Client
		mu     sync.Mutex
		rate   float64
	}
)

const DefaultAddress = ":31337"

func (s *MasterServer) Sync(ev stemsync.MasterEvent, reply *SyncReply) error {
	reply.Rate = s.clock.receive(ev)
	return nil
}

// Receiver starts listening for a remote player on address.
func Receiver(address string) (*RemoteClock, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("net.Listen failed: %w", err)
	}
	c := &RemoteClock{
		last:     stemsync.MasterClockSnapshot{Paused: true, Rate: 1},
		at:       time.Now(),
		rate:     1,
		events:   make(chan stemsync.MasterEvent, 256),
		listener: l,
	}
	server := rpc.NewServer()
	if err := server.Register(&MasterServer{clock: c}); err != nil {
		l.Close()
		return nil, fmt.Errorf("rpc.Register failed: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)
	go http.Serve(l, mux)
	return c, nil
}

func (c *RemoteClock) Addr() net.Addr { return c.listener.Addr() }

func (c *RemoteClock) Close() error { return c.listener.Close() }

func (c *RemoteClock) Events() <-chan stemsync.MasterEvent { return c.events }

func (c *RemoteClock) Snapshot() stemsync.MasterClockSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.last
	if !s.Paused {
		s.CurrentTime += time.Since(c.at).Seconds() * s.Rate
		if s.Duration > 0 {
			s.CurrentTime = min(s.CurrentTime, s.Duration)
		}
	}
	return s
}

// SetRate records the rate the player should use; it is handed to the player
// in the reply to its next event.
func (c *RemoteClock) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
}

func (c *RemoteClock) receive(ev stemsync.MasterEvent) float64 {
	c.mu.Lock()
	c.last = ev.Snapshot
	c.at = time.Now()
	rate := c.rate
	c.mu.Unlock()
	select {
	case c.events <- ev:
	default:
	}
	return rate
}

// Dial connects to a RemoteClock.
func Dial(address string) (*Sender, error) {
	client, err := rpc.DialHTTP("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rpc.DialHTTP failed: %w", err)
	}
	return &Sender{client: client, rate: 1}, nil
}

// Send delivers one transport event and returns the rate the session wants.
func (s *Sender) Send(ev stemsync.MasterEvent) (float64, error) {
	var reply SyncReply
	if err := s.client.Call("MasterServer.Sync", ev, &reply); err != nil {
		return 0, fmt.Errorf("MasterServer.Sync failed: %w", err)
	}
	s.mu.Lock()
	s.rate = reply.Rate
	s.mu.Unlock()
	return reply.Rate, nil
}

// Rate is the rate from the last reply.
func (s *Sender) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Sender) Close() error { return s.client.Close() }
