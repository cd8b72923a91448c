package braccio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-braccio/internal/log"
	"github.com/teslashibe/go-braccio/pkg/armconfig"
)

var errLinkDown = errors.New("link down")

// stubTransport records chunk writes and, once a full frame has arrived,
// optionally answers with a status notification.
type stubTransport struct {
	mu         sync.Mutex
	connected  bool
	onStatus   func([]byte)
	connectErr error
	connects   int

	reply  string // sent after each complete frame; empty means silent
	dropAt int    // fail the Nth chunk write (1-based) and drop the link once

	// connectStall delays Connect and stall blocks Write until closed.
	// Both ignore the context, like a wedged radio.
	connectStall time.Duration
	stall        chan struct{}

	writes  int
	pending []byte
	chunks  [][]byte
	frames  []string
}

func (s *stubTransport) Connect(_ context.Context, onStatus func([]byte)) error {
	s.mu.Lock()
	s.connects++
	delay := s.connectStall
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	s.onStatus = onStatus
	return nil
}

func (s *stubTransport) Write(_ context.Context, chunk []byte) error {
	if s.stall != nil {
		<-s.stall
		return errLinkDown
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return errLinkDown
	}

	s.writes++
	if s.writes == s.dropAt {
		s.connected = false
		s.pending = nil
		s.mu.Unlock()
		return errLinkDown
	}

	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	s.pending = append(s.pending, chunk...)

	var reply func([]byte)
	if n := len(s.pending); n > 0 && s.pending[n-1] == Terminator {
		s.frames = append(s.frames, string(s.pending))
		s.pending = nil
		if s.reply != "" {
			reply = s.onStatus
		}
	}
	s.mu.Unlock()

	if reply != nil {
		reply([]byte(s.reply))
	}
	return nil
}

func (s *stubTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubTransport) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// notify pushes an unsolicited status notification.
func (s *stubTransport) notify(data string) {
	s.mu.Lock()
	cb := s.onStatus
	s.mu.Unlock()
	cb([]byte(data))
}

func (s *stubTransport) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *stubTransport) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

func (s *stubTransport) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

var testArmConfig = armconfig.ArmConfig{Name: "ADA-test", Address: "AA:BB:CC:DD:EE:FF"}

func testDriverConfig() DriverConfig {
	return DriverConfig{
		Tick:           2 * time.Millisecond,
		ConnectTimeout: 100 * time.Millisecond,
		WriteTimeout:   100 * time.Millisecond,
		StopTimeout:    time.Second,
	}
}

// startDriver runs a driver over tr and stops it when the test ends.
func startDriver(t *testing.T, tr Transport) *Driver {
	t.Helper()

	d := NewDriver(testArmConfig, tr, testDriverConfig(), log.Discard())
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

// connectedArm returns an Arm whose driver has already connected through tr.
func connectedArm(t *testing.T, tr *stubTransport) (*Arm, *Driver) {
	t.Helper()

	d := startDriver(t, tr)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)
	return NewArm(d, 0, log.Discard()), d
}

func (s *stubTransport) setReply(reply string) {
	s.mu.Lock()
	s.reply = reply
	s.mu.Unlock()
}
