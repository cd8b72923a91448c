// Package serialport links to a Braccio arm over a USB serial port.
//
// Frames are written to the port unchanged. The arm answers with one
// status code per line.
package serialport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// ReadTimeout is how long a single port read blocks.
const ReadTimeout = 100 * time.Millisecond

// ErrNotConnected is returned when writing to a closed port.
var ErrNotConnected = errors.New("serialport: not connected")

// OpenFunc opens a serial port.
type OpenFunc func(path string, mode *serial.Mode) (serial.Port, error)

// Transport is a serial link to one arm.
type Transport struct {
	path   string
	baud   int
	open   OpenFunc
	logger *slog.Logger

	mu   sync.Mutex
	port serial.Port
	done chan struct{}

	connected atomic.Bool
}

// NewTransport returns an unopened link to the port at path.
func NewTransport(path string, baud int, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		path:   path,
		baud:   baud,
		open:   serial.Open,
		logger: logger.With("transport", "serial", "port", path),
	}
}

// WithOpener replaces the function used to open the port.
func (t *Transport) WithOpener(open OpenFunc) *Transport {
	t.open = open
	return t
}

// Connect opens the port and starts reading status lines.
func (t *Transport) Connect(ctx context.Context, onStatus func([]byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := t.open(t.path, &serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}
	// discard boot chatter
	if err := port.ResetInputBuffer(); err != nil {
		t.logger.Debug("reset input buffer failed", "error", err)
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.port = port
	t.done = done
	t.mu.Unlock()

	t.connected.Store(true)
	go t.readLoop(port, done, onStatus)
	return nil
}

func (t *Transport) readLoop(port serial.Port, done chan struct{}, onStatus func([]byte)) {
	defer close(done)

	var lines LineSplitter
	buf := make([]byte, 64)
	for t.connected.Load() {
		n, err := port.Read(buf)
		if err != nil {
			if t.connected.Swap(false) {
				t.logger.Warn("serial read failed", "error", err)
			}
			return
		}
		for _, line := range lines.Feed(buf[:n]) {
			onStatus(line)
		}
	}
}

// Write sends one chunk.
func (t *Transport) Write(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.connected.Load() {
		return ErrNotConnected
	}

	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if _, err := port.Write(chunk); err != nil {
		t.connected.Store(false)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Connected reports whether the port is open and readable.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Disconnect closes the port and waits for the reader to exit.
func (t *Transport) Disconnect() error {
	t.connected.Store(false)

	t.mu.Lock()
	port, done := t.port, t.done
	t.port, t.done = nil, nil
	t.mu.Unlock()

	if port == nil {
		return nil
	}
	err := port.Close()
	<-done
	if err != nil {
		return fmt.Errorf("close %s: %w", t.path, err)
	}
	return nil
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// LineSplitter turns a byte stream into trimmed, non-empty lines.
type LineSplitter struct {
	partial []byte
}

// Feed appends p and returns every line it completes.
func (s *LineSplitter) Feed(p []byte) [][]byte {
	s.partial = append(s.partial, p...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(s.partial[:i])
		if len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
		s.partial = s.partial[i+1:]
	}
	if len(s.partial) == 0 {
		s.partial = nil
	}
	return lines
}
