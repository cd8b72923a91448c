package braccio

import (
	"fmt"
	"sync"
)

// Status is the outcome of the most recently dispatched command.
type Status int

const (
	// StatusNone means no command is being tracked.
	StatusNone Status = iota
	StatusExecuting
	StatusOK
	StatusError1
	StatusError2
	StatusOutOfRange
	// StatusTimeout is synthesized locally; the device never sends it.
	StatusTimeout

	// Local-only results that never touch the wire.
	StatusNotConfigured
	StatusNotConnected
)

var statusCodes = map[Status]string{
	StatusExecuting:  "100",
	StatusOK:         "0",
	StatusError1:     "1",
	StatusError2:     "2",
	StatusOutOfRange: "3",
	StatusTimeout:    "99",
}

var statusNames = map[Status]string{
	StatusNone:          "none",
	StatusExecuting:     "executing",
	StatusOK:            "ok",
	StatusError1:        "error_1",
	StatusError2:        "error_2",
	StatusOutOfRange:    "out_of_range",
	StatusTimeout:       "timeout",
	StatusNotConfigured: "not_configured",
	StatusNotConnected:  "not_connected",
}

// WireStatuses lists every status that has a wire code.
func WireStatuses() []Status {
	return []Status{
		StatusExecuting,
		StatusOK,
		StatusError1,
		StatusError2,
		StatusOutOfRange,
		StatusTimeout,
	}
}

// Code returns the ASCII wire code, or "" for local-only statuses.
func (s Status) Code() string {
	return statusCodes[s]
}

// Terminal reports whether s resolves a command.
func (s Status) Terminal() bool {
	return s != StatusNone && s != StatusExecuting
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for st, name := range statusNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownStatus, b)
}

// statusSlot holds the single current status and the ID of the command it
// belongs to. Every Store wakes all waiters by closing the current change
// channel and installing a fresh one.
type statusSlot struct {
	mu      sync.Mutex
	status  Status
	owner   string
	changed chan struct{}
}

func newStatusSlot() *statusSlot {
	return &statusSlot{changed: make(chan struct{})}
}

// Store replaces the status, keeping the current owner, and wakes waiters.
func (s *statusSlot) Store(st Status) {
	s.mu.Lock()
	s.set(st, s.owner)
	s.mu.Unlock()
}

// Begin hands the slot to command id and marks it executing.
func (s *statusSlot) Begin(id string) {
	s.mu.Lock()
	s.set(StatusExecuting, id)
	s.mu.Unlock()
}

func (s *statusSlot) set(st Status, owner string) {
	s.status = st
	s.owner = owner
	close(s.changed)
	s.changed = make(chan struct{})
}

// Load returns the status and a channel closed on the next Store.
func (s *statusSlot) Load() (Status, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.changed
}

// LoadFor is Load as seen by command id: until id has been handed the slot
// by Begin, whatever the slot holds belongs to someone else and reads as
// StatusNone.
func (s *statusSlot) LoadFor(id string) (Status, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != id {
		return StatusNone, s.changed
	}
	return s.status, s.changed
}

// Clear empties the slot and releases its owner.
func (s *statusSlot) Clear() {
	s.mu.Lock()
	s.set(StatusNone, "")
	s.mu.Unlock()
}
