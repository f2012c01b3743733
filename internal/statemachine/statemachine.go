// Package statemachine owns the recorder status and validates every
// transition against it. The machine is not safe for concurrent use; the
// session controller is its single owner and serialises all access.
package statemachine

import (
	"fmt"
)

// Status is the process-wide recorder state. Exactly one value is active at
// any instant.
type Status string

const (
	StatusNotConnected Status = "not_connected"
	StatusConnected    Status = "connected"
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusSaving       Status = "saving"
	StatusError        Status = "error"
	StatusTerminated   Status = "terminated"
)

// ErrInvalidState reports an operation attempted outside its required state.
// It is recoverable: callers log it and return a failure result, the process
// never terminates over it.
type ErrInvalidState struct {
	From Status
	To   Status
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Pending is a deferred request waiting for the machine to return to IDLE.
// Implementations are tagged request variants replayed through the session
// controller's public entry points, never captured closures.
type Pending interface {
	PendingKind() string
}

// allowed is the transition table. Anything absent is rejected.
var allowed = map[Status][]Status{
	StatusNotConnected: {StatusConnected, StatusError, StatusTerminated},
	StatusConnected:    {StatusIdle, StatusError, StatusTerminated},
	StatusIdle:         {StatusRecording, StatusSaving, StatusError, StatusTerminated},
	StatusRecording:    {StatusSaving, StatusIdle, StatusError, StatusTerminated},
	StatusSaving:       {StatusIdle, StatusError, StatusTerminated},
	StatusError:        {StatusConnected, StatusIdle, StatusTerminated},
}

// Machine tracks the current status and the FIFO queue of operations that
// must wait for IDLE.
type Machine struct {
	status  Status
	pending []Pending
}

// New returns a machine in NOT_CONNECTED.
func New() *Machine {
	return &Machine{status: StatusNotConnected}
}

// Status returns the current recorder status.
func (m *Machine) Status() Status {
	return m.status
}

// Transition moves to the target status if the table allows it. A rejected
// transition leaves the status unchanged and returns ErrInvalidState.
func (m *Machine) Transition(to Status) error {
	for _, s := range allowed[m.status] {
		if s == to {
			m.status = to
			return nil
		}
	}
	return &ErrInvalidState{From: m.status, To: to}
}

// Is reports whether the current status equals s.
func (m *Machine) Is(s Status) bool {
	return m.status == s
}

// Enqueue appends a deferred operation; insertion order is arrival order.
func (m *Machine) Enqueue(op Pending) {
	m.pending = append(m.pending, op)
}

// DrainPending pops and returns the entire queue. The caller replays every
// entry, not just the head, so a staggered exit never starves later
// commands.
func (m *Machine) DrainPending() []Pending {
	ops := m.pending
	m.pending = nil
	return ops
}

// PendingLen returns the number of queued operations.
func (m *Machine) PendingLen() int {
	return len(m.pending)
}
