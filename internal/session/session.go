// Package session composes the state machine, the file archiver and the
// recorder backend into the session-level operations the control protocol
// exposes.
package session

import (
	"errors"
	"time"
)

// ErrNoSession reports an operation that needs a resolved session folder
// before one exists.
var ErrNoSession = errors.New("no session folder resolved")

// Session is one save-location assignment. A new value replaces the current
// one on every save-location change; sessions are never mutated in place.
type Session struct {
	ID        string
	Root      string
	Label     string
	Folder    string
	CreatedAt time.Time
}

// HealthSnapshot is the last known outcome of the folder validity check and
// the last upload attempt. It is overwritten on every relevant operation, a
// point-in-time cache rather than a log.
type HealthSnapshot struct {
	FolderOK      bool
	FolderMessage string
	UploadOK      bool
	UploadMessage string
	CheckedAt     time.Time
}

// pendingSetSaveLocation is the deferred form of a save-location change
// requested while the recorder was not idle. It replays through the same
// public entry point once the machine re-enters the idle state.
type pendingSetSaveLocation struct {
	root  string
	label string
}

// PendingKind identifies the request variant in logs and tests.
func (pendingSetSaveLocation) PendingKind() string { return "set_save_location" }
