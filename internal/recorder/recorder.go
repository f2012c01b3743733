// Package recorder abstracts the recording backend behind a small interface
// so the session controller can be exercised against a fake in tests.
package recorder

// Recorder is the contract the session orchestrator holds against the
// recording backend. Every method may fail with a recoverable error; none
// of them panic over backend trouble.
type Recorder interface {
	Connect() error
	Disconnect()
	IsConnected() bool

	StartRecord() error
	// StopRecord stops the active recording and returns the output path the
	// backend reports for it.
	StopRecord() (string, error)
	// SetRecordDirectory points the backend at the directory it should
	// deposit raw recordings into.
	SetRecordDirectory(path string) error

	// HealthCheck verifies the backend still answers status queries.
	HealthCheck() error

	OnDisconnected(fn func())
}
