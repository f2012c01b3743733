package recorder

import (
	"fmt"

	"github.com/signlab/obsrelay/internal/obsws"
)

// OBSAdapter implements Recorder on top of an obsws.Client.
type OBSAdapter struct {
	client *obsws.Client
}

// NewOBSAdapter wraps the given client.
func NewOBSAdapter(client *obsws.Client) *OBSAdapter {
	return &OBSAdapter{client: client}
}

// Connect establishes the websocket connection to OBS.
func (a *OBSAdapter) Connect() error {
	return a.client.Connect()
}

// Disconnect closes the OBS connection and stops reconnection.
func (a *OBSAdapter) Disconnect() {
	a.client.Disconnect()
}

// IsConnected reports whether the OBS websocket is connected and identified.
func (a *OBSAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// StartRecord starts recording in OBS.
func (a *OBSAdapter) StartRecord() error {
	return a.client.StartRecord()
}

// StopRecord stops the active recording.
func (a *OBSAdapter) StopRecord() (string, error) {
	return a.client.StopRecord()
}

// SetRecordDirectory changes the OBS output directory.
func (a *OBSAdapter) SetRecordDirectory(path string) error {
	return a.client.SetRecordDirectory(path)
}

// HealthCheck queries record status to verify the backend still responds.
func (a *OBSAdapter) HealthCheck() error {
	if _, err := a.client.GetRecordStatus(); err != nil {
		return fmt.Errorf("backend health check: %w", err)
	}
	return nil
}

// OnDisconnected registers a callback for connection loss.
func (a *OBSAdapter) OnDisconnected(fn func()) {
	a.client.OnDisconnected(fn)
}
