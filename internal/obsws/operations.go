package obsws

import (
	"encoding/json"
	"fmt"
)

// RecordStatus is the live recording status reported by OBS.
type RecordStatus struct {
	Active          bool
	Paused          bool
	DurationSeconds int
	Bytes           int64
}

// GetRecordStatus queries OBS for the current recording status.
func (c *Client) GetRecordStatus() (*RecordStatus, error) {
	resp, err := c.sendRequest("GetRecordStatus", nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		OutputActive   bool  `json:"outputActive"`
		OutputPaused   bool  `json:"outputPaused"`
		OutputDuration int   `json:"outputDuration"` // milliseconds
		OutputBytes    int64 `json:"outputBytes"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, fmt.Errorf("obsws: parse record status: %w", err)
	}

	return &RecordStatus{
		Active:          data.OutputActive,
		Paused:          data.OutputPaused,
		DurationSeconds: data.OutputDuration / 1000,
		Bytes:           data.OutputBytes,
	}, nil
}

// StartRecord starts recording in OBS.
func (c *Client) StartRecord() error {
	_, err := c.sendRequest("StartRecord", nil)
	return err
}

// StopRecord stops the current recording and returns the output path OBS
// reports for it.
func (c *Client) StopRecord() (string, error) {
	resp, err := c.sendRequest("StopRecord", nil)
	if err != nil {
		return "", err
	}

	var data struct {
		OutputPath string `json:"outputPath"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", fmt.Errorf("obsws: parse stop response: %w", err)
	}
	return data.OutputPath, nil
}

// SetRecordDirectory points OBS at a new output directory for subsequent
// recordings.
func (c *Client) SetRecordDirectory(path string) error {
	_, err := c.sendRequest("SetRecordDirectory", map[string]interface{}{
		"recordDirectory": path,
	})
	return err
}

// GetRecordDirectory returns the directory OBS currently records into.
func (c *Client) GetRecordDirectory() (string, error) {
	resp, err := c.sendRequest("GetRecordDirectory", nil)
	if err != nil {
		return "", err
	}

	var data struct {
		RecordDirectory string `json:"recordDirectory"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", fmt.Errorf("obsws: parse record directory: %w", err)
	}
	return data.RecordDirectory, nil
}

// GetVersion retrieves the OBS and websocket plugin versions.
func (c *Client) GetVersion() (obsVersion, wsVersion string, err error) {
	resp, err := c.sendRequest("GetVersion", nil)
	if err != nil {
		return "", "", err
	}

	var data struct {
		OBSVersion          string `json:"obsVersion"`
		OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", "", fmt.Errorf("obsws: parse version: %w", err)
	}
	return data.OBSVersion, data.OBSWebSocketVersion, nil
}
