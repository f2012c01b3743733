package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signlab/obsrelay/internal/archive"
	"github.com/signlab/obsrelay/internal/metrics"
	"github.com/signlab/obsrelay/internal/recorder"
	"github.com/signlab/obsrelay/internal/statemachine"
)

// Uploader posts one file to a remote endpoint.
type Uploader interface {
	UploadFile(endpoint, filePath string, fields, headers map[string]string) error
}

// IntegrityChecker probes a video file for a frozen capture.
type IntegrityChecker interface {
	FrozenFrame(path string) (bool, error)
}

// SendFunc streams one file to host:port over the relay protocol.
type SendFunc func(host string, port int, filePath string) error

// Options configure a Controller.
type Options struct {
	// DefaultRoot is the save root used when a save-location change does
	// not name one (the SetName command).
	DefaultRoot string
	// SettleDelay is how long to wait after a backend stop before touching
	// the buffer folder, giving the backend time to flush its file.
	SettleDelay time.Duration
}

// Controller owns the recorder status and serialises every state-changing
// operation for one controlled recorder. All transitions, queue mutations
// and archival calls happen under one mutex: at most one transition is in
// flight at any time.
type Controller struct {
	mu sync.Mutex

	machine   *statemachine.Machine
	archiver  *archive.Archiver
	rec       recorder.Recorder
	uploader  Uploader
	integrity IntegrityChecker
	met       *metrics.Metrics
	log       zerolog.Logger
	send      SendFunc

	settleDelay time.Duration

	bufferFolder string
	lastRoot     string

	current      *Session
	lastArchived *Session
	snapshot     HealthSnapshot
}

// New builds a controller. uploader and integrity may be nil when those
// collaborators are not configured; the corresponding operations then fail
// with a clear message instead of panicking.
func New(rec recorder.Recorder, archiver *archive.Archiver, uploader Uploader, integrity IntegrityChecker, met *metrics.Metrics, send SendFunc, opts Options, log zerolog.Logger) *Controller {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = time.Second
	}
	if met == nil {
		met = metrics.New()
	}
	return &Controller{
		machine:     statemachine.New(),
		archiver:    archiver,
		rec:         rec,
		uploader:    uploader,
		integrity:   integrity,
		met:         met,
		log:         log,
		send:        send,
		settleDelay: opts.SettleDelay,
		lastRoot:    opts.DefaultRoot,
	}
}

// Connect opens the control channel to the recorder backend and settles
// into the idle state. A backend failure leaves the status unchanged.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rec.Connect(); err != nil {
		c.log.Error().Err(err).Msg("backend connect failed")
		return fmt.Errorf("connect backend: %w", err)
	}
	if err := c.machine.Transition(statemachine.StatusConnected); err != nil {
		return err
	}
	return c.machine.Transition(statemachine.StatusIdle)
}

// Status returns the current recorder status.
func (c *Controller) Status() statemachine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Status()
}

// Snapshot returns the last known health snapshot.
func (c *Controller) Snapshot() HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// SetBufferFolder creates path if absent and stores it as the staging
// directory. The backend is pointed at it so raw recordings land there; a
// backend failure is logged, not fatal, since the directory may also be
// configured on the backend side.
func (c *Controller) SetBufferFolder(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create buffer folder: %w", err)
	}
	c.bufferFolder = path
	c.log.Info().Str("path", path).Msg("buffer folder set")

	if c.rec.IsConnected() {
		if err := c.rec.SetRecordDirectory(path); err != nil {
			c.log.Warn().Err(err).Msg("could not point backend at buffer folder")
		}
	}
	return nil
}

// BufferFolder returns the staging directory.
func (c *Controller) BufferFolder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferFolder
}

// SetSaveLocation resolves a fresh session folder under root for label. An
// empty root reuses the previous one. When the recorder is not idle the
// request is queued, not rejected: it replays automatically once the current
// operation returns the machine to idle, and the call reports queued=true.
func (c *Controller) SetSaveLocation(root, label string) (queued bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setSaveLocationLocked(root, label)
}

func (c *Controller) setSaveLocationLocked(root, label string) (bool, error) {
	if root == "" {
		root = c.lastRoot
	}

	if !c.machine.Is(statemachine.StatusIdle) {
		c.machine.Enqueue(pendingSetSaveLocation{root: root, label: label})
		c.met.PendingOps.Set(float64(c.machine.PendingLen()))
		c.log.Info().
			Str("status", string(c.machine.Status())).
			Str("label", label).
			Msg("recorder busy, queued save-location change")
		return true, nil
	}

	if err := c.machine.Transition(statemachine.StatusSaving); err != nil {
		return false, err
	}

	folder, err := c.archiver.ResolveSessionFolder(root, label)
	if err != nil {
		_ = c.machine.Transition(statemachine.StatusIdle)
		c.log.Error().Err(err).Str("root", root).Msg("save location not set")
		return false, err
	}

	c.lastRoot = root
	c.current = &Session{
		ID:        uuid.NewString(),
		Root:      root,
		Label:     label,
		Folder:    folder,
		CreatedAt: time.Now(),
	}
	_ = c.machine.Transition(statemachine.StatusIdle)
	c.log.Info().Str("folder", folder).Str("label", label).Msg("save location set")

	c.drainPendingLocked()
	return false, nil
}

// StartRecording begins a recording. It requires the idle state; a backend
// failure aborts the transition and leaves the status unchanged.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.machine.Is(statemachine.StatusIdle) {
		err := &statemachine.ErrInvalidState{From: c.machine.Status(), To: statemachine.StatusRecording}
		c.log.Error().Err(err).Msg("cannot start recording")
		return err
	}

	if err := c.rec.StartRecord(); err != nil {
		c.log.Error().Err(err).Msg("backend start failed")
		return fmt.Errorf("start recording: %w", err)
	}
	_ = c.machine.Transition(statemachine.StatusRecording)
	c.met.RecordingsStarted.Inc()
	c.log.Info().Msg("recording started")
	return nil
}

// StopRecording ends the active recording, waits for the backend flush, and
// runs the archive sequence (move then prefix-rename) against the current
// session folder. Archival failures are logged and reported per file but
// the controller always returns to idle and drains the pending queue.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.machine.Is(statemachine.StatusRecording) {
		err := &statemachine.ErrInvalidState{From: c.machine.Status(), To: statemachine.StatusIdle}
		c.log.Error().Err(err).Msg("cannot stop recording")
		return err
	}

	outputPath, err := c.rec.StopRecord()
	if err != nil {
		c.log.Error().Err(err).Msg("backend stop failed")
		return fmt.Errorf("stop recording: %w", err)
	}
	c.log.Info().Str("output", outputPath).Msg("recording stopped")
	c.met.RecordingsStopped.Inc()

	_ = c.machine.Transition(statemachine.StatusSaving)
	time.Sleep(c.settleDelay)
	c.archiveLocked()
	_ = c.machine.Transition(statemachine.StatusIdle)

	if c.current != nil {
		c.lastArchived = c.current
	}
	c.drainPendingLocked()
	return nil
}

// archiveLocked moves buffered files into the current session folder and
// prefixes them with the session label. A partially failed move does not
// suppress the rename pass: archival is best effort end to end.
func (c *Controller) archiveLocked() {
	if c.current == nil {
		c.log.Error().Msg("no session folder set, leaving files in buffer")
		return
	}
	if c.bufferFolder == "" {
		c.log.Error().Msg("no buffer folder set, nothing to archive")
		return
	}

	moved, moveFailures := c.archiver.MoveAll(c.bufferFolder, c.current.Folder)
	c.met.FilesArchived.Add(float64(moved))
	c.met.ArchiveFailures.Add(float64(len(moveFailures)))
	for _, ferr := range moveFailures {
		c.log.Error().Err(ferr).Msg("archive move failure")
	}

	renamed, renameFailures := c.archiver.RenameWithPrefix(c.current.Folder, c.current.Label)
	c.met.ArchiveFailures.Add(float64(len(renameFailures)))
	for _, ferr := range renameFailures {
		c.log.Error().Err(ferr).Msg("archive rename failure")
	}

	c.log.Info().
		Int("moved", moved).
		Int("renamed", renamed).
		Str("folder", c.current.Folder).
		Msg("archive pass complete")
}

// drainPendingLocked replays the entire deferred queue through the public
// entry points. Replaying everything, not just the head, keeps staggered
// exits from starving later commands.
func (c *Controller) drainPendingLocked() {
	ops := c.machine.DrainPending()
	c.met.PendingOps.Set(0)
	for _, op := range ops {
		switch req := op.(type) {
		case pendingSetSaveLocation:
			if _, err := c.setSaveLocationLocked(req.root, req.label); err != nil {
				c.log.Error().Err(err).Str("label", req.label).Msg("deferred save-location change failed")
			}
		default:
			c.log.Error().Str("kind", op.PendingKind()).Msg("unknown pending operation dropped")
		}
	}
}

// UploadLastRecording posts every file in the current session folder to
// endpoint. The first failing file aborts the batch and its message is
// surfaced; the outcome is cached in the health snapshot either way.
func (c *Controller) UploadLastRecording(endpoint string, fields, headers map[string]string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, msg := c.uploadLocked(endpoint, fields, headers)
	c.snapshot.UploadOK = ok
	c.snapshot.UploadMessage = msg
	c.snapshot.CheckedAt = time.Now()
	if ok {
		c.met.Uploads.WithLabelValues("ok").Inc()
	} else {
		c.met.Uploads.WithLabelValues("failed").Inc()
	}
	return ok, msg
}

func (c *Controller) uploadLocked(endpoint string, fields, headers map[string]string) (bool, string) {
	if c.uploader == nil {
		return false, "upload endpoint not configured"
	}
	if c.current == nil {
		return false, ErrNoSession.Error()
	}

	files, err := regularFiles(c.current.Folder)
	if err != nil {
		return false, fmt.Sprintf("session folder unreadable: %v", err)
	}
	if len(files) == 0 {
		return false, fmt.Sprintf("session folder %s is empty", c.current.Folder)
	}

	for _, name := range files {
		path := filepath.Join(c.current.Folder, name)
		if err := c.uploader.UploadFile(endpoint, path, fields, headers); err != nil {
			c.log.Error().Err(err).Str("file", name).Msg("upload aborted")
			return false, err.Error()
		}
		c.log.Info().Str("file", name).Msg("uploaded")
	}
	return true, fmt.Sprintf("uploaded %d files", len(files))
}

// CheckHealth validates the most recently archived session folder: it must
// exist and hold files, and no video in it may be a frozen capture. Before
// any session completes there is nothing to validate and the check passes
// trivially.
func (c *Controller) CheckHealth() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, msg := c.checkHealthLocked()
	c.snapshot.FolderOK = ok
	c.snapshot.FolderMessage = msg
	c.snapshot.CheckedAt = time.Now()
	return ok, msg
}

func (c *Controller) checkHealthLocked() (bool, string) {
	sess := c.lastArchived
	if sess == nil {
		return true, "no completed session yet"
	}

	files, err := regularFiles(sess.Folder)
	if err != nil {
		return false, fmt.Sprintf("last used folder %s missing or unreadable: %v", sess.Folder, err)
	}
	if len(files) == 0 {
		return false, fmt.Sprintf("last used folder %s is empty", sess.Folder)
	}

	if c.integrity == nil {
		return true, "ok (frame probe not configured)"
	}

	for _, name := range files {
		path := filepath.Join(sess.Folder, name)
		if !isVideo(name) {
			continue
		}
		frozen, err := c.integrity.FrozenFrame(path)
		if err != nil {
			return false, fmt.Sprintf("integrity probe failed for %s: %v", name, err)
		}
		if frozen {
			return false, fmt.Sprintf("integrity: first and last frame identical in %s", name)
		}
	}
	return true, "ok"
}

// SendPrevious streams every file of the last session's folder to host:port
// over the relay protocol. The first failing file aborts the batch.
func (c *Controller) SendPrevious(host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.lastArchived
	if sess == nil {
		sess = c.current
	}
	if sess == nil {
		return ErrNoSession
	}

	files, err := regularFiles(sess.Folder)
	if err != nil {
		return fmt.Errorf("previous session folder: %w", err)
	}

	for _, name := range files {
		path := filepath.Join(sess.Folder, name)
		if err := c.send(host, port, path); err != nil {
			c.log.Error().Err(err).Str("file", name).Msg("file transfer aborted")
			return fmt.Errorf("send %s: %w", name, err)
		}
		c.log.Info().Str("file", name).Str("host", host).Int("port", port).Msg("file sent")
	}
	return nil
}

// Disconnect closes the backend channel and terminates the session. Only an
// explicit disconnect ends the session; nothing else does.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rec.Disconnect()
	_ = c.machine.Transition(statemachine.StatusTerminated)
	c.log.Info().Msg("session terminated")
}

// regularFiles lists the regular files directly inside dir, sorted by name.
func regularFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// isVideo mirrors the extension set of the health package without importing
// it, keeping the controller free of a hard dependency for tests.
var videoExts = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".flv": true, ".ts": true, ".avi": true,
}

func isVideo(name string) bool {
	return videoExts[strings.ToLower(filepath.Ext(name))]
}
