package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signlab/obsrelay/internal/archive"
	"github.com/signlab/obsrelay/internal/statemachine"
)

// fakeRecorder is an in-memory Recorder for exercising the controller
// without a live backend.
type fakeRecorder struct {
	connected  bool
	recording  bool
	connectErr error
	startErr   error
	stopErr    error

	startCalls int
	stopCalls  int
	recordDir  string
}

func (f *fakeRecorder) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeRecorder) Disconnect()       { f.connected = false }
func (f *fakeRecorder) IsConnected() bool { return f.connected }

func (f *fakeRecorder) StartRecord() error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.recording = true
	return nil
}

func (f *fakeRecorder) StopRecord() (string, error) {
	f.stopCalls++
	if f.stopErr != nil {
		return "", f.stopErr
	}
	f.recording = false
	return "/fake/output.mp4", nil
}

func (f *fakeRecorder) SetRecordDirectory(path string) error {
	f.recordDir = path
	return nil
}

func (f *fakeRecorder) HealthCheck() error    { return nil }
func (f *fakeRecorder) OnDisconnected(func()) {}

// fakeUploader records upload calls and fails on demand. onUpload, when set,
// runs before each call returns, so tests can hold an upload in flight.
type fakeUploader struct {
	calls    []string
	failOn   string
	failErr  error
	onUpload func()
}

func (u *fakeUploader) UploadFile(endpoint, filePath string, fields, headers map[string]string) error {
	u.calls = append(u.calls, filepath.Base(filePath))
	if u.onUpload != nil {
		u.onUpload()
	}
	if u.failOn != "" && filepath.Base(filePath) == u.failOn {
		return u.failErr
	}
	return nil
}

// fakeIntegrity reports a fixed frozen-frame verdict.
type fakeIntegrity struct {
	frozen bool
	err    error
}

func (f *fakeIntegrity) FrozenFrame(path string) (bool, error) {
	return f.frozen, f.err
}

type fixture struct {
	ctrl   *Controller
	rec    *fakeRecorder
	upl    *fakeUploader
	integ  *fakeIntegrity
	root   string
	buffer string
	sent   []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		rec:    &fakeRecorder{},
		upl:    &fakeUploader{},
		integ:  &fakeIntegrity{},
		root:   t.TempDir(),
		buffer: t.TempDir(),
	}

	archiver := archive.New(zerolog.Nop(), archive.ConfirmerFunc(func(string, string) bool { return true }))
	archiver.RetryDelay = time.Millisecond

	send := func(host string, port int, path string) error {
		f.sent = append(f.sent, filepath.Base(path))
		return nil
	}

	f.ctrl = New(f.rec, archiver, f.upl, f.integ, nil, send, Options{
		DefaultRoot: f.root,
		SettleDelay: time.Millisecond,
	}, zerolog.Nop())

	require.NoError(t, f.ctrl.Connect())
	require.NoError(t, f.ctrl.SetBufferFolder(f.buffer))
	return f
}

func (f *fixture) deposit(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.buffer, name), []byte(content), 0o644))
}

func TestConnectReachesIdle(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, statemachine.StatusIdle, f.ctrl.Status())
	assert.Equal(t, f.buffer, f.rec.recordDir, "backend must be pointed at the buffer folder")
}

func TestConnectFailureLeavesStateUnchanged(t *testing.T) {
	rec := &fakeRecorder{connectErr: errors.New("backend down")}
	archiver := archive.New(zerolog.Nop(), nil)
	ctrl := New(rec, archiver, nil, nil, nil, nil, Options{SettleDelay: time.Millisecond}, zerolog.Nop())

	err := ctrl.Connect()
	require.Error(t, err)
	assert.Equal(t, statemachine.StatusNotConnected, ctrl.Status())
}

func TestStartRecordingTwiceReportsErrorAndKeepsState(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.StartRecording())
	assert.Equal(t, statemachine.StatusRecording, f.ctrl.Status())

	err := f.ctrl.StartRecording()
	require.Error(t, err)
	var invalid *statemachine.ErrInvalidState
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, statemachine.StatusRecording, f.ctrl.Status())
	assert.Equal(t, 1, f.rec.startCalls, "backend must not see the second start")
}

func TestStopWithoutRecordingIsRejected(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.StopRecording()
	require.Error(t, err)
	assert.Equal(t, statemachine.StatusIdle, f.ctrl.Status())
	assert.Equal(t, 0, f.rec.stopCalls)
}

func TestBackendStartFailureAbortsTransition(t *testing.T) {
	f := newFixture(t)
	f.rec.startErr = errors.New("output already active")

	err := f.ctrl.StartRecording()
	require.Error(t, err)
	assert.Equal(t, statemachine.StatusIdle, f.ctrl.Status(), "aborted transition must not be partially applied")
}

func TestStopRecordingArchivesBufferedFiles(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.SetSaveLocation(f.root, "GLOSS")
	require.NoError(t, err)

	require.NoError(t, f.ctrl.StartRecording())
	f.deposit(t, "clip.mp4", "frames")
	require.NoError(t, f.ctrl.StopRecording())

	date := time.Now().Format("2006-01-02")
	sessionFolder := filepath.Join(f.root, date, "GLOSS", "1")
	assert.FileExists(t, filepath.Join(sessionFolder, "GLOSS_clip.mp4"))

	remaining, err := os.ReadDir(f.buffer)
	require.NoError(t, err)
	assert.Empty(t, remaining, "buffer must be drained")
	assert.Equal(t, statemachine.StatusIdle, f.ctrl.Status())
}

func TestSetSaveLocationQueuedWhileRecording(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.SetSaveLocation(f.root, "FIRST")
	require.NoError(t, err)

	require.NoError(t, f.ctrl.StartRecording())

	queued, err := f.ctrl.SetSaveLocation(f.root, "SECOND")
	require.NoError(t, err)
	assert.True(t, queued, "change during recording must queue, not fail")

	date := time.Now().Format("2006-01-02")
	assert.NoDirExists(t, filepath.Join(f.root, date, "SECOND"),
		"queued change must not execute early")

	f.deposit(t, "clip.mp4", "frames")
	require.NoError(t, f.ctrl.StopRecording())

	// The deferred change ran exactly once after the stop completed.
	assert.DirExists(t, filepath.Join(f.root, date, "SECOND", "1"))
	assert.NoDirExists(t, filepath.Join(f.root, date, "SECOND", "2"))

	// The recording archived into the folder that was current while it ran.
	assert.FileExists(t, filepath.Join(f.root, date, "FIRST", "1", "FIRST_clip.mp4"))
}

func TestSetSaveLocationReplacesCurrentSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.SetSaveLocation(f.root, "A")
	require.NoError(t, err)

	f.ctrl.mu.Lock()
	firstID := f.ctrl.current.ID
	f.ctrl.mu.Unlock()

	_, err = f.ctrl.SetSaveLocation("", "B")
	require.NoError(t, err)

	f.ctrl.mu.Lock()
	defer f.ctrl.mu.Unlock()
	require.NotNil(t, f.ctrl.current)
	assert.Equal(t, "B", f.ctrl.current.Label)
	assert.Equal(t, f.root, f.ctrl.current.Root, "empty root reuses the previous one")
	assert.NotEqual(t, firstID, f.ctrl.current.ID, "each change resolves a fresh session")
}

func TestCheckHealthBeforeAnySessionPassesTrivially(t *testing.T) {
	f := newFixture(t)
	ok, msg := f.ctrl.CheckHealth()
	assert.True(t, ok)
	assert.Contains(t, msg, "no completed session")
}

func runOneTake(t *testing.T, f *fixture, label, fileName string) string {
	t.Helper()
	_, err := f.ctrl.SetSaveLocation(f.root, label)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.StartRecording())
	f.deposit(t, fileName, "frames")
	require.NoError(t, f.ctrl.StopRecording())
	date := time.Now().Format("2006-01-02")
	return filepath.Join(f.root, date, label, "1")
}

func TestCheckHealthFrozenFrame(t *testing.T) {
	f := newFixture(t)
	runOneTake(t, f, "TAKE", "clip.mp4")

	f.integ.frozen = true
	ok, msg := f.ctrl.CheckHealth()
	assert.False(t, ok)
	assert.Contains(t, msg, "integrity")
	assert.Contains(t, msg, "TAKE_clip.mp4")

	snap := f.ctrl.Snapshot()
	assert.False(t, snap.FolderOK)

	f.integ.frozen = false
	ok, msg = f.ctrl.CheckHealth()
	assert.True(t, ok, msg)
}

func TestCheckHealthEmptyFolderFails(t *testing.T) {
	f := newFixture(t)
	folder := runOneTake(t, f, "TAKE", "clip.mp4")

	require.NoError(t, os.Remove(filepath.Join(folder, "TAKE_clip.mp4")))
	ok, msg := f.ctrl.CheckHealth()
	assert.False(t, ok)
	assert.Contains(t, msg, "empty")
}

func TestUploadLastRecording(t *testing.T) {
	f := newFixture(t)
	runOneTake(t, f, "TAKE", "clip.mp4")

	ok, msg := f.ctrl.UploadLastRecording("http://example.test/upload", nil, nil)
	assert.True(t, ok, msg)
	assert.Equal(t, []string{"TAKE_clip.mp4"}, f.upl.calls)

	snap := f.ctrl.Snapshot()
	assert.True(t, snap.UploadOK)
}

func TestUploadAbortsOnFirstFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.SetSaveLocation(f.root, "TAKE")
	require.NoError(t, err)
	require.NoError(t, f.ctrl.StartRecording())
	f.deposit(t, "a.mp4", "one")
	f.deposit(t, "b.mp4", "two")
	f.deposit(t, "c.mp4", "three")
	require.NoError(t, f.ctrl.StopRecording())

	f.upl.failOn = "TAKE_b.mp4"
	f.upl.failErr = errors.New("http 403: forbidden")

	ok, msg := f.ctrl.UploadLastRecording("http://example.test/upload", nil, nil)
	assert.False(t, ok)
	assert.Contains(t, msg, "403")
	// Aborted at the failing file: c was never attempted.
	assert.Equal(t, []string{"TAKE_a.mp4", "TAKE_b.mp4"}, f.upl.calls)

	snap := f.ctrl.Snapshot()
	assert.False(t, snap.UploadOK)
	assert.Contains(t, snap.UploadMessage, "403")
}

func TestUploadWithoutSessionFails(t *testing.T) {
	f := newFixture(t)
	ok, msg := f.ctrl.UploadLastRecording("http://example.test/upload", nil, nil)
	assert.False(t, ok)
	assert.Contains(t, msg, "no session folder")
}

func TestSendPreviousStreamsArchivedFiles(t *testing.T) {
	f := newFixture(t)
	runOneTake(t, f, "TAKE", "clip.mp4")

	require.NoError(t, f.ctrl.SendPrevious("127.0.0.1", 5123))
	assert.Equal(t, []string{"TAKE_clip.mp4"}, f.sent)
}

func TestSendPreviousWithoutSessionFails(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.SendPrevious("127.0.0.1", 5123)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestDisconnectWaitsForInFlightUpload(t *testing.T) {
	f := newFixture(t)
	runOneTake(t, f, "TAKE", "clip.mp4")

	started := make(chan struct{})
	release := make(chan struct{})
	f.upl.onUpload = func() {
		close(started)
		<-release
	}

	uploadOK := make(chan bool, 1)
	go func() {
		ok, _ := f.ctrl.UploadLastRecording("http://example.test/upload", nil, nil)
		uploadOK <- ok
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never started")
	}

	terminated := make(chan struct{})
	go func() {
		f.ctrl.Disconnect()
		close(terminated)
	}()

	// The terminate request must block behind the in-flight upload.
	select {
	case <-terminated:
		t.Fatal("terminate completed while the upload was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case ok := <-uploadOK:
		assert.True(t, ok, "upload in flight before the terminate must finish intact")
	case <-time.After(5 * time.Second):
		t.Fatal("upload never finished")
	}
	select {
	case <-terminated:
	case <-time.After(5 * time.Second):
		t.Fatal("terminate never completed after the upload")
	}
	assert.Equal(t, statemachine.StatusTerminated, f.ctrl.Status())
}

func TestDisconnectTerminates(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Disconnect()
	assert.Equal(t, statemachine.StatusTerminated, f.ctrl.Status())
	assert.False(t, f.rec.connected)

	err := f.ctrl.StartRecording()
	require.Error(t, err, "terminated session must reject commands")
}
