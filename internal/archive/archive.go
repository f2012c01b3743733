// Package archive moves recorded files out of the buffer folder into dated,
// incrementally numbered session folders and prefixes them with the session
// label. Moves and renames retry on lock because the recording backend may
// still hold a handle on a freshly written file.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrRootMissing reports that the save root does not exist and its creation
// was not confirmed.
var ErrRootMissing = errors.New("root path missing")

// Confirmer answers yes/no questions on behalf of the user. The upstream
// system showed a popup here; headless deployments plug in a policy.
type Confirmer interface {
	Confirm(title, question string) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(title, question string) bool

// Confirm calls f.
func (f ConfirmerFunc) Confirm(title, question string) bool {
	return f(title, question)
}

// Archiver performs the move-then-rename sequence after a recording stops.
// It receives folder paths by value and holds no session state of its own.
//
// Not safe for concurrent use against the same base path; the session
// controller serialises calls.
type Archiver struct {
	MaxRetries int
	RetryDelay time.Duration

	log     zerolog.Logger
	confirm Confirmer

	// Injected for tests; default to the real filesystem operations.
	moveFile   func(src, dst string) error
	renameFile func(oldPath, newPath string) error
	now        func() time.Time
}

// New returns an Archiver with the default retry policy (6 attempts, 500ms
// apart).
func New(log zerolog.Logger, confirm Confirmer) *Archiver {
	return &Archiver{
		MaxRetries: 6,
		RetryDelay: 500 * time.Millisecond,
		log:        log,
		confirm:    confirm,
		moveFile:   moveFile,
		renameFile: os.Rename,
		now:        time.Now,
	}
}

// ResolveSessionFolder builds root/YYYY-MM-DD/label/i where i is the lowest
// positive integer not yet taken, creates it, and returns the absolute path.
// Repeated sessions with the same label on the same day get strictly
// increasing suffixes and never overwrite a prior take.
//
// A missing root is created only if the confirmer approves; otherwise the
// call fails with ErrRootMissing.
func (a *Archiver) ResolveSessionFolder(root, label string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("resolve session folder: %w", ErrRootMissing)
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		create := a.confirm != nil && a.confirm.Confirm(
			"Warning", fmt.Sprintf("The folder %q does not exist. Do you want to create it?", root))
		if !create {
			return "", fmt.Errorf("resolve session folder %q: %w", root, ErrRootMissing)
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", fmt.Errorf("create root folder: %w", err)
		}
	}

	dateFolder := filepath.Join(root, a.now().Format("2006-01-02"))
	if err := os.MkdirAll(dateFolder, 0o755); err != nil {
		return "", fmt.Errorf("create date folder: %w", err)
	}

	base := filepath.Join(dateFolder, label)
	folder := nextFreeSuffix(base)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create session folder: %w", err)
	}

	abs, err := filepath.Abs(folder)
	if err != nil {
		return folder, nil
	}
	return abs, nil
}

// nextFreeSuffix finds the lowest positive integer i such that base/i does
// not exist yet.
func nextFreeSuffix(base string) string {
	for i := 1; ; i++ {
		candidate := filepath.Join(base, strconv.Itoa(i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// MoveAll moves every regular file directly inside bufferDir into destDir,
// retrying each file on failure up to MaxRetries with a fixed delay. A file
// that exhausts its retries is reported in failures and the remaining files
// are still processed; the pass is never all-or-nothing.
func (a *Archiver) MoveAll(bufferDir, destDir string) (moved int, failures []error) {
	entries, err := os.ReadDir(bufferDir)
	if err != nil {
		return 0, []error{fmt.Errorf("list buffer folder: %w", err)}
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		src := filepath.Join(bufferDir, entry.Name())
		dst := filepath.Join(destDir, entry.Name())

		if err := a.withRetry(entry.Name(), func() error { return a.moveFile(src, dst) }); err != nil {
			failures = append(failures, fmt.Errorf("move %s: %w", entry.Name(), err))
			continue
		}
		moved++
		a.log.Info().Str("file", entry.Name()).Str("dest", destDir).Msg("moved recording")
	}
	return moved, failures
}

// RenameWithPrefix renames every regular file directly inside dir to
// label_originalName, with the same per-file retry policy as MoveAll.
// There is no idempotence guard: applying it twice stacks the prefix.
func (a *Archiver) RenameWithPrefix(dir, label string) (renamed int, failures []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("list session folder: %w", err)}
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		oldPath := filepath.Join(dir, entry.Name())
		newPath := filepath.Join(dir, label+"_"+entry.Name())

		if err := a.withRetry(entry.Name(), func() error { return a.renameFile(oldPath, newPath) }); err != nil {
			failures = append(failures, fmt.Errorf("rename %s: %w", entry.Name(), err))
			continue
		}
		renamed++
		a.log.Info().Str("file", entry.Name()).Str("renamed_to", label+"_"+entry.Name()).Msg("prefixed recording")
	}
	return renamed, failures
}

// withRetry runs op up to MaxRetries times with RetryDelay between attempts.
func (a *Archiver) withRetry(name string, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= a.MaxRetries; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		a.log.Warn().
			Str("file", name).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("file operation failed, retrying")
		if attempt < a.MaxRetries {
			time.Sleep(a.RetryDelay)
		}
	}
	return fmt.Errorf("after %d attempts: %w", a.MaxRetries, lastErr)
}

// moveFile renames src to dst, falling back to copy+remove when the two
// paths are on different filesystems. Existing destination files are
// overwritten, matching the platform default the upstream system relied on.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
