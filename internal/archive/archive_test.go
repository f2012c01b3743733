package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchiver(t *testing.T, approve bool) *Archiver {
	t.Helper()
	a := New(zerolog.Nop(), ConfirmerFunc(func(title, question string) bool { return approve }))
	a.RetryDelay = time.Millisecond
	a.now = func() time.Time {
		return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	}
	return a
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveSessionFolder_IncrementalSuffix(t *testing.T) {
	root := t.TempDir()
	a := newTestArchiver(t, true)

	var got []string
	for i := 0; i < 3; i++ {
		folder, err := a.ResolveSessionFolder(root, "GLOSS")
		require.NoError(t, err)

		entries, err := os.ReadDir(folder)
		require.NoError(t, err)
		assert.Empty(t, entries, "fresh session folder must be empty")

		got = append(got, folder)
	}

	base := filepath.Join(root, "2026-08-25", "GLOSS")
	for i, folder := range got {
		want, err := filepath.Abs(filepath.Join(base, fmt.Sprintf("%d", i+1)))
		require.NoError(t, err)
		assert.Equal(t, want, folder, "suffix must increase strictly")
	}
}

func TestResolveSessionFolder_MissingRoot(t *testing.T) {
	tests := []struct {
		name    string
		approve bool
		wantErr error
	}{
		{name: "denied creation fails", approve: false, wantErr: ErrRootMissing},
		{name: "approved creation succeeds", approve: true, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "does-not-exist")
			a := newTestArchiver(t, tt.approve)

			folder, err := a.ResolveSessionFolder(root, "TAKE")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.DirExists(t, folder)
		})
	}
}

func TestMoveAll_RetryRecoversFromTransientLock(t *testing.T) {
	buffer := t.TempDir()
	dest := t.TempDir()
	writeFile(t, filepath.Join(buffer, "a.mp4"), "take one")
	writeFile(t, filepath.Join(buffer, "b.mp4"), "take two")

	a := newTestArchiver(t, true)
	attempts := map[string]int{}
	a.moveFile = func(src, dst string) error {
		attempts[filepath.Base(src)]++
		// a.mp4 is "locked" for its first two attempts only.
		if filepath.Base(src) == "a.mp4" && attempts["a.mp4"] <= 2 {
			return errors.New("file in use by another process")
		}
		return os.Rename(src, dst)
	}

	moved, failures := a.MoveAll(buffer, dest)
	assert.Equal(t, 2, moved)
	assert.Empty(t, failures)
	assert.Equal(t, 3, attempts["a.mp4"])
	assert.FileExists(t, filepath.Join(dest, "a.mp4"))
	assert.FileExists(t, filepath.Join(dest, "b.mp4"))
}

func TestMoveAll_ExhaustedRetriesFailPerFile(t *testing.T) {
	buffer := t.TempDir()
	dest := t.TempDir()
	writeFile(t, filepath.Join(buffer, "locked.mp4"), "stuck")
	writeFile(t, filepath.Join(buffer, "free.mp4"), "fine")

	a := newTestArchiver(t, true)
	attempts := 0
	a.moveFile = func(src, dst string) error {
		if filepath.Base(src) == "locked.mp4" {
			attempts++
			return errors.New("file in use by another process")
		}
		return os.Rename(src, dst)
	}

	moved, failures := a.MoveAll(buffer, dest)
	assert.Equal(t, 1, moved, "unrelated file must still move")
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error(), "locked.mp4")
	assert.Equal(t, a.MaxRetries, attempts)
	assert.FileExists(t, filepath.Join(dest, "free.mp4"))
	assert.FileExists(t, filepath.Join(buffer, "locked.mp4"), "failed file stays in buffer")
}

func TestMoveAll_SkipsDirectories(t *testing.T) {
	buffer := t.TempDir()
	dest := t.TempDir()
	writeFile(t, filepath.Join(buffer, "clip.mp4"), "x")
	require.NoError(t, os.Mkdir(filepath.Join(buffer, "subdir"), 0o755))

	a := newTestArchiver(t, true)
	moved, failures := a.MoveAll(buffer, dest)
	assert.Equal(t, 1, moved)
	assert.Empty(t, failures)
	assert.DirExists(t, filepath.Join(buffer, "subdir"))
}

func TestRenameWithPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), "content")

	a := newTestArchiver(t, true)

	renamed, failures := a.RenameWithPrefix(dir, "TAKE1")
	assert.Equal(t, 1, renamed)
	assert.Empty(t, failures)
	assert.FileExists(t, filepath.Join(dir, "TAKE1_a.mp4"))

	// No idempotence guard: a second pass stacks the prefix.
	renamed, failures = a.RenameWithPrefix(dir, "TAKE1")
	assert.Equal(t, 1, renamed)
	assert.Empty(t, failures)
	assert.FileExists(t, filepath.Join(dir, "TAKE1_TAKE1_a.mp4"))
}

func TestRenameWithPrefix_RetryExhaustion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), "content")

	a := newTestArchiver(t, true)
	a.renameFile = func(oldPath, newPath string) error {
		return errors.New("file in use by another process")
	}

	renamed, failures := a.RenameWithPrefix(dir, "TAKE1")
	assert.Equal(t, 0, renamed)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error(), "a.mp4")
}
