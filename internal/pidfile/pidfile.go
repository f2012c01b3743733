// Package pidfile guards against a second orchestrator instance driving the
// same recorder. Exactly one control channel may be active at a time.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is an acquired single-instance lock.
type PIDFile struct {
	path string
	pid  int
}

// Acquire writes the current PID to path, refusing when another live
// process already holds it. Stale files from dead processes are replaced.
func Acquire(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		if existing, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if processAlive(existing) {
				return nil, fmt.Errorf("another instance is already running (pid %d)", existing)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("remove stale pid file: %w", err)
			}
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &PIDFile{path: path, pid: pid}, nil
}

// Release removes the pid file if it still belongs to this process.
func (p *PIDFile) Release() error {
	if p == nil {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == p.pid {
		return os.Remove(p.path)
	}
	return nil
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return err == syscall.EPERM
}

// DefaultPath returns the conventional pid file location for the given
// application name.
func DefaultPath(appName string) string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return filepath.Join(cacheDir, "obsrelay", appName+".pid")
}
