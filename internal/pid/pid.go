// Package pid keeps a single daemon instance per pid file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/sensorpipe/internal/errors"
)

const defaultName = "sensorpipe.pid"

// DefaultPath is the pid file in the system temp directory.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), defaultName)
}

// File is a pid file at a fixed path.
type File struct {
	path string
}

func New(path string) *File {
	if path == "" {
		path = DefaultPath()
	}
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Write records the current process ID. A file left by a process that is
// no longer running is replaced; a live one yields ErrAlreadyRunning.
func (f *File) Write() error {
	errFactory := errors.New()

	if running, pid, err := f.running(); err != nil {
		return err
	} else if running {
		return errFactory.WithData(errors.ErrAlreadyRunning, struct {
			Path string
			PID  int
		}{
			Path: f.path,
			PID:  pid,
		})
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the pid file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

func (f *File) running() (bool, int, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, errFactory.Wrap(errors.ErrInternal, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Unreadable contents are treated as stale.
		return false, 0, nil
	}
	if pid == os.Getpid() {
		return false, pid, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, pid, nil
	}

	return process.Signal(syscall.Signal(0)) == nil, pid, nil
}
