// Package lockfile guards a VoiceIntake state directory so only one server
// process uses the SQLite database inside it.
//
// The lock is an flock on a file in the state directory. The kernel drops it
// when the holding process exits, so a crash never leaves the directory locked;
// the file itself may remain and is reported as stale.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "voiceintake.lock"

// ErrLocked is matched by the error returned when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another VoiceIntake instance")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID       int
	Addr      string
	StartedAt time.Time
}

// Running reports whether the recorded process still exists.
func (h Holder) Running() bool {
	return h.PID > 0 && isProcessRunning(h.PID)
}

func (h Holder) String() string {
	if h.PID <= 0 {
		return "unknown process"
	}
	state := "running"
	if !h.Running() {
		state = "not running, stale lock file"
	}
	s := fmt.Sprintf("PID %d (%s)", h.PID, state)
	if h.Addr != "" {
		s += " serving " + h.Addr
	}
	if !h.StartedAt.IsZero() {
		s += " since " + h.StartedAt.Format(time.RFC3339)
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock on stateDir, creating the directory if needed. addr is
// recorded so a second instance can report which server owns the directory.
func Acquire(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lockfile.Acquire: acquiring state directory lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's information before we know we own the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, _ := ReadHolder(lockPath)
		slog.Error("Lockfile.Acquire: state directory is locked", "lock_path", lockPath, "holder", holder.String(), "error", err)
		return nil, &HeldError{Path: lockPath, Holder: holder, Cause: err}
	}

	if err := writeHolder(file, Holder{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", lockPath, err)
	}

	slog.Info("Lockfile.Acquire: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	// Remove while still holding the lock so no newcomer's file is deleted.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove lock file: %w", err))
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lock file: %w", err))
	}
	l.file = nil
	if err := errors.Join(errs...); err != nil {
		slog.Error("Lockfile.Release: failed to release cleanly", "lock_path", l.path, "error", err)
		return err
	}
	slog.Info("Lockfile.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// HeldError is returned by Acquire when the directory is locked.
type HeldError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%v: %s (lock file %s); stop the other instance or use a different state directory",
		ErrLocked, e.Holder, e.Path)
}

// Is matches ErrLocked.
func (e *HeldError) Is(target error) bool {
	return target == ErrLocked
}

func (e *HeldError) Unwrap() error {
	return e.Cause
}

// ReadHolder parses the holder recorded in the lock file at path.
func ReadHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()
	return parseHolder(f)
}

func parseHolder(f *os.File) (Holder, error) {
	var h Holder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				h.PID = pid
			}
		case "addr":
			h.Addr = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				h.StartedAt = t
			}
		}
	}
	return h, sc.Err()
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\naddr=%s\nstarted=%s\n", h.PID, h.Addr, h.StartedAt.Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return f.Sync()
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
