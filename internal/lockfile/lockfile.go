// Package lockfile makes sure only one SalonBot process serves a state directory.
//
// Two bots on the same directory would answer every message twice and race on the
// conversation store. The lock is an flock(2) on a file inside the directory, so the
// kernel drops it when the process dies.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "salonbot.lock"

// Owner describes the process holding a lock, as written to the lock file.
type Owner struct {
	PID       int
	Command   string
	StartedAt time.Time
}

// String renders the owner the way it is stored.
func (o Owner) String() string {
	return fmt.Sprintf("pid=%d\ncommand=%s\nstarted_at=%s\n", o.PID, o.Command, o.StartedAt.UTC().Format(time.RFC3339))
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if needed.
// command is recorded in the lock file to help identify the owner.
func AcquireLock(stateDir, command string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Attempting to acquire lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the owner info of a running instance before we know we hold the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner, _ := ReadOwner(lockPath)
		slog.Error("Failed to acquire lock - another SalonBot instance is running",
			"error", err, "lock_path", lockPath, "owner_pid", owner.PID)
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), Command: command, StartedAt: time.Now()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(owner.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a new owner never sees its file deleted.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	return err
}

// ReadOwner parses a lock file. Missing fields are left zero.
func ReadOwner(lockPath string) (Owner, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Owner{}, err
	}
	defer f.Close()
	return parseOwner(bufio.NewScanner(f)), nil
}

func parseOwner(sc *bufio.Scanner) Owner {
	var o Owner
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				o.PID = pid
			}
		case "command":
			o.Command = value
		case "started_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.StartedAt = t
			}
		}
	}
	return o
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another SalonBot instance is already using this state directory (lock file: %s)", e.LockPath)
	if e.Owner.PID > 0 {
		state := "running"
		if !isProcessRunning(e.Owner.PID) {
			state = "not running, the lock may be stale"
		}
		fmt.Fprintf(&b, "\nowner: pid %d (%s)", e.Owner.PID, state)
		if e.Owner.Command != "" {
			fmt.Fprintf(&b, ", command %q", e.Owner.Command)
		}
		if !e.Owner.StartedAt.IsZero() {
			fmt.Fprintf(&b, ", started %s", e.Owner.StartedAt.Format(time.RFC3339))
		}
	}
	fmt.Fprintf(&b, "\nonly if no other instance is running, remove it with: rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// isProcessRunning probes the pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
