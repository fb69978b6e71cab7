package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockName = ".spot-connect.lock"

// ErrLocked reports that another live process owns an output directory.
var ErrLocked = errors.New("directory locked")

// DirLock marks an output directory as owned by this process until Release.
type DirLock struct {
	path string
	file *os.File
}

type LockOptions struct {
	// Takeover removes a lock whose owner is gone or whose age exceeds
	// StaleAfter.
	Takeover   bool
	StaleAfter time.Duration
	Now        func() time.Time
}

// LockDir creates dir if needed and takes its lock file exclusively.
func LockDir(dir string, opts LockOptions) (*DirLock, error) {
	if dir == "" {
		return nil, errors.New("lock dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	path := filepath.Join(dir, lockName)
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			owner := lockOwner{pid: os.Getpid(), startedAt: now().UTC()}
			if err := owner.write(f); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, err
			}
			return &DirLock{path: path, file: f}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if !opts.Takeover {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		stale, reason, err := staleLock(path, now().UTC(), opts.StaleAfter)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (stale check: %v)", ErrLocked, path, err)
		}
		if !stale {
			return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, path, reason)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

func (l *DirLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type lockOwner struct {
	pid       int
	startedAt time.Time
}

func (o lockOwner) write(f *os.File) error {
	payload := "pid=" + strconv.Itoa(o.pid) + "\nstarted_at=" + o.startedAt.Format(time.RFC3339) + "\n"
	if _, err := f.WriteString(payload); err != nil {
		return err
	}
	return f.Sync()
}

func readOwner(data []byte) (lockOwner, error) {
	var o lockOwner
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "pid":
			if pid, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && pid > 0 {
				o.pid = pid
			}
		case "started_at":
			if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(value)); err == nil {
				o.startedAt = ts.UTC()
			}
		}
	}
	return o, sc.Err()
}

func staleLock(path string, now time.Time, staleAfter time.Duration) (bool, string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, "lock_disappeared", nil
	}
	if err != nil {
		return false, "", err
	}
	owner, err := readOwner(data)
	if err != nil {
		return false, "", err
	}
	if owner.pid > 0 {
		if processAlive(owner.pid) {
			return false, "owner_process_running", nil
		}
		return true, "owner_process_gone", nil
	}
	if owner.startedAt.IsZero() {
		return false, "missing_lock_owner", nil
	}
	if staleAfter > 0 && now.Sub(owner.startedAt) >= staleAfter {
		return true, "lock_age_exceeded", nil
	}
	return false, "lock_not_stale", nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		return true
	default:
		return false
	}
}
