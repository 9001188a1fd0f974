// Package lock guards training runs with a lockfile in the data directory.
// A lock left behind by a process that is no longer running is taken over.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/logger"
)

var (
	findProcessFunc = ps.FindProcess
	getpidFunc      = os.Getpid
)

// ErrLocked is returned when another live process holds the lock
var ErrLocked = errors.New("another training run is in progress")

// Lock is a held training lock
type Lock struct {
	path string
	pid  int
}

// Holder describes the process recorded in a lockfile
type Holder struct {
	PID        int
	Executable string
	Started    time.Time
}

// Path returns the lockfile location inside dir
func Path(dir string) string {
	return filepath.Join(dir, constants.TrainLockfileName)
}

// Acquire takes the training lock in dir
func Acquire(dir string) (*Lock, error) {
	path := Path(dir)
	pid := getpidFunc()
	content := fmt.Sprintf("%d|%s|%s", pid, executableName(), time.Now().UTC().Format(time.RFC3339))

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lockfile: %w", err)
			}
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lockfile: %w", err)
			}
			return &Lock{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lockfile: %w", err)
		}

		holder, err := ReadHolder(path)
		if err == nil && alive(holder) {
			return nil, fmt.Errorf("%w (pid %d since %s)", ErrLocked, holder.PID, holder.Started.Format(time.RFC3339))
		}
		logger.Warn("Removing stale training lock", "path", path, "error", err)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lockfile: %w", err)
		}
	}
	return nil, ErrLocked
}

// ReadHolder parses the lockfile at path
func ReadHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}

	parts := strings.Split(strings.TrimSpace(string(data)), "|")
	if len(parts) != 3 {
		return Holder{}, errors.New("lockfile is malformed")
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil || pid <= 0 {
		return Holder{}, errors.New("invalid process ID in lockfile")
	}
	started, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return Holder{}, errors.New("invalid start time in lockfile")
	}
	return Holder{PID: pid, Executable: parts[1], Started: started}, nil
}

// Held reports the current holder of the lock in dir and whether that process is
// still running. A missing lockfile is reported as not held.
func Held(dir string) (Holder, bool, error) {
	h, err := ReadHolder(Path(dir))
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, err
	}
	return h, alive(h), nil
}

func alive(h Holder) bool {
	process, err := findProcessFunc(h.PID)
	if err != nil || process == nil {
		return false
	}
	return h.Executable == "" || process.Executable() == h.Executable
}

func executableName() string {
	exe, err := os.Executable()
	if err != nil {
		return constants.AppName
	}
	return filepath.Base(exe)
}

// Release removes the lockfile if this process still owns it
func (l *Lock) Release() error {
	holder, err := ReadHolder(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && holder.PID != l.pid {
		return fmt.Errorf("lockfile now belongs to pid %d", holder.PID)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}
