//go:build unix

// Package lockfile provides a single-instance guard backed by an advisory
// flock(2) lock. The locked file's body stores the time of the last executed
// run as decimal UNIX seconds.
package lockfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrCorruptTimestamp is returned when the lock file body is not a number.
var ErrCorruptTimestamp = errors.New("lockfile: corrupt timestamp")

// Guard is an open lock file. The kernel releases the lock when the file is
// closed or the process exits, so a killed run never leaves a stale lock.
type Guard struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	locked bool
}

// Open opens path read-write, creating it if absent. Existing content is kept.
func Open(path string) (*Guard, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}
	return &Guard{path: path, file: f}, nil
}

// Path returns the lock file path.
func (g *Guard) Path() string {
	return g.path
}

// TryLock attempts a non-blocking exclusive lock. It returns false without
// an error when another holder owns the lock.
func (g *Guard) TryLock() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.file == nil {
		return false, os.ErrClosed
	}
	if g.locked {
		return true, nil
	}

	err := flock(g.file, unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lockfile: lock %s: %w", g.path, err)
	}
	g.locked = true
	return true, nil
}

// ReadTimestamp returns the persisted last-run time. ok is false when the
// file is empty.
func (g *Guard) ReadTimestamp() (t time.Time, ok bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.file == nil {
		return time.Time{}, false, os.ErrClosed
	}
	if _, err := g.file.Seek(0, io.SeekStart); err != nil {
		return time.Time{}, false, fmt.Errorf("lockfile: seek: %w", err)
	}
	data, err := io.ReadAll(g.file)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lockfile: read: %w", err)
	}
	if len(data) == 0 {
		return time.Time{}, false, nil
	}

	secs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w in %s: %q", ErrCorruptTimestamp, g.path, data)
	}
	return time.Unix(secs, 0).Local(), true, nil
}

// WriteTimestamp replaces the file body with t as UNIX seconds. Callers hold
// the lock, so no other instance can observe a partial write.
func (g *Guard) WriteTimestamp(t time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.file == nil {
		return os.ErrClosed
	}
	if _, err := g.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("lockfile: seek: %w", err)
	}
	if err := g.file.Truncate(0); err != nil {
		return fmt.Errorf("lockfile: truncate: %w", err)
	}
	if _, err := g.file.WriteString(strconv.FormatInt(t.Unix(), 10)); err != nil {
		return fmt.Errorf("lockfile: write: %w", err)
	}
	if err := g.file.Sync(); err != nil {
		return fmt.Errorf("lockfile: sync: %w", err)
	}
	return nil
}

// Close releases the lock and closes the file. It is safe to call more than once.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.file == nil {
		return nil
	}

	var unlockErr error
	if g.locked {
		unlockErr = flock(g.file, unix.LOCK_UN)
		g.locked = false
	}
	closeErr := g.file.Close()
	g.file = nil

	return errors.Join(unlockErr, closeErr)
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}
