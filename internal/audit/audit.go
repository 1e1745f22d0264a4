// Package audit keeps a tamper-evident JSONL trail of package installs. Each
// entry carries the SHA-256 hash of the previous one, and the chain continues
// across runs and file rotations.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liberodark/check-updates/internal/logging"
)

var log = logging.L("audit")

// Event types.
const (
	EventApplyRequested = "apply_requested"
	EventUpdatesApplied = "updates_applied"
	EventApplyDeclined  = "apply_declined"
	EventApplyFailed    = "apply_failed"
	EventLogRotated     = "log_rotated"
)

const genesisHash = "genesis"

// ErrChainBroken is returned by Verify when an entry does not link to its
// predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("audit hash chain broken")

// Entry is a single audit record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	RunID     string         `json:"runId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Options bounds the size of the trail.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Logger appends entries to one audit file.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
	now        func() time.Time
}

// Open opens path for appending and resumes the hash chain from its last
// entry.
func Open(path string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	prev, err := lastHash(path)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		filePath:   path,
		maxSize:    int64(opts.MaxSizeMB) * 1024 * 1024,
		maxBackups: opts.MaxBackups,
		prevHash:   prev,
		now:        time.Now,
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

// Log writes one entry and fsyncs it. The chain only advances after a
// successful write. Safe to call on a nil receiver.
func (l *Logger) Log(eventType, runID string, details map[string]any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		RunID:     runID,
		Details:   details,
		PrevHash:  l.prevHash,
	}
	data, err := seal(&entry)
	if err != nil {
		log.Error("failed to encode audit entry", logging.KeyError, err.Error(), "eventType", eventType)
		l.dropped.Add(1)
		return
	}

	if l.written+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			log.Error("audit log rotation failed", logging.KeyError, err.Error())
			l.dropped.Add(1)
			return
		}
		entry.PrevHash = l.prevHash
		if data, err = seal(&entry); err != nil {
			l.dropped.Add(1)
			return
		}
	}

	if err := l.write(data); err != nil {
		log.Error("failed to write audit entry", logging.KeyError, err.Error(), "eventType", eventType)
		l.dropped.Add(1)
		return
	}
	l.prevHash = entry.EntryHash
}

// Close closes the audit file. Safe to call on a nil receiver.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// DroppedCount returns the number of entries that failed to write, or -1 for
// a nil logger.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// seal computes the entry hash and returns the encoded line.
func seal(entry *Entry) ([]byte, error) {
	h, err := computeHash(*entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = h
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// computeHash length-prefixes every field so that no two field combinations
// serialize to the same input.
func computeHash(entry Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{entry.Timestamp, entry.EventType, entry.RunID, entry.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if entry.Details != nil {
		detailBytes, err := json.Marshal(entry.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(detailBytes))
		h.Write(detailBytes)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *Logger) write(data []byte) error {
	n, err := l.file.Write(data)
	l.written += int64(n)
	if err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}

	l.file = f
	l.written = info.Size()
	return nil
}

// rotate shifts backups (.2 → .3, .1 → .2, current → .1) and starts the new
// file with a sentinel entry linking to the last entry of the old one.
func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	for i := l.maxBackups; i >= 2; i-- {
		src, dst := l.backupName(i-1), l.backupName(i)
		if i == l.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove oldest audit backup", "path", dst, logging.KeyError, err.Error())
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to rename audit backup", "src", src, "dst", dst, logging.KeyError, err.Error())
		}
	}
	if err := os.Rename(l.filePath, l.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to rename current audit log", logging.KeyError, err.Error())
	}

	if err := l.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: EventLogRotated,
		PrevHash:  l.prevHash,
		Details:   map[string]any{"previousFile": l.backupName(1)},
	}
	data, err := seal(&sentinel)
	if err != nil {
		return err
	}
	if err := l.write(data); err != nil {
		return err
	}
	l.prevHash = sentinel.EntryHash
	return nil
}

func (l *Logger) backupName(index int) string {
	if index == 0 {
		return l.filePath
	}
	return fmt.Sprintf("%s.%d", l.filePath, index)
}

// lastHash returns the hash of the last entry in path, or the genesis hash
// for a missing or empty file.
func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return genesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	prev := genesisHash
	err = scan(f, func(e Entry) error {
		prev = e.EntryHash
		return nil
	})
	if err != nil {
		return "", err
	}
	return prev, nil
}

// Verify checks that every entry in path hashes correctly and links to its
// predecessor. The first entry may link to anything, since earlier entries
// may have been rotated away.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var (
		count int
		prev  string
	)
	err = scan(f, func(e Entry) error {
		want, err := computeHash(e)
		if err != nil {
			return err
		}
		if want != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, count+1)
		}
		if count > 0 && e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d does not link to entry %d", ErrChainBroken, count+1, count)
		}
		prev = e.EntryHash
		count++
		return nil
	})
	return count, err
}

func scan(r io.Reader, fn func(Entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("audit log line %d: %w", line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
