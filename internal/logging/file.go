package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the log file.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxAgeDays = 30
)

// FileConfig describes an optional rotating log file. MaxBackups is passed
// to lumberjack as is: 0 keeps every backup until it is MaxAgeDays old.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FileWriter is a size-rotated log file. It is safe for concurrent use.
type FileWriter struct {
	mu sync.Mutex
	lj *lj.Logger
}

// OpenFile creates the log directory and returns a rotating writer.
func OpenFile(cfg FileConfig) (*FileWriter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log file path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	return &FileWriter{
		lj: &lj.Logger{
			Filename:   cfg.Path,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: max(cfg.MaxBackups, 0),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
		},
	}, nil
}

// Write implements io.Writer.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lj.Write(p)
}

// Rotate closes the current file and starts a new one (for SIGHUP handling).
func (w *FileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lj.Rotate()
}

// Close closes the underlying file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lj.Close()
}

// TeeWriter returns an io.Writer that writes to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
