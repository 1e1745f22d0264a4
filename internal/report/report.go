// Package report writes a YAML summary of a run for later inspection.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liberodark/check-updates/internal/patching"
)

// Report is the persisted record of one run.
type Report struct {
	RunID      string            `yaml:"runId"`
	Started    time.Time         `yaml:"started"`
	Finished   time.Time         `yaml:"finished"`
	DurationMs int64             `yaml:"durationMs"`
	Status     string            `yaml:"status"`
	ExitCode   int               `yaml:"exitCode"`
	Message    string            `yaml:"message"`
	Total      int               `yaml:"total"`
	Security   int               `yaml:"security"`
	Applied    []string          `yaml:"applied,omitempty"`
	Updates    []patching.Update `yaml:"updates,omitempty"`
	Error      string            `yaml:"error,omitempty"`
}

// Marshal renders r as YAML.
func (r *Report) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// Write stores r at path, replacing any previous report atomically.
func Write(path string, r *Report) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.yaml")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
