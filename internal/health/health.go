// Package health turns the outcome of a check run into a Nagios plugin
// verdict: a status line, optional performance data and long output, and the
// process exit code.
package health

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liberodark/check-updates/internal/logging"
)

var log = logging.L("health")

// ProbeName prefixes every status line.
const ProbeName = "UPDATE"

// Status is the severity of a verdict.
type Status string

const (
	OK       Status = "OK"
	Warning  Status = "Warning"
	Critical Status = "Critical"
	Unknown  Status = "Unknown"
)

// ExitCode maps a status to the plugin exit code. Unrecognized statuses are
// reported as Unknown.
func (s Status) ExitCode() int {
	switch s {
	case OK:
		return 0
	case Warning:
		return 1
	case Critical:
		return 2
	default:
		return 3
	}
}

// Metric is one perfdata label/value pair.
type Metric struct {
	Label string
	Value int
}

func (m Metric) String() string {
	return fmt.Sprintf("'%s'=%d", m.Label, m.Value)
}

// Perfdata labels reported by every scored run.
const (
	LabelTotal    = "Total Update"
	LabelSecurity = "Security Update"
)

// UpdateCounters returns the perfdata pair for total and security counts.
func UpdateCounters(total, security int) []Metric {
	return []Metric{{LabelTotal, total}, {LabelSecurity, security}}
}

// Verdict is the single terminal result of a run.
type Verdict struct {
	Status     Status
	Message    string
	Perfdata   []Metric
	LongOutput []string
}

// ExitCode returns the exit code for the verdict's status.
func (v Verdict) ExitCode() int {
	return v.Status.ExitCode()
}

// String renders the plugin output: the status line followed by any long
// output lines.
func (v Verdict) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s - %s", ProbeName, v.Status, v.Message)
	if len(v.Perfdata) > 0 {
		parts := make([]string, len(v.Perfdata))
		for i, m := range v.Perfdata {
			parts[i] = m.String()
		}
		b.WriteString(" | ")
		b.WriteString(strings.Join(parts, " "))
	}
	for _, line := range v.LongOutput {
		b.WriteByte('\n')
		b.WriteString(line)
	}
	return b.String()
}

// Errors that map to dedicated verdicts.
var (
	ErrCancelled     = errors.New("cancelled by user")
	ErrInterrupted   = errors.New("operation cancelled")
	ErrLockContended = errors.New("failed to acquire lock file")
)

// FromError converts a run error into a verdict. A nil error yields OK.
func FromError(err error) Verdict {
	switch {
	case err == nil:
		return Verdict{Status: OK, Message: "OK"}
	case errors.Is(err, ErrCancelled):
		return Verdict{Status: Critical, Message: "Cancelled by user"}
	case errors.Is(err, ErrInterrupted):
		return Verdict{Status: Critical, Message: "Operation cancelled"}
	case errors.Is(err, ErrLockContended):
		return Verdict{Status: Warning, Message: "Failed to acquire lock file"}
	}
	log.Debug("converting error to verdict", logging.KeyError, err.Error())
	return Verdict{Status: Critical, Message: "An error occurred: " + err.Error()}
}

// Unknownf builds an Unknown verdict, used for configuration problems.
func Unknownf(format string, args ...any) Verdict {
	return Verdict{Status: Unknown, Message: fmt.Sprintf(format, args...)}
}
