// Package checker sequences one update check: refresh the package cache,
// enumerate pending updates, fetch their details, optionally apply them,
// and score the result into a verdict.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/liberodark/check-updates/internal/health"
	"github.com/liberodark/check-updates/internal/logging"
	"github.com/liberodark/check-updates/internal/packagekit"
	"github.com/liberodark/check-updates/internal/patching"
)

// PackageService is the part of the transaction client the runner drives.
type PackageService interface {
	RefreshCache(ctx context.Context) error
	GetUpdates(ctx context.Context) ([]string, error)
	GetUpdateDetails(ctx context.Context, packageIDs []string) ([]packagekit.UpdateDetail, error)
	ApplyUpdates(ctx context.Context, packageIDs []string) error
}

// Confirmer asks the operator before packages are installed.
type Confirmer interface {
	Confirm(ctx context.Context, updates []patching.Update) (bool, error)
}

// State is a step of the run.
type State int

const (
	Idle State = iota
	Refreshing
	Enumerating
	NoUpdates
	DetailFetching
	Confirming
	Applying
	Scoring
	Done
	Cancelled
)

var stateNames = [...]string{
	Idle:           "idle",
	Refreshing:     "refreshing",
	Enumerating:    "enumerating",
	NoUpdates:      "no-updates",
	DetailFetching: "detail-fetching",
	Confirming:     "confirming",
	Applying:       "applying",
	Scoring:        "scoring",
	Done:           "done",
	Cancelled:      "cancelled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configures a Runner.
type Options struct {
	Warning  int
	Critical int

	// ApplySecurity installs security updates; ApplyAll installs every
	// update and takes precedence.
	ApplySecurity  bool
	ApplyAll       bool
	NonInteractive bool

	// MinFreeDiskGB enables the disk space preflight before applying.
	MinFreeDiskGB float64

	// BeforeApply, if set, is called with the package identifiers right
	// before they are submitted for installation.
	BeforeApply func(packageIDs []string)

	Confirmer Confirmer
	Logger    *slog.Logger
}

func (o Options) applyMode() bool {
	return o.ApplyAll || o.ApplySecurity
}

// Result is the outcome of a run that produced a verdict.
type Result struct {
	Verdict health.Verdict
	State   State
	Updates []patching.Update
	Summary patching.Summary
	Applied []string

	// Declined is set when the operator refused the installation.
	Declined bool
}

// Runner executes check runs against a PackageService.
type Runner struct {
	svc   PackageService
	opts  Options
	log   *slog.Logger
	state State
}

func NewRunner(svc PackageService, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = logging.L("checker")
	}
	return &Runner{svc: svc, opts: opts, log: opts.Logger}
}

func (r *Runner) enter(s State) {
	r.log.Debug("state transition", "from", r.state.String(), "to", s.String())
	r.state = s
}

// Run performs one check. Cancellation of ctx is honored before the cache
// refresh and right after it, and interrupts the read-only phases. Service
// failures are returned as errors; health.FromError turns them into a
// Critical verdict.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.state = Idle

	if ctx.Err() == nil {
		r.enter(Refreshing)
		r.log.Info("refreshing package cache")
		if err := r.svc.RefreshCache(ctx); err != nil {
			if ctx.Err() != nil {
				return r.cancelled(), nil
			}
			return nil, fmt.Errorf("failed to refresh package cache: %w", err)
		}
	}
	if ctx.Err() != nil {
		return r.cancelled(), nil
	}

	r.enter(Enumerating)
	r.log.Info("getting available updates")
	ids, err := r.svc.GetUpdates(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(), nil
		}
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}

	if len(ids) == 0 {
		r.enter(NoUpdates)
		r.log.Info("everything is up to date")
		return &Result{
			State: NoUpdates,
			Verdict: health.Verdict{
				Status:   health.OK,
				Message:  "Everything is up to date",
				Perfdata: health.UpdateCounters(0, 0),
			},
		}, nil
	}

	r.enter(DetailFetching)
	details, err := r.svc.GetUpdateDetails(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(), nil
		}
		return nil, fmt.Errorf("failed to get update details: %w", err)
	}

	updates := patching.Aggregate(ids, patching.Classify(details))
	summary := patching.Summarize(updates)
	res := &Result{Updates: updates, Summary: summary}
	r.log.Info("updates classified", "total", summary.Total, "security", summary.Security)

	if r.opts.applyMode() {
		toApply := patching.Select(updates, r.opts.ApplyAll)
		if len(toApply) > 0 {
			if !r.opts.NonInteractive {
				r.enter(Confirming)
				ok, err := r.confirm(ctx, toApply)
				if err != nil {
					return nil, fmt.Errorf("failed to read confirmation: %w", err)
				}
				if !ok && ctx.Err() != nil {
					return r.cancelled(), nil
				}
				if !ok {
					r.enter(Cancelled)
					res.State = Cancelled
					res.Declined = true
					res.Verdict = health.FromError(health.ErrCancelled)
					return res, nil
				}
			}

			r.enter(Applying)
			if err := r.preflight(); err != nil {
				return nil, err
			}
			applyIDs := patching.PackageIDs(toApply)
			r.log.Info("applying updates", "packages", len(applyIDs))
			if r.opts.BeforeApply != nil {
				r.opts.BeforeApply(applyIDs)
			}
			if err := r.svc.ApplyUpdates(ctx, applyIDs); err != nil {
				return nil, fmt.Errorf("failed to apply updates: %w", err)
			}
			res.Applied = applyIDs
		}
	}

	r.enter(Scoring)
	res.Verdict = r.score(updates, summary)
	r.enter(Done)
	res.State = Done
	return res, nil
}

func (r *Runner) confirm(ctx context.Context, updates []patching.Update) (bool, error) {
	if r.opts.Confirmer == nil {
		return false, errors.New("no confirmer configured for interactive apply")
	}
	return r.opts.Confirmer.Confirm(ctx, updates)
}

func (r *Runner) preflight() error {
	if r.opts.MinFreeDiskGB <= 0 {
		return nil
	}
	result := patching.RunPreflight(patching.PreflightOptions{
		CheckDiskSpace: true,
		MinDiskSpaceGB: r.opts.MinFreeDiskGB,
	})
	return result.FirstError()
}

func (r *Runner) cancelled() *Result {
	r.log.Warn("run cancelled", "state", r.state.String())
	r.enter(Cancelled)
	return &Result{State: Cancelled, Verdict: health.FromError(health.ErrInterrupted)}
}

// score applies the thresholds to the security count. Critical is checked
// first, so a count meeting both thresholds is Critical.
func (r *Runner) score(updates []patching.Update, s patching.Summary) health.Verdict {
	status := health.OK
	switch {
	case s.Security >= r.opts.Critical:
		status = health.Critical
	case s.Security >= r.opts.Warning:
		status = health.Warning
	}

	return health.Verdict{
		Status:     status,
		Message:    fmt.Sprintf("Security-Update = %d, Total-Update = %d", s.Security, s.Total),
		Perfdata:   health.UpdateCounters(s.Total, s.Security),
		LongOutput: r.details(updates, s),
	}
}

// details lists security updates, or every update when all are applied.
func (r *Runner) details(updates []patching.Update, s patching.Summary) []string {
	header := "Security updates:"
	if r.opts.ApplyAll {
		header = "Updates:"
	}
	lines := []string{header}
	for _, u := range updates {
		if !u.Security && !r.opts.ApplyAll {
			continue
		}
		lines = append(lines, FormatUpdate(u))
	}
	if s.Security == 0 && !r.opts.ApplyAll {
		lines = append(lines, "(none)")
	}
	return lines
}

// FormatUpdate renders one update as "name version", tagging security ones.
func FormatUpdate(u patching.Update) string {
	line := u.Name + " " + u.Version
	if u.Security {
		line += " (SECURITY)"
	}
	return line
}
