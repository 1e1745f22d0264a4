package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/liberodark/check-updates/internal/audit"
	"github.com/liberodark/check-updates/internal/checker"
	"github.com/liberodark/check-updates/internal/config"
	"github.com/liberodark/check-updates/internal/health"
	"github.com/liberodark/check-updates/internal/lockfile"
	"github.com/liberodark/check-updates/internal/logging"
	"github.com/liberodark/check-updates/internal/metrics"
	"github.com/liberodark/check-updates/internal/patching"
	"github.com/liberodark/check-updates/internal/report"
	"github.com/liberodark/check-updates/internal/schedule"
)

// probe runs one invocation: lock and schedule gating, the update check,
// and the outputs derived from its verdict.
type probe struct {
	cfg     *config.Config
	runID   string
	log     *slog.Logger
	out     io.Writer
	confirm checker.Confirmer
	connect func(ctx context.Context) (checker.PackageService, io.Closer, error)
	now     func() time.Time
}

// run returns the process exit code. A silent exit prints nothing.
func (p *probe) run(ctx context.Context) int {
	if p.now == nil {
		p.now = time.Now
	}
	started := p.now()

	if p.cfg.LockFile != "" {
		guard, code, proceed := p.acquire(started)
		if guard != nil {
			defer guard.Close()
		}
		if !proceed {
			return code
		}
	}

	res, err := p.check(ctx)
	verdict := health.FromError(err)
	if res != nil && err == nil {
		verdict = res.Verdict
	}
	if err != nil {
		p.log.Error("update check failed", logging.KeyError, err.Error())
	}

	fmt.Fprintln(p.out, verdict.String())
	p.export(res, verdict, err, started)
	return verdict.ExitCode()
}

// acquire takes the lock and evaluates the schedule. It reports whether the
// run should proceed and, if not, the exit code to use.
func (p *probe) acquire(now time.Time) (*lockfile.Guard, int, bool) {
	guard, err := lockfile.Open(p.cfg.LockFile)
	if err != nil {
		return nil, p.fail(err), false
	}

	locked, err := guard.TryLock()
	if err != nil {
		return guard, p.fail(err), false
	}
	if !locked {
		if p.cfg.Scheduled() {
			p.log.Info("another instance holds the lock", "lock", guard.Path())
			return guard, 0, false
		}
		v := health.FromError(health.ErrLockContended)
		fmt.Fprintln(p.out, v.String())
		return guard, v.ExitCode(), false
	}

	if !p.cfg.Scheduled() {
		return guard, 0, true
	}

	spec, err := schedule.Parse(p.cfg.Cron)
	if err != nil {
		return guard, p.fail(err), false
	}
	last, ok, err := guard.ReadTimestamp()
	if err != nil {
		return guard, p.fail(err), false
	}
	if ok && !spec.ShouldRun(last, now) {
		attrs := []any{"lastRun", last.Format(time.RFC3339), "cron", spec.String()}
		if next, err := spec.NextBoundary(now); err == nil {
			attrs = append(attrs, "next", next.Format(time.RFC3339))
		}
		p.log.Info("run not due yet", attrs...)
		return guard, 0, false
	}
	if err := guard.WriteTimestamp(now); err != nil {
		return guard, p.fail(err), false
	}
	return guard, 0, true
}

func (p *probe) fail(err error) int {
	p.log.Error("lock handling failed", logging.KeyError, err.Error())
	v := health.FromError(err)
	fmt.Fprintln(p.out, v.String())
	return v.ExitCode()
}

func (p *probe) check(ctx context.Context) (*checker.Result, error) {
	svc, closer, err := p.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to PackageKit: %w", err)
	}
	defer closer.Close()

	trail := p.openAudit()
	defer p.closeAudit(trail)

	opts := checker.Options{
		Warning:        p.cfg.Warning,
		Critical:       p.cfg.Critical,
		ApplySecurity:  p.cfg.SecurityUpdate,
		ApplyAll:       p.cfg.Update,
		NonInteractive: p.cfg.Yes,
		MinFreeDiskGB:  p.cfg.MinFreeDiskGB,
		Confirmer:      p.confirm,
		Logger:         logging.WithRun(logging.L("checker"), p.runID),
	}
	var requested bool
	if trail != nil {
		opts.BeforeApply = func(ids []string) {
			requested = true
			trail.Log(audit.EventApplyRequested, p.runID, map[string]any{"packages": ids})
		}
	}

	res, err := checker.NewRunner(svc, opts).Run(ctx)
	switch {
	case err != nil:
		if requested {
			trail.Log(audit.EventApplyFailed, p.runID, map[string]any{"error": err.Error()})
		}
	case res.Declined:
		trail.Log(audit.EventApplyDeclined, p.runID, map[string]any{"packages": len(patching.Select(res.Updates, p.cfg.Update))})
	case len(res.Applied) > 0:
		trail.Log(audit.EventUpdatesApplied, p.runID, map[string]any{"packages": res.Applied})
	}
	return res, err
}

// openAudit returns nil unless an audit log is configured and updates may be
// installed. A nil logger ignores every call.
func (p *probe) openAudit() *audit.Logger {
	if p.cfg.AuditFile == "" || !p.cfg.ApplyMode() {
		return nil
	}
	trail, err := audit.Open(p.cfg.AuditFile, audit.Options{})
	if err != nil {
		p.log.Warn("audit log unavailable", logging.KeyError, err.Error())
		return nil
	}
	return trail
}

func (p *probe) closeAudit(trail *audit.Logger) {
	if trail == nil {
		return
	}
	if err := trail.Close(); err != nil {
		p.log.Warn("failed to close audit log", logging.KeyError, err.Error())
	}
	if n := trail.DroppedCount(); n > 0 {
		p.log.Warn("audit entries could not be written", "dropped", n, "path", p.cfg.AuditFile)
	}
}

// export writes the optional report and metrics textfile. Failures are logged
// and never change the verdict.
func (p *probe) export(res *checker.Result, v health.Verdict, runErr error, started time.Time) {
	finished := p.now()

	if p.cfg.ReportFile != "" {
		r := &report.Report{
			RunID:      p.runID,
			Started:    started,
			Finished:   finished,
			DurationMs: finished.Sub(started).Milliseconds(),
			Status:     string(v.Status),
			ExitCode:   v.ExitCode(),
			Message:    v.Message,
		}
		if res != nil {
			r.Total = res.Summary.Total
			r.Security = res.Summary.Security
			r.Updates = res.Updates
			r.Applied = res.Applied
		}
		if runErr != nil {
			r.Error = runErr.Error()
		}
		if err := report.Write(p.cfg.ReportFile, r); err != nil {
			p.log.Warn("failed to write report", logging.KeyError, err.Error())
		}
	}

	if p.cfg.TextfilePath != "" {
		snap := metrics.Snapshot{
			Status:   v.Status,
			Duration: finished.Sub(started),
			Finished: finished,
		}
		if res != nil {
			snap.Total = res.Summary.Total
			snap.Security = res.Summary.Security
			snap.Applied = len(res.Applied)
		}
		rec := metrics.New()
		rec.Record(snap)
		if err := rec.WriteTextfile(p.cfg.TextfilePath); err != nil {
			p.log.Warn("failed to write metrics", logging.KeyError, err.Error())
		}
	}
}
