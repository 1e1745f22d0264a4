// Package packagekit drives PackageKit transactions. Every phase (refresh,
// enumerate, detail, apply) runs in its own transaction whose notification
// stream is split into one channel per category and collected until the
// transaction finishes.
package packagekit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liberodark/check-updates/internal/logging"
)

const (
	// DefaultDrainTimeout bounds how long late notifications are accepted
	// after Finished when the service does not close the stream itself.
	DefaultDrainTimeout = 250 * time.Millisecond

	cancelTimeout = 5 * time.Second
	categoryQueue = 64
)

// Phase names used in logs and errors.
const (
	PhaseRefresh = "refresh cache"
	PhaseUpdates = "get updates"
	PhaseDetails = "get update details"
	PhaseApply   = "package update"
)

// Options tunes the client.
type Options struct {
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Client runs transaction phases against a Service.
type Client struct {
	svc   Service
	drain time.Duration
	log   *slog.Logger
}

// NewClient creates a Client.
func NewClient(svc Service, opts Options) *Client {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.L("packagekit")
	}
	return &Client{svc: svc, drain: opts.DrainTimeout, log: opts.Logger}
}

// RefreshCache forces a refresh of the repository metadata.
func (c *Client) RefreshCache(ctx context.Context) error {
	_, err := c.run(ctx, phase{
		name: PhaseRefresh,
		request: func(ctx context.Context, tx Transaction) error {
			return tx.RefreshCache(ctx, true)
		},
	})
	return err
}

// GetUpdates returns the package identifiers of all pending updates in the
// order the service reported them. Duplicates are kept.
func (c *Client) GetUpdates(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, phase{
		name:     PhaseUpdates,
		packages: true,
		request: func(ctx context.Context, tx Transaction) error {
			return tx.GetUpdates(ctx, FilterNone)
		},
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(res.Packages))
	for _, p := range res.Packages {
		ids = append(ids, p.PackageID)
	}
	return ids, nil
}

// GetUpdateDetails fetches advisory details for packageIDs. No transaction is
// created for an empty list.
func (c *Client) GetUpdateDetails(ctx context.Context, packageIDs []string) ([]UpdateDetail, error) {
	if len(packageIDs) == 0 {
		return nil, nil
	}
	c.log.Info("getting update details", "packages", len(packageIDs))

	res, err := c.run(ctx, phase{
		name:    PhaseDetails,
		details: true,
		request: func(ctx context.Context, tx Transaction) error {
			return tx.GetUpdateDetail(ctx, packageIDs)
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Details, nil
}

// ApplyUpdates installs packageIDs from trusted sources. An error notification
// fails the phase even when the transaction also reports Finished. The phase
// ignores cancellation of ctx: an install is never interrupted once requested.
func (c *Client) ApplyUpdates(ctx context.Context, packageIDs []string) error {
	if len(packageIDs) == 0 {
		return nil
	}
	c.log.Info("applying updates", "packages", len(packageIDs))

	_, err := c.run(context.WithoutCancel(ctx), phase{
		name:        PhaseApply,
		failOnError: true,
		request: func(ctx context.Context, tx Transaction) error {
			return tx.UpdatePackages(ctx, TransactionFlagOnlyTrusted, packageIDs)
		},
	})
	return err
}

type phase struct {
	name        string
	packages    bool
	details     bool
	failOnError bool
	request     func(ctx context.Context, tx Transaction) error
}

type phaseResult struct {
	Packages []PackageFound
	Details  []UpdateDetail
	Finished Finished
	Errors   []ErrorCode
}

func (c *Client) run(ctx context.Context, p phase) (*phaseResult, error) {
	start := time.Now()

	tx, err := c.svc.CreateTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: create transaction: %w: %w", p.name, ErrServiceCall, err)
	}
	defer tx.Close()

	log := c.log.With(logging.KeyPhase, p.name, logging.KeyTransaction, tx.Path())
	log.Debug("transaction created")

	s := newSession(tx, p.packages, p.details)
	res := &phaseResult{}

	var listeners errgroup.Group
	if s.packages != nil {
		listeners.Go(func() error {
			for pkg := range s.packages {
				res.Packages = append(res.Packages, pkg)
			}
			return nil
		})
	}
	if s.details != nil {
		listeners.Go(func() error {
			for d := range s.details {
				res.Details = append(res.Details, d)
			}
			return nil
		})
	}

	if err := p.request(ctx, tx); err != nil {
		tx.Close()
		s.wait()
		listeners.Wait()
		return nil, fmt.Errorf("%s: %w: %w", p.name, ErrServiceCall, err)
	}

	finished, interrupted := c.await(ctx, tx, s, res, log)
	listeners.Wait()

	log = log.With(logging.KeyDurationMs, time.Since(start).Milliseconds())

	if interrupted && finished == nil {
		log.Warn("transaction interrupted")
		return nil, fmt.Errorf("%s: %w", p.name, context.Cause(ctx))
	}

	if len(res.Errors) > 0 {
		last := res.Errors[len(res.Errors)-1]
		if p.failOnError {
			log.Error("transaction reported an error", "code", last.Code, logging.KeyError, last.Details)
			return nil, &TransactionError{Phase: p.name, Code: last.Code, Details: last.Details}
		}
		for _, e := range res.Errors {
			log.Warn("transaction reported an error", "code", e.Code, logging.KeyError, e.Details)
		}
	}

	if finished == nil {
		return nil, fmt.Errorf("%s: %w", p.name, ErrStreamClosed)
	}

	res.Finished = *finished
	log.Info("transaction finished",
		"exit", finished.Exit.String(),
		"runtimeMs", finished.Runtime,
		"packages", len(res.Packages),
		"details", len(res.Details),
	)
	return res, nil
}

// await blocks until the notification stream ends. It returns the Finished
// notification, if any, and whether ctx ended the wait.
func (c *Client) await(ctx context.Context, tx Transaction, s *session, res *phaseResult, log *slog.Logger) (*Finished, bool) {
	var (
		finished    *Finished
		interrupted bool
		drain       <-chan time.Time
		done        = ctx.Done()
		finCh       = s.finished
		errCh       = s.errors
	)

	for finCh != nil || errCh != nil {
		select {
		case f, ok := <-finCh:
			if !ok {
				finCh = nil
				continue
			}
			if finished == nil {
				finished = &f
				timer := time.NewTimer(c.drain)
				defer timer.Stop()
				drain = timer.C
			}
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			res.Errors = append(res.Errors, e)
		case <-drain:
			drain = nil
			tx.Close()
		case <-done:
			done = nil
			if finished != nil {
				continue
			}
			interrupted = true
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
			if err := tx.Cancel(cctx); err != nil {
				log.Warn("failed to cancel transaction", logging.KeyError, err.Error())
			}
			cancel()
			tx.Close()
		}
	}

	s.wait()
	return finished, interrupted
}

// session splits a transaction's notification stream into one channel per
// category. Categories the phase did not subscribe to are dropped.
type session struct {
	packages chan PackageFound
	details  chan UpdateDetail
	finished chan Finished
	errors   chan ErrorCode
	done     chan struct{}
}

func newSession(tx Transaction, packages, details bool) *session {
	s := &session{
		finished: make(chan Finished, 1),
		errors:   make(chan ErrorCode, categoryQueue),
		done:     make(chan struct{}),
	}
	if packages {
		s.packages = make(chan PackageFound, categoryQueue)
	}
	if details {
		s.details = make(chan UpdateDetail, categoryQueue)
	}
	go s.demux(tx.Notifications())
	return s
}

func (s *session) demux(in <-chan Notification) {
	defer close(s.done)
	defer s.closeAll()

	for n := range in {
		switch v := n.(type) {
		case PackageFound:
			if s.packages != nil {
				s.packages <- v
			}
		case UpdateDetail:
			if s.details != nil {
				s.details <- v
			}
		case Finished:
			s.finished <- v
		case ErrorCode:
			s.errors <- v
		}
	}
}

func (s *session) closeAll() {
	if s.packages != nil {
		close(s.packages)
	}
	if s.details != nil {
		close(s.details)
	}
	close(s.finished)
	close(s.errors)
}

// wait discards any unread completion and error notifications until the
// demux goroutine has exited.
func (s *session) wait() {
	fin, errs := s.finished, s.errors
	for fin != nil || errs != nil {
		select {
		case _, ok := <-fin:
			if !ok {
				fin = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
	<-s.done
}
