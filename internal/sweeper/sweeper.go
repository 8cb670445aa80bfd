// Package sweeper periodically drives stuck purchases to a terminal state and
// reconciles failures whose provider outcome was unknown.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/billpay/internal/settlement"
	"github.com/congo-pay/billpay/internal/transaction"
)

// Config bounds a sweep.
type Config struct {
	Interval    time.Duration
	MaxAge      time.Duration
	MaxAttempts int
	Concurrency int
	BatchSize   int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Report summarises one Tick.
type Report struct {
	Scanned      int
	Settled      int
	ForcedFailed int
	StillPending int
	Reconciled   int
	Errors       int
}

// Sweeper owns pending transactions once they are older than MaxAge. It uses the
// same engine primitives as the request path, so a late synchronous Resolve and
// a sweep cannot both move money.
type Sweeper struct {
	engine   *settlement.Engine
	txs      transaction.Store
	cfg      Config
	logger   *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New builds a sweeper. Call Start to run it on a ticker or Tick for a single pass.
func New(engine *settlement.Engine, txs transaction.Store, cfg Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		txs:      txs,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "sweeper")),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start runs Tick every Interval until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting sweeper",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("max_age", s.cfg.MaxAge),
		slog.Int("max_attempts", s.cfg.MaxAttempts),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report, err := s.Tick(ctx)
			if err != nil {
				s.logger.Error("sweep failed", slog.Any("error", err))
				continue
			}
			if report.Scanned > 0 || report.Reconciled > 0 {
				s.logger.Info("sweep complete",
					slog.Int("scanned", report.Scanned),
					slog.Int("settled", report.Settled),
					slog.Int("forced_failed", report.ForcedFailed),
					slog.Int("still_pending", report.StillPending),
					slog.Int("reconciled", report.Reconciled),
					slog.Int("errors", report.Errors),
				)
			}
		case <-s.stopChan:
			s.logger.Info("stopping sweeper")
			return
		case <-ctx.Done():
			s.logger.Info("context cancelled, stopping sweeper")
			return
		}
	}
}

// Stop ends Start. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Tick requeries every pending transaction older than MaxAge, forcing a failure
// once MaxAttempts sweeps have passed without a final answer, then reconciles
// flagged failures.
func (s *Sweeper) Tick(ctx context.Context) (Report, error) {
	cutoff := s.now().Add(-s.cfg.MaxAge)

	pending, err := s.txs.ListPending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("list pending: %w", err)
	}

	var (
		settled, forced, still, reconciled, failures atomic.Int32
		g                                            errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, tx := range pending {
		tx := tx
		g.Go(func() error {
			switch res, err := s.sweepOne(ctx, tx); {
			case err != nil:
				failures.Add(1)
				s.logger.Warn("sweep of transaction failed",
					slog.String("transaction_id", tx.ID),
					slog.String("external_reference", tx.ExternalReference),
					slog.Any("error", err),
				)
			case res == outcomeForced:
				forced.Add(1)
			case res == outcomeSettled:
				settled.Add(1)
			default:
				still.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	flagged, err := s.txs.ListReconciliation(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("list reconciliation: %w", err)
	}
	for _, tx := range flagged {
		tx := tx
		g.Go(func() error {
			updated, err := s.engine.Reconcile(ctx, tx)
			switch {
			case errors.Is(err, settlement.ErrUnrecoverable):
				failures.Add(1)
			case err != nil:
				failures.Add(1)
				s.logger.Warn("reconciliation failed",
					slog.String("transaction_id", tx.ID),
					slog.Any("error", err),
				)
			case updated.Reconciliation != tx.Reconciliation:
				reconciled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Scanned:      len(pending),
		Settled:      int(settled.Load()),
		ForcedFailed: int(forced.Load()),
		StillPending: int(still.Load()),
		Reconciled:   int(reconciled.Load()),
		Errors:       int(failures.Load()),
	}, nil
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeSettled
	outcomeForced
)

func (s *Sweeper) sweepOne(ctx context.Context, tx transaction.Transaction) (outcome, error) {
	attempts, err := s.txs.IncrementSweepAttempts(ctx, tx.ID)
	if err != nil {
		return outcomePending, fmt.Errorf("count attempt: %w", err)
	}

	updated, requeryErr := s.engine.Requery(ctx, tx)
	if requeryErr == nil && updated.Status.Terminal() {
		return outcomeSettled, nil
	}
	if attempts < s.cfg.MaxAttempts {
		if requeryErr != nil {
			s.logger.Debug("requery inconclusive", slog.String("transaction_id", tx.ID), slog.Any("error", requeryErr))
		}
		return outcomePending, nil
	}

	reason := fmt.Sprintf("no final status after %d sweeps", attempts)
	final, err := s.engine.ForceFail(ctx, updated, reason)
	if err != nil {
		return outcomePending, fmt.Errorf("force fail: %w", err)
	}
	if final.Status == transaction.StatusSuccess {
		return outcomeSettled, nil
	}
	return outcomeForced, nil
}
