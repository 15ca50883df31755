// Package scheduler drives the two periodic game jobs: income accrual and
// auction expiry. Each runs on its own ticker; neither waits for the other.
// The income loop also prunes expired idempotency keys.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"empires/internal/game"
)

const (
	JobIncome   = "income"
	JobAuctions = "auctions"
)

// Jobs is the game API the scheduler calls; request handlers use the same one.
type Jobs interface {
	RunIncomeTick(ctx context.Context) (game.IncomeReport, error)
	RunAuctionExpiryTick(ctx context.Context) (game.ExpiryReport, error)
	PruneIdempotencyKeys(ctx context.Context, keep time.Duration) (int64, error)
}

type Recorder interface {
	ObserveTick(job string, err error, elapsed time.Duration)
	ObserveIncome(r game.IncomeReport)
	ObserveExpiry(r game.ExpiryReport)
}

type Config struct {
	IncomeEvery  time.Duration
	AuctionEvery time.Duration
	// KeyRetention is how long idempotency keys are kept; zero keeps them forever.
	KeyRetention time.Duration
}

type Scheduler struct {
	jobs Jobs
	cfg  Config
	log  *slog.Logger
	rec  Recorder
}

func New(jobs Jobs, cfg Config, logger *slog.Logger, rec Recorder) (*Scheduler, error) {
	if cfg.IncomeEvery <= 0 || cfg.AuctionEvery <= 0 {
		return nil, fmt.Errorf("scheduler intervals must be positive (income=%s auctions=%s)", cfg.IncomeEvery, cfg.AuctionEvery)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, cfg: cfg, log: logger, rec: rec}, nil
}

// Run blocks until ctx is done. Tick failures are logged and never stop a loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "income_every", s.cfg.IncomeEvery.String(), "auction_every", s.cfg.AuctionEvery.String())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(ctx, JobIncome, s.cfg.IncomeEvery, s.incomeTick)
	})
	g.Go(func() error {
		return s.loop(ctx, JobAuctions, s.cfg.AuctionEvery, s.auctionTick)
	})
	err := g.Wait()
	s.log.Info("scheduler stopped")
	return err
}

// RunOnce executes one tick of each job, income first.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return errors.Join(s.incomeTick(ctx), s.auctionTick(ctx))
}

func (s *Scheduler) loop(ctx context.Context, job string, every time.Duration, tick func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, every)
			err := tick(tickCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				s.log.Error("tick failed", "job", job, "err", err)
			}
		}
	}
}

func (s *Scheduler) incomeTick(ctx context.Context) error {
	start := time.Now()
	report, err := s.jobs.RunIncomeTick(ctx)
	if s.rec != nil {
		s.rec.ObserveTick(JobIncome, err, time.Since(start))
		s.rec.ObserveIncome(report)
	}
	if s.cfg.KeyRetention <= 0 {
		return err
	}
	pruned, pruneErr := s.jobs.PruneIdempotencyKeys(ctx, s.cfg.KeyRetention)
	if pruned > 0 {
		s.log.Info("idempotency keys pruned", "rows", pruned)
	}
	return errors.Join(err, pruneErr)
}

func (s *Scheduler) auctionTick(ctx context.Context) error {
	start := time.Now()
	report, err := s.jobs.RunAuctionExpiryTick(ctx)
	if s.rec != nil {
		s.rec.ObserveTick(JobAuctions, err, time.Since(start))
		s.rec.ObserveExpiry(report)
	}
	return err
}
