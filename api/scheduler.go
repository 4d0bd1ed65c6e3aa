/*
scheduler.go - Nightly balance sweep

PURPOSE:
  Periodically resolves yesterday's balance for every active account.
  That warms the hot cache for the most requested closed day and lets the
  snapshot policy materialize snapshots for busy accounts before users
  ask for them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Goes through ledger.Resolver like any request; it never writes
    snapshots itself, so the policy and the insert-or-ignore still decide
  - One account failing is logged and does not stop the sweep
  - Safe to run on several instances at once

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the scheduler runs (default: false)

USAGE:
  scheduler := NewSnapshotScheduler(accounts, resolver, clock, logger)
  scheduler.Enabled = true
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/resolver.go: Resolve
  - ledger/snapshot.go: SnapshotPolicy
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/balance-engine/ledger"
)

// sweepPageSize is how many accounts are fetched per page.
const sweepPageSize = ledger.MaxPageLimit

// SweepResult counts what one sweep did, by resolution source.
type SweepResult struct {
	Accounts int
	Failed   int
	Sources  map[ledger.Source]int
}

// SnapshotScheduler runs the nightly balance sweep.
type SnapshotScheduler struct {
	Accounts      *ledger.Accounts
	Resolver      *ledger.Resolver
	Clock         ledger.Clock
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSnapshotScheduler creates a disabled scheduler with a 1 hour interval.
func NewSnapshotScheduler(accounts *ledger.Accounts, resolver *ledger.Resolver, clock ledger.Clock, logger *zap.Logger) *SnapshotScheduler {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotScheduler{
		Accounts:      accounts,
		Resolver:      resolver,
		Clock:         clock,
		Logger:        logger.Named("scheduler"),
		CheckInterval: time.Hour,
	}
}

// Start begins the scheduler.
func (s *SnapshotScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run(ctx)

	s.Logger.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SnapshotScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.cancel()
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("stopped")
	}
}

func (s *SnapshotScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(ctx)
		case <-s.stop:
			return
		}
	}
}

// Sweep resolves yesterday's balance for every active account.
func (s *SnapshotScheduler) Sweep(ctx context.Context) SweepResult {
	yesterday := ledger.Today(s.Clock).AddDays(-1)
	result := SweepResult{Sources: make(map[ledger.Source]int)}
	started := time.Now()

	for page := 1; ; page++ {
		accounts, total, err := s.Accounts.List(ctx, ledger.AccountFilter{
			Status: ledger.AccountActive,
			Page:   page,
			Limit:  sweepPageSize,
		})
		if err != nil {
			s.Logger.Error("listing accounts failed", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, account := range accounts {
			if ctx.Err() != nil {
				return result
			}
			result.Accounts++
			res, err := s.Resolver.Resolve(ctx, account.ID, yesterday)
			if err != nil {
				result.Failed++
				s.Logger.Warn("balance sweep failed for account",
					zap.String("account_id", string(account.ID)),
					zap.Error(err))
				continue
			}
			result.Sources[res.Source]++
		}

		if len(accounts) == 0 || page*sweepPageSize >= total {
			break
		}
	}

	s.Logger.Info("balance sweep complete",
		zap.String("date", yesterday.String()),
		zap.Int("accounts", result.Accounts),
		zap.Int("failed", result.Failed),
		zap.Int("snapshots_created", result.Sources[ledger.SourceCalculatedAndSnapshot]),
		zap.Duration("took", time.Since(started)))
	return result
}
