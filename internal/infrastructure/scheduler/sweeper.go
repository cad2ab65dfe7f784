package scheduler

import (
	"context"
	"sync"
	"time"

	apprecon "github.com/finflow/reconciler/internal/application/recon"
	"go.uber.org/zap"
)

// SweepRunner executes one sweep cycle over unreconciled events
type SweepRunner interface {
	RunSweep(ctx context.Context) (apprecon.SweepResult, error)
}

// SweeperConfig holds configuration for the periodic sweeper
type SweeperConfig struct {
	Interval time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 30 * time.Second,
	}
}

// Sweeper periodically runs reconciliation sweeps so events missed by
// on-demand triggers still converge. Cycles never overlap: the next tick
// waits for the previous cycle to return.
type Sweeper struct {
	config SweeperConfig
	runner SweepRunner
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSweeper creates a new Sweeper
func NewSweeper(config SweeperConfig, runner SweepRunner, logger *zap.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{
		config: config,
		runner: runner,
		logger: logger,
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Reconciliation sweeper started",
		zap.Duration("interval", s.config.Interval),
	)

	return nil
}

// Stop gracefully stops the sweep loop, waiting for an in-flight cycle
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconciliation sweeper stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconciliation sweeper stop timed out")
		return ctx.Err()
	}
}

// runLoop runs sweep cycles until the context is cancelled
func (s *Sweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one cycle; a failed cycle is logged and the loop continues
func (s *Sweeper) sweep(ctx context.Context) {
	result, err := s.runner.RunSweep(ctx)
	if err != nil {
		s.logger.Error("Sweep cycle failed", zap.Error(err))
		return
	}
	if result.Scanned > 0 {
		s.logger.Debug("Sweep cycle finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("reconciled", result.Reconciled),
			zap.Int("flagged", result.Flagged),
		)
	}
}
