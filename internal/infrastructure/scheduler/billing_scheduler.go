// Package scheduler drives the periodic billing checks: one timer settles due
// payments, the other reclaims expired subscriptions.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/orbitpanel/backend/internal/application/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// BillingSchedulerConfig holds configuration for the billing scheduler
type BillingSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// OverdueCheckInterval is the tick interval for the overdue payment check
	OverdueCheckInterval time.Duration

	// ExpiredCheckInterval is the tick interval for the expired subscription check
	ExpiredCheckInterval time.Duration

	// MaxCheckInstances caps how many runs of the same check may be in flight
	MaxCheckInstances int
}

// DefaultBillingSchedulerConfig returns default configuration
func DefaultBillingSchedulerConfig() BillingSchedulerConfig {
	return BillingSchedulerConfig{
		Enabled:              true,
		OverdueCheckInterval: time.Minute,
		ExpiredCheckInterval: time.Minute,
		MaxCheckInstances:    2,
	}
}

// BillingScheduler runs the overdue and expired checks on fixed intervals.
// Each check holds a slot from its own semaphore for the duration of a run;
// when all slots are busy a tick is skipped rather than queued, so a slow
// batch can never pile up unbounded concurrent runs.
type BillingScheduler struct {
	lifecycle *billing.LifecycleService
	logger    *zap.Logger
	config    BillingSchedulerConfig

	overdueSlots chan struct{}
	expiredSlots chan struct{}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewBillingScheduler creates a new billing scheduler
func NewBillingScheduler(lifecycle *billing.LifecycleService, logger *zap.Logger, config BillingSchedulerConfig) *BillingScheduler {
	if config.MaxCheckInstances <= 0 {
		config.MaxCheckInstances = DefaultBillingSchedulerConfig().MaxCheckInstances
	}
	return &BillingScheduler{
		lifecycle:    lifecycle,
		logger:       logger,
		config:       config,
		overdueSlots: make(chan struct{}, config.MaxCheckInstances),
		expiredSlots: make(chan struct{}, config.MaxCheckInstances),
	}
}

// Start starts both check loops. Calling Start on a running scheduler is a
// no-op.
func (s *BillingScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Billing scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.runLoop(ctx, "overdue", s.config.OverdueCheckInterval, s.overdueSlots, s.runOverdueCheck)
	go s.runLoop(ctx, "expired", s.config.ExpiredCheckInterval, s.expiredSlots, s.runExpiredCheck)

	s.logger.Info("Billing scheduler started",
		zap.Duration("overdue_check_interval", s.config.OverdueCheckInterval),
		zap.Duration("expired_check_interval", s.config.ExpiredCheckInterval),
		zap.Int("max_check_instances", s.config.MaxCheckInstances),
	)
	return nil
}

// Stop cancels the loops and waits for in-flight runs to finish, bounded by
// the given context.
func (s *BillingScheduler) Stop(ctx context.Context) error {
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
		s.logger.Info("Billing scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Billing scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler loops are active
func (s *BillingScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *BillingScheduler) runLoop(ctx context.Context, name string, interval time.Duration, slots chan struct{}, check func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case slots <- struct{}{}:
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer func() { <-slots }()
					s.runOnce(ctx, name, check)
				}()
			default:
				s.logger.Warn("Billing check skipped, all instances busy",
					zap.String("check", name),
					zap.Int("max_check_instances", s.config.MaxCheckInstances),
				)
			}
		}
	}
}

func (s *BillingScheduler) runOnce(ctx context.Context, name string, check func(context.Context) error) {
	// Scheduler runs act on every account and carry the system principal.
	ctx = shared.WithPrincipal(ctx, shared.SystemPrincipal())

	start := time.Now()
	if err := check(ctx); err != nil {
		s.logger.Error("Billing check finished with errors",
			zap.String("check", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Billing check finished",
		zap.String("check", name),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (s *BillingScheduler) runOverdueCheck(ctx context.Context) error {
	due, err := s.lifecycle.ListOverdue(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	return s.lifecycle.ProcessOverdueBatch(ctx, due)
}

func (s *BillingScheduler) runExpiredCheck(ctx context.Context) error {
	due, err := s.lifecycle.ListExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	return s.lifecycle.ProcessExpiredBatch(ctx, due)
}
