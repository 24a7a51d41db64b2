// Package billing implements the subscription billing engine: the periodic
// reconciliation that advances recurring-subscription state, debits the
// wallet ledger and reclaims servers after sustained non-payment.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine errors
var (
	// ErrInvalidPlan rejects subscription creation with a non-positive rate
	ErrInvalidPlan = shared.NewDomainError("INVALID_PLAN", "Plan rate must be positive")
	// ErrLedgerWrite signals that the atomic wallet+ledger write failed; the
	// entry keeps its pre-settle status and the next tick retries.
	ErrLedgerWrite = shared.NewDomainError("LEDGER_WRITE_FAILED", "Atomic wallet/ledger write failed")
	// ErrServerTeardown signals that post-expiry server reclamation failed.
	// The EXPIRED status stands; teardown is retried on subsequent ticks.
	ErrServerTeardown = shared.NewDomainError("SERVER_TEARDOWN_FAILED", "Server teardown after expiry failed")
)

// Intervals holds the fixed billing cycle durations
type Intervals struct {
	// Payment is the length of one billing cycle
	Payment time.Duration
	// Expire is the grace period between a missed payment and reclamation
	Expire time.Duration
}

// DefaultIntervals returns the default cycle lengths: 30-day cycles with a
// 7-day grace period.
func DefaultIntervals() Intervals {
	return Intervals{
		Payment: 30 * 24 * time.Hour,
		Expire:  7 * 24 * time.Hour,
	}
}

// CycleAmount computes the charge for one cycle from an hourly rate
func CycleAmount(hourlyRate decimal.Decimal, paymentInterval time.Duration) decimal.Decimal {
	seconds := decimal.NewFromInt(int64(paymentInterval / time.Second))
	return hourlyRate.Mul(seconds).Div(decimal.NewFromInt(3600))
}

// LifecycleService owns every Subscription and Transaction state transition.
// All wallet mutations triggered by subscriptions flow through Settle's
// atomic unit; every balance write is a delta applied against the locked
// wallet row inside the store, never an absolute value computed outside it.
type LifecycleService struct {
	subscriptions billing.SubscriptionRepository
	transactions  billing.TransactionRepository
	wallets       billing.WalletRepository
	store         billing.SettlementStore
	compute       billing.ServerLifecycle
	intervals     Intervals
	logger        *zap.Logger

	now func() time.Time
}

// LifecycleOption configures a LifecycleService
type LifecycleOption func(*LifecycleService)

// WithClock injects a deterministic clock for tests
func WithClock(now func() time.Time) LifecycleOption {
	return func(s *LifecycleService) {
		s.now = now
	}
}

// NewLifecycleService creates the subscription lifecycle service
func NewLifecycleService(
	subscriptions billing.SubscriptionRepository,
	transactions billing.TransactionRepository,
	wallets billing.WalletRepository,
	store billing.SettlementStore,
	compute billing.ServerLifecycle,
	intervals Intervals,
	logger *zap.Logger,
	opts ...LifecycleOption,
) *LifecycleService {
	s := &LifecycleService{
		subscriptions: subscriptions,
		transactions:  transactions,
		wallets:       wallets,
		store:         store,
		compute:       compute,
		intervals:     intervals,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Intervals returns the configured cycle durations
func (s *LifecycleService) Intervals() Intervals {
	return s.intervals
}

// ListForAccount returns the account's subscriptions, owner or admin only
func (s *LifecycleService) ListForAccount(ctx context.Context, principal shared.Principal, accountID uuid.UUID) ([]*billing.Subscription, error) {
	if !principal.CanAccessAccount(accountID) {
		return nil, shared.ErrForbidden
	}
	return s.subscriptions.FindByAccountID(ctx, accountID)
}

// Create provisions the billing schedule for a new server: one Subscription
// whose first cycle ends a payment interval from now, plus the SCHEDULED
// ledger entry for that cycle.
func (s *LifecycleService) Create(ctx context.Context, accountID, serverID uuid.UUID, hourlyRate decimal.Decimal) (*billing.Subscription, *billing.Transaction, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "create_subscription")
	defer span.End()

	if hourlyRate.IsNegative() || hourlyRate.IsZero() {
		telemetry.RecordError(span, ErrInvalidPlan)
		return nil, nil, ErrInvalidPlan
	}

	amount := CycleAmount(hourlyRate, s.intervals.Payment)
	subscription, err := billing.NewSubscription(accountID, serverID, amount, s.now(), s.intervals.Payment, s.intervals.Expire)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	if err := s.subscriptions.Save(ctx, subscription); err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	transaction, err := billing.NewSubscriptionPayment(accountID, subscription.ID, amount)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	if err := s.transactions.Create(ctx, transaction); err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	s.logger.Info("Subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("server_id", serverID.String()),
		zap.String("cycle_amount", amount.String()),
		zap.Time("next_payment_date", subscription.NextPaymentDate),
	)
	return subscription, transaction, nil
}

// Advance moves a subscription to its next cycle after a payment settled.
// Both dates shift by exactly one payment interval from their stored values
// and the next SCHEDULED entry is created with the same amount as the prior
// one. Advance is idempotent: if an open entry already exists for the
// subscription the cycle was already advanced and the call is a no-op, which
// also enforces the at-most-one-open-entry invariant. A missing subscription
// means the server was already torn down and is not an error.
func (s *LifecycleService) Advance(ctx context.Context, prior *billing.Transaction) error {
	subscriptionID, ok := prior.SubscriptionID()
	if !ok {
		return shared.ErrInvalidInput
	}

	subscription, err := s.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Debug("Advance skipped, subscription no longer exists",
				zap.String("subscription_id", subscriptionID.String()))
			return nil
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if _, err := s.transactions.FindOpenByReference(ctx, subscription.Reference()); err == nil {
		s.logger.Debug("Advance skipped, cycle already advanced",
			zap.String("subscription_id", subscriptionID.String()))
		return nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("failed to check open ledger entry: %w", err)
	}

	subscription.AdvanceCycle(s.intervals.Payment, s.now())
	if err := s.subscriptions.Save(ctx, subscription); err != nil {
		return fmt.Errorf("failed to save advanced subscription: %w", err)
	}

	next, err := billing.NewSubscriptionPayment(subscription.AccountID, subscription.ID, prior.Amount)
	if err != nil {
		return err
	}
	if err := s.transactions.Create(ctx, next); err != nil {
		return fmt.Errorf("failed to create next ledger entry: %w", err)
	}

	s.logger.Info("Subscription advanced",
		zap.String("subscription_id", subscription.ID.String()),
		zap.Time("next_payment_date", subscription.NextPaymentDate),
	)
	return nil
}

// ListOverdue returns the open ledger entries of every subscription whose
// payment date has passed.
func (s *LifecycleService) ListOverdue(ctx context.Context, now time.Time) ([]*billing.Transaction, error) {
	due, err := s.subscriptions.FindPaymentDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}
	return s.transactions.FindByReferences(ctx, references(due), []billing.TransactionStatus{
		billing.TransactionStatusScheduled,
		billing.TransactionStatusOverdue,
	})
}

// ListExpired returns the ledger entries of every subscription whose grace
// period has passed. A subscription cannot expire before first going
// overdue, so SCHEDULED entries are excluded. EXPIRED entries whose
// subscription row still exists are included so that a previously failed
// server teardown is retried.
func (s *LifecycleService) ListExpired(ctx context.Context, now time.Time) ([]*billing.Transaction, error) {
	due, err := s.subscriptions.FindExpireDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}
	return s.transactions.FindByReferences(ctx, references(due), []billing.TransactionStatus{
		billing.TransactionStatusOverdue,
		billing.TransactionStatusExpired,
	})
}

// Settle evaluates a due ledger entry against the wallet balance and commits
// the resulting wallet mutation and status transition as one atomic unit.
//
// Subscription payments: a covered amount is debited and the entry becomes
// PAID; an uncovered SCHEDULED entry flips to OVERDUE with the balance
// untouched; an uncovered OVERDUE entry is left unchanged (repeated miss, not
// an error). Top-ups credit the wallet and become SUCCESS.
//
// The wallet read here is only advisory, to pick the transition; the
// authoritative balance is the locked row inside the store, where the delta
// is applied. If a concurrent mutation drained the balance between the read
// and the locked write, the store rolls back, the entry keeps its pre-settle
// status and the next tick re-evaluates against the committed balance.
//
// When the commit fails nothing partial is written, the entry keeps its
// pre-settle status and ErrLedgerWrite is returned so the next tick retries.
// A concurrent settle of the same entry safely collapses: the loser's
// compare-and-swap matches zero rows and the call is a no-op.
func (s *LifecycleService) Settle(ctx context.Context, transaction *billing.Transaction) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "settle")
	defer span.End()
	telemetry.SetAttributes(span,
		"transaction_id", transaction.ID.String(),
		"reference_id", transaction.ReferenceID,
		"amount", transaction.Amount.String(),
	)

	if transaction.Status.IsTerminal() {
		return shared.ErrInvalidState
	}

	now := s.now()
	fromStatus := transaction.Status
	delta := decimal.Zero

	switch transaction.Type {
	case billing.TransactionTypeTopUp:
		if fromStatus != billing.TransactionStatusPending {
			return shared.ErrInvalidState
		}
		delta = transaction.Amount
		if err := transaction.Transition(billing.TransactionStatusSuccess, now); err != nil {
			return err
		}

	case billing.TransactionTypeSubscriptionPayment:
		if fromStatus != billing.TransactionStatusScheduled && fromStatus != billing.TransactionStatusOverdue {
			return shared.ErrInvalidState
		}

		wallet, err := s.wallets.FindByAccountID(ctx, transaction.AccountID)
		if err != nil {
			if !errors.Is(err, shared.ErrNotFound) {
				telemetry.RecordError(span, err)
				return fmt.Errorf("failed to read wallet: %w", err)
			}
			wallet = billing.NewWallet(transaction.AccountID)
		}

		if !wallet.CanPay(transaction.Amount) {
			if fromStatus == billing.TransactionStatusOverdue {
				// Repeated miss: no state change, no error.
				return nil
			}
			// First miss: SCHEDULED -> OVERDUE, balance untouched.
			if err := transaction.Transition(billing.TransactionStatusOverdue, now); err != nil {
				return err
			}
		} else {
			delta = transaction.Amount.Neg()
			if err := transaction.Transition(billing.TransactionStatusPaid, now); err != nil {
				return err
			}
		}

	default:
		return shared.ErrInvalidInput
	}

	applied, err := s.store.ApplySettlement(ctx, delta, transaction, fromStatus)
	if err != nil {
		transaction.Status = fromStatus
		if errors.Is(err, shared.ErrInsufficientBalance) {
			// The advisory read was stale; the next tick sees the committed
			// balance and flips the entry to OVERDUE.
			s.logger.Debug("Settle deferred, balance no longer covers the amount",
				zap.String("transaction_id", transaction.ID.String()))
			return nil
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("settle %s: %w: %w", transaction.ID, ErrLedgerWrite, err)
	}
	if !applied {
		// A concurrent run already moved this entry.
		transaction.Status = fromStatus
		s.logger.Debug("Settle collapsed, entry already transitioned",
			zap.String("transaction_id", transaction.ID.String()))
		return nil
	}

	telemetry.AddEvent(span, "settled", "status", transaction.Status.String())
	s.logger.Info("Ledger entry settled",
		zap.String("transaction_id", transaction.ID.String()),
		zap.String("status", transaction.Status.String()),
	)

	if transaction.Status == billing.TransactionStatusPaid {
		// Advance runs outside the atomic unit (it creates a new record) but
		// must complete before the cycle counts as processed.
		if err := s.Advance(ctx, transaction); err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("failed to advance after payment: %w", err)
		}
	}
	return nil
}

// Expire finalizes sustained non-payment: the OVERDUE entry becomes EXPIRED,
// the backing server is torn down and the subscription row is removed. The
// EXPIRED status is never rolled back; if teardown fails the subscription row
// is kept so the next tick retries teardown (the entry then arrives here
// already EXPIRED).
func (s *LifecycleService) Expire(ctx context.Context, transaction *billing.Transaction) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "expire")
	defer span.End()
	telemetry.SetAttributes(span,
		"transaction_id", transaction.ID.String(),
		"reference_id", transaction.ReferenceID,
	)

	subscriptionID, ok := transaction.SubscriptionID()
	if !ok {
		return shared.ErrInvalidInput
	}
	if transaction.Status != billing.TransactionStatusOverdue && transaction.Status != billing.TransactionStatusExpired {
		return shared.ErrInvalidState
	}

	subscription, err := s.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Already torn down and cascaded.
			return nil
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	now := s.now()
	if !subscription.Expired(now) {
		return shared.ErrInvalidState
	}

	if transaction.Status == billing.TransactionStatusOverdue {
		applied, err := s.transactions.UpdateStatus(ctx, transaction.ID,
			billing.TransactionStatusOverdue, billing.TransactionStatusExpired, now)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("expire %s: %w: %w", transaction.ID, ErrLedgerWrite, err)
		}
		if !applied {
			// Lost the race: the entry was paid or expired concurrently.
			current, err := s.transactions.FindByID(ctx, transaction.ID)
			if err != nil {
				return fmt.Errorf("failed to re-read ledger entry: %w", err)
			}
			if current.Status != billing.TransactionStatusExpired {
				return nil
			}
		}
		transaction.Status = billing.TransactionStatusExpired
		transaction.Touch(now)
	}

	// Teardown is attempted unconditionally once EXPIRED is committed.
	if err := s.compute.DeleteServer(ctx, subscription.ServerID); err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Server teardown failed, will retry next tick",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("server_id", subscription.ServerID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("teardown server %s: %w: %w", subscription.ServerID, ErrServerTeardown, err)
	}

	if err := s.subscriptions.Delete(ctx, subscription.ID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	s.logger.Info("Subscription expired and server reclaimed",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("server_id", subscription.ServerID.String()),
	)
	return nil
}

// ProcessOverdueBatch settles each entry sequentially. A failure on one entry
// is recorded and does not stop the siblings; the combined error is returned
// after the whole batch was attempted.
func (s *LifecycleService) ProcessOverdueBatch(ctx context.Context, transactions []*billing.Transaction) error {
	// Detached from the caller's cancelation: shutdown must not abort an
	// item's atomic unit mid-commit.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, tx := range transactions {
		if err := s.Settle(ctx, tx); err != nil {
			s.logger.Error("Failed to settle ledger entry",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("transaction %s: %w", tx.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ProcessExpiredBatch expires each entry sequentially with the same isolation
// semantics as ProcessOverdueBatch.
func (s *LifecycleService) ProcessExpiredBatch(ctx context.Context, transactions []*billing.Transaction) error {
	// Detached from the caller's cancelation: shutdown must not abort an
	// item's atomic unit mid-commit.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, tx := range transactions {
		if err := s.Expire(ctx, tx); err != nil {
			s.logger.Error("Failed to expire ledger entry",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("transaction %s: %w", tx.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RunOverdueForSubscription force-runs overdue processing for one
// subscription. Exposed through the non-production admin API.
func (s *LifecycleService) RunOverdueForSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	tx, err := s.transactions.FindOpenByReference(ctx, billing.SubscriptionReference(subscriptionID))
	if err != nil {
		return err
	}
	return s.ProcessOverdueBatch(ctx, []*billing.Transaction{tx})
}

// RunExpiredForSubscription force-runs expired processing for one
// subscription. Exposed through the non-production admin API.
func (s *LifecycleService) RunExpiredForSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	tx, err := s.transactions.FindOpenByReference(ctx, billing.SubscriptionReference(subscriptionID))
	if err != nil {
		return err
	}
	return s.ProcessExpiredBatch(ctx, []*billing.Transaction{tx})
}

// CancelForServer removes the billing schedule when a server is deleted by
// its owner: the open entry is closed as EXPIRED and the subscription row is
// dropped. No wallet mutation happens here.
func (s *LifecycleService) CancelForServer(ctx context.Context, serverID uuid.UUID) error {
	subscription, err := s.subscriptions.FindByServerID(ctx, serverID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load subscription for server: %w", err)
	}

	now := s.now()
	if open, err := s.transactions.FindOpenByReference(ctx, subscription.Reference()); err == nil {
		// Best effort: SCHEDULED entries first flip to OVERDUE so the state
		// machine reaches EXPIRED through a legal path.
		if open.Status == billing.TransactionStatusScheduled {
			if _, err := s.transactions.UpdateStatus(ctx, open.ID,
				billing.TransactionStatusScheduled, billing.TransactionStatusOverdue, now); err != nil {
				return fmt.Errorf("failed to close open entry: %w", err)
			}
		}
		if _, err := s.transactions.UpdateStatus(ctx, open.ID,
			billing.TransactionStatusOverdue, billing.TransactionStatusExpired, now); err != nil {
			return fmt.Errorf("failed to close open entry: %w", err)
		}
	} else if !errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("failed to find open entry: %w", err)
	}

	if err := s.subscriptions.Delete(ctx, subscription.ID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func references(subscriptions []*billing.Subscription) []string {
	refs := make([]string, len(subscriptions))
	for i, sub := range subscriptions {
		refs[i] = sub.Reference()
	}
	return refs
}
