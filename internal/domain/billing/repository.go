package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionRepository is the durable store for subscriptions
type SubscriptionRepository interface {
	Save(ctx context.Context, subscription *Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByServerID(ctx context.Context, serverID uuid.UUID) (*Subscription, error)
	FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*Subscription, error)
	// FindPaymentDue returns subscriptions whose next payment date has passed
	FindPaymentDue(ctx context.Context, now time.Time) ([]*Subscription, error)
	// FindExpireDue returns subscriptions whose grace period has passed
	FindExpireDue(ctx context.Context, now time.Time) ([]*Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TransactionFilter narrows ledger listing queries
type TransactionFilter struct {
	Type     *TransactionType
	Status   *TransactionStatus
	Page     int
	PageSize int
}

// TransactionRepository is the durable store for ledger entries
type TransactionRepository interface {
	Create(ctx context.Context, transaction *Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// FindOpenByReference returns the single non-terminal entry for a
	// reference key, or shared.ErrNotFound when none exists.
	FindOpenByReference(ctx context.Context, reference string) (*Transaction, error)
	// FindByReferences returns entries for the given reference keys filtered
	// to the given statuses.
	FindByReferences(ctx context.Context, references []string, statuses []TransactionStatus) ([]*Transaction, error)
	FindByAccountID(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]*Transaction, int64, error)
	// UpdateStatus performs a compare-and-swap transition; it returns false
	// without error when the entry was no longer in the expected status, so
	// concurrent settlement attempts collapse to one effective transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to TransactionStatus, now time.Time) (bool, error)
}

// WalletRepository is the durable store for account balances
type WalletRepository interface {
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*Wallet, error)
	Save(ctx context.Context, wallet *Wallet) error
}

// SettlementStore commits a wallet mutation and a ledger status transition as
// one atomic unit. The wallet row is locked for the duration of the unit, the
// new balance is computed from the locked row so concurrent mutations cannot
// overwrite each other, and the status change is compare-and-swapped from the
// pre-settle status.
type SettlementStore interface {
	// ApplySettlement applies a signed balance delta and persists the
	// transaction's status change together. A zero delta commits a
	// status-only transition (for example SCHEDULED -> OVERDUE). The boolean
	// result is false when the compare-and-swap found the entry already
	// moved out of fromStatus by a concurrent run; nothing is written in
	// that case. A negative delta that would push the locked balance below
	// zero rolls the unit back and returns shared.ErrInsufficientBalance.
	ApplySettlement(ctx context.Context, delta decimal.Decimal, transaction *Transaction, fromStatus TransactionStatus) (bool, error)

	// AdjustBalance applies a signed delta under the wallet row lock and
	// returns the resulting wallet. Unlike settlement the balance may go
	// negative; a missing wallet row is created.
	AdjustBalance(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal, now time.Time) (*Wallet, error)
}

// ServerLifecycle tears down the compute resource backing a subscription.
// Implementations must be idempotent and tolerate already-deleted servers.
type ServerLifecycle interface {
	DeleteServer(ctx context.Context, serverID uuid.UUID) error
}
