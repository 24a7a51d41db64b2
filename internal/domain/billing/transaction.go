package billing

import (
	"time"

	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of ledger entry
type TransactionType string

const (
	TransactionTypeTopUp               TransactionType = "TOP_UP"
	TransactionTypeSubscriptionPayment TransactionType = "SUBSCRIPTION_PAYMENT"
)

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeTopUp || t == TransactionTypeSubscriptionPayment
}

// TransactionStatus represents the status of a ledger entry.
//
// Top-ups move PENDING -> {FAILED, SUCCESS}. Subscription payments move
// SCHEDULED -> {PAID, OVERDUE} and OVERDUE -> {PAID, EXPIRED}.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusSuccess   TransactionStatus = "SUCCESS"
	TransactionStatusScheduled TransactionStatus = "SCHEDULED"
	TransactionStatusPaid      TransactionStatus = "PAID"
	TransactionStatusOverdue   TransactionStatus = "OVERDUE"
	TransactionStatusExpired   TransactionStatus = "EXPIRED"
)

// IsValid checks if the status is a valid TransactionStatus
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusFailed, TransactionStatusSuccess,
		TransactionStatusScheduled, TransactionStatusPaid, TransactionStatusOverdue,
		TransactionStatusExpired:
		return true
	}
	return false
}

// String returns the string representation of TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the ledger entry can no longer transition
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusPaid, TransactionStatusExpired,
		TransactionStatusSuccess, TransactionStatusFailed:
		return true
	}
	return false
}

// IsOpen returns true if the entry still awaits settlement
func (s TransactionStatus) IsOpen() bool {
	return !s.IsTerminal()
}

// CanTransitionTo validates a status transition
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusFailed || next == TransactionStatusSuccess
	case TransactionStatusScheduled:
		return next == TransactionStatusPaid || next == TransactionStatusOverdue
	case TransactionStatusOverdue:
		return next == TransactionStatusPaid || next == TransactionStatusExpired
	}
	return false
}

// Transaction is an immutable-once-terminal ledger entry recording one
// billing or top-up event against an account's wallet.
type Transaction struct {
	shared.BaseEntity
	AccountID   uuid.UUID
	ReferenceID string
	Type        TransactionType
	Status      TransactionStatus
	Amount      decimal.Decimal
}

// NewSubscriptionPayment creates the SCHEDULED ledger entry for one billing
// cycle of a subscription.
func NewSubscriptionPayment(accountID, subscriptionID uuid.UUID, amount decimal.Decimal) (*Transaction, error) {
	if amount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Transaction amount must not be negative")
	}
	return &Transaction{
		BaseEntity:  shared.NewBaseEntity(),
		AccountID:   accountID,
		ReferenceID: SubscriptionReference(subscriptionID),
		Type:        TransactionTypeSubscriptionPayment,
		Status:      TransactionStatusScheduled,
		Amount:      amount,
	}, nil
}

// NewTopUp creates a PENDING top-up ledger entry
func NewTopUp(accountID uuid.UUID, reference string, amount decimal.Decimal) (*Transaction, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Top-up amount must be positive")
	}
	return &Transaction{
		BaseEntity:  shared.NewBaseEntity(),
		AccountID:   accountID,
		ReferenceID: reference,
		Type:        TransactionTypeTopUp,
		Status:      TransactionStatusPending,
		Amount:      amount,
	}, nil
}

// Transition moves the entry to the next status, validating the state machine
func (t *Transaction) Transition(next TransactionStatus, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return shared.ErrInvalidState
	}
	t.Status = next
	t.Touch(now)
	return nil
}

// SubscriptionID parses the owning subscription from the reference key.
// Returns false for non-subscription entries.
func (t *Transaction) SubscriptionID() (uuid.UUID, bool) {
	if t.Type != TransactionTypeSubscriptionPayment {
		return uuid.Nil, false
	}
	id, err := ParseSubscriptionReference(t.ReferenceID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
