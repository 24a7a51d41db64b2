package billing

import (
	"time"

	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds an account's prepaid balance. Arithmetic is exact decimal;
// the balance itself is unconstrained, but Debit refuses to cross zero so
// automated settlement can never overdraw an account.
type Wallet struct {
	AccountID uuid.UUID
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// NewWallet creates an empty wallet for an account
func NewWallet(accountID uuid.UUID) *Wallet {
	return &Wallet{
		AccountID: accountID,
		Balance:   decimal.Zero,
		UpdatedAt: time.Now(),
	}
}

// CanPay reports whether the balance covers the given amount
func (w *Wallet) CanPay(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// Debit subtracts amount from the balance, refusing to go below zero
func (w *Wallet) Debit(amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Debit amount must not be negative")
	}
	if !w.CanPay(amount) {
		return shared.ErrInsufficientBalance
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = now
	return nil
}

// Credit adds amount to the balance
func (w *Wallet) Credit(amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Credit amount must not be negative")
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = now
	return nil
}

// Adjust applies a signed admin adjustment, allowing negative balances
func (w *Wallet) Adjust(delta decimal.Decimal, now time.Time) {
	w.Balance = w.Balance.Add(delta)
	w.UpdatedAt = now
}
