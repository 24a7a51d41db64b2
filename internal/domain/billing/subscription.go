package billing

import (
	"time"

	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription is the recurring billing schedule bound 1:1 to a provisioned
// server. NextExpireDate always trails NextPaymentDate by the fixed expire
// interval; both move together by exactly one payment interval per cycle.
type Subscription struct {
	shared.BaseEntity
	AccountID       uuid.UUID
	ServerID        uuid.UUID
	Amount          decimal.Decimal
	NextPaymentDate time.Time
	NextExpireDate  time.Time
}

// NewSubscription creates a subscription whose first cycle ends one payment
// interval from now.
func NewSubscription(accountID, serverID uuid.UUID, amount decimal.Decimal, now time.Time, paymentInterval, expireInterval time.Duration) (*Subscription, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Cycle amount must be positive")
	}
	if paymentInterval <= 0 || expireInterval <= 0 {
		return nil, shared.NewDomainError("INVALID_INTERVAL", "Billing intervals must be positive")
	}
	nextPayment := now.Add(paymentInterval)
	return &Subscription{
		BaseEntity:      shared.NewBaseEntity(),
		AccountID:       accountID,
		ServerID:        serverID,
		Amount:          amount,
		NextPaymentDate: nextPayment,
		NextExpireDate:  nextPayment.Add(expireInterval),
	}, nil
}

// AdvanceCycle shifts both dates forward by exactly one payment interval.
// Shifting from the stored dates, not from "now", keeps cycles from drifting
// when settlement runs late.
func (s *Subscription) AdvanceCycle(paymentInterval time.Duration, now time.Time) {
	s.NextPaymentDate = s.NextPaymentDate.Add(paymentInterval)
	s.NextExpireDate = s.NextExpireDate.Add(paymentInterval)
	s.Touch(now)
}

// PaymentDue reports whether the current cycle's payment date has passed
func (s *Subscription) PaymentDue(now time.Time) bool {
	return s.NextPaymentDate.Before(now)
}

// Expired reports whether the grace period after non-payment has passed
func (s *Subscription) Expired(now time.Time) bool {
	return s.NextExpireDate.Before(now)
}

// Reference returns the ledger reference key for this subscription
func (s *Subscription) Reference() string {
	return SubscriptionReference(s.ID)
}
