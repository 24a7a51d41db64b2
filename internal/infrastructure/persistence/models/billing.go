package models

import (
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionModel is the persistence model for the Subscription aggregate.
type SubscriptionModel struct {
	BaseModel
	AccountID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	ServerID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	NextPaymentDate time.Time       `gorm:"not null;index"`
	NextExpireDate  time.Time       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToDomain converts the persistence model to a domain Subscription.
func (m *SubscriptionModel) ToDomain() *billing.Subscription {
	return &billing.Subscription{
		BaseEntity:      m.BaseModel.ToDomain(),
		AccountID:       m.AccountID,
		ServerID:        m.ServerID,
		Amount:          m.Amount,
		NextPaymentDate: m.NextPaymentDate,
		NextExpireDate:  m.NextExpireDate,
	}
}

// FromDomain populates the persistence model from a domain Subscription.
func (m *SubscriptionModel) FromDomain(s *billing.Subscription) {
	m.FromDomainBaseEntity(s.BaseEntity)
	m.AccountID = s.AccountID
	m.ServerID = s.ServerID
	m.Amount = s.Amount
	m.NextPaymentDate = s.NextPaymentDate
	m.NextExpireDate = s.NextExpireDate
}

// SubscriptionModelFromDomain creates a new persistence model from a domain Subscription.
func SubscriptionModelFromDomain(s *billing.Subscription) *SubscriptionModel {
	m := &SubscriptionModel{}
	m.FromDomain(s)
	return m
}

// TransactionModel is the persistence model for ledger entries. The composite
// indexes back the open-entry lookup by reference and the due-entry scans.
type TransactionModel struct {
	BaseModel
	AccountID   uuid.UUID                 `gorm:"type:uuid;not null;index"`
	ReferenceID string                    `gorm:"type:varchar(64);not null;index:idx_transactions_reference_status,priority:1"`
	Type        billing.TransactionType   `gorm:"type:varchar(30);not null;index:idx_transactions_type_status_created,priority:1"`
	Status      billing.TransactionStatus `gorm:"type:varchar(20);not null;index:idx_transactions_reference_status,priority:2;index:idx_transactions_type_status_created,priority:2"`
	Amount      decimal.Decimal           `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (TransactionModel) TableName() string {
	return "transactions"
}

// ToDomain converts the persistence model to a domain Transaction.
func (m *TransactionModel) ToDomain() *billing.Transaction {
	return &billing.Transaction{
		BaseEntity:  m.BaseModel.ToDomain(),
		AccountID:   m.AccountID,
		ReferenceID: m.ReferenceID,
		Type:        m.Type,
		Status:      m.Status,
		Amount:      m.Amount,
	}
}

// FromDomain populates the persistence model from a domain Transaction.
func (m *TransactionModel) FromDomain(t *billing.Transaction) {
	m.FromDomainBaseEntity(t.BaseEntity)
	m.AccountID = t.AccountID
	m.ReferenceID = t.ReferenceID
	m.Type = t.Type
	m.Status = t.Status
	m.Amount = t.Amount
}

// TransactionModelFromDomain creates a new persistence model from a domain Transaction.
func TransactionModelFromDomain(t *billing.Transaction) *TransactionModel {
	m := &TransactionModel{}
	m.FromDomain(t)
	return m
}

// WalletModel is the persistence model for account wallets. One row per
// account, keyed by the owning account's ID.
type WalletModel struct {
	AccountID uuid.UUID       `gorm:"type:uuid;primary_key"`
	Balance   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WalletModel) TableName() string {
	return "wallets"
}

// ToDomain converts the persistence model to a domain Wallet.
func (m *WalletModel) ToDomain() *billing.Wallet {
	return &billing.Wallet{
		AccountID: m.AccountID,
		Balance:   m.Balance,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Wallet.
func (m *WalletModel) FromDomain(w *billing.Wallet) {
	m.AccountID = w.AccountID
	m.Balance = w.Balance
	m.UpdatedAt = w.UpdatedAt
}

// WalletModelFromDomain creates a new persistence model from a domain Wallet.
func WalletModelFromDomain(w *billing.Wallet) *WalletModel {
	m := &WalletModel{}
	m.FromDomain(w)
	return m
}
