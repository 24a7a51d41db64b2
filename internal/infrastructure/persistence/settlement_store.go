package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSettlementStore implements billing.SettlementStore. It commits a wallet
// mutation and a ledger status transition in one database transaction. The
// wallet row is locked for the duration of the unit and the new balance is
// computed from the locked row, so concurrent mutations of the same wallet
// serialize on the lock instead of overwriting each other.
type GormSettlementStore struct {
	db *gorm.DB
}

// NewGormSettlementStore creates a new GormSettlementStore
func NewGormSettlementStore(db *gorm.DB) *GormSettlementStore {
	return &GormSettlementStore{db: db}
}

// ApplySettlement applies a signed balance delta and persists the status
// transition together. A zero delta commits a status-only transition.
// Returns false without error when the compare-and-swap found the entry
// already moved out of fromStatus. A negative delta that would overdraw the
// locked balance rolls the unit back.
func (s *GormSettlementStore) ApplySettlement(ctx context.Context, delta decimal.Decimal, transaction *billing.Transaction, fromStatus billing.TransactionStatus) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.TransactionModel{}).
			Where("id = ? AND status = ?", transaction.ID, fromStatus).
			Updates(map[string]any{
				"status":     transaction.Status,
				"updated_at": transaction.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// A concurrent run already transitioned this entry; leave the
			// wallet untouched and roll the unit back.
			return nil
		}

		if !delta.IsZero() {
			balance, err := lockWalletBalance(tx, transaction.AccountID)
			if err != nil {
				return err
			}
			newBalance := balance.Add(delta)
			if delta.IsNegative() && newBalance.IsNegative() {
				// The balance moved under the caller's read; nothing is
				// written and the entry keeps fromStatus.
				return shared.ErrInsufficientBalance
			}
			if err := upsertWalletBalance(tx, transaction.AccountID, newBalance, transaction.UpdatedAt); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// AdjustBalance applies a signed delta under the wallet row lock and returns
// the resulting wallet. The balance may go negative.
func (s *GormSettlementStore) AdjustBalance(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal, now time.Time) (*billing.Wallet, error) {
	var wallet *billing.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := lockWalletBalance(tx, accountID)
		if err != nil {
			return err
		}
		newBalance := balance.Add(delta)
		if err := upsertWalletBalance(tx, accountID, newBalance, now); err != nil {
			return err
		}
		wallet = &billing.Wallet{AccountID: accountID, Balance: newBalance, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// lockWalletBalance reads the wallet row FOR UPDATE. A missing row counts as
// a zero balance; the insert path is serialized by the upsert's unique-key
// conflict instead.
func lockWalletBalance(tx *gorm.DB, accountID uuid.UUID) (decimal.Decimal, error) {
	var row models.WalletModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Balance, nil
}

func upsertWalletBalance(tx *gorm.DB, accountID uuid.UUID, balance decimal.Decimal, now time.Time) error {
	model := &models.WalletModel{AccountID: accountID, Balance: balance, UpdatedAt: now}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(model).Error
}
