package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// openStatuses are the non-terminal ledger statuses
var openStatuses = []billing.TransactionStatus{
	billing.TransactionStatusPending,
	billing.TransactionStatusScheduled,
	billing.TransactionStatusOverdue,
}

// GormTransactionRepository implements billing.TransactionRepository using GORM
type GormTransactionRepository struct {
	db *gorm.DB
}

// NewGormTransactionRepository creates a new GormTransactionRepository
func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

// Create inserts a new ledger entry
func (r *GormTransactionRepository) Create(ctx context.Context, transaction *billing.Transaction) error {
	model := models.TransactionModelFromDomain(transaction)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindByID finds a ledger entry by ID
func (r *GormTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Transaction, error) {
	var model models.TransactionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpenByReference returns the single non-terminal entry for a reference
// key, or shared.ErrNotFound when none exists.
func (r *GormTransactionRepository) FindOpenByReference(ctx context.Context, reference string) (*billing.Transaction, error) {
	var model models.TransactionModel
	if err := r.db.WithContext(ctx).
		Where("reference_id = ? AND status IN ?", reference, openStatuses).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByReferences returns entries for the given reference keys filtered to
// the given statuses.
func (r *GormTransactionRepository) FindByReferences(ctx context.Context, references []string, statuses []billing.TransactionStatus) ([]*billing.Transaction, error) {
	if len(references) == 0 {
		return nil, nil
	}
	var transactionModels []models.TransactionModel
	query := r.db.WithContext(ctx).Where("reference_id IN ?", references)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Order("created_at ASC").Find(&transactionModels).Error; err != nil {
		return nil, err
	}
	return toDomainTransactions(transactionModels), nil
}

// FindByAccountID lists an account's ledger entries with filtering and pagination
func (r *GormTransactionRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID, filter billing.TransactionFilter) ([]*billing.Transaction, int64, error) {
	var transactionModels []models.TransactionModel
	var total int64

	base := r.db.WithContext(ctx).Model(&models.TransactionModel{}).
		Where("account_id = ?", accountID)
	if filter.Type != nil {
		base = base.Where("type = ?", *filter.Type)
	}
	if filter.Status != nil {
		base = base.Where("status = ?", *filter.Status)
	}

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := base.Order("created_at DESC")
	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}
	if err := query.Find(&transactionModels).Error; err != nil {
		return nil, 0, err
	}

	return toDomainTransactions(transactionModels), total, nil
}

// UpdateStatus performs a compare-and-swap status transition. It returns
// false without error when the entry was no longer in the expected status.
func (r *GormTransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to billing.TransactionStatus, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.TransactionModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func toDomainTransactions(transactionModels []models.TransactionModel) []*billing.Transaction {
	transactions := make([]*billing.Transaction, len(transactionModels))
	for i, model := range transactionModels {
		transactions[i] = model.ToDomain()
	}
	return transactions
}
