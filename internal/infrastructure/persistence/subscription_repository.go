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
	"gorm.io/gorm/clause"
)

// GormSubscriptionRepository implements billing.SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// Save upserts a subscription
func (r *GormSubscriptionRepository) Save(ctx context.Context, subscription *billing.Subscription) error {
	model := models.SubscriptionModelFromDomain(subscription)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// FindByID finds a subscription by ID
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	var model models.SubscriptionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByServerID finds the subscription bound to a server
func (r *GormSubscriptionRepository) FindByServerID(ctx context.Context, serverID uuid.UUID) (*billing.Subscription, error) {
	var model models.SubscriptionModel
	if err := r.db.WithContext(ctx).Where("server_id = ?", serverID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByAccountID finds all subscriptions of an account
func (r *GormSubscriptionRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*billing.Subscription, error) {
	var subscriptionModels []models.SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&subscriptionModels).Error; err != nil {
		return nil, err
	}
	return toDomainSubscriptions(subscriptionModels), nil
}

// FindPaymentDue returns subscriptions whose next payment date has passed.
// Subscriptions already past their grace period are excluded; those belong
// to the expired scan.
func (r *GormSubscriptionRepository) FindPaymentDue(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	var subscriptionModels []models.SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("next_payment_date < ? AND next_expire_date >= ?", now, now).
		Order("next_payment_date ASC").
		Find(&subscriptionModels).Error; err != nil {
		return nil, err
	}
	return toDomainSubscriptions(subscriptionModels), nil
}

// FindExpireDue returns subscriptions whose grace period has passed
func (r *GormSubscriptionRepository) FindExpireDue(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	var subscriptionModels []models.SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("next_expire_date < ?", now).
		Order("next_expire_date ASC").
		Find(&subscriptionModels).Error; err != nil {
		return nil, err
	}
	return toDomainSubscriptions(subscriptionModels), nil
}

// Delete removes a subscription row
func (r *GormSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SubscriptionModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func toDomainSubscriptions(subscriptionModels []models.SubscriptionModel) []*billing.Subscription {
	subscriptions := make([]*billing.Subscription, len(subscriptionModels))
	for i, model := range subscriptionModels {
		subscriptions[i] = model.ToDomain()
	}
	return subscriptions
}
