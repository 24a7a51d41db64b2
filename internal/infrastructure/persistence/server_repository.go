package persistence

import (
	"context"
	"errors"

	"github.com/orbitpanel/backend/internal/domain/servers"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormServerRepository implements servers.ServerRepository using GORM
type GormServerRepository struct {
	db *gorm.DB
}

// NewGormServerRepository creates a new GormServerRepository
func NewGormServerRepository(db *gorm.DB) *GormServerRepository {
	return &GormServerRepository{db: db}
}

// Save upserts a server record
func (r *GormServerRepository) Save(ctx context.Context, server *servers.Server) error {
	model := models.ServerModelFromDomain(server)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// FindByID finds a server by ID
func (r *GormServerRepository) FindByID(ctx context.Context, id uuid.UUID) (*servers.Server, error) {
	var model models.ServerModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByAccountID finds all servers owned by an account
func (r *GormServerRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*servers.Server, error) {
	var serverModels []models.ServerModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&serverModels).Error; err != nil {
		return nil, err
	}
	result := make([]*servers.Server, len(serverModels))
	for i, model := range serverModels {
		result[i] = model.ToDomain()
	}
	return result, nil
}

// Delete removes a server record
func (r *GormServerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ServerModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
