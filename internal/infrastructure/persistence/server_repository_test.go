package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/orbitpanel/backend/internal/domain/servers"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupServersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ServerModel{}))
	return db
}

func TestGormServerRepository(t *testing.T) {
	db := setupServersTestDB(t)
	repo := NewGormServerRepository(db)
	ctx := context.Background()

	accountID := uuid.New()
	server, err := servers.NewServer(accountID, "web-1", "small", decimal.NewFromFloat(0.02))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, server))

	t.Run("finds by id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, "web-1", found.Name)
		assert.Equal(t, servers.ServerStatusProvisioning, found.Status)
	})

	t.Run("lists by account", func(t *testing.T) {
		other, err := servers.NewServer(accountID, "web-2", "small", decimal.NewFromFloat(0.02))
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, other))

		found, err := repo.FindByAccountID(ctx, accountID)
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("status update persists", func(t *testing.T) {
		server.MarkRunning(time.Now().UTC())
		require.NoError(t, repo.Save(ctx, server))

		found, err := repo.FindByID(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, servers.ServerStatusRunning, found.Status)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, server.ID))
		_, err := repo.FindByID(ctx, server.ID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
