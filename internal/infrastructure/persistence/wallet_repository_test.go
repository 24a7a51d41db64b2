package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormWalletRepository(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewGormWalletRepository(db)
	ctx := context.Background()

	accountID := uuid.New()

	t.Run("missing wallet returns not found", func(t *testing.T) {
		_, err := repo.FindByAccountID(ctx, accountID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("save and reload", func(t *testing.T) {
		wallet := billing.NewWallet(accountID)
		require.NoError(t, wallet.Credit(decimal.NewFromFloat(12.34), time.Now().UTC()))
		require.NoError(t, repo.Save(ctx, wallet))

		found, err := repo.FindByAccountID(ctx, accountID)
		require.NoError(t, err)
		assert.True(t, found.Balance.Equal(decimal.NewFromFloat(12.34)))
	})

	t.Run("save again overwrites the balance", func(t *testing.T) {
		wallet, err := repo.FindByAccountID(ctx, accountID)
		require.NoError(t, err)
		require.NoError(t, wallet.Debit(decimal.NewFromFloat(2.34), time.Now().UTC()))
		require.NoError(t, repo.Save(ctx, wallet))

		found, err := repo.FindByAccountID(ctx, accountID)
		require.NoError(t, err)
		assert.True(t, found.Balance.Equal(decimal.NewFromInt(10)))
	})
}
