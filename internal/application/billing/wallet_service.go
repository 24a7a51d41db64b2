package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletService serves balance reads, ledger history and admin adjustments.
// It never debits on its own; subscription debits belong exclusively to the
// LifecycleService settle path.
type WalletService struct {
	wallets      billing.WalletRepository
	transactions billing.TransactionRepository
	store        billing.SettlementStore
	logger       *zap.Logger
}

// NewWalletService creates a new WalletService
func NewWalletService(wallets billing.WalletRepository, transactions billing.TransactionRepository, store billing.SettlementStore, logger *zap.Logger) *WalletService {
	return &WalletService{
		wallets:      wallets,
		transactions: transactions,
		store:        store,
		logger:       logger,
	}
}

// GetWallet returns the wallet for an account, materializing an empty one
// for accounts that were never credited.
func (s *WalletService) GetWallet(ctx context.Context, principal shared.Principal, accountID uuid.UUID) (*billing.Wallet, error) {
	if !principal.CanAccessAccount(accountID) {
		return nil, shared.ErrForbidden
	}
	wallet, err := s.wallets.FindByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return billing.NewWallet(accountID), nil
		}
		return nil, err
	}
	return wallet, nil
}

// ListTransactions returns the account's ledger history
func (s *WalletService) ListTransactions(ctx context.Context, principal shared.Principal, accountID uuid.UUID, filter billing.TransactionFilter) ([]*billing.Transaction, int64, error) {
	if !principal.CanAccessAccount(accountID) {
		return nil, 0, shared.ErrForbidden
	}
	return s.transactions.FindByAccountID(ctx, accountID, filter)
}

// Adjust applies a signed admin balance correction. Unlike settlement this
// may push the balance negative; the delta is still applied against the
// locked wallet row so a concurrent settlement cannot be overwritten.
func (s *WalletService) Adjust(ctx context.Context, principal shared.Principal, accountID uuid.UUID, delta decimal.Decimal) (*billing.Wallet, error) {
	if !principal.Admin && !principal.IsSystem() {
		return nil, shared.ErrForbidden
	}

	wallet, err := s.store.AdjustBalance(ctx, accountID, delta, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to adjust wallet: %w", err)
	}

	s.logger.Info("Wallet adjusted",
		zap.String("account_id", accountID.String()),
		zap.String("delta", delta.String()),
		zap.String("balance", wallet.Balance.String()),
	)
	return wallet, nil
}
