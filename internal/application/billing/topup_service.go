package billing

import (
	"context"
	"fmt"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrDuplicateTopUp rejects a replayed top-up request key
var ErrDuplicateTopUp = shared.NewDomainError("DUPLICATE_TOP_UP", "Top-up request was already processed")

// TopUpService handles wallet credits. Top-ups are treated as already
// settled payments: Initiate records the PENDING ledger entry, Confirm
// credits the wallet through the same atomic settle path the billing engine
// uses.
type TopUpService struct {
	lifecycle    *LifecycleService
	transactions billing.TransactionRepository
	idempotency  shared.IdempotencyStore
	idemConfig   shared.IdempotencyConfig
	logger       *zap.Logger
}

// NewTopUpService creates a new TopUpService
func NewTopUpService(
	lifecycle *LifecycleService,
	transactions billing.TransactionRepository,
	idempotency shared.IdempotencyStore,
	idemConfig shared.IdempotencyConfig,
	logger *zap.Logger,
) *TopUpService {
	return &TopUpService{
		lifecycle:    lifecycle,
		transactions: transactions,
		idempotency:  idempotency,
		idemConfig:   idemConfig,
		logger:       logger,
	}
}

// Initiate records a PENDING top-up ledger entry. The request key guards
// against replays: a key seen within the idempotency TTL is rejected.
func (s *TopUpService) Initiate(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, requestKey string) (*billing.Transaction, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "initiate_topup")
	defer span.End()

	if s.idemConfig.Enabled && requestKey != "" {
		fresh, err := s.idempotency.MarkProcessed(ctx, requestKey, s.idemConfig.TTL)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to check request key: %w", err)
		}
		if !fresh {
			return nil, ErrDuplicateTopUp
		}
	}

	reference := "topup_" + uuid.NewString()
	transaction, err := billing.NewTopUp(accountID, reference, amount)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.transactions.Create(ctx, transaction); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create top-up entry: %w", err)
	}

	s.logger.Info("Top-up initiated",
		zap.String("transaction_id", transaction.ID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("amount", amount.String()),
	)
	return transaction, nil
}

// Confirm settles a PENDING top-up: the wallet is credited and the entry
// becomes SUCCESS in one atomic unit.
func (s *TopUpService) Confirm(ctx context.Context, transactionID uuid.UUID) (*billing.Transaction, error) {
	transaction, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if transaction.Type != billing.TransactionTypeTopUp {
		return nil, shared.ErrInvalidInput
	}
	if err := s.lifecycle.Settle(ctx, transaction); err != nil {
		return nil, err
	}
	return transaction, nil
}

// Fail closes a PENDING top-up as FAILED without touching the wallet
func (s *TopUpService) Fail(ctx context.Context, transactionID uuid.UUID) error {
	transaction, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if transaction.Type != billing.TransactionTypeTopUp {
		return shared.ErrInvalidInput
	}
	applied, err := s.transactions.UpdateStatus(ctx, transaction.ID,
		billing.TransactionStatusPending, billing.TransactionStatusFailed, s.lifecycle.now())
	if err != nil {
		return fmt.Errorf("failed to mark top-up failed: %w", err)
	}
	if !applied {
		return shared.ErrInvalidState
	}
	return nil
}
