package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// Mocks
// =============================================================================

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Save(ctx context.Context, subscription *billing.Subscription) error {
	args := m.Called(ctx, subscription)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindByServerID(ctx context.Context, serverID uuid.UUID) (*billing.Subscription, error) {
	args := m.Called(ctx, serverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*billing.Subscription, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindPaymentDue(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindExpireDue(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, transaction *billing.Transaction) error {
	args := m.Called(ctx, transaction)
	return args.Error(0)
}

func (m *MockTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindOpenByReference(ctx context.Context, reference string) (*billing.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindByReferences(ctx context.Context, references []string, statuses []billing.TransactionStatus) ([]*billing.Transaction, error) {
	args := m.Called(ctx, references, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID, filter billing.TransactionFilter) ([]*billing.Transaction, int64, error) {
	args := m.Called(ctx, accountID, filter)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*billing.Transaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockTransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to billing.TransactionStatus, now time.Time) (bool, error) {
	args := m.Called(ctx, id, from, to, now)
	return args.Bool(0), args.Error(1)
}

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*billing.Wallet, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Wallet), args.Error(1)
}

func (m *MockWalletRepository) Save(ctx context.Context, wallet *billing.Wallet) error {
	args := m.Called(ctx, wallet)
	return args.Error(0)
}

type MockSettlementStore struct {
	mock.Mock
}

func (m *MockSettlementStore) ApplySettlement(ctx context.Context, delta decimal.Decimal, transaction *billing.Transaction, fromStatus billing.TransactionStatus) (bool, error) {
	args := m.Called(ctx, delta, transaction, fromStatus)
	return args.Bool(0), args.Error(1)
}

func (m *MockSettlementStore) AdjustBalance(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal, now time.Time) (*billing.Wallet, error) {
	args := m.Called(ctx, accountID, delta, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Wallet), args.Error(1)
}

type MockServerLifecycle struct {
	mock.Mock
}

func (m *MockServerLifecycle) DeleteServer(ctx context.Context, serverID uuid.UUID) error {
	args := m.Called(ctx, serverID)
	return args.Error(0)
}

// =============================================================================
// Fixture
// =============================================================================

type lifecycleFixture struct {
	subscriptions *MockSubscriptionRepository
	transactions  *MockTransactionRepository
	wallets       *MockWalletRepository
	store         *MockSettlementStore
	compute       *MockServerLifecycle
	service       *LifecycleService
	now           time.Time
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		subscriptions: new(MockSubscriptionRepository),
		transactions:  new(MockTransactionRepository),
		wallets:       new(MockWalletRepository),
		store:         new(MockSettlementStore),
		compute:       new(MockServerLifecycle),
		now:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewLifecycleService(
		f.subscriptions, f.transactions, f.wallets, f.store, f.compute,
		Intervals{Payment: 24 * time.Hour, Expire: 7 * 24 * time.Hour},
		zap.NewNop(),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *lifecycleFixture) newSubscription(t *testing.T, amount int64) *billing.Subscription {
	t.Helper()
	sub, err := billing.NewSubscription(uuid.New(), uuid.New(), decimal.NewFromInt(amount),
		f.now.Add(-48*time.Hour), 24*time.Hour, 7*24*time.Hour)
	require.NoError(t, err)
	return sub
}

func (f *lifecycleFixture) openEntry(t *testing.T, sub *billing.Subscription, status billing.TransactionStatus) *billing.Transaction {
	t.Helper()
	tx, err := billing.NewSubscriptionPayment(sub.AccountID, sub.ID, sub.Amount)
	require.NoError(t, err)
	tx.Status = status
	return tx
}

// =============================================================================
// Create
// =============================================================================

func TestLifecycleCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-positive rate", func(t *testing.T) {
		f := newLifecycleFixture(t)
		_, _, err := f.service.Create(ctx, uuid.New(), uuid.New(), decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidPlan)

		_, _, err = f.service.Create(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("creates subscription and scheduled entry", func(t *testing.T) {
		f := newLifecycleFixture(t)
		accountID := uuid.New()
		serverID := uuid.New()

		f.subscriptions.On("Save", mock.Anything, mock.AnythingOfType("*billing.Subscription")).Return(nil).Once()
		f.transactions.On("Create", mock.Anything, mock.AnythingOfType("*billing.Transaction")).Return(nil).Once()

		sub, tx, err := f.service.Create(ctx, accountID, serverID, decimal.NewFromFloat(0.5))
		require.NoError(t, err)

		// 0.5/hour over a 24h cycle
		assert.True(t, sub.Amount.Equal(decimal.NewFromInt(12)), "amount %s", sub.Amount)
		assert.Equal(t, f.now.Add(24*time.Hour), sub.NextPaymentDate)
		assert.Equal(t, f.now.Add(24*time.Hour).Add(7*24*time.Hour), sub.NextExpireDate)

		assert.Equal(t, billing.TransactionStatusScheduled, tx.Status)
		assert.Equal(t, billing.SubscriptionReference(sub.ID), tx.ReferenceID)
		assert.True(t, tx.Amount.Equal(sub.Amount))

		f.subscriptions.AssertExpectations(t)
		f.transactions.AssertExpectations(t)
	})
}

// =============================================================================
// Settle
// =============================================================================

func TestSettleSufficientBalance(t *testing.T) {
	// Wallet 20, cycle 15: entry becomes PAID, balance 5, next cycle opens.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(20), f.now))

	priorPayment := sub.NextPaymentDate

	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	f.store.On("ApplySettlement", mock.Anything, tx.Amount.Neg(), tx, billing.TransactionStatusScheduled).Return(true, nil).Once()
	// Advance follow-up.
	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.transactions.On("FindOpenByReference", mock.Anything, sub.Reference()).Return(nil, shared.ErrNotFound).Once()
	f.subscriptions.On("Save", mock.Anything, sub).Return(nil).Once()

	var next *billing.Transaction
	f.transactions.On("Create", mock.Anything, mock.AnythingOfType("*billing.Transaction")).
		Run(func(args mock.Arguments) { next = args.Get(1).(*billing.Transaction) }).
		Return(nil).Once()

	require.NoError(t, f.service.Settle(ctx, tx))

	assert.Equal(t, billing.TransactionStatusPaid, tx.Status)

	// Dates shifted by exactly one interval, gap preserved.
	assert.Equal(t, priorPayment.Add(24*time.Hour), sub.NextPaymentDate)
	assert.Equal(t, 7*24*time.Hour, sub.NextExpireDate.Sub(sub.NextPaymentDate))

	// The next cycle's entry references the same subscription with the same amount.
	require.NotNil(t, next)
	assert.Equal(t, billing.TransactionStatusScheduled, next.Status)
	assert.Equal(t, sub.Reference(), next.ReferenceID)
	assert.True(t, next.Amount.Equal(tx.Amount))

	f.store.AssertExpectations(t)
	f.subscriptions.AssertExpectations(t)
	f.transactions.AssertExpectations(t)
}

func TestSettleInsufficientBalance(t *testing.T) {
	// Wallet 10, cycle 15: entry flips to OVERDUE, balance untouched.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(10), f.now))

	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	// Status-only transition: no wallet is written.
	f.store.On("ApplySettlement", mock.Anything, decimal.Zero, tx, billing.TransactionStatusScheduled).Return(true, nil).Once()

	require.NoError(t, f.service.Settle(ctx, tx))

	assert.Equal(t, billing.TransactionStatusOverdue, tx.Status)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(10)))

	f.store.AssertExpectations(t)
	f.subscriptions.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestSettleRepeatedMiss(t *testing.T) {
	// An already-OVERDUE entry with an uncovered amount is a silent no-op.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

	wallet := billing.NewWallet(sub.AccountID)

	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()

	require.NoError(t, f.service.Settle(ctx, tx))

	assert.Equal(t, billing.TransactionStatusOverdue, tx.Status)
	f.store.AssertNotCalled(t, "ApplySettlement", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleOverdueRecovery(t *testing.T) {
	// A topped-up wallet settles an OVERDUE entry to PAID.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(50), f.now))

	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	f.store.On("ApplySettlement", mock.Anything, tx.Amount.Neg(), tx, billing.TransactionStatusOverdue).Return(true, nil).Once()
	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.transactions.On("FindOpenByReference", mock.Anything, sub.Reference()).Return(nil, shared.ErrNotFound).Once()
	f.subscriptions.On("Save", mock.Anything, sub).Return(nil).Once()
	f.transactions.On("Create", mock.Anything, mock.AnythingOfType("*billing.Transaction")).Return(nil).Once()

	require.NoError(t, f.service.Settle(ctx, tx))

	assert.Equal(t, billing.TransactionStatusPaid, tx.Status)
}

func TestSettleLedgerWriteFailure(t *testing.T) {
	// A failed commit leaves the pre-settle status for the next tick.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(20), f.now))

	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	f.store.On("ApplySettlement", mock.Anything, tx.Amount.Neg(), tx, billing.TransactionStatusScheduled).
		Return(false, errors.New("connection reset")).Once()

	err := f.service.Settle(ctx, tx)
	assert.ErrorIs(t, err, ErrLedgerWrite)
	assert.Equal(t, billing.TransactionStatusScheduled, tx.Status)
	f.subscriptions.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestSettleConcurrentCollapse(t *testing.T) {
	// The CAS loser is a no-op: no advance, no error.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(20), f.now))

	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	f.store.On("ApplySettlement", mock.Anything, tx.Amount.Neg(), tx, billing.TransactionStatusScheduled).Return(false, nil).Once()

	require.NoError(t, f.service.Settle(ctx, tx))
	assert.Equal(t, billing.TransactionStatusScheduled, tx.Status)
	f.subscriptions.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestSettleTerminalEntryRejected(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusPaid)

	err := f.service.Settle(ctx, tx)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSettleTopUp(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	accountID := uuid.New()

	tx, err := billing.NewTopUp(accountID, "topup_ref", decimal.NewFromFloat(25.5))
	require.NoError(t, err)

	t.Run("credits the full amount without a wallet read", func(t *testing.T) {
		f.store.On("ApplySettlement", mock.Anything, tx.Amount, tx, billing.TransactionStatusPending).
			Return(true, nil).Once()

		require.NoError(t, f.service.Settle(ctx, tx))

		assert.Equal(t, billing.TransactionStatusSuccess, tx.Status)
		f.store.AssertExpectations(t)
		f.wallets.AssertNotCalled(t, "FindByAccountID", mock.Anything, mock.Anything)
	})
}

// =============================================================================
// Advance
// =============================================================================

func TestAdvanceIdempotent(t *testing.T) {
	// Advancing twice on the same PAID entry produces exactly one new
	// SCHEDULED entry and moves the payment date by exactly one interval.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	paid := f.openEntry(t, sub, billing.TransactionStatusPaid)

	originalPayment := sub.NextPaymentDate

	var created *billing.Transaction
	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Twice()
	f.transactions.On("FindOpenByReference", mock.Anything, sub.Reference()).Return(nil, shared.ErrNotFound).Once()
	f.subscriptions.On("Save", mock.Anything, sub).Return(nil).Once()
	f.transactions.On("Create", mock.Anything, mock.AnythingOfType("*billing.Transaction")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*billing.Transaction) }).
		Return(nil).Once()

	require.NoError(t, f.service.Advance(ctx, paid))

	// Second call sees the open entry and skips.
	f.transactions.On("FindOpenByReference", mock.Anything, sub.Reference()).Return(created, nil).Once()
	require.NoError(t, f.service.Advance(ctx, paid))

	assert.Equal(t, originalPayment.Add(24*time.Hour), sub.NextPaymentDate,
		"date must move by exactly one interval, not two")
	f.subscriptions.AssertNumberOfCalls(t, "Save", 1)
	f.transactions.AssertNumberOfCalls(t, "Create", 1)
}

func TestAdvanceMissingSubscriptionIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	paid := f.openEntry(t, sub, billing.TransactionStatusPaid)

	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(nil, shared.ErrNotFound).Once()

	require.NoError(t, f.service.Advance(ctx, paid))
	f.transactions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// =============================================================================
// Expire
// =============================================================================

func TestExpire(t *testing.T) {
	ctx := context.Background()

	t.Run("marks expired, tears down once, removes subscription", func(t *testing.T) {
		f := newLifecycleFixture(t)
		sub := f.newSubscription(t, 15)
		sub.NextExpireDate = f.now.Add(-time.Hour)
		tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

		f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		f.transactions.On("UpdateStatus", mock.Anything, tx.ID,
			billing.TransactionStatusOverdue, billing.TransactionStatusExpired, f.now).Return(true, nil).Once()
		f.compute.On("DeleteServer", mock.Anything, sub.ServerID).Return(nil).Once()
		f.subscriptions.On("Delete", mock.Anything, sub.ID).Return(nil).Once()

		require.NoError(t, f.service.Expire(ctx, tx))

		assert.Equal(t, billing.TransactionStatusExpired, tx.Status)
		f.compute.AssertNumberOfCalls(t, "DeleteServer", 1)
		f.subscriptions.AssertExpectations(t)
	})

	t.Run("not yet past grace period", func(t *testing.T) {
		f := newLifecycleFixture(t)
		sub := f.newSubscription(t, 15)
		sub.NextExpireDate = f.now.Add(time.Hour)
		tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

		f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()

		err := f.service.Expire(ctx, tx)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
		f.compute.AssertNotCalled(t, "DeleteServer", mock.Anything, mock.Anything)
	})

	t.Run("teardown failure keeps subscription for retry", func(t *testing.T) {
		f := newLifecycleFixture(t)
		sub := f.newSubscription(t, 15)
		sub.NextExpireDate = f.now.Add(-time.Hour)
		tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

		f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		f.transactions.On("UpdateStatus", mock.Anything, tx.ID,
			billing.TransactionStatusOverdue, billing.TransactionStatusExpired, f.now).Return(true, nil).Once()
		f.compute.On("DeleteServer", mock.Anything, sub.ServerID).Return(errors.New("agent unreachable")).Once()

		err := f.service.Expire(ctx, tx)
		assert.ErrorIs(t, err, ErrServerTeardown)
		// EXPIRED stands, the row survives for the next tick.
		assert.Equal(t, billing.TransactionStatusExpired, tx.Status)
		f.subscriptions.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)

		// Retry tick: entry arrives already EXPIRED, only teardown runs.
		f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		f.compute.On("DeleteServer", mock.Anything, sub.ServerID).Return(nil).Once()
		f.subscriptions.On("Delete", mock.Anything, sub.ID).Return(nil).Once()

		require.NoError(t, f.service.Expire(ctx, tx))
		f.transactions.AssertNumberOfCalls(t, "UpdateStatus", 1)
	})

	t.Run("subscription already gone is success", func(t *testing.T) {
		f := newLifecycleFixture(t)
		sub := f.newSubscription(t, 15)
		tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

		f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(nil, shared.ErrNotFound).Once()

		require.NoError(t, f.service.Expire(ctx, tx))
		f.compute.AssertNotCalled(t, "DeleteServer", mock.Anything, mock.Anything)
	})

	t.Run("lost race to a concurrent payment skips teardown", func(t *testing.T) {
		f := newLifecycleFixture(t)
		sub := f.newSubscription(t, 15)
		sub.NextExpireDate = f.now.Add(-time.Hour)
		tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

		paid := f.openEntry(t, sub, billing.TransactionStatusPaid)
		paid.BaseEntity = tx.BaseEntity

		f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		f.transactions.On("UpdateStatus", mock.Anything, tx.ID,
			billing.TransactionStatusOverdue, billing.TransactionStatusExpired, f.now).Return(false, nil).Once()
		f.transactions.On("FindByID", mock.Anything, tx.ID).Return(paid, nil).Once()

		require.NoError(t, f.service.Expire(ctx, tx))
		f.compute.AssertNotCalled(t, "DeleteServer", mock.Anything, mock.Anything)
	})
}

// =============================================================================
// Listing
// =============================================================================

func TestListOverdue(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	f.subscriptions.On("FindPaymentDue", mock.Anything, f.now).
		Return([]*billing.Subscription{sub}, nil).Once()
	f.transactions.On("FindByReferences", mock.Anything, []string{sub.Reference()},
		[]billing.TransactionStatus{billing.TransactionStatusScheduled, billing.TransactionStatusOverdue}).
		Return([]*billing.Transaction{tx}, nil).Once()

	result, err := f.service.ListOverdue(ctx, f.now)
	require.NoError(t, err)
	assert.Len(t, result, 1)
}

func TestListOverdueEmpty(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	f.subscriptions.On("FindPaymentDue", mock.Anything, f.now).
		Return([]*billing.Subscription{}, nil).Once()

	result, err := f.service.ListOverdue(ctx, f.now)
	require.NoError(t, err)
	assert.Empty(t, result)
	f.transactions.AssertNotCalled(t, "FindByReferences", mock.Anything, mock.Anything, mock.Anything)
}

func TestListExpiredSelectsOverdueAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)

	f.subscriptions.On("FindExpireDue", mock.Anything, f.now).
		Return([]*billing.Subscription{sub}, nil).Once()
	f.transactions.On("FindByReferences", mock.Anything, []string{sub.Reference()},
		[]billing.TransactionStatus{billing.TransactionStatusOverdue, billing.TransactionStatusExpired}).
		Return([]*billing.Transaction{}, nil).Once()

	_, err := f.service.ListExpired(ctx, f.now)
	require.NoError(t, err)
	f.transactions.AssertExpectations(t)
}

// =============================================================================
// Batch isolation
// =============================================================================

func TestProcessOverdueBatchIsolation(t *testing.T) {
	// Settling the 2nd of 3 entries fails; the 1st and 3rd still complete.
	ctx := context.Background()
	f := newLifecycleFixture(t)

	subs := []*billing.Subscription{
		f.newSubscription(t, 10),
		f.newSubscription(t, 10),
		f.newSubscription(t, 10),
	}
	var txs []*billing.Transaction
	for _, sub := range subs {
		tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)
		txs = append(txs, tx)

		wallet := billing.NewWallet(sub.AccountID)
		require.NoError(t, wallet.Credit(decimal.NewFromInt(100), f.now))
		f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	}

	// 1st and 3rd commit; the 2nd hits a store failure.
	f.store.On("ApplySettlement", mock.Anything, mock.Anything, txs[0], billing.TransactionStatusScheduled).Return(true, nil).Once()
	f.store.On("ApplySettlement", mock.Anything, mock.Anything, txs[1], billing.TransactionStatusScheduled).
		Return(false, errors.New("disk full")).Once()
	f.store.On("ApplySettlement", mock.Anything, mock.Anything, txs[2], billing.TransactionStatusScheduled).Return(true, nil).Once()

	for _, i := range []int{0, 2} {
		sub := subs[i]
		f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		f.transactions.On("FindOpenByReference", mock.Anything, sub.Reference()).Return(nil, shared.ErrNotFound).Once()
		f.subscriptions.On("Save", mock.Anything, sub).Return(nil).Once()
		f.transactions.On("Create", mock.Anything, mock.AnythingOfType("*billing.Transaction")).Return(nil).Once()
	}

	err := f.service.ProcessOverdueBatch(ctx, txs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerWrite)
	assert.Contains(t, err.Error(), txs[1].ID.String())

	assert.Equal(t, billing.TransactionStatusPaid, txs[0].Status)
	assert.Equal(t, billing.TransactionStatusScheduled, txs[1].Status)
	assert.Equal(t, billing.TransactionStatusPaid, txs[2].Status)
	f.store.AssertExpectations(t)
}

// =============================================================================
// Force-run helpers
// =============================================================================

func TestRunOverdueForSubscription(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(100), f.now))

	f.transactions.On("FindOpenByReference", mock.Anything, sub.Reference()).Return(tx, nil).Once()
	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	f.store.On("ApplySettlement", mock.Anything, tx.Amount.Neg(), tx, billing.TransactionStatusScheduled).Return(true, nil).Once()
	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.transactions.On("FindOpenByReference", mock.Anything, sub.Reference()).Return(nil, shared.ErrNotFound).Once()
	f.subscriptions.On("Save", mock.Anything, sub).Return(nil).Once()
	f.transactions.On("Create", mock.Anything, mock.AnythingOfType("*billing.Transaction")).Return(nil).Once()

	require.NoError(t, f.service.RunOverdueForSubscription(ctx, sub.ID))
	assert.Equal(t, billing.TransactionStatusPaid, tx.Status)
}

// =============================================================================
// Concurrency
// =============================================================================

// ledgerFake applies settlement deltas against one shared balance under a
// mutex, mirroring the row lock of the SQL store. When enter is set, every
// caller waits on it before applying, so a test can force all participants
// past their reads before any write lands.
type ledgerFake struct {
	enter *sync.WaitGroup

	mu       sync.Mutex
	balance  decimal.Decimal
	statuses map[uuid.UUID]billing.TransactionStatus
}

func (l *ledgerFake) ApplySettlement(_ context.Context, delta decimal.Decimal, tx *billing.Transaction, fromStatus billing.TransactionStatus) (bool, error) {
	if l.enter != nil {
		l.enter.Done()
		l.enter.Wait()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statuses[tx.ID] != fromStatus {
		return false, nil
	}
	next := l.balance.Add(delta)
	if delta.IsNegative() && next.IsNegative() {
		return false, shared.ErrInsufficientBalance
	}
	l.balance = next
	l.statuses[tx.ID] = tx.Status
	return true, nil
}

func (l *ledgerFake) AdjustBalance(_ context.Context, accountID uuid.UUID, delta decimal.Decimal, now time.Time) (*billing.Wallet, error) {
	if l.enter != nil {
		l.enter.Done()
		l.enter.Wait()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(delta)
	return &billing.Wallet{AccountID: accountID, Balance: l.balance, UpdatedAt: now}, nil
}

func TestSettleConcurrentMutationsBothApply(t *testing.T) {
	// A top-up confirm racing a payment settle on the same account: both
	// deltas must land on the balance, whatever the interleaving. 100 plus
	// 50 minus 30 is 120; losing either write would leave 70 or 150.
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 30)
	payment := f.openEntry(t, sub, billing.TransactionStatusScheduled)
	topUp, err := billing.NewTopUp(sub.AccountID, "topup_"+uuid.NewString(), decimal.NewFromInt(50))
	require.NoError(t, err)

	var enter sync.WaitGroup
	enter.Add(2)
	ledger := &ledgerFake{
		enter:   &enter,
		balance: decimal.NewFromInt(100),
		statuses: map[uuid.UUID]billing.TransactionStatus{
			payment.ID: billing.TransactionStatusScheduled,
			topUp.ID:   billing.TransactionStatusPending,
		},
	}
	service := NewLifecycleService(f.subscriptions, f.transactions, f.wallets, ledger, f.compute,
		Intervals{Payment: 24 * time.Hour, Expire: 7 * 24 * time.Hour},
		zap.NewNop(), WithClock(func() time.Time { return f.now }))

	// The payment's advisory read sees the balance before the top-up lands.
	stale := billing.NewWallet(sub.AccountID)
	require.NoError(t, stale.Credit(decimal.NewFromInt(100), f.now))
	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(stale, nil).Once()
	// Advance after the paid entry: subscription already gone.
	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(nil, shared.ErrNotFound).Once()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, service.Settle(context.Background(), payment))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, service.Settle(context.Background(), topUp))
	}()
	wg.Wait()

	assert.True(t, decimal.NewFromInt(120).Equal(ledger.balance), "balance %s", ledger.balance)
	assert.Equal(t, billing.TransactionStatusPaid, payment.Status)
	assert.Equal(t, billing.TransactionStatusSuccess, topUp.Status)
}

func TestSettleDeferredWhenBalanceMoved(t *testing.T) {
	// The advisory read said covered but the locked balance no longer does:
	// nothing is written, the entry keeps SCHEDULED and the next tick
	// re-evaluates against the committed balance.
	ctx := context.Background()
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(20), f.now))

	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()
	f.store.On("ApplySettlement", mock.Anything, tx.Amount.Neg(), tx, billing.TransactionStatusScheduled).
		Return(false, shared.ErrInsufficientBalance).Once()

	require.NoError(t, f.service.Settle(ctx, tx))

	assert.Equal(t, billing.TransactionStatusScheduled, tx.Status)
	f.subscriptions.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

// =============================================================================
// Batch shutdown isolation
// =============================================================================

func TestProcessOverdueBatchSurvivesCancel(t *testing.T) {
	// Cancelation mid-batch must not reach the store: the item's atomic
	// unit runs on a detached context and commits.
	ctx, cancel := context.WithCancel(context.Background())
	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	tx := f.openEntry(t, sub, billing.TransactionStatusScheduled)

	wallet := billing.NewWallet(sub.AccountID)
	require.NoError(t, wallet.Credit(decimal.NewFromInt(100), f.now))
	f.wallets.On("FindByAccountID", mock.Anything, sub.AccountID).Return(wallet, nil).Once()

	var storeCtxErr error
	f.store.On("ApplySettlement", mock.Anything, tx.Amount.Neg(), tx, billing.TransactionStatusScheduled).
		Run(func(args mock.Arguments) {
			cancel()
			storeCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(true, nil).Once()
	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(nil, shared.ErrNotFound).Once()

	require.NoError(t, f.service.ProcessOverdueBatch(ctx, []*billing.Transaction{tx}))

	assert.NoError(t, storeCtxErr, "store call must not see the caller's cancelation")
	assert.Equal(t, billing.TransactionStatusPaid, tx.Status)
}

func TestProcessExpiredBatchSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newLifecycleFixture(t)
	sub := f.newSubscription(t, 15)
	sub.NextExpireDate = f.now.Add(-time.Hour)
	tx := f.openEntry(t, sub, billing.TransactionStatusOverdue)

	f.subscriptions.On("FindByID", mock.Anything, sub.ID).Return(sub, nil).Once()

	var updateCtxErr error
	f.transactions.On("UpdateStatus", mock.Anything, tx.ID,
		billing.TransactionStatusOverdue, billing.TransactionStatusExpired, f.now).
		Run(func(args mock.Arguments) {
			updateCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(true, nil).Once()
	f.compute.On("DeleteServer", mock.Anything, sub.ServerID).Return(nil).Once()
	f.subscriptions.On("Delete", mock.Anything, sub.ID).Return(nil).Once()

	require.NoError(t, f.service.ProcessExpiredBatch(ctx, []*billing.Transaction{tx}))

	assert.NoError(t, updateCtxErr, "status swap must not see the caller's cancelation")
	assert.Equal(t, billing.TransactionStatusExpired, tx.Status)
}
