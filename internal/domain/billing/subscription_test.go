package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPaymentInterval = 30 * 24 * time.Hour
	testExpireInterval  = 7 * 24 * time.Hour
)

func TestNewSubscription(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("sets payment and expire dates from now", func(t *testing.T) {
		sub, err := NewSubscription(uuid.New(), uuid.New(), decimal.NewFromInt(10), now, testPaymentInterval, testExpireInterval)
		require.NoError(t, err)

		assert.Equal(t, now.Add(testPaymentInterval), sub.NextPaymentDate)
		assert.Equal(t, now.Add(testPaymentInterval).Add(testExpireInterval), sub.NextExpireDate)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, err := NewSubscription(uuid.New(), uuid.New(), decimal.Zero, now, testPaymentInterval, testExpireInterval)
		assert.Error(t, err)
	})

	t.Run("rejects non-positive intervals", func(t *testing.T) {
		_, err := NewSubscription(uuid.New(), uuid.New(), decimal.NewFromInt(10), now, 0, testExpireInterval)
		assert.Error(t, err)
	})
}

func TestSubscriptionAdvanceCycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sub, err := NewSubscription(uuid.New(), uuid.New(), decimal.NewFromInt(10), now, testPaymentInterval, testExpireInterval)
	require.NoError(t, err)

	gap := sub.NextExpireDate.Sub(sub.NextPaymentDate)

	// Advance from a "late" wall clock; dates must shift from stored values,
	// not from the clock, so the schedule does not drift.
	late := sub.NextPaymentDate.Add(3 * time.Hour)
	sub.AdvanceCycle(testPaymentInterval, late)

	assert.Equal(t, now.Add(2*testPaymentInterval), sub.NextPaymentDate)
	assert.Equal(t, gap, sub.NextExpireDate.Sub(sub.NextPaymentDate))
	assert.Equal(t, late, sub.UpdatedAt)
}

func TestSubscriptionDueChecks(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sub, err := NewSubscription(uuid.New(), uuid.New(), decimal.NewFromInt(10), now, testPaymentInterval, testExpireInterval)
	require.NoError(t, err)

	assert.False(t, sub.PaymentDue(now))
	assert.True(t, sub.PaymentDue(sub.NextPaymentDate.Add(time.Second)))

	assert.False(t, sub.Expired(sub.NextPaymentDate.Add(time.Second)))
	assert.True(t, sub.Expired(sub.NextExpireDate.Add(time.Second)))
}
