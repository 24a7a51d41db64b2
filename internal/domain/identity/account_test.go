package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	t.Run("creates active user account", func(t *testing.T) {
		account, err := NewAccount("alice", "Alice@Example.com", "s3cret-pass")
		require.NoError(t, err)

		assert.Equal(t, AccountStatusActive, account.Status)
		assert.Equal(t, AccountRoleUser, account.Role)
		assert.Equal(t, "alice@example.com", account.Email)
		assert.NotEqual(t, "s3cret-pass", account.PasswordHash)
	})

	t.Run("rejects short usernames", func(t *testing.T) {
		_, err := NewAccount("ab", "a@example.com", "s3cret-pass")
		assert.Error(t, err)
	})

	t.Run("rejects weak passwords", func(t *testing.T) {
		_, err := NewAccount("alice", "a@example.com", "short")
		assert.Error(t, err)
	})
}

func TestAccountCheckPassword(t *testing.T) {
	account, err := NewAccount("alice", "a@example.com", "s3cret-pass")
	require.NoError(t, err)

	assert.True(t, account.CheckPassword("s3cret-pass"))
	assert.False(t, account.CheckPassword("wrong-pass"))
}

func TestAccountSetPassword(t *testing.T) {
	account, err := NewAccount("alice", "a@example.com", "s3cret-pass")
	require.NoError(t, err)

	require.NoError(t, account.SetPassword("another-pass"))
	assert.True(t, account.CheckPassword("another-pass"))
	assert.False(t, account.CheckPassword("s3cret-pass"))
}
