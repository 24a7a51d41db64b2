package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"ORBIT_APP_NAME":                     os.Getenv("ORBIT_APP_NAME"),
		"ORBIT_APP_ENV":                      os.Getenv("ORBIT_APP_ENV"),
		"ORBIT_APP_PORT":                     os.Getenv("ORBIT_APP_PORT"),
		"ORBIT_DATABASE_HOST":                os.Getenv("ORBIT_DATABASE_HOST"),
		"ORBIT_DATABASE_PORT":                os.Getenv("ORBIT_DATABASE_PORT"),
		"ORBIT_DATABASE_PASSWORD":            os.Getenv("ORBIT_DATABASE_PASSWORD"),
		"ORBIT_DATABASE_SSLMODE":             os.Getenv("ORBIT_DATABASE_SSLMODE"),
		"ORBIT_BILLING_PAYMENT_INTERVAL":     os.Getenv("ORBIT_BILLING_PAYMENT_INTERVAL"),
		"ORBIT_BILLING_MAX_CHECK_INSTANCES":  os.Getenv("ORBIT_BILLING_MAX_CHECK_INSTANCES"),
		"ORBIT_JWT_SECRET":                   os.Getenv("ORBIT_JWT_SECRET"),
		"ORBIT_HTTP_CORS_ALLOW_ORIGINS":      os.Getenv("ORBIT_HTTP_CORS_ALLOW_ORIGINS"),
		"ORBIT_TELEMETRY_SAMPLING_RATIO":     os.Getenv("ORBIT_TELEMETRY_SAMPLING_RATIO"),
		"ORBIT_COMPUTE_BASE_URL":             os.Getenv("ORBIT_COMPUTE_BASE_URL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "orbit-panel", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "orbit", cfg.Database.DBName)
		assert.Equal(t, 720*time.Hour, cfg.Billing.PaymentInterval)
		assert.Equal(t, 168*time.Hour, cfg.Billing.ExpireInterval)
		assert.Equal(t, time.Minute, cfg.Billing.OverdueCheckInterval)
		assert.Equal(t, 2, cfg.Billing.MaxCheckInstances)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenExpiration)
	})

	t.Run("loads values from environment variables with ORBIT prefix", func(t *testing.T) {
		clearEnv()
		os.Setenv("ORBIT_APP_NAME", "test-panel")
		os.Setenv("ORBIT_DATABASE_HOST", "testdb.local")
		os.Setenv("ORBIT_DATABASE_PORT", "5433")
		os.Setenv("ORBIT_BILLING_PAYMENT_INTERVAL", "24h")
		os.Setenv("ORBIT_BILLING_MAX_CHECK_INSTANCES", "4")
		os.Setenv("ORBIT_COMPUTE_BASE_URL", "http://agent:9000")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-panel", cfg.App.Name)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, 24*time.Hour, cfg.Billing.PaymentInterval)
		assert.Equal(t, 4, cfg.Billing.MaxCheckInstances)
		assert.Equal(t, "http://agent:9000", cfg.Compute.BaseURL)
	})

	t.Run("production requires jwt secret and db password", func(t *testing.T) {
		clearEnv()
		os.Setenv("ORBIT_APP_ENV", "production")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.secret")
	})

	t.Run("production rejects wildcard cors", func(t *testing.T) {
		clearEnv()
		os.Setenv("ORBIT_APP_ENV", "production")
		os.Setenv("ORBIT_JWT_SECRET", "0123456789abcdef0123456789abcdef")
		os.Setenv("ORBIT_DATABASE_PASSWORD", "secret")
		os.Setenv("ORBIT_DATABASE_SSLMODE", "require")
		os.Setenv("ORBIT_HTTP_CORS_ALLOW_ORIGINS", "*")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cors_allow_origins")
	})

	t.Run("rejects out-of-range sampling ratio", func(t *testing.T) {
		clearEnv()
		os.Setenv("ORBIT_TELEMETRY_SAMPLING_RATIO", "1.5")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sampling_ratio")
	})
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "orbit",
		Password: "p@ss/word",
		DBName:   "orbit",
		SSLMode:  "require",
	}
	dsn := d.DSN()
	assert.Contains(t, dsn, "postgres://")
	assert.Contains(t, dsn, "db.internal:5432")
	assert.Contains(t, dsn, "sslmode=require")
	// Special characters must be escaped
	assert.NotContains(t, dsn, "p@ss/word")
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}
