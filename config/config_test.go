package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/costledger/config"
)

func noEnvFile(t *testing.T) string {
	return "-env=" + filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEV_AUTH", "true")

	cfg, err := config.Load([]string{noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "VND", cfg.Currency)
	assert.Equal(t, 30, cfg.DueDays)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 30*time.Minute, cfg.PaymentTTL)
	assert.False(t, cfg.Redirect.Enabled())
	assert.False(t, cfg.QR.Enabled())
}

func TestLoad_Precedence(t *testing.T) {
	// GIVEN: A .env file, an overriding environment variable and a flag
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(
		"JWT_SECRET=from-file\nDUE_DAYS=14\nPORT=9000\nCURRENCY=usd\n",
	), 0o600))
	t.Setenv("DUE_DAYS", "21")
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("PORT")
		os.Unsetenv("CURRENCY")
	})

	// WHEN: Loading with -port
	cfg, err := config.Load([]string{"-env=" + envPath, "-port=7000"})
	require.NoError(t, err)

	// THEN: flag > env > file > default
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 21, cfg.DueDays)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "USD", cfg.Currency)
}

func TestLoad_Gateways(t *testing.T) {
	t.Setenv("DEV_AUTH", "1")
	t.Setenv("REDIRECT_BASE_URL", "https://sandbox.example.com/pay")
	t.Setenv("REDIRECT_MERCHANT_CODE", "TMN01")
	t.Setenv("REDIRECT_HASH_SECRET", "secret")
	t.Setenv("QR_BANK_ID", "970436")
	t.Setenv("QR_ACCOUNT_NO", "0011001234567")
	t.Setenv("QR_WEBHOOK_SECRET", "whsec")

	cfg, err := config.Load([]string{noEnvFile(t)})
	require.NoError(t, err)

	assert.True(t, cfg.Redirect.Enabled())
	assert.True(t, cfg.QR.Enabled())
	assert.Equal(t, "TMN01", cfg.Redirect.MerchantCode)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no jwt secret", map[string]string{}},
		{"bad duration", map[string]string{"DEV_AUTH": "true", "PAYMENT_TTL": "soon"}},
		{"bad number", map[string]string{"DEV_AUTH": "true", "DUE_DAYS": "many"}},
		{"redirect without secret", map[string]string{"DEV_AUTH": "true", "REDIRECT_BASE_URL": "https://x"}},
		{"qr without secret", map[string]string{"DEV_AUTH": "true", "QR_BANK_ID": "970436", "QR_ACCOUNT_NO": "1"}},
		{"zero retries", map[string]string{"DEV_AUTH": "true", "CALLBACK_RETRIES": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load([]string{noEnvFile(t)})
			assert.Error(t, err)
		})
	}
}
