package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "")
	t.Setenv("CATALOG_SOURCE", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30, cfg.Checkout.PaymentTimeoutSeconds)
	assert.Equal(t, 3, cfg.Checkout.CVVLength)
	assert.Equal(t, "SECURE_PAYMENT_DATA", cfg.SecureStore.Name)
	assert.Equal(t, CatalogSourcePostgres, cfg.Catalog.Source)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GATEWAY_SUCCESS_RATE", "0.5")
	t.Setenv("KAFKA_CATALOG_COMMANDS_ENABLED", "false")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0.5, cfg.Checkout.GatewaySuccessRate)
	assert.False(t, cfg.Kafka.CatalogCommands)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestDefaultsAreValid(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CVV_LENGTH", "")
	t.Setenv("EXPIRY_WINDOW_YEARS", "")

	require.NoError(t, Load().Validate())
}

func TestValidateRejectsOutOfRangeSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"cvv too short", map[string]string{"CVV_LENGTH": "0"}, "CVV_LENGTH=0 fails oneof=3 4"},
		{"cvv too long", map[string]string{"CVV_LENGTH": "7"}, "CVV_LENGTH=7 fails oneof=3 4"},
		{"negative expiry window", map[string]string{"EXPIRY_WINDOW_YEARS": "-1"}, "EXPIRY_WINDOW_YEARS=-1 fails gte=0"},
		{"huge expiry window", map[string]string{"EXPIRY_WINDOW_YEARS": "1000"}, "EXPIRY_WINDOW_YEARS=1000 fails lte=50"},
		{"negative timeout", map[string]string{"PAYMENT_TIMEOUT_SECONDS": "-5"}, "PAYMENT_TIMEOUT_SECONDS=-5 fails gte=0"},
		{"success rate above one", map[string]string{"GATEWAY_SUCCESS_RATE": "1.5"}, "GATEWAY_SUCCESS_RATE=1.5 fails lte=1"},
		{"unknown backend", map[string]string{"SECURE_STORE_BACKEND": "keychain"}, "SECURE_STORE_BACKEND=keychain fails oneof=redis memory"},
		{"unknown catalog", map[string]string{"CATALOG_SOURCE": "mongo"}, "CATALOG_SOURCE=mongo fails oneof=postgres static"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := Load().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAcceptsFourDigitCVV(t *testing.T) {
	t.Setenv("CVV_LENGTH", "4")
	t.Setenv("EXPIRY_WINDOW_YEARS", "0")

	cfg := Load()
	assert.Equal(t, 4, cfg.Checkout.CVVLength)
	assert.NoError(t, cfg.Validate())
}
