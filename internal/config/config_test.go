package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatewayDefaults(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("TRUE_LAYER_WEBHOOK_TOLERANCE", "90s")

	g, err := LoadGateway()
	require.NoError(t, err)
	assert.Equal(t, "card", g.DefaultProvider)
	assert.Equal(t, 15*time.Second, g.Timeout)

	card := g.Card()
	assert.Equal(t, "sk_test_123", card.SecretKey)
	assert.Equal(t, "Studio", card.DescriptionPrefix)

	bank := g.Bank()
	assert.Equal(t, 90*time.Second, bank.WebhookTolerance)
	assert.Equal(t, "https://api.truelayer-sandbox.com", bank.APIBase)
}

func TestLoadMemoryDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CANCEL_CUTOFF", "90m")
	t.Setenv("EXPIRE_SCHEDULE", "")

	cfg := Load()
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "s3cret", cfg.CancelTokenSecret)
	assert.Equal(t, 90*time.Minute, cfg.CancelCutoff)
	assert.Equal(t, 7*24*time.Hour, cfg.CancelTokenMaxAge)
	assert.Empty(t, cfg.ExpireSchedule)
	assert.Equal(t, "@daily", cfg.GenerateSchedule)
}

func TestRateLimitConfigFloors(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	t.Setenv("RATE_LIMIT_GUEST_CAPACITY", "50")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.MemberCapacity)
	assert.Equal(t, 1, cfg.GuestCapacity, "guest bucket never exceeds the member bucket")
	assert.Equal(t, 10*time.Second, cfg.TTL)
}

func TestEnvBool(t *testing.T) {
	t.Setenv("FLAG", "Yes")
	assert.True(t, envBool("FLAG", false))
	t.Setenv("FLAG", "off")
	assert.False(t, envBool("FLAG", true))
	t.Setenv("FLAG", "maybe")
	assert.True(t, envBool("FLAG", true))
}

func TestLoadWhatsAppSettings(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("WHATSAPP_NOTIFICATIONS_ENABLED", "true")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_WHATSAPP_FROM", "+14155238886")
	t.Setenv("TWILIO_WHATSAPP_ADMIN_RECIPIENTS", " +447700900001, ,+447700900002")

	cfg := Load()
	assert.True(t, cfg.WhatsAppEnabled)
	assert.Equal(t, "AC123", cfg.TwilioSID)
	assert.Equal(t, []string{"+447700900001", "+447700900002"}, cfg.WhatsAppAdmins)
}
