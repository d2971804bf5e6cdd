package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/iliyamo/studio-reservation/internal/payment"
)

// GatewayConfig holds the payment provider credentials.  It is loaded on
// its own and handed to the rails explicitly.
type GatewayConfig struct {
	DefaultProvider string        `env:"PAYMENT_DEFAULT_PROVIDER" env-default:"card"`
	Timeout         time.Duration `env:"GATEWAY_TIMEOUT" env-default:"15s"`

	StripeSecretKey         string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeDescriptionPrefix string `env:"STRIPE_DESCRIPTION_PREFIX" env-default:"Studio"`

	BankClientID          string        `env:"TRUE_LAYER_CLIENT_ID"`
	BankKeyID             string        `env:"TRUE_LAYER_KEY_ID"`
	BankPrivateKey        string        `env:"TRUE_LAYER_PRIVATE_KEY"`
	BankMerchantAccountID string        `env:"TRUE_LAYER_MERCHANT_ACCOUNT_ID"`
	BankAuthAudience      string        `env:"TRUE_LAYER_AUTH_AUDIENCE" env-default:"https://auth.truelayer-sandbox.com"`
	BankAPIBase           string        `env:"TRUE_LAYER_API_BASE" env-default:"https://api.truelayer-sandbox.com"`
	BankReturnURL         string        `env:"TRUE_LAYER_RETURN_URL"`
	BankWebhookURL        string        `env:"TRUE_LAYER_WEBHOOK_URL"`
	BankWebhookSigningKey string        `env:"TRUE_LAYER_WEBHOOK_SIGNING_KEY"`
	BankWebhookTolerance  time.Duration `env:"TRUE_LAYER_WEBHOOK_TOLERANCE" env-default:"300s"`
}

// LoadGateway reads the gateway block from the environment.
func LoadGateway() (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

func (g GatewayConfig) Card() payment.CardConfig {
	return payment.CardConfig{
		SecretKey:         g.StripeSecretKey,
		WebhookSecret:     g.StripeWebhookSecret,
		DescriptionPrefix: g.StripeDescriptionPrefix,
		Timeout:           g.Timeout,
	}
}

func (g GatewayConfig) Bank() payment.BankConfig {
	return payment.BankConfig{
		ClientID:             g.BankClientID,
		KeyID:                g.BankKeyID,
		PrivateKeyPEM:        g.BankPrivateKey,
		MerchantAccountID:    g.BankMerchantAccountID,
		AuthAudience:         g.BankAuthAudience,
		APIBase:              g.BankAPIBase,
		ReturnURL:            g.BankReturnURL,
		WebhookURL:           g.BankWebhookURL,
		WebhookSigningKeyPEM: g.BankWebhookSigningKey,
		WebhookTolerance:     g.BankWebhookTolerance,
		Timeout:              g.Timeout,
	}
}
