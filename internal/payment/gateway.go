// Package payment opens and settles provider payment intents.  Two rails
// sit behind one Gateway interface: a card rail with synchronous,
// shared-secret signed webhooks and a bank-transfer rail with detached JWS
// signed webhooks.  Both turn provider callbacks into a NormalizedEvent.
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
)

var (
	// ErrGatewayUnavailable means the rail is not configured or the
	// provider could not be reached.  Safe to retry later.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected means the provider answered with an error.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrMalformedPayload = errors.New("webhook payload malformed")
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

// Outcome is the normalised result of a provider event.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeIgnored marks verified events that carry no payment result.
	OutcomeIgnored Outcome = "ignored"
)

// IntentRequest describes the payment to open.
type IntentRequest struct {
	AmountMinor  int64
	Currency     string
	Reference    string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
}

// Intent is what the client needs to finish paying.  Card intents carry a
// client secret, bank intents a redirect URL.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
}

// NormalizedEvent is a verified provider callback.
type NormalizedEvent struct {
	Provider    string
	EventID     string
	Type        string
	IntentID    string
	Outcome     Outcome
	AmountMinor int64
	Metadata    map[string]string
}

// Gateway is one payment rail.
type Gateway interface {
	Provider() string
	// Configured reports whether credentials are present.
	Configured() bool
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	RefundIntent(ctx context.Context, intentID string, amountMinor int64) error
	ParseWebhook(body []byte, header http.Header) (NormalizedEvent, error)
}

// RefundBestEffort asks gw to refund and only logs a failure.  Callers
// flip their own bookkeeping regardless of the provider answer.
func RefundBestEffort(ctx context.Context, gw Gateway, intentID string, amountMinor int64, log *slog.Logger) {
	if gw == nil || intentID == "" {
		return
	}
	if err := gw.RefundIntent(ctx, intentID, amountMinor); err != nil {
		log.Warn("refund failed",
			slog.String("provider", gw.Provider()),
			slog.String("intent_id", intentID),
			slog.Any("error", err))
	}
}

// CancelBestEffort is RefundBestEffort for unpaid intents.
func CancelBestEffort(ctx context.Context, gw Gateway, intentID string, log *slog.Logger) {
	if gw == nil || intentID == "" {
		return
	}
	if err := gw.CancelIntent(ctx, intentID); err != nil {
		log.Warn("intent cancel failed",
			slog.String("provider", gw.Provider()),
			slog.String("intent_id", intentID),
			slog.Any("error", err))
	}
}

// bodyDigest identifies a delivery that carries no event id of its own.
func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
