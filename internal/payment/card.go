package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/client"
	"github.com/stripe/stripe-go/webhook"

	"github.com/iliyamo/studio-reservation/internal/metrics"
)

// ProviderCard names the card rail.
const ProviderCard = "card"

// Card event types the rail acts on.
const (
	cardEventSucceeded = "payment_intent.succeeded"
	cardEventFailed    = "payment_intent.payment_failed"
	cardEventCanceled  = "payment_intent.canceled"
)

// CardConfig carries the card rail credentials.
type CardConfig struct {
	SecretKey         string
	WebhookSecret     string
	DescriptionPrefix string
	Timeout           time.Duration
	// HTTPClient replaces the provider client's transport, for tests.
	HTTPClient *http.Client
}

// CardRail is the Stripe-backed card rail.
type CardRail struct {
	cfg     CardConfig
	api     *client.API
	breaker *Breaker
	log     *slog.Logger
}

var _ Gateway = (*CardRail)(nil)

// NewCardRail builds the rail.  Without a secret key it stays
// unconfigured and every intent call reports ErrGatewayUnavailable.
func NewCardRail(cfg CardConfig, log *slog.Logger) *CardRail {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	r := &CardRail{cfg: cfg, log: log, breaker: NewBreaker(ProviderCard, DefaultBreakerSettings(), log)}
	if cfg.SecretKey != "" {
		hc := cfg.HTTPClient
		if hc == nil {
			hc = &http.Client{Timeout: cfg.Timeout}
		}
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{HTTPClient: hc})
		r.api = client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend})
	}
	return r
}

func (r *CardRail) Provider() string { return ProviderCard }

func (r *CardRail) Configured() bool { return r.api != nil }

func (r *CardRail) call(op string, fn func() error) error {
	if r.api == nil {
		return fmt.Errorf("%w: card rail secret key not set", ErrGatewayUnavailable)
	}
	start := time.Now()
	err := r.breaker.Execute(func() error {
		return classifyCardError(fn())
	}, isUnavailable)
	if errors.Is(err, ErrCircuitOpen) {
		err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	metrics.ObserveGateway(ProviderCard, op, start, err)
	return err
}

func (r *CardRail) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.AmountMinor <= 0 {
		return Intent{}, ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	if req.Description != "" {
		desc := req.Description
		if r.cfg.DescriptionPrefix != "" {
			desc = r.cfg.DescriptionPrefix + ": " + desc
		}
		params.Description = stripe.String(desc)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Reference != "" {
		params.AddMetadata("reference", req.Reference)
	}
	params.SetIdempotencyKey(uuid.NewString())
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := r.call("create", func() error {
		var err error
		pi, err = r.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		r.log.Error("card intent create failed", slog.String("reference", req.Reference), slog.Any("error", err))
		return Intent{}, err
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (r *CardRail) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	return r.call("cancel", func() error {
		_, err := r.api.PaymentIntents.Cancel(intentID, params)
		return err
	})
}

// RefundIntent refunds the charge behind intentID.  A zero amount refunds
// in full.
func (r *CardRail) RefundIntent(ctx context.Context, intentID string, amountMinor int64) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	if amountMinor > 0 {
		params.Amount = stripe.Int64(amountMinor)
	}
	params.Context = ctx
	return r.call("refund", func() error {
		_, err := r.api.Refunds.New(params)
		return err
	})
}

// ParseWebhook verifies the Stripe-Signature header against the shared
// secret and extracts the payment intent.
func (r *CardRail) ParseWebhook(body []byte, header http.Header) (NormalizedEvent, error) {
	if r.cfg.WebhookSecret == "" {
		return NormalizedEvent{}, fmt.Errorf("%w: card webhook secret not set", ErrGatewayUnavailable)
	}
	ev, err := webhook.ConstructEvent(body, header.Get("Stripe-Signature"), r.cfg.WebhookSecret)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return NormalizedEvent{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return NormalizedEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	out := NormalizedEvent{Provider: ProviderCard, EventID: ev.ID, Type: ev.Type, Outcome: OutcomeIgnored}
	if out.EventID == "" {
		out.EventID = bodyDigest(body)
	}
	switch ev.Type {
	case cardEventSucceeded:
		out.Outcome = OutcomeSucceeded
	case cardEventFailed:
		out.Outcome = OutcomeFailed
	case cardEventCanceled:
		out.Outcome = OutcomeCancelled
	default:
		return out, nil
	}
	if ev.Data == nil {
		return NormalizedEvent{}, fmt.Errorf("%w: event has no data", ErrMalformedPayload)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil || pi.ID == "" {
		return NormalizedEvent{}, fmt.Errorf("%w: payment intent missing", ErrMalformedPayload)
	}
	out.IntentID = pi.ID
	out.AmountMinor = pi.Amount
	out.Metadata = pi.Metadata
	return out, nil
}

// classifyCardError maps provider API errors to ErrGatewayRejected and
// transport failures to ErrGatewayUnavailable.
func classifyCardError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %s", ErrGatewayRejected, se.Msg)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

func isUnavailable(err error) bool { return errors.Is(err, ErrGatewayUnavailable) }
