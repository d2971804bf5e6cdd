package payment

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/studio-reservation/internal/metrics"
)

// ProviderBankTransfer names the open-banking rail.
const ProviderBankTransfer = "bank_transfer"

// Bank webhook headers.
const (
	HeaderBankSignature = "Tl-Signature"
	HeaderBankTimestamp = "X-Tl-Webhook-Timestamp"
)

// DefaultWebhookTolerance bounds the age of a signed bank webhook.
const DefaultWebhookTolerance = 300 * time.Second

// BankConfig carries the bank rail credentials.
type BankConfig struct {
	ClientID          string
	KeyID             string
	PrivateKeyPEM     string
	MerchantAccountID string
	AuthAudience      string
	APIBase           string
	ReturnURL         string
	WebhookURL        string
	// WebhookSigningKeyPEM is the provider's public key.
	WebhookSigningKeyPEM string
	WebhookTolerance     time.Duration
	Timeout              time.Duration
	HTTPClient           *http.Client
}

func (c BankConfig) enabled() bool {
	return c.ClientID != "" && c.KeyID != "" && c.PrivateKeyPEM != "" && c.MerchantAccountID != ""
}

// BankOption tweaks a BankRail.
type BankOption func(*BankRail)

// WithBankClock overrides the clock used for assertions and webhook
// timestamps.
func WithBankClock(now func() time.Time) BankOption {
	return func(r *BankRail) { r.now = now }
}

// BankRail is the TrueLayer-style bank transfer rail.
type BankRail struct {
	cfg       BankConfig
	hc        *http.Client
	key       *rsa.PrivateKey
	verifyKey interface{}
	breaker   *Breaker
	log       *slog.Logger
	now       func() time.Time
}

var _ Gateway = (*BankRail)(nil)

// NewBankRail parses the configured keys.  Absent keys leave the rail
// unconfigured; present but unreadable keys are an error.
func NewBankRail(cfg BankConfig, log *slog.Logger, opts ...BankOption) (*BankRail, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = DefaultWebhookTolerance
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	r := &BankRail{
		cfg:     cfg,
		hc:      cfg.HTTPClient,
		breaker: NewBreaker(ProviderBankTransfer, DefaultBreakerSettings(), log),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if r.hc == nil {
		r.hc = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.PrivateKeyPEM != "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(unescapePEM(cfg.PrivateKeyPEM)))
		if err != nil {
			return nil, fmt.Errorf("bank rail private key: %w", err)
		}
		r.key = key
	}
	if cfg.WebhookSigningKeyPEM != "" {
		key, err := parsePublicKey(cfg.WebhookSigningKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("bank rail webhook key: %w", err)
		}
		r.verifyKey = key
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// unescapePEM accepts keys pasted into env files with literal \n.
func unescapePEM(s string) string { return strings.ReplaceAll(s, `\n`, "\n") }

func parsePublicKey(pemText string) (interface{}, error) {
	raw := []byte(unescapePEM(pemText))
	if k, err := jwt.ParseRSAPublicKeyFromPEM(raw); err == nil {
		return k, nil
	}
	k, err := jwt.ParseECPublicKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("neither an RSA nor an EC public key")
	}
	return k, nil
}

func (r *BankRail) Provider() string { return ProviderBankTransfer }

func (r *BankRail) Configured() bool { return r.cfg.enabled() && r.key != nil }

// assertion signs the short-lived client assertion sent as bearer token.
func (r *BankRail) assertion() (string, error) {
	if r.cfg.ClientID == "" || r.cfg.KeyID == "" || r.cfg.AuthAudience == "" || r.key == nil {
		return "", fmt.Errorf("%w: bank rail auth not configured", ErrGatewayUnavailable)
	}
	now := r.now()
	claims := jwt.MapClaims{
		"iss": r.cfg.ClientID,
		"sub": r.cfg.ClientID,
		"aud": r.cfg.AuthAudience,
		"iat": now.Unix(),
		"exp": now.Add(60 * time.Second).Unix(),
		"jti": uuid.NewString(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = r.cfg.KeyID
	return t.SignedString(r.key)
}

// post sends a JSON request and returns the response status and body.
// Transport failures wrap ErrGatewayUnavailable.
func (r *BankRail) post(ctx context.Context, path string, payload interface{}, idempotencyKey string) (int, []byte, error) {
	bearer, err := r.assertion()
	if err != nil {
		return 0, nil, err
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(buf)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.APIBase+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	res, err := r.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	return res.StatusCode, data, nil
}

func (r *BankRail) guarded(op string, fn func() error) error {
	start := time.Now()
	err := r.breaker.Execute(fn, isUnavailable)
	if errors.Is(err, ErrCircuitOpen) {
		err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	metrics.ObserveGateway(ProviderBankTransfer, op, start, err)
	return err
}

type bankPaymentRequest struct {
	AmountInMinor int64             `json:"amount_in_minor"`
	Currency      string            `json:"currency"`
	Reference     string            `json:"reference"`
	Beneficiary   bankBeneficiary   `json:"beneficiary"`
	PaymentMethod bankMethod        `json:"payment_method"`
	Redirect      bankRedirect      `json:"redirect"`
	WebhookURI    string            `json:"webhook_uri"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type bankBeneficiary struct {
	Type              string `json:"type"`
	MerchantAccountID string `json:"merchant_account_id"`
}

type bankMethod struct {
	Type string `json:"type"`
}

type bankRedirect struct {
	ReturnURI string `json:"return_uri"`
}

type bankPaymentResponse struct {
	ID                string `json:"id"`
	AuthorizationFlow struct {
		Actions struct {
			Next struct {
				URI string `json:"uri"`
			} `json:"next"`
		} `json:"actions"`
	} `json:"authorization_flow"`
}

// CreateIntent opens a hosted bank payment and returns its redirect URL.
func (r *BankRail) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.AmountMinor <= 0 {
		return Intent{}, ErrInvalidAmount
	}
	if r.cfg.ReturnURL == "" || r.cfg.WebhookURL == "" {
		return Intent{}, fmt.Errorf("%w: bank rail return and webhook URLs are required", ErrGatewayUnavailable)
	}
	if !r.Configured() {
		return Intent{}, fmt.Errorf("%w: bank rail not configured", ErrGatewayUnavailable)
	}
	payload := bankPaymentRequest{
		AmountInMinor: req.AmountMinor,
		Currency:      strings.ToUpper(req.Currency),
		Reference:     req.Reference,
		Beneficiary:   bankBeneficiary{Type: "merchant_account", MerchantAccountID: r.cfg.MerchantAccountID},
		PaymentMethod: bankMethod{Type: "bank_transfer"},
		Redirect:      bankRedirect{ReturnURI: r.cfg.ReturnURL},
		WebhookURI:    r.cfg.WebhookURL,
		Metadata:      req.Metadata,
	}
	var out Intent
	err := r.guarded("create", func() error {
		status, body, err := r.post(ctx, "/payments", payload, uuid.NewString())
		if err != nil {
			return err
		}
		if status >= 400 {
			r.log.Error("bank payment create failed", slog.Int("status", status), slog.String("body", string(body)))
			return fmt.Errorf("%w: status %d", ErrGatewayRejected, status)
		}
		var res bankPaymentResponse
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrGatewayRejected, err)
		}
		if res.ID == "" || res.AuthorizationFlow.Actions.Next.URI == "" {
			return fmt.Errorf("%w: response missing id or authorization URL", ErrGatewayRejected)
		}
		out = Intent{ID: res.ID, RedirectURL: res.AuthorizationFlow.Actions.Next.URI}
		return nil
	})
	return out, err
}

// retryPost retries transport failures and 5xx answers.
func (r *BankRail) retryPost(ctx context.Context, op, path string, payload interface{}) error {
	return r.guarded(op, func() error {
		return retry.Do(
			func() error {
				status, body, err := r.post(ctx, path, payload, "")
				if err != nil {
					return err
				}
				if status >= 500 {
					return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, status)
				}
				if status >= 400 {
					return fmt.Errorf("%w: status %d: %s", ErrGatewayRejected, status, body)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(200*time.Millisecond),
			retry.MaxDelay(2*time.Second),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return isUnavailable(err) && ctx.Err() == nil
			}),
		)
	})
}

func (r *BankRail) CancelIntent(ctx context.Context, intentID string) error {
	if intentID == "" {
		return nil
	}
	return r.retryPost(ctx, "cancel", "/payments/"+intentID+"/cancel", nil)
}

func (r *BankRail) RefundIntent(ctx context.Context, intentID string, amountMinor int64) error {
	if intentID == "" {
		return nil
	}
	if amountMinor <= 0 {
		return ErrInvalidAmount
	}
	payload := map[string]interface{}{"amount_in_minor": amountMinor, "reference": "refund"}
	return r.retryPost(ctx, "refund", "/payments/"+intentID+"/refunds", payload)
}

// VerifyWebhook checks a detached JWS over payload and, when timestamp is
// given, that it lies within the tolerance window.  The timestamp is
// optional here so stored payloads can be checked offline; ParseWebhook
// requires it.
func (r *BankRail) VerifyWebhook(signature, timestamp string, payload []byte) error {
	if r.verifyKey == nil {
		return fmt.Errorf("%w: bank webhook signing key not set", ErrGatewayUnavailable)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrSignatureInvalid)
	}
	if timestamp != "" {
		ts, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
		}
		skew := r.now().Sub(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > r.cfg.WebhookTolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
		}
	}
	parts := strings.Split(signature, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: not a compact JWS", ErrSignatureInvalid)
	}
	compact := parts[0] + "." + base64.RawURLEncoding.EncodeToString(payload) + "." + parts[2]
	_, err := jwt.Parse(compact, func(*jwt.Token) (interface{}, error) {
		return r.verifyKey, nil
	}, jwt.WithValidMethods(methodsFor(r.verifyKey)), jwt.WithoutClaimsValidation())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// methodsFor pins the accepted algorithms to the key type.
func methodsFor(key interface{}) []string {
	switch key.(type) {
	case *ecdsa.PublicKey:
		return []string{"ES256", "ES384", "ES512"}
	default:
		return []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	}
}

type bankWebhook struct {
	Type          string                 `json:"type"`
	EventID       string                 `json:"event_id"`
	PaymentID     string                 `json:"payment_id"`
	Status        string                 `json:"status"`
	AmountInMinor int64                  `json:"amount_in_minor"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// ParseWebhook verifies and normalises a bank rail callback.  The status
// comes from the status field or, failing that, from a payment_<status>
// event type.
func (r *BankRail) ParseWebhook(body []byte, header http.Header) (NormalizedEvent, error) {
	ts := header.Get(HeaderBankTimestamp)
	if ts == "" && r.verifyKey != nil {
		return NormalizedEvent{}, fmt.Errorf("%w: missing timestamp", ErrSignatureInvalid)
	}
	if err := r.VerifyWebhook(header.Get(HeaderBankSignature), ts, body); err != nil {
		return NormalizedEvent{}, err
	}
	var wh bankWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return NormalizedEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	out := NormalizedEvent{
		Provider:    ProviderBankTransfer,
		EventID:     wh.EventID,
		Type:        wh.Type,
		IntentID:    wh.PaymentID,
		AmountMinor: wh.AmountInMinor,
		Outcome:     OutcomeIgnored,
	}
	if out.EventID == "" {
		out.EventID = bodyDigest(body)
	}
	if len(wh.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(wh.Metadata))
		for k, v := range wh.Metadata {
			out.Metadata[k] = fmt.Sprint(v)
		}
	}
	status := strings.ToLower(strings.TrimSpace(wh.Status))
	if status == "" {
		status = strings.TrimPrefix(strings.ToLower(wh.Type), "payment_")
	}
	if out.IntentID != "" {
		out.Outcome = BankOutcome(status)
	}
	return out, nil
}

// BankOutcome maps a bank payment status to an Outcome.
func BankOutcome(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "executed", "settled", "credited":
		return OutcomeSucceeded
	case "cancelled", "canceled":
		return OutcomeCancelled
	case "failed", "rejected", "expired":
		return OutcomeFailed
	}
	return OutcomeIgnored
}
