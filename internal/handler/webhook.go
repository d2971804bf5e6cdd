package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/reconcile"
)

const maxWebhookBody = 1 << 20

// Rails finds the gateway that owns a webhook endpoint.
type Rails interface {
	Lookup(provider string) (payment.Gateway, bool)
}

// Reconciler applies verified events.
type Reconciler interface {
	Handle(ctx context.Context, ev payment.NormalizedEvent) (reconcile.Result, error)
}

// WebhookHandler verifies provider callbacks and hands them to the
// reconciler.  Every verified event is acknowledged with 200 unless it
// could not be stored, in which case the provider retries.
type WebhookHandler struct {
	Rails      Rails
	Reconciler Reconciler
	Cache      Invalidator
	Log        *slog.Logger
}

func NewWebhookHandler(rails Rails, rec Reconciler, cache Invalidator, log *slog.Logger) *WebhookHandler {
	if rails == nil || rec == nil {
		panic("nil dependency passed to NewWebhookHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{Rails: rails, Reconciler: rec, Cache: cache, Log: log}
}

// Card handles POST /v1/webhooks/card.
func (h *WebhookHandler) Card(c echo.Context) error { return h.receive(c, payment.ProviderCard) }

// Bank handles POST /v1/webhooks/bank.
func (h *WebhookHandler) Bank(c echo.Context) error { return h.receive(c, payment.ProviderBankTransfer) }

func (h *WebhookHandler) receive(c echo.Context, provider string) error {
	gw, ok := h.Rails.Lookup(provider)
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment provider unavailable"})
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "unreadable body")
	}
	ev, err := gw.ParseWebhook(body, c.Request().Header)
	if err != nil {
		h.Log.Warn("webhook rejected", slog.String("provider", provider), slog.Any("error", err))
		return respondError(c, err)
	}
	res, err := h.Reconciler.Handle(c.Request().Context(), ev)
	if err != nil {
		h.Log.Error("webhook not applied",
			slog.String("provider", provider),
			slog.String("event_id", ev.EventID),
			slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "event not processed"})
	}
	if res == reconcile.ResultApplied && h.Cache != nil {
		h.Cache.Invalidate(c.Request().Context())
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
