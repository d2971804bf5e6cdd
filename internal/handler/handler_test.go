package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservation/internal/ledger"
	"github.com/iliyamo/studio-reservation/internal/membership"
	"github.com/iliyamo/studio-reservation/internal/middleware"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/payment/paymenttest"
	"github.com/iliyamo/studio-reservation/internal/reconcile"
	"github.com/iliyamo/studio-reservation/internal/recurrence"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/repository/memory"
	"github.com/iliyamo/studio-reservation/internal/reservation"
	"github.com/iliyamo/studio-reservation/internal/token"
)

type countingCache struct{ n int }

func (c *countingCache) Invalidate(context.Context) { c.n++ }

type testAPI struct {
	e            *echo.Echo
	store        *memory.Store
	card         *paymenttest.Gateway
	cache        *countingCache
	occurrences  *OccurrenceHandler
	reservations *ReservationHandler
	webhooks     *WebhookHandler
	admin        *AdminHandler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	a := &testAPI{e: echo.New(), store: memory.New(), card: paymenttest.New(model.ProviderCard), cache: &countingCache{}}
	a.e.Validator = middleware.NewValidator()

	tokens, err := token.NewService("handler-secret")
	require.NoError(t, err)
	reg := payment.NewRegistry(model.ProviderCard, a.card)
	engine, err := reservation.New(a.store, reg, tokens)
	require.NoError(t, err)
	members, err := membership.NewService(a.store, reg, "gbp", nil, nil)
	require.NoError(t, err)
	led, err := ledger.NewService(a.store, nil)
	require.NoError(t, err)

	a.occurrences = NewOccurrenceHandler(a.store)
	a.reservations = NewReservationHandler(engine, a.cache)
	a.webhooks = NewWebhookHandler(reg, reconcile.NewHandler(a.store, engine, members, nil), a.cache, nil)
	a.admin = NewAdminHandler(a.store, engine, recurrence.NewGenerator(a.store, nil), led, a.cache)
	return a
}

func (a *testAPI) occurrence(t *testing.T, capacity int, price int64) model.Occurrence {
	t.Helper()
	at := time.Now().UTC().Add(72 * time.Hour)
	var occ model.Occurrence
	require.NoError(t, a.store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		r := model.Resource{Name: "Yoga", Kind: model.KindSession, Category: "yoga", DefaultCapacity: capacity, DefaultPrice: price, Active: true}
		if err := tx.InsertResource(ctx, &r); err != nil {
			return err
		}
		occ = model.Occurrence{
			ResourceID: r.ID,
			Date:       model.DateOf(at),
			StartTime:  model.MustTimeOfDay("10:00"),
			EndTime:    model.MustTimeOfDay("11:00"),
		}
		return tx.InsertOccurrence(ctx, &occ)
	}))
	return occ
}

// call runs fn against a request built from the arguments.  params are
// name/value pairs for path parameters.
func (a *testAPI) call(fn echo.HandlerFunc, method, target, body string, userID string, params ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := a.e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	if userID != "" {
		c.Set("user_id", userID)
	}
	_ = fn(c)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGuestReserveAndCancelWithToken(t *testing.T) {
	a := newTestAPI(t)
	occ := a.occurrence(t, 3, 0)
	id := fmt.Sprint(occ.ID)

	rec := a.call(a.reservations.Reserve, http.MethodPost, "/", `{"guest":{"name":"Ana","email":"ana@example.com"}}`, "", "id", id)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	tok, _ := out["cancel_token"].(string)
	require.NotEmpty(t, tok)
	res := out["reservation"].(map[string]interface{})
	assert.Equal(t, model.PaymentIncluded, res["payment_status"])
	assert.NotContains(t, res, "intent_id")
	resID := fmt.Sprint(res["id"])

	rec = a.call(a.reservations.Cancel, http.MethodPost, "/", `{"token":"forged"}`, "", "id", resID)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.call(a.reservations.Cancel, http.MethodPost, "/", `{"token":"`+tok+`"}`, "", "id", resID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.StatusCancelled, decode(t, rec)["reservation"].(map[string]interface{})["status"])
	assert.Equal(t, 2, a.cache.n)
}

func TestReserveRejectsBadBodies(t *testing.T) {
	a := newTestAPI(t)
	occ := a.occurrence(t, 3, 0)
	id := fmt.Sprint(occ.ID)

	tests := []struct {
		name   string
		body   string
		user   string
		status int
	}{
		{"no holder", `{}`, "", http.StatusBadRequest},
		{"member and guest", `{"guest":{"name":"Ana","email":"ana@example.com"}}`, "7", http.StatusBadRequest},
		{"guest without email", `{"guest":{"name":"Ana","email":" "}}`, "", http.StatusBadRequest},
		{"bad email", `{"guest":{"name":"Ana","email":"nope"}}`, "", http.StatusBadRequest},
		{"unknown provider", `{"provider":"cash","guest":{"name":"Ana","email":"ana@example.com"}}`, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.call(a.reservations.Reserve, http.MethodPost, "/", tt.body, tt.user, "id", id)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := a.call(a.reservations.Reserve, http.MethodPost, "/", `{"guest":{"name":"Ana","email":"ana@example.com"}}`, "", "id", "999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaidReserveThenCardWebhookConfirms(t *testing.T) {
	a := newTestAPI(t)
	occ := a.occurrence(t, 3, 1500)
	a.card.On("CreateIntent", mock.Anything, mock.Anything).Return(payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil).Once()

	rec := a.call(a.reservations.Reserve, http.MethodPost, "/", `{"guest":{"name":"Ana","email":"ana@example.com"}}`, "", "id", fmt.Sprint(occ.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "pi_1_secret", out["client_secret"])
	resID := uint64(out["reservation"].(map[string]interface{})["id"].(float64))

	ev := payment.NormalizedEvent{Provider: model.ProviderCard, EventID: "evt_1", IntentID: "pi_1", Outcome: payment.OutcomeSucceeded, AmountMinor: 1500}
	a.card.On("ParseWebhook", mock.Anything, mock.Anything).Return(ev, nil)

	rec = a.call(a.webhooks.Card, http.MethodPost, "/", `{}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["received"])

	got, err := a.store.GetReservation(context.Background(), resID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)

	rec = a.call(a.webhooks.Card, http.MethodPost, "/", `{}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookErrors(t *testing.T) {
	a := newTestAPI(t)
	a.card.On("ParseWebhook", mock.Anything, mock.Anything).Return(payment.NormalizedEvent{}, fmt.Errorf("%w: bad", payment.ErrSignatureInvalid))

	rec := a.call(a.webhooks.Card, http.MethodPost, "/", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(a.webhooks.Bank, http.MethodPost, "/", `{}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOccurrenceListingShowsRemaining(t *testing.T) {
	a := newTestAPI(t)
	occ := a.occurrence(t, 2, 0)
	rec := a.call(a.reservations.Reserve, http.MethodPost, "/", `{"guest":{"name":"Ana","email":"ana@example.com"}}`, "", "id", fmt.Sprint(occ.ID))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.call(a.occurrences.List, http.MethodGet, "/?kind=session", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["occurrences"].([]interface{})
	require.Len(t, list, 1)
	assert.EqualValues(t, 1, list[0].(map[string]interface{})["remaining"])

	rec = a.call(a.occurrences.List, http.MethodGet, "/?kind=party", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(a.occurrences.Get, http.MethodGet, "/", "", "", "id", fmt.Sprint(occ.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["remaining"])

	rec = a.call(a.occurrences.Get, http.MethodGet, "/", "", "", "id", "404")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRecurrenceAndGenerate(t *testing.T) {
	a := newTestAPI(t)
	rec := a.call(a.admin.CreateResource, http.MethodPost, "/", `{"name":"Barre","kind":"session","default_capacity":8,"default_price_minor":1000}`, "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resourceID := decode(t, rec)["id"]

	body := `{"resource_id":%v,"pattern":"weekly","days":[],"start_time":"09:00","end_time":"10:00","start_date":"2024-01-01"}`
	rec = a.call(a.admin.CreateRecurrence, http.MethodPost, "/", fmt.Sprintf(body, resourceID), "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = `{"resource_id":%v,"pattern":"weekly","days":["mon","wed"],"start_time":"09:00","end_time":"10:00","start_date":"2024-01-01"}`
	rec = a.call(a.admin.CreateRecurrence, http.MethodPost, "/", fmt.Sprintf(body, resourceID), "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	specID := fmt.Sprint(decode(t, rec)["id"])

	rec = a.call(a.admin.Generate, http.MethodPost, "/?from=2024-01-01&to=2024-01-14&preview=true", "", "1", "id", specID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, decode(t, rec)["created"])
	assert.Equal(t, 0, a.cache.n)

	rec = a.call(a.admin.Generate, http.MethodPost, "/?from=2024-01-01&to=2024-01-14", "", "1", "id", specID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, decode(t, rec)["created"])
	assert.Equal(t, 1, a.cache.n)

	rec = a.call(a.admin.Generate, http.MethodPost, "/?from=2024-01-14&to=2024-01-01", "", "1", "id", specID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminExpireStaleValidatesMinutes(t *testing.T) {
	a := newTestAPI(t)
	rec := a.call(a.admin.ExpireStale, http.MethodPost, "/?minutes=0", "", "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(a.admin.ExpireStale, http.MethodPost, "/?minutes=15&dry_run=true", "", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["matched"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{reservation.ErrCapacityExceeded, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", reservation.ErrWindowPassed), http.StatusBadRequest},
		{reservation.ErrNotFound, http.StatusNotFound},
		{reservation.ErrBadToken, http.StatusForbidden},
		{payment.ErrGatewayUnavailable, http.StatusServiceUnavailable},
		{payment.ErrGatewayRejected, http.StatusBadGateway},
		{membership.ErrNoMembership, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, got, tt.err.Error())
	}
}

func TestAdminAcceptsDecimalPrices(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	rec := a.call(a.admin.CreateResource, http.MethodPost, "/", `{"name":"Barre","kind":"session","default_capacity":8,"default_price":"12.50"}`, "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := uint64(decode(t, rec)["id"].(float64))
	r, err := a.store.GetResource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), r.DefaultPrice)

	rec = a.call(a.admin.CreateResource, http.MethodPost, "/", `{"name":"Barre","kind":"session","default_capacity":8,"default_price":"-1"}`, "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	occ := a.occurrence(t, 5, 1000)
	rec = a.call(a.admin.PatchOccurrence, http.MethodPatch, "/", `{"price":"7.99","capacity":6}`, "1", "id", fmt.Sprint(occ.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.EqualValues(t, 799, out["price_minor"])
	assert.EqualValues(t, 6, out["capacity"])

	rec = a.call(a.admin.PatchOccurrence, http.MethodPatch, "/", `{"price":"abc"}`, "1", "id", fmt.Sprint(occ.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(a.admin.CreatePlan, http.MethodPost, "/", `{"name":"Ten pack","price":"90","class_credits":10}`, "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 9000, decode(t, rec)["price_minor"])
}
