package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/ledger"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/recurrence"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/reservation"
)

// defaultPendingExpiry is used by expire-stale when no minutes are given.
const defaultPendingExpiry = 30 * time.Minute

// AdminHandler groups the studio administration endpoints.
type AdminHandler struct {
	Store     repository.Store
	Engine    *reservation.Engine
	Generator *recurrence.Generator
	Ledger    *ledger.Service
	Cache     Invalidator
	Now       func() time.Time
}

func NewAdminHandler(store repository.Store, engine *reservation.Engine, gen *recurrence.Generator, led *ledger.Service, cache Invalidator) *AdminHandler {
	if store == nil || engine == nil || gen == nil || led == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{
		Store:     store,
		Engine:    engine,
		Generator: gen,
		Ledger:    led,
		Cache:     cache,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *AdminHandler) invalidate(c echo.Context) {
	if h.Cache != nil {
		h.Cache.Invalidate(c.Request().Context())
	}
}

// priceMinor prefers a decimal price string over a minor-unit amount.
func priceMinor(decimalPrice string, minor int64) (int64, error) {
	if strings.TrimSpace(decimalPrice) == "" {
		return minor, nil
	}
	return payment.ParsePrice(decimalPrice)
}

// CreateResource handles POST /v1/admin/resources.
func (h *AdminHandler) CreateResource(c echo.Context) error {
	var body struct {
		Name            string             `json:"name" validate:"required,max=120"`
		Kind            model.ResourceKind `json:"kind" validate:"required,oneof=session event"`
		Category        string             `json:"category" validate:"max=60"`
		DefaultCapacity int                `json:"default_capacity" validate:"min=1"`
		DefaultPrice    int64              `json:"default_price_minor" validate:"min=0"`
		// Price is the default price as a decimal string; it wins over
		// default_price_minor when both are sent.
		Price string `json:"default_price"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, err.Error())
	}
	price, err := priceMinor(body.Price, body.DefaultPrice)
	if err != nil {
		return respondError(c, err)
	}
	r := model.Resource{
		Name:            strings.TrimSpace(body.Name),
		Kind:            body.Kind,
		Category:        strings.TrimSpace(body.Category),
		DefaultCapacity: body.DefaultCapacity,
		DefaultPrice:    price,
		Active:          true,
	}
	err = h.Store.WithTx(c.Request().Context(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertResource(ctx, &r)
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": r.ID})
}

type recurrenceBody struct {
	ResourceID uint64          `json:"resource_id" validate:"required"`
	Pattern    model.Pattern   `json:"pattern" validate:"required"`
	Days       []model.Weekday `json:"days"`
	StartTime  model.TimeOfDay `json:"start_time"`
	EndTime    model.TimeOfDay `json:"end_time"`
	StartDate  string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string          `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// CreateRecurrence handles POST /v1/admin/recurrences.  Weekly patterns
// without days are refused here even though the matcher tolerates them.
func (h *AdminHandler) CreateRecurrence(c echo.Context) error {
	var body recurrenceBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	if _, err := h.Store.GetResource(ctx, body.ResourceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "resource not found"})
		}
		return respondError(c, err)
	}
	start, _ := time.Parse(dateLayout, body.StartDate)
	s := model.RecurrenceSpec{
		ResourceID: body.ResourceID,
		Pattern:    model.Pattern(strings.ToLower(string(body.Pattern))),
		Days:       body.Days,
		StartTime:  body.StartTime,
		EndTime:    body.EndTime,
		StartDate:  start,
		Active:     true,
	}
	if body.EndDate != "" {
		end, _ := time.Parse(dateLayout, body.EndDate)
		s.EndDate = &end
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return respondError(c, err)
	}
	err := h.Store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertRecurrenceSpec(ctx, &s)
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": s.ID})
}

// Generate handles POST /v1/admin/recurrences/:id/generate?from=&to=&preview=.
func (h *AdminHandler) Generate(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid recurrence id")
	}
	today := model.DateOf(h.Now())
	from, err := parseDate(c, "from", today)
	if err != nil {
		return badRequest(c, err.Error())
	}
	to, err := parseDate(c, "to", from.AddDate(0, 0, defaultListingDays))
	if err != nil {
		return badRequest(c, err.Error())
	}
	preview, _ := strconv.ParseBool(c.QueryParam("preview"))

	ctx := c.Request().Context()
	spec, err := h.Store.GetRecurrenceSpec(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "recurrence not found"})
	}
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Generator.Expand(ctx, spec, from, to, preview)
	if err != nil {
		return respondError(c, err)
	}
	if !preview && res.Created > 0 {
		h.invalidate(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"created": res.Created, "skipped": res.Skipped, "preview": preview})
}

// CancelOccurrence handles POST /v1/admin/occurrences/:id/cancel.
func (h *AdminHandler) CancelOccurrence(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid occurrence id")
	}
	n, err := h.Engine.CancelOccurrence(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusOK, echo.Map{"cancelled_reservations": n})
}

// PatchOccurrence handles PATCH /v1/admin/occurrences/:id.
func (h *AdminHandler) PatchOccurrence(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid occurrence id")
	}
	var body struct {
		reservation.OccurrencePatch
		Price *string `json:"price"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	p := body.OccurrencePatch
	if body.Price != nil {
		minor, err := payment.ParsePrice(*body.Price)
		if err != nil {
			return respondError(c, err)
		}
		p.PriceMinor = &minor
	}
	occ, err := h.Engine.UpdateOccurrence(c.Request().Context(), id, p)
	if err != nil {
		return respondError(c, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusOK, newOccurrenceView(occ))
}

// MarkAttendance handles POST /v1/admin/reservations/:id/attendance.
func (h *AdminHandler) MarkAttendance(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var body struct {
		Attendance string `json:"attendance" validate:"required,oneof=unknown present absent no_show"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, err.Error())
	}
	res, err := h.Engine.MarkAttendance(c.Request().Context(), id, body.Attendance)
	if err != nil {
		return respondError(c, err)
	}
	if res.Status == model.StatusNoShow {
		h.invalidate(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservation": newReservationView(res)})
}

// ExpireStale handles POST /v1/admin/expire-stale?minutes=&dry_run=.
func (h *AdminHandler) ExpireStale(c echo.Context) error {
	olderThan := defaultPendingExpiry
	if v := c.QueryParam("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "minutes must be a positive integer")
		}
		olderThan = time.Duration(n) * time.Minute
	}
	dryRun, _ := strconv.ParseBool(c.QueryParam("dry_run"))
	res, err := h.Engine.ExpireStalePending(c.Request().Context(), olderThan, dryRun)
	if err != nil {
		return respondError(c, err)
	}
	if res.Expired > 0 {
		h.invalidate(c)
	}
	return c.JSON(http.StatusOK, res)
}

// CreatePlan handles POST /v1/admin/membership-plans.
func (h *AdminHandler) CreatePlan(c echo.Context) error {
	var body struct {
		Name         string `json:"name" validate:"required,max=120"`
		PriceMinor   int64  `json:"price_minor" validate:"min=0"`
		Price        string `json:"price"`
		ClassCredits int    `json:"class_credits" validate:"min=0"`
		EventCredits int    `json:"event_credits" validate:"min=0"`
		DurationDays int    `json:"duration_days" validate:"min=0"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, err.Error())
	}
	price, err := priceMinor(body.Price, body.PriceMinor)
	if err != nil {
		return respondError(c, err)
	}
	p := model.MembershipPlan{
		Name:         strings.TrimSpace(body.Name),
		PriceMinor:   price,
		ClassCredits: body.ClassCredits,
		EventCredits: body.EventCredits,
		DurationDays: body.DurationDays,
		Active:       true,
	}
	err = h.Store.WithTx(c.Request().Context(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertPlan(ctx, &p)
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// AuditMembership handles GET /v1/admin/memberships/:id/audit.  It
// compares the cached counters with the usage log.
func (h *AdminHandler) AuditMembership(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid membership id")
	}
	rep, err := h.Ledger.Audit(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"audit": rep, "consistent": rep.Consistent()})
}
