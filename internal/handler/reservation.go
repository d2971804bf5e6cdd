package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/reservation"
)

// Invalidator drops cached listings after availability changes.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// ReservationHandler exposes the reservation engine.  Reserve and Cancel
// run behind the optional JWT middleware: members are identified by their
// token, guests by the details in the body.
type ReservationHandler struct {
	Engine *reservation.Engine
	Cache  Invalidator
}

func NewReservationHandler(engine *reservation.Engine, cache Invalidator) *ReservationHandler {
	if engine == nil {
		panic("nil engine passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: engine, Cache: cache}
}

type reserveBody struct {
	Quantity int          `json:"quantity" validate:"omitempty,min=1,max=50"`
	Provider string       `json:"provider" validate:"omitempty,oneof=card bank_transfer"`
	Guest    *guestFields `json:"guest"`
}

type guestFields struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,max=40"`
}

func (h *ReservationHandler) invalidate(c echo.Context) {
	if h.Cache != nil {
		h.Cache.Invalidate(c.Request().Context())
	}
}

// Reserve handles POST /v1/occurrences/:id/reservations.  A member token
// and a guest block together are rejected.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	occID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid occurrence id")
	}
	var body reserveBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Guest != nil {
		body.Guest.Email = strings.TrimSpace(body.Guest.Email)
		if body.Guest.Email == "" {
			return respondError(c, reservation.ErrGuestEmailRequired)
		}
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, err.Error())
	}

	var memberID *uint64
	if id, ok := getUserID(c); ok {
		memberID = &id
	}
	var guest *model.Guest
	if body.Guest != nil {
		guest = &model.Guest{Name: strings.TrimSpace(body.Guest.Name), Email: body.Guest.Email, Phone: strings.TrimSpace(body.Guest.Phone)}
	}
	holder, err := model.NewHolder(memberID, guest)
	if err != nil {
		return badRequest(c, err.Error())
	}

	out, err := h.Engine.Reserve(c.Request().Context(), reservation.ReserveRequest{
		Holder:       holder,
		OccurrenceID: occID,
		Quantity:     body.Quantity,
		Provider:     body.Provider,
	})
	if err != nil {
		return respondError(c, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusCreated, newOutcomeView(out))
}

// Cancel handles POST /v1/reservations/:id/cancel.  Guests send the token
// they received at reservation time.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var body struct {
		Token string `json:"token"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	if body.Token == "" {
		body.Token = c.QueryParam("token")
	}
	memberID, _ := getUserID(c)
	res, err := h.Engine.Cancel(c.Request().Context(), reservation.CancelRequest{
		ReservationID: id,
		MemberID:      memberID,
		Token:         strings.TrimSpace(body.Token),
	})
	if err != nil {
		return respondError(c, err)
	}
	h.invalidate(c)
	return c.JSON(http.StatusOK, echo.Map{"reservation": newReservationView(res)})
}

// ListMine handles GET /v1/me/reservations.
func (h *ReservationHandler) ListMine(c echo.Context) error {
	memberID, ok := getUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.Engine.ListForMember(c.Request().Context(), memberID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]reservationView, 0, len(list))
	for _, r := range list {
		out = append(out, newReservationView(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": out})
}
