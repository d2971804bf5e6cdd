package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/reservation"
)

// defaultListingDays bounds an occurrence listing without a to date.
const defaultListingDays = 30

// OccurrenceHandler serves the public occurrence listing.
type OccurrenceHandler struct {
	Store repository.Store
	Now   func() time.Time
}

// NewOccurrenceHandler panics on a nil store, like every handler
// constructor in this package.
func NewOccurrenceHandler(store repository.Store) *OccurrenceHandler {
	if store == nil {
		panic("nil store passed to NewOccurrenceHandler")
	}
	return &OccurrenceHandler{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// List handles GET /v1/occurrences?from=&to=&category=&kind=.  Remaining
// places are computed server-side from the reservations holding capacity.
func (h *OccurrenceHandler) List(c echo.Context) error {
	today := model.DateOf(h.Now())
	from, err := parseDate(c, "from", today)
	if err != nil {
		return badRequest(c, err.Error())
	}
	to, err := parseDate(c, "to", from.AddDate(0, 0, defaultListingDays))
	if err != nil {
		return badRequest(c, err.Error())
	}
	if to.Before(from) {
		return badRequest(c, "to must not be before from")
	}
	f := model.OccurrenceFilter{
		From:     from,
		To:       to,
		Category: strings.TrimSpace(c.QueryParam("category")),
		Kind:     model.ResourceKind(strings.ToLower(strings.TrimSpace(c.QueryParam("kind")))),
	}
	switch f.Kind {
	case "", model.KindSession, model.KindEvent:
	default:
		return badRequest(c, "kind must be session or event")
	}
	list, err := h.Store.ListOccurrences(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]occurrenceView, 0, len(list))
	for _, a := range list {
		out = append(out, newAvailabilityView(a))
	}
	return c.JSON(http.StatusOK, echo.Map{"occurrences": out})
}

// Get handles GET /v1/occurrences/:id.
func (h *OccurrenceHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid occurrence id")
	}
	ctx := c.Request().Context()
	occ, err := h.Store.GetOccurrence(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return respondError(c, reservation.ErrOccurrenceNotFound)
	}
	if err != nil {
		return respondError(c, err)
	}
	var reserved int
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		reserved, err = tx.ReservedQuantity(ctx, id)
		return err
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newAvailabilityView(model.OccurrenceAvailability{Occurrence: occ, Reserved: reserved}))
}
