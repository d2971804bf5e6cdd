package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/ledger"
	"github.com/iliyamo/studio-reservation/internal/membership"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/recurrence"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/reservation"
)

const dateLayout = "2006-01-02"

// getUserID extracts the user_id placed in the context by the JWT
// middleware.  ok is false for guests.
func getUserID(c echo.Context) (uint64, bool) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, t != 0
	case int:
		return uint64(t), t > 0
	case int64:
		return uint64(t), t > 0
	case float64:
		return uint64(t), t > 0
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// parseDate reads a YYYY-MM-DD query parameter; empty yields def.
func parseDate(c echo.Context, name string, def time.Time) (time.Time, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, errors.New(name + " must be YYYY-MM-DD")
	}
	return t, nil
}

type errorStatus struct {
	err    error
	status int
	msg    string
}

// errorTable maps domain errors to responses.  Order matters: the first
// match wins.  Not found and not yours share a message on purpose.
var errorTable = []errorStatus{
	{reservation.ErrValidation, http.StatusBadRequest, ""},
	{reservation.ErrGuestEmailRequired, http.StatusBadRequest, ""},
	{reservation.ErrNotFound, http.StatusNotFound, "reservation not found"},
	{reservation.ErrOccurrenceNotFound, http.StatusNotFound, "occurrence not found"},
	{reservation.ErrBadToken, http.StatusForbidden, "invalid cancellation token"},
	{reservation.ErrInactive, http.StatusBadRequest, ""},
	{reservation.ErrPastOccurrence, http.StatusBadRequest, ""},
	{reservation.ErrCapacityExceeded, http.StatusBadRequest, ""},
	{reservation.ErrDuplicateReservation, http.StatusBadRequest, ""},
	{reservation.ErrNotActive, http.StatusBadRequest, ""},
	{reservation.ErrWindowPassed, http.StatusBadRequest, ""},
	{membership.ErrPlanNotFound, http.StatusNotFound, ""},
	{membership.ErrNoMembership, http.StatusNotFound, ""},
	{membership.ErrNotFound, http.StatusNotFound, ""},
	{ledger.ErrInsufficientCredits, http.StatusConflict, ""},
	{recurrence.ErrInvalidWindow, http.StatusBadRequest, ""},
	{model.ErrInvalidPattern, http.StatusBadRequest, ""},
	{model.ErrInvalidDateRange, http.StatusBadRequest, ""},
	{model.ErrInvalidTimeRange, http.StatusBadRequest, ""},
	{model.ErrMissingDays, http.StatusBadRequest, ""},
	{payment.ErrInvalidAmount, http.StatusBadRequest, ""},
	{payment.ErrSignatureInvalid, http.StatusBadRequest, ""},
	{payment.ErrMalformedPayload, http.StatusBadRequest, ""},
	{payment.ErrUnknownProvider, http.StatusBadRequest, ""},
	{payment.ErrGatewayUnavailable, http.StatusServiceUnavailable, "payment provider unavailable"},
	{payment.ErrGatewayRejected, http.StatusBadGateway, "payment provider rejected the request"},
	{repository.ErrNotFound, http.StatusNotFound, "not found"},
	{repository.ErrConflict, http.StatusConflict, ""},
}

func statusFor(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			if e.msg != "" {
				return e.status, e.msg
			}
			return e.status, err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// respondError writes the JSON error body for err.
func respondError(c echo.Context, err error) error {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
	}
	return c.JSON(status, echo.Map{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
