package reservation

import "errors"

var (
	ErrValidation           = errors.New("invalid reservation request")
	ErrNotFound             = errors.New("reservation not found")
	ErrOccurrenceNotFound   = errors.New("occurrence not found")
	ErrInactive             = errors.New("occurrence is not open for reservations")
	ErrPastOccurrence       = errors.New("occurrence has already started")
	ErrCapacityExceeded     = errors.New("not enough places left")
	ErrDuplicateReservation = errors.New("member already holds a reservation for this occurrence")
	ErrNotActive            = errors.New("reservation is not active")
	ErrWindowPassed         = errors.New("cancellation window has passed")
	ErrGuestEmailRequired   = errors.New("guest email is required")
	ErrBadToken             = errors.New("cancellation token is missing or invalid")
	ErrInvalidServiceConfig = errors.New("invalid reservation engine configuration")
)
