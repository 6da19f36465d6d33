// Package booking implements the reservation state machine: creation of
// pending reservations with all-or-nothing seat acquisition, administrative
// approval and rejection (whole reservation or per seat), and the error
// taxonomy shared with the HTTP layer.
package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/theater-reservation/internal/model"
)

// ErrNotFound is returned when an operation targets a reservation or seat
// that does not exist.  Handlers should translate this into HTTP 404.
var ErrNotFound = errors.New("reservation not found")

// ErrCapacityExceeded is returned when a phone number already has the
// maximum allowed number of active reservations.  The request is terminal;
// retrying without freeing a reservation will fail again.
var ErrCapacityExceeded = errors.New("reservation limit reached for this phone number")

// ValidationError reports a malformed request.  It is raised before any
// side effect, so callers may safely correct and resubmit.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid reservation request: " + e.Reason }

// ConflictError reports that one or more requested seats are held or
// approved under another reservation.  Seats carries the specific
// contended keys so the UI can prompt reselection.  Safe to retry after
// the user picks different seats.
type ConflictError struct {
	Seats []model.SeatKey
}

func (e *ConflictError) Error() string {
	if len(e.Seats) == 0 {
		return "reservation state conflict"
	}
	return fmt.Sprintf("seats not available: %s", strings.Join(model.SeatLabels(e.Seats), ", "))
}

// StoreError wraps a failure of the transactional store.  The wrapped
// error is preserved for logging; callers should treat the operation as
// not applied (partial multi-seat mutations are rolled back before this
// error surfaces).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
