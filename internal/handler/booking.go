package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-reservation/internal/booking"
	"github.com/iliyamo/theater-reservation/internal/inventory"
	"github.com/iliyamo/theater-reservation/internal/model"
	"github.com/iliyamo/theater-reservation/internal/session"
)

// BookingHandler exposes the customer-facing booking surface: creating
// reservations, checking seat availability and opening/closing checkout
// sessions.  Authentication is deliberately absent here; booking is open
// to the public and identified by phone number only.
type BookingHandler struct {
	Service *booking.Service      // reservation state machine
	Lock    *inventory.Manager    // availability hint reads
	Guard   booking.SessionGuard  // checkout-session guard; nil when Redis is down
}

// NewBookingHandler constructs a BookingHandler.  Service and Lock must be
// non-nil; Guard may be nil, which disables the checkout-session routes'
// guarantees (they respond as if every seat were free of sessions).
func NewBookingHandler(svc *booking.Service, lock *inventory.Manager, guard booking.SessionGuard) *BookingHandler {
	if svc == nil || lock == nil {
		panic("nil service or lock manager passed to NewBookingHandler")
	}
	return &BookingHandler{Service: svc, Lock: lock, Guard: guard}
}

// seatRef is the wire form of one requested seat.
type seatRef struct {
	Row    string `json:"row"`
	Number uint32 `json:"number"`
}

func seatKeysFrom(showDate string, seats []seatRef) []model.SeatKey {
	keys := make([]model.SeatKey, 0, len(seats))
	for _, s := range seats {
		keys = append(keys, model.SeatKey{ShowDate: showDate, Row: s.Row, Number: s.Number})
	}
	return keys
}

// respondBookingError maps the booking error taxonomy onto HTTP statuses.
// Conflicts carry the contended seat labels so the UI can prompt
// reselection.
func respondBookingError(c echo.Context, err error) error {
	var ve *booking.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Reason})
	}
	var ce *booking.ConflictError
	if errors.As(err, &ce) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":             "some seats are unavailable",
			"conflicting_seats": model.SeatLabels(ce.Seats),
		})
	}
	if errors.Is(err, booking.ErrCapacityExceeded) {
		return c.JSON(http.StatusConflict, echo.Map{"error": booking.ErrCapacityExceeded.Error()})
	}
	if errors.Is(err, booking.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// reservationResponse is the wire form of a reservation returned to
// clients and the admin surface.
type reservationResponse struct {
	ID          string             `json:"id"`
	FirstName   string             `json:"first_name"`
	LastName    string             `json:"last_name"`
	PhoneNumber string             `json:"phone_number"`
	ShowDate    string             `json:"show_date"`
	Status      string             `json:"status"`
	Seats       []seatStatusEntry  `json:"seats"`
	CreatedAt   string             `json:"created_at"`
	ExpiresAt   *string            `json:"expires_at,omitempty"`
}

type seatStatusEntry struct {
	Seat     string `json:"seat"`     // stable seat id, e.g. "2024-05-01_A-1"
	Label    string `json:"label"`    // display label, e.g. "A-1"
	Decision string `json:"decision"` // per-seat outcome
}

func toReservationResponse(res *model.Reservation) reservationResponse {
	out := reservationResponse{
		ID:          res.ID,
		FirstName:   res.FirstName,
		LastName:    res.LastName,
		PhoneNumber: res.PhoneNumber,
		ShowDate:    res.ShowDate,
		Status:      string(res.Status),
		Seats:       make([]seatStatusEntry, 0, len(res.Seats)),
		CreatedAt:   res.CreatedAt.Format(time.RFC3339),
	}
	if res.ExpiresAt != nil {
		iso := res.ExpiresAt.Format(time.RFC3339)
		out.ExpiresAt = &iso
	}
	for _, s := range res.Seats {
		out.Seats = append(out.Seats, seatStatusEntry{
			Seat:     s.Key.ID(),
			Label:    s.Key.Label(),
			Decision: string(s.Decision),
		})
	}
	return out
}

// CreateReservation handles POST /v1/reservations.  The body names the
// requester, the show date and the seats to book; all seats are acquired
// atomically and a PENDING reservation with a checkout deadline is
// returned with 201.  Contended seats produce 409 naming the conflicts.
func (h *BookingHandler) CreateReservation(c echo.Context) error {
	var body struct {
		FirstName    string    `json:"first_name"`
		LastName     string    `json:"last_name"`
		PhoneNumber  string    `json:"phone_number"`
		ShowDate     string    `json:"show_date"`
		Seats        []seatRef `json:"seats"`
		SessionToken string    `json:"session_token"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.Service.CreateReservation(c.Request().Context(), booking.CreateReservationRequest{
		FirstName:     body.FirstName,
		LastName:      body.LastName,
		PhoneNumber:   body.PhoneNumber,
		ShowDate:      body.ShowDate,
		Seats:         seatKeysFrom(body.ShowDate, body.Seats),
		SessionHolder: body.SessionToken,
	})
	if err != nil {
		return respondBookingError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": toReservationResponse(res)})
}

// SeatAvailability handles GET /v1/seats/availability.  Query parameters
// show_date, row and number identify the seat.  The response is a
// best-effort hint for the seat map; the authoritative check happens when
// the reservation is created.
func (h *BookingHandler) SeatAvailability(c echo.Context) error {
	num, err := strconv.ParseUint(c.QueryParam("number"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat number"})
	}
	key := model.SeatKey{
		ShowDate: c.QueryParam("show_date"),
		Row:      c.QueryParam("row"),
		Number:   uint32(num),
	}
	if err := key.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	available, err := h.Lock.IsAvailable(c.Request().Context(), key)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check availability"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"seat":      key.ID(),
		"available": available,
	})
}

// OpenCheckoutSession handles POST /v1/checkout-sessions.  It issues a
// session token and guards the requested seat combination for the session
// TTL, so two browsers cannot both work the same seats through selection.
// Returns 409 when another unexpired session already guards any of them.
func (h *BookingHandler) OpenCheckoutSession(c echo.Context) error {
	var body struct {
		ShowDate string    `json:"show_date"`
		Seats    []seatRef `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	keys := seatKeysFrom(body.ShowDate, body.Seats)
	if len(keys) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats are required"})
	}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
	}
	if h.Guard == nil {
		// Redis unavailable: the guard is advisory, booking still works.
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "checkout sessions unavailable"})
	}
	token := uuid.NewString()
	sess, err := h.Guard.CreateSession(c.Request().Context(), keys, token)
	if err != nil {
		var guarded *session.AlreadyGuardedError
		if errors.As(err, &guarded) {
			return c.JSON(http.StatusConflict, echo.Map{
				"error":             "seats are being booked by another session",
				"conflicting_seats": model.SeatLabels(guarded.Seats),
			})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to open checkout session"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"session_token": sess.Holder,
		"seats":         model.SeatLabels(sess.SeatKeys),
		"expires_at":    sess.ExpiresAt.Format(time.RFC3339),
	})
}

// CloseCheckoutSession handles DELETE /v1/checkout-sessions.  It releases
// the guard held by the provided token over the given seats.  Closing an
// expired or unknown session is a no-op returning 204.
func (h *BookingHandler) CloseCheckoutSession(c echo.Context) error {
	var body struct {
		ShowDate     string    `json:"show_date"`
		Seats        []seatRef `json:"seats"`
		SessionToken string    `json:"session_token"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if h.Guard == nil {
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.Guard.ClearSession(c.Request().Context(), seatKeysFrom(body.ShowDate, body.Seats), body.SessionToken); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to close checkout session"})
	}
	return c.NoContent(http.StatusNoContent)
}
