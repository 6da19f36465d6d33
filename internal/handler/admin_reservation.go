package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theater-reservation/internal/booking"
	"github.com/iliyamo/theater-reservation/internal/model"
)

// AdminReservationHandler exposes the review surface operators use to
// approve or reject pending reservations, either whole or seat by seat.
// Operator authentication sits in front of these routes at the gateway;
// the engine itself treats every caller of /v1/admin as trusted.
type AdminReservationHandler struct {
	Service *booking.Service
}

// NewAdminReservationHandler constructs an AdminReservationHandler.
func NewAdminReservationHandler(svc *booking.Service) *AdminReservationHandler {
	if svc == nil {
		panic("nil service passed to NewAdminReservationHandler")
	}
	return &AdminReservationHandler{Service: svc}
}

// ListPending handles GET /v1/admin/reservations.  Pending reservations
// are returned oldest deadline first, so the ones about to expire surface
// at the top of the review queue.
func (h *AdminReservationHandler) ListPending(c echo.Context) error {
	items, err := h.Service.ListPending(c.Request().Context())
	if err != nil {
		return respondBookingError(c, err)
	}
	out := make([]reservationResponse, 0, len(items))
	for i := range items {
		out = append(out, toReservationResponse(&items[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items": out,
		"count": len(out),
	})
}

// GetReservation handles GET /v1/admin/reservations/:id.
func (h *AdminReservationHandler) GetReservation(c echo.Context) error {
	res, err := h.Service.GetReservation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": toReservationResponse(res)})
}

// Approve handles POST /v1/admin/reservations/:id/approve.  Every seat of
// the reservation is finalized in one transaction.  Re-approving an
// approved reservation returns 200; approving a rejected one returns 409.
func (h *AdminReservationHandler) Approve(c echo.Context) error {
	id := c.Param("id")
	if err := h.Service.ApproveReservation(c.Request().Context(), id); err != nil {
		return respondBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":     id,
		"status": string(model.ReservationApproved),
	})
}

// Reject handles POST /v1/admin/reservations/:id/reject.  Every seat is
// released back to AVAILABLE in the same transaction that marks the
// reservation REJECTED.
func (h *AdminReservationHandler) Reject(c echo.Context) error {
	id := c.Param("id")
	if err := h.Service.RejectReservation(c.Request().Context(), id); err != nil {
		return respondBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":     id,
		"status": string(model.ReservationRejected),
	})
}

// seatParam parses the :seat path segment, which carries the full seat id
// ("2024-05-01_A-12") so one URL names one seat unambiguously.
func seatParam(c echo.Context) (model.SeatKey, error) {
	return model.ParseSeatKey(c.Param("seat"))
}

// ApproveSeat handles POST /v1/admin/reservations/:id/seats/:seat/approve.
// It records the decision for that single seat and reports the resulting
// aggregate status, which stays PENDING until every seat is decided.
func (h *AdminReservationHandler) ApproveSeat(c echo.Context) error {
	key, err := seatParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	id := c.Param("id")
	status, err := h.Service.ApproveSeat(c.Request().Context(), id, key)
	if err != nil {
		return respondBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":     id,
		"seat":   key.ID(),
		"status": string(status),
	})
}

// RejectSeat handles POST /v1/admin/reservations/:id/seats/:seat/reject.
// The seat is released back to AVAILABLE immediately; the reservation's
// other seats are untouched.
func (h *AdminReservationHandler) RejectSeat(c echo.Context) error {
	key, err := seatParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	id := c.Param("id")
	status, err := h.Service.RejectSeat(c.Request().Context(), id, key)
	if err != nil {
		return respondBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":     id,
		"seat":   key.ID(),
		"status": string(status),
	})
}
