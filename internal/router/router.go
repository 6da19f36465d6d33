package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/theater-reservation/internal/config"
	"github.com/iliyamo/theater-reservation/internal/handler"
	"github.com/iliyamo/theater-reservation/internal/middleware"
)

// RegisterRoutes registers routes that carry no booking logic on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and monitoring to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterBooking registers the customer-facing booking surface.  The
// availability hint endpoint sits behind the short-TTL response cache;
// everything that mutates state is rate limited but never cached.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, rdb *redis.Client, rl config.RateLimitConfig, cc config.CacheConfig) {
	limit := middleware.NewTokenBucket(rl, rdb)
	cache := middleware.NewRedisCache(cc, rdb)

	g := e.Group("/v1")

	// Create a reservation: acquires all requested seat locks atomically
	// and persists the PENDING reservation with its checkout deadline.
	g.POST("/reservations", b.CreateReservation, limit)

	// Availability hint for the seat map.  Stale by at most the cache TTL;
	// the acquire transaction remains the authoritative check.
	g.GET("/seats/availability", b.SeatAvailability, cache)

	// Checkout sessions guard a seat combination while the user fills in
	// the booking form.  They expire on their own in Redis.
	g.POST("/checkout-sessions", b.OpenCheckoutSession, limit)
	g.DELETE("/checkout-sessions", b.CloseCheckoutSession)
}

// RegisterAdmin registers the operator review surface under /v1/admin.
// Authentication for these routes is enforced by the gateway in front of
// the service, so no auth middleware is applied here.
func RegisterAdmin(e *echo.Echo, a *handler.AdminReservationHandler) {
	g := e.Group("/v1/admin")

	// Review queue, oldest checkout deadline first.
	g.GET("/reservations", a.ListPending)
	// Full reservation detail including per-seat decisions.
	g.GET("/reservations/:id", a.GetReservation)

	// Whole-reservation transitions.
	g.POST("/reservations/:id/approve", a.Approve)
	g.POST("/reservations/:id/reject", a.Reject)

	// Per-seat decisions.  :seat carries the full seat id, e.g.
	// "2024-05-01_A-12", so one URL names exactly one seat.
	g.POST("/reservations/:id/seats/:seat/approve", a.ApproveSeat)
	g.POST("/reservations/:id/seats/:seat/reject", a.RejectSeat)
}
