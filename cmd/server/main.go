package main // Entry point package

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"   // loads .env files in development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/theater-reservation/internal/booking"
	"github.com/iliyamo/theater-reservation/internal/config"
	"github.com/iliyamo/theater-reservation/internal/database"
	"github.com/iliyamo/theater-reservation/internal/handler"
	"github.com/iliyamo/theater-reservation/internal/inventory"
	"github.com/iliyamo/theater-reservation/internal/queue"
	"github.com/iliyamo/theater-reservation/internal/reconciler"
	"github.com/iliyamo/theater-reservation/internal/repository"
	"github.com/iliyamo/theater-reservation/internal/router"
	queue_publisher "github.com/iliyamo/theater-reservation/internal/service"
	"github.com/iliyamo/theater-reservation/internal/session"
)

func main() {
	// .env is a development convenience; absence is fine in production.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	// Redis backs the session guard, rate limiter and availability cache.
	// All three degrade gracefully when it is unreachable; seat
	// correctness lives entirely in MySQL transactions.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: session guard, rate limiting and caching disabled")
	}

	seatRepo := repository.NewSeatRepo(db)
	resRepo := repository.NewReservationRepo(db)
	lock := inventory.NewManager(seatRepo)

	// Assign through the interface only when Redis is up, so a typed-nil
	// *session.Guard never masquerades as a live guard.
	var guard booking.SessionGuard
	if rdb != nil {
		guard = session.NewGuard(rdb, cfg.SessionTTL)
	}

	pub := queue_publisher.NewPublisher()
	svc := booking.NewService(resRepo, lock, guard, pub, cfg.ReservationWindow, cfg.PhoneCap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background sweep for expired reservations and orphaned seat locks.
	rec := reconciler.New(resRepo, cfg.ReconcileInterval)
	go rec.Run(ctx)

	// Drains reservation.created into the notification log.
	go func() {
		if err := queue.StartReservationConsumer(); err != nil {
			log.Printf("reservation consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	router.RegisterRoutes(e)
	router.RegisterBooking(e, handler.NewBookingHandler(svc, lock, guard), rdb, config.LoadRateLimitConfig(), config.LoadCacheConfig())
	router.RegisterAdmin(e, handler.NewAdminReservationHandler(svc))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	// Graceful shutdown: stop taking requests, then stop the background
	// workers.  In-flight acquire transactions finish or roll back on
	// their own.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	cancel()
}
