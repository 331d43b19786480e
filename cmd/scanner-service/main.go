// Command scanner-service serves only the door endpoints so venue scanners can
// run next to the gate without the checkout stack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"ms-engagements/internal/auth"
	"ms-engagements/internal/checkin"
	"ms-engagements/internal/checkin/checkin_api"
	"ms-engagements/internal/config"
	"ms-engagements/internal/database"
	"ms-engagements/internal/events"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/sse"
	"ms-engagements/internal/tickets"
	"ms-engagements/internal/tickets/codec"
	ticketdb "ms-engagements/internal/tickets/db"
	"ms-engagements/internal/tickets/ticket_api"
)

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Scanner Service initialization")
	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()
	ctx := context.Background()

	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	ticketCodec, err := codec.FromConfig(cfg.Tickets)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("Ticket signing keys: %v", err))
	}

	var verifier auth.TokenVerifier
	switch {
	case cfg.Auth.OIDCIssuer != "":
		if verifier, err = auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer); err != nil {
			logger.Fatal("AUTH", fmt.Sprintf("Failed to initialize OIDC verifier: %v", err))
		}
	case cfg.Auth.DevJWTSecret != "":
		logger.Warn("AUTH", "OIDC_ISSUER not set, accepting HS256 tokens signed with AUTH_DEV_JWT_SECRET")
		verifier = auth.HMACVerifier{Secret: []byte(cfg.Auth.DevJWTSecret)}
	default:
		logger.Fatal("CONFIG", "Neither OIDC_ISSUER nor AUTH_DEV_JWT_SECRET is set")
	}

	db := &ticketdb.DB{Bun: bunDB}
	ticketService := tickets.NewTicketService(db, ticketCodec, nil, events.NewStore(bunDB, logger), logger)
	emitter := sse.NewCheckInEmitter()
	checkInService := checkin.NewService(db, ticketCodec, emitter, logger)

	ticketHandler := ticket_api.NewHandler(ticketService, logger)
	checkInHandler := checkin_api.NewHandler(checkInService, emitter, logger)

	r := chi.NewRouter()
	r.Use(logger.Requests)
	r.Post("/api/tickets/validate", ticketHandler.ValidateTicket)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier), auth.RequireRole(auth.RoleScanner))
		r.Post("/api/events/{eventId}/checkin", checkInHandler.CheckInTicket)
	})
	logger.Info("ROUTER", "Validation and check-in routes registered")

	server := &http.Server{
		Addr:         cfg.Server.ScannerPort,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Scanner Service running on %s", cfg.Server.ScannerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
}
