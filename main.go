package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"ms-engagements/internal/auth"
	"ms-engagements/internal/booking"
	"ms-engagements/internal/booking/booking_api"
	bookingdb "ms-engagements/internal/booking/db"
	"ms-engagements/internal/checkin"
	"ms-engagements/internal/checkin/checkin_api"
	"ms-engagements/internal/checkout"
	"ms-engagements/internal/checkout/checkout_api"
	checkoutredis "ms-engagements/internal/checkout/redis"
	"ms-engagements/internal/config"
	"ms-engagements/internal/database"
	"ms-engagements/internal/events"
	"ms-engagements/internal/kafka"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/payment"
	"ms-engagements/internal/pricing"
	"ms-engagements/internal/sse"
	"ms-engagements/internal/tickets"
	"ms-engagements/internal/tickets/codec"
	ticketdb "ms-engagements/internal/tickets/db"
	"ms-engagements/internal/tickets/template"
	"ms-engagements/internal/tickets/ticket_api"
)

// confirmationHandler feeds payment confirmations from Kafka into the checkout
// orchestrator. Faults that a redelivery cannot fix are marked permanent so the
// consumer commits past them.
func confirmationHandler(o *checkout.Orchestrator, log *logger.Logger) kafka.ConfirmationHandler {
	return func(ctx context.Context, c *payment.Confirmation) error {
		session, err := checkout.SessionFromConfirmation(c)
		if err != nil {
			log.LogSecurity("CONFIRMATION_METADATA", fmt.Sprintf("transaction %s: %v", c.TransactionID, err))
			return kafka.Permanent(err)
		}
		result, err := o.OnPaymentConfirmed(ctx, session)
		switch {
		case checkout.IsPermanent(err):
			return kafka.Permanent(err)
		case err != nil:
			return err
		}
		if result != nil && result.Replayed {
			log.Info("CHECKOUT", fmt.Sprintf("Confirmation %s already fulfilled", c.TransactionID))
		}
		return nil
	}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	if cfg.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("Failed to initialize OIDC verifier: %v", err))
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens issued by %s", cfg.OIDCIssuer))
		return verifier
	}
	if cfg.DevJWTSecret != "" {
		log.Warn("AUTH", "OIDC_ISSUER not set, accepting HS256 tokens signed with AUTH_DEV_JWT_SECRET")
		return auth.HMACVerifier{Secret: []byte(cfg.DevJWTSecret)}
	}
	log.Fatal("CONFIG", "Neither OIDC_ISSUER nor AUTH_DEV_JWT_SECRET is set")
	return nil
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Engagements Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer redisClient.Close()

	if err := database.CreateSchema(ctx, bunDB); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to create schema: %v", err))
	}

	ticketCodec, err := codec.FromConfig(cfg.Tickets)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("Ticket signing keys: %v", err))
	}
	platformFee, err := pricing.ParsePercentage(cfg.Payment.PlatformFeePercentage)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("PLATFORM_FEE_PERCENTAGE: %v", err))
	}

	var (
		bookingNotifier booking.Notifier
		ticketNotifier  checkout.Notifier
		producer        *kafka.Producer
	)
	if cfg.Kafka.Enabled {
		logger.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		topics := []string{cfg.Kafka.Topics.BookingStatus, cfg.Kafka.Topics.TicketsIssued, cfg.Kafka.Topics.PaymentConfirmed}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		defer producer.Close()
		bookingNotifier, ticketNotifier = producer, producer
		logger.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		logger.Warn("KAFKA", "Kafka disabled, status changes will not be published")
	}

	processor, err := payment.NewStripeProcessor(cfg.Payment.StripeSecretKey, cfg.Payment.Timeout, logger)
	if err != nil {
		logger.Fatal("STRIPE", fmt.Sprintf("Failed to initialize Stripe: %v", err))
	}

	eventStore := events.NewStore(bunDB, logger)
	ticketService := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, ticketCodec,
		template.NewTicketPDFGenerator(cfg.Tickets.PDFFontPath), eventStore, logger)
	bookingService := booking.NewBookingService(&bookingdb.DB{Bun: bunDB}, bookingNotifier, eventStore, logger)

	orchestrator := checkout.NewOrchestrator(checkout.Config{
		Currency:           cfg.Payment.Currency,
		PlatformFee:        platformFee,
		MaxIssuanceRetries: cfg.Checkout.IssuanceMaxRetries,
	}, eventStore, processor, checkoutredis.NewRedis(redisClient, cfg.Checkout.SessionTTL),
		ticketService, bookingService, ticketNotifier, logger)

	emitter := sse.NewCheckInEmitter()
	checkInService := checkin.NewService(&ticketdb.DB{Bun: bunDB}, ticketCodec, emitter, logger)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentConfirmed, cfg.Kafka.GroupID, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(consumerCtx, confirmationHandler(orchestrator, logger)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("KAFKA", fmt.Sprintf("Payment confirmation consumer stopped: %v", err))
			}
		}()
	}

	bookingHandler := booking_api.NewHandler(bookingService, logger)
	checkoutHandler := checkout_api.NewHandler(orchestrator, cfg.Payment.StripeWebhookSecret, logger)
	ticketHandler := ticket_api.NewHandler(ticketService, logger)
	checkInHandler := checkin_api.NewHandler(checkInService, emitter, logger)
	verifier := newVerifier(ctx, cfg.Auth, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(logger.Requests)

	// --- Public Routes ---
	r.Post("/webhooks/stripe", checkoutHandler.StripeWebhook)
	r.Post("/api/tickets/validate", ticketHandler.ValidateTicket)
	logger.Info("ROUTER", "Public webhook and ticket validation endpoints registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		logger.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Route("/bookings", bookingHandler.Routes)
			r.Post("/bookings/{id}/checkout", checkoutHandler.CreateBookingCheckout)
			r.Get("/events/{eventId}/bookings", bookingHandler.ListEventBookings)
			logger.Info("ROUTER", "Booking routes registered under /api/bookings")

			r.Post("/checkout", checkoutHandler.CreateCheckout)
			r.Get("/checkout/{transactionId}", checkoutHandler.GetSession)
			r.Post("/events/{eventId}/rsvp", checkoutHandler.RSVP)
			logger.Info("ROUTER", "Checkout routes registered under /api/checkout")

			r.Route("/tickets", ticketHandler.Routes)
			r.Get("/events/{eventId}/tickets", ticketHandler.GetEventTickets)
			r.Get("/events/{eventId}/tickets/stats", ticketHandler.GetEventTicketStats)
			logger.Info("ROUTER", "Ticket routes registered under /api/tickets")

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleScanner))
				r.Post("/events/{eventId}/checkin", checkInHandler.CheckInTicket)
				r.Get("/events/{eventId}/checkins/stream", checkInHandler.StreamCheckIns)
			})
			logger.Info("ROUTER", "Check-in routes registered under /api/events/{eventId}")
		})
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Engagements Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopConsumer()
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Engagements Service shutdown complete")
	}
}
