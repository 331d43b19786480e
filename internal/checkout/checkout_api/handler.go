package checkout_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-engagements/internal/auth"
	"ms-engagements/internal/booking"
	"ms-engagements/internal/checkout"
	checkoutredis "ms-engagements/internal/checkout/redis"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/payment"
	"ms-engagements/internal/pricing"
	"ms-engagements/internal/utils"
)

const maxWebhookBytes = 64 << 10

// Orchestrator is the subset of *checkout.Orchestrator the handlers drive.
type Orchestrator interface {
	CreateCheckout(ctx context.Context, eventID, buyerID string, quantity int64) (*models.CheckoutSession, error)
	CreateBookingCheckout(ctx context.Context, bookingID, hostID string) (*models.CheckoutSession, error)
	GetSession(ctx context.Context, transactionID, buyerID string) (*models.CheckoutSession, error)
	RSVP(ctx context.Context, eventID, holderID string) (*checkout.Fulfillment, error)
	OnPaymentConfirmed(ctx context.Context, session models.CheckoutSession) (*checkout.Fulfillment, error)
}

type Handler struct {
	Checkout      Orchestrator
	WebhookSecret string
	Logger        *logger.Logger
}

func NewHandler(o Orchestrator, webhookSecret string, log *logger.Logger) *Handler {
	return &Handler{Checkout: o, WebhookSecret: webhookSecret, Logger: log}
}

func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := utils.Validate(r.Context(), req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid checkout request", err)
		return
	}

	session, err := h.Checkout.CreateCheckout(r.Context(), req.EventID, auth.UserID(r.Context()), req.Quantity)
	if err != nil {
		h.writeError(w, "CreateCheckout", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Checkout created", session)
}

func (h *Handler) CreateBookingCheckout(w http.ResponseWriter, r *http.Request) {
	session, err := h.Checkout.CreateBookingCheckout(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "CreateBookingCheckout", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Checkout created", session)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.Checkout.GetSession(r.Context(), chi.URLParam(r, "transactionId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetSession", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Checkout retrieved", session)
}

func (h *Handler) RSVP(w http.ResponseWriter, r *http.Request) {
	result, err := h.Checkout.RSVP(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "RSVP", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	utils.WriteSuccess(w, status, "RSVP confirmed", result)
}

// StripeWebhook handles webhook events from Stripe. Non-2xx responses make
// Stripe redeliver, so only failures a retry can fix answer with one.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	conf, err := payment.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), h.WebhookSecret)
	if err != nil {
		var webhookErr *payment.WebhookError
		if errors.As(err, &webhookErr) {
			if webhookErr.Category == "validation" {
				h.Logger.LogSecurity("WEBHOOK_SIGNATURE", webhookErr.InternalError)
			} else {
				h.Logger.Error("API", fmt.Sprintf("StripeWebhook: %s", webhookErr.InternalError))
			}
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusBadRequest)
		return
	}
	if conf == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if !conf.Succeeded {
		h.Logger.Warn("CHECKOUT", fmt.Sprintf("Payment %s failed (%s checkout by %s), nothing fulfilled",
			conf.TransactionID, conf.Metadata["kind"], conf.Metadata["buyer_id"]))
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := checkout.SessionFromConfirmation(conf)
	if err != nil {
		h.Logger.LogSecurity("WEBHOOK_METADATA", fmt.Sprintf("payment %s: %v", conf.TransactionID, err))
		http.Error(w, "Invalid payment metadata", http.StatusBadRequest)
		return
	}

	result, err := h.Checkout.OnPaymentConfirmed(r.Context(), session)
	switch {
	case err == nil:
	case errors.Is(err, checkout.ErrIntegrity):
		// Already logged as a security event; redelivery cannot change the outcome.
		w.WriteHeader(http.StatusOK)
		return
	case errors.Is(err, checkout.ErrInvalidSession):
		h.Logger.LogSecurity("WEBHOOK_SESSION", fmt.Sprintf("payment %s: %v", conf.TransactionID, err))
		w.WriteHeader(http.StatusOK)
		return
	case checkout.IsPermanent(err):
		h.Logger.Error("CHECKOUT", fmt.Sprintf("Payment %s captured but cannot be fulfilled, refund required: %v", conf.TransactionID, err))
		w.WriteHeader(http.StatusOK)
		return
	case errors.Is(err, checkout.ErrConfirmationInFlight):
		http.Error(w, "Confirmation in progress", http.StatusConflict)
		return
	default:
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: fulfilment of %s failed: %v", conf.TransactionID, err))
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("StripeWebhook: %s handled (replayed=%t)", conf.TransactionID, result.Replayed))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	if status == http.StatusInternalServerError {
		err = nil
	}
	utils.WriteError(w, status, "Checkout request failed", err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, checkout.ErrEventNotFound),
		errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, checkoutredis.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrInvalidSession),
		errors.Is(err, checkout.ErrNotBookingHost),
		errors.Is(err, booking.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, checkout.ErrEventNotTicketed),
		errors.Is(err, checkout.ErrEventTicketed),
		errors.Is(err, checkout.ErrBookingNotPayable):
		return http.StatusConflict
	case errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrNothingToCharge):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrPaymentProcessorUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
