package payment

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// Confirmation is the processor's asynchronous outcome for one payment intent.
type Confirmation struct {
	EventID       string            `json:"event_id"`
	TransactionID string            `json:"transaction_id"`
	Succeeded     bool              `json:"succeeded"`
	AmountCents   int64             `json:"amount_cents"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// ParseWebhook verifies the Stripe-Signature header and extracts the payment
// outcome. Events that carry no payment outcome return nil without error.
func ParseWebhook(payload []byte, sigHeader, secret string) (*Confirmation, error) {
	if secret == "" {
		return nil, &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, opts)
	if err != nil {
		return nil, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	var succeeded bool
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		succeeded = true
	case stripe.EventTypePaymentIntentPaymentFailed:
		succeeded = false
	default:
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal payment intent: %v", err),
			OriginalErr:   err,
		}
	}
	if pi.ID == "" {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid payment intent data",
			InternalError: "Payment intent has no id",
		}
	}

	amount := pi.Amount
	if succeeded {
		amount = pi.AmountReceived
	}
	return &Confirmation{
		EventID:       event.ID,
		TransactionID: pi.ID,
		Succeeded:     succeeded,
		AmountCents:   amount,
		Currency:      string(pi.Currency),
		Metadata:      pi.Metadata,
	}, nil
}
