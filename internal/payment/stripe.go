// Package payment adapts Stripe payment intents and webhooks to the checkout flow.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ms-engagements/internal/logger"
)

var (
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrNotConfigured        = errors.New("stripe secret key is not configured")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

// MetadataCheckoutID doubles as the idempotency key of the intent.
const MetadataCheckoutID = "checkout_id"

// Intent is what the buyer's client needs to complete a payment.
type Intent struct {
	ClientHandle  string
	TransactionID string
}

type StripeProcessor struct {
	client *client.API
	log    *logger.Logger
}

// NewStripeProcessor builds a client that never retries on its own. A retried
// charge creation could bill the buyer twice, so failures go back to the caller.
func NewStripeProcessor(secretKey string, timeout time.Duration, log *logger.Logger) (*StripeProcessor, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrNotConfigured
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeProcessor{client: client.New(secretKey, backends), log: log}, nil
}

// CreatePaymentIntent asks Stripe to charge amountCents. metadata travels with the
// intent and comes back on the webhook.
func (p *StripeProcessor) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: metadata,
	}
	params.Context = ctx
	if key := metadata[MetadataCheckoutID]; key != "" {
		params.SetIdempotencyKey(key)
	}

	pi, err := p.client.PaymentIntents.New(params)
	if err != nil {
		p.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for %d %s: %v", amountCents, currency, err))
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}

	p.log.Info("STRIPE", fmt.Sprintf("Payment intent created: %s (%d %s)", pi.ID, amountCents, currency))
	return &Intent{ClientHandle: pi.ClientSecret, TransactionID: pi.ID}, nil
}
