package models

import (
	"time"

	"github.com/uptrace/bun"
)

// PricingBreakdown is an itemized, non-persisted quote in integer cents.
type PricingBreakdown struct {
	UnitPriceCents int64 `json:"unit_price_cents"`
	Quantity       int64 `json:"quantity"`
	SubtotalCents  int64 `json:"subtotal_cents"`
	FeeCents       int64 `json:"fee_cents"`
	TotalCents     int64 `json:"total_cents"`
}

type CheckoutKind string

const (
	CheckoutTickets CheckoutKind = "tickets"
	CheckoutBooking CheckoutKind = "booking"
	CheckoutRSVP    CheckoutKind = "rsvp"
)

// SessionStatus tells a polling client whether its payment has been fulfilled.
type SessionStatus string

const (
	SessionAwaitingPayment SessionStatus = "awaiting_payment"
	SessionFulfilled       SessionStatus = "fulfilled"
)

type CheckoutSession struct {
	Kind          CheckoutKind     `json:"kind"`
	EventID       string           `json:"event_id,omitempty"`
	BookingID     string           `json:"booking_id,omitempty"`
	BuyerID       string           `json:"buyer_id"`
	Quantity      int64            `json:"quantity"`
	FeePercentage string           `json:"fee_percentage"`
	Currency      string           `json:"currency"`
	Breakdown     PricingBreakdown `json:"breakdown"`
	ClientHandle  string           `json:"client_handle,omitempty"`
	TransactionID string           `json:"transaction_id"`
	// Set by the confirmation collaborator from the processor's callback.
	CapturedCents int64         `json:"captured_cents,omitempty"`
	Status        SessionStatus `json:"status,omitempty"`
	TicketIDs     []string      `json:"ticket_ids,omitempty"`
	FulfilledAt   time.Time     `json:"fulfilled_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// MaxTicketsPerCheckout caps one purchase. The lte tag below must match.
const MaxTicketsPerCheckout = 50

type CheckoutRequest struct {
	EventID  string `json:"event_id" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gte=1,lte=50"`
}

// PaymentConfirmation is the idempotency marker for one processor transaction.
type PaymentConfirmation struct {
	bun.BaseModel `bun:"table:payment_confirmations"`

	TransactionID string       `bun:"transaction_id,pk" json:"transaction_id"`
	Kind          CheckoutKind `bun:"kind,notnull" json:"kind"`
	SubjectID     string       `bun:"subject_id,notnull" json:"subject_id"`
	BuyerID       string       `bun:"buyer_id,notnull" json:"buyer_id"`
	Quantity      int64        `bun:"quantity,notnull" json:"quantity"`
	AmountCents   int64        `bun:"amount_cents,notnull" json:"amount_cents"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
}
