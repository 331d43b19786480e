package checkout

import (
	"context"
	"fmt"

	"ms-engagements/internal/booking"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/tickets"
)

// Fulfillment is what a confirmed checkout produced. Replayed is set when an
// earlier delivery of the same transaction already did the work.
type Fulfillment struct {
	Kind     models.CheckoutKind     `json:"kind"`
	Tickets  []models.TicketWithCode `json:"tickets,omitempty"`
	Booking  *models.Booking         `json:"booking,omitempty"`
	Replayed bool                    `json:"replayed"`
}

// Fulfiller delivers what one checkout kind sells.
type Fulfiller interface {
	Fulfill(ctx context.Context, session models.CheckoutSession) (*Fulfillment, error)
}

type ticketFulfiller struct {
	tickets  TicketIssuer
	notifier Notifier
	log      *logger.Logger
}

func (f *ticketFulfiller) Fulfill(ctx context.Context, s models.CheckoutSession) (*Fulfillment, error) {
	marker := models.PaymentConfirmation{
		TransactionID: s.TransactionID,
		Kind:          s.Kind,
		SubjectID:     s.EventID,
		BuyerID:       s.BuyerID,
		Quantity:      s.Quantity,
		AmountCents:   s.CapturedCents,
		CreatedAt:     s.CreatedAt,
	}

	issued, fresh, err := f.tickets.Issue(ctx, tickets.IssueRequest{
		EventID:  s.EventID,
		HolderID: s.BuyerID,
		Quantity: s.Quantity,
		Marker:   marker,
	})
	if err != nil {
		return nil, err
	}

	if fresh && f.notifier != nil {
		if err := f.notifier.TicketsIssued(ctx, s.TransactionID, issued); err != nil {
			f.log.Error("CHECKOUT", fmt.Sprintf("Failed to announce tickets of %s: %v", s.TransactionID, err))
		}
	}
	return &Fulfillment{Kind: s.Kind, Tickets: issued, Replayed: !fresh}, nil
}

type bookingFulfiller struct {
	bookings BookingConfirmer
}

func (f *bookingFulfiller) Fulfill(ctx context.Context, s models.CheckoutSession) (*Fulfillment, error) {
	b, fresh, err := f.bookings.ConfirmPayment(ctx, s.BookingID, booking.Capture{
		TransactionID: s.TransactionID,
		AmountCents:   s.CapturedCents,
	})
	if err != nil {
		return nil, err
	}
	return &Fulfillment{Kind: s.Kind, Booking: b, Replayed: !fresh}, nil
}
