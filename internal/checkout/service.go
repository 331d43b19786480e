// Package checkout turns quotes into payment intents and confirmed payments into
// tickets or confirmed bookings, exactly once per processor transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-engagements/internal/booking"
	"ms-engagements/internal/events"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/payment"
	"ms-engagements/internal/pricing"
	"ms-engagements/internal/signature"
	"ms-engagements/internal/tickets"
)

var (
	ErrEventNotFound               = events.ErrEventNotFound
	ErrPaymentProcessorUnavailable = payment.ErrProcessorUnavailable
	ErrEventNotTicketed            = errors.New("event is free, use RSVP instead of checkout")
	ErrEventTicketed               = errors.New("event requires a ticket purchase")
	ErrNotBookingHost              = errors.New("only the booking's host can pay for it")
	ErrBookingNotPayable           = errors.New("booking is not awaiting payment")
	ErrNothingToCharge             = errors.New("checkout total is zero")
	ErrInvalidSession              = errors.New("invalid checkout session")
	ErrUnknownKind                 = errors.New("no fulfiller for checkout kind")
	ErrIntegrity                   = errors.New("payment integrity fault")
	ErrConfirmationInFlight        = errors.New("confirmation for this transaction is already being processed")
)

type EventStore interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type PaymentProcessor interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*payment.Intent, error)
}

type SessionStore interface {
	SaveSession(ctx context.Context, s models.CheckoutSession) error
	GetSession(ctx context.Context, transactionID string) (*models.CheckoutSession, error)
	LockConfirmation(ctx context.Context, transactionID, owner string) (bool, error)
	UnlockConfirmation(ctx context.Context, transactionID, owner string) error
}

type TicketIssuer interface {
	Issue(ctx context.Context, req tickets.IssueRequest) ([]models.TicketWithCode, bool, error)
}

type BookingConfirmer interface {
	Get(ctx context.Context, id, actorID string) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, id string, capture booking.Capture) (*models.Booking, bool, error)
}

// Notifier announces freshly issued tickets. Failures are logged only.
type Notifier interface {
	TicketsIssued(ctx context.Context, transactionID string, issued []models.TicketWithCode) error
}

type Config struct {
	Currency           string
	PlatformFee        decimal.Decimal
	MaxIssuanceRetries int
	RetryInterval      time.Duration
}

type Orchestrator struct {
	Events     EventStore
	Payments   PaymentProcessor
	Sessions   SessionStore
	Bookings   BookingConfirmer
	Logger     *logger.Logger
	Now        func() time.Time
	cfg        Config
	fulfillers map[models.CheckoutKind]Fulfiller
}

func NewOrchestrator(cfg Config, ev EventStore, payments PaymentProcessor, sessions SessionStore,
	issuer TicketIssuer, bookings BookingConfirmer, notifier Notifier, log *logger.Logger) *Orchestrator {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	tf := &ticketFulfiller{tickets: issuer, notifier: notifier, log: log}
	return &Orchestrator{
		Events:   ev,
		Payments: payments,
		Sessions: sessions,
		Bookings: bookings,
		Logger:   log,
		Now:      time.Now,
		cfg:      cfg,
		fulfillers: map[models.CheckoutKind]Fulfiller{
			models.CheckoutTickets: tf,
			models.CheckoutRSVP:    tf,
			models.CheckoutBooking: &bookingFulfiller{bookings: bookings},
		},
	}
}

// CreateCheckout quotes quantity tickets for a paid event and opens a payment
// intent for exactly the quoted total.
func (o *Orchestrator) CreateCheckout(ctx context.Context, eventID, buyerID string, quantity int64) (*models.CheckoutSession, error) {
	if quantity < 1 || quantity > models.MaxTicketsPerCheckout {
		return nil, fmt.Errorf("%w: got %d, at most %d per checkout", pricing.ErrInvalidQuantity, quantity, models.MaxTicketsPerCheckout)
	}
	event, err := o.Events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.Ticketed() {
		return nil, ErrEventNotTicketed
	}
	pct, err := o.feeFor(event)
	if err != nil {
		return nil, err
	}
	breakdown, err := pricing.ComputeBreakdown(event.TicketPriceCents, quantity, pct)
	if err != nil {
		return nil, err
	}

	session := models.CheckoutSession{
		Kind:          models.CheckoutTickets,
		EventID:       event.ID,
		BuyerID:       buyerID,
		Quantity:      quantity,
		FeePercentage: pct.String(),
		Currency:      o.cfg.Currency,
		Breakdown:     breakdown,
	}
	return o.open(ctx, session)
}

// CreateBookingCheckout opens a payment intent for a booking the host has moved
// to awaiting_payment. The platform fee is charged on top of the booking price.
func (o *Orchestrator) CreateBookingCheckout(ctx context.Context, bookingID, hostID string) (*models.CheckoutSession, error) {
	b, err := o.Bookings.Get(ctx, bookingID, hostID)
	if err != nil {
		return nil, err
	}
	if b.HostID != hostID {
		return nil, ErrNotBookingHost
	}
	if b.Status != models.BookingAwaitingPayment {
		return nil, fmt.Errorf("%w: booking is %s", ErrBookingNotPayable, b.Status)
	}
	breakdown, err := pricing.ComputeBreakdown(b.PriceCents, 1, o.cfg.PlatformFee)
	if err != nil {
		return nil, err
	}

	session := models.CheckoutSession{
		Kind:          models.CheckoutBooking,
		EventID:       b.EventID,
		BookingID:     b.ID,
		BuyerID:       hostID,
		Quantity:      1,
		FeePercentage: o.cfg.PlatformFee.String(),
		Currency:      o.cfg.Currency,
		Breakdown:     breakdown,
	}
	return o.open(ctx, session)
}

func (o *Orchestrator) open(ctx context.Context, session models.CheckoutSession) (*models.CheckoutSession, error) {
	if session.Breakdown.TotalCents <= 0 {
		return nil, ErrNothingToCharge
	}

	checkoutID := uuid.New().String()
	intent, err := o.Payments.CreatePaymentIntent(ctx, session.Breakdown.TotalCents, session.Currency, sessionMetadata(checkoutID, session))
	if err != nil {
		o.Logger.Error("CHECKOUT", fmt.Sprintf("Payment intent for %s checkout by %s failed: %v", session.Kind, session.BuyerID, err))
		if errors.Is(err, ErrPaymentProcessorUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentProcessorUnavailable, err)
	}

	session.ClientHandle = intent.ClientHandle
	session.TransactionID = intent.TransactionID
	session.Status = models.SessionAwaitingPayment
	session.CreatedAt = o.Now().UTC()

	if o.Sessions != nil {
		if err := o.Sessions.SaveSession(ctx, session); err != nil {
			o.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to cache checkout session %s: %v", session.TransactionID, err))
		}
	}
	o.Logger.Info("CHECKOUT", fmt.Sprintf("Opened %s checkout %s for %d cents (subtotal %d, fee %d)",
		session.Kind, session.TransactionID, session.Breakdown.TotalCents, session.Breakdown.SubtotalCents, session.Breakdown.FeeCents))
	return &session, nil
}

// GetSession returns a cached session to its buyer.
func (o *Orchestrator) GetSession(ctx context.Context, transactionID, buyerID string) (*models.CheckoutSession, error) {
	s, err := o.Sessions.GetSession(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if s.BuyerID != buyerID {
		return nil, ErrInvalidSession
	}
	return s, nil
}

// RSVP admits a holder to a free event. Repeating it returns the same ticket.
func (o *Orchestrator) RSVP(ctx context.Context, eventID, holderID string) (*Fulfillment, error) {
	event, err := o.Events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Ticketed() {
		return nil, ErrEventTicketed
	}
	session := models.CheckoutSession{
		Kind:          models.CheckoutRSVP,
		EventID:       eventID,
		BuyerID:       holderID,
		Quantity:      1,
		TransactionID: fmt.Sprintf("rsvp:%s:%s", eventID, holderID),
		CreatedAt:     o.Now().UTC(),
	}
	return o.fulfill(ctx, session)
}

// OnPaymentConfirmed fulfils a captured payment. It is safe under duplicate and
// concurrent delivery: the transaction id is the idempotency key, and a replay
// returns what the first delivery produced.
func (o *Orchestrator) OnPaymentConfirmed(ctx context.Context, session models.CheckoutSession) (*Fulfillment, error) {
	if session.TransactionID == "" || session.BuyerID == "" {
		return nil, fmt.Errorf("%w: missing transaction or buyer", ErrInvalidSession)
	}
	if session.Kind == models.CheckoutRSVP {
		return nil, fmt.Errorf("%w: rsvp sessions carry no payment", ErrInvalidSession)
	}

	pct, err := pricing.ParsePercentage(session.FeePercentage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if err := pricing.Reconcile(session.Breakdown, pct, session.CapturedCents); err != nil {
		o.Logger.LogSecurity("FEE_DIVERGENCE", fmt.Sprintf("transaction %s (%s %s/%s): %v",
			session.TransactionID, session.Kind, session.EventID, session.BookingID, err))
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = o.Now().UTC()
	}

	owner := uuid.New().String()
	if o.Sessions != nil {
		locked, err := o.Sessions.LockConfirmation(ctx, session.TransactionID, owner)
		switch {
		case err != nil:
			o.Logger.Warn("CHECKOUT", fmt.Sprintf("Confirmation lock unavailable for %s, relying on the database marker: %v", session.TransactionID, err))
		case !locked:
			return nil, ErrConfirmationInFlight
		default:
			defer func() {
				if err := o.Sessions.UnlockConfirmation(context.Background(), session.TransactionID, owner); err != nil {
					o.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to release confirmation lock for %s: %v", session.TransactionID, err))
				}
			}()
		}
	}

	result, err := o.fulfill(ctx, session)
	if err != nil {
		return nil, err
	}
	o.recordFulfillment(ctx, session, result)
	return result, nil
}

// recordFulfillment updates the cached session so a polling buyer sees the
// outcome. The cache is a hint; failures are only logged.
func (o *Orchestrator) recordFulfillment(ctx context.Context, session models.CheckoutSession, result *Fulfillment) {
	if o.Sessions == nil {
		return
	}
	cached, err := o.Sessions.GetSession(ctx, session.TransactionID)
	if err != nil {
		cached = &session
	}
	cached.Status = models.SessionFulfilled
	cached.CapturedCents = session.CapturedCents
	cached.TicketIDs = cached.TicketIDs[:0]
	for _, t := range result.Tickets {
		cached.TicketIDs = append(cached.TicketIDs, t.ID)
	}
	if result.Booking != nil {
		cached.BookingID = result.Booking.ID
	}
	if cached.FulfilledAt.IsZero() {
		cached.FulfilledAt = o.Now().UTC()
	}
	if err := o.Sessions.SaveSession(ctx, *cached); err != nil {
		o.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to record fulfilment of %s for polling: %v", session.TransactionID, err))
	}
}

// fulfill runs the kind's fulfiller, retrying transient failures from the
// idempotent state. The charge itself is never repeated.
func (o *Orchestrator) fulfill(ctx context.Context, session models.CheckoutSession) (*Fulfillment, error) {
	f, ok := o.fulfillers[session.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, session.Kind)
	}

	var result *Fulfillment
	attempt := 0
	op := func() error {
		attempt++
		r, err := f.Fulfill(ctx, session)
		if err == nil {
			result = r
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		o.Logger.Warn("CHECKOUT", fmt.Sprintf("Fulfilment of %s failed (attempt %d): %v", session.TransactionID, attempt, err))
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.cfg.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(o.cfg.MaxIssuanceRetries, 0))), ctx)
	if err := backoff.Retry(op, b); err != nil {
		o.Logger.Error("CHECKOUT", fmt.Sprintf("Fulfilment of %s gave up after %d attempt(s), awaiting redelivery: %v", session.TransactionID, attempt, err))
		return nil, err
	}

	if result.Replayed {
		o.Logger.Info("CHECKOUT", fmt.Sprintf("Transaction %s was already fulfilled", session.TransactionID))
	} else {
		o.Logger.Info("CHECKOUT", fmt.Sprintf("Fulfilled %s transaction %s", session.Kind, session.TransactionID))
	}
	return result, nil
}

func (o *Orchestrator) feeFor(event *models.Event) (decimal.Decimal, error) {
	if event.FeePercentageOverride == "" {
		return o.cfg.PlatformFee, nil
	}
	return pricing.ParsePercentage(event.FeePercentageOverride)
}

var permanentErrors = []error{
	pricing.ErrInvalidQuantity,
	tickets.ErrInvalidQuantity,
	booking.ErrInvalidTransition,
	booking.ErrInvalidActorForState,
	booking.ErrBookingImmutable,
	booking.ErrAlreadyPaid,
	booking.ErrBookingNotFound,
	booking.ErrMissingTransaction,
	signature.ErrFieldInvalid,
	ErrEventNotFound,
	ErrInvalidSession,
	ErrUnknownKind,
	ErrIntegrity,
}

// IsPermanent reports whether a confirmation failed in a way no redelivery can
// change. Such payments need a manual refund.
func IsPermanent(err error) bool {
	for _, p := range permanentErrors {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
