package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	bookingdb "ms-engagements/internal/booking/db"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
)

var (
	ErrBookingNotFound    = bookingdb.ErrBookingNotFound
	ErrNotParticipant     = errors.New("actor is not a participant of this booking")
	ErrPaymentRequired    = errors.New("bookings are confirmed only by a captured payment")
	ErrDeleteNotAllowed   = errors.New("only the host may delete a booking, and only while it is requested")
	ErrSelfBooking        = errors.New("host and talent must differ")
	ErrInvalidBooking     = errors.New("invalid booking")
	ErrConcurrentUpdate   = errors.New("booking changed concurrently, try again")
	ErrAlreadyPaid        = errors.New("booking was paid by another transaction")
	ErrMissingTransaction = errors.New("payment capture carries no transaction id")
	ErrNotEventHost       = errors.New("only the event's host can see its bookings")
)

const maxTransitionAttempts = 3

type DBLayer interface {
	CreateBooking(ctx context.Context, b models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListByParticipant(ctx context.Context, userID string) ([]models.Booking, error)
	ListByEvent(ctx context.Context, eventID string) ([]models.Booking, error)
	SaveTransition(ctx context.Context, b models.Booking, expectedVersion int64, earning *models.TalentEarning) (bool, error)
	DeleteRequested(ctx context.Context, id string, expectedVersion int64) (bool, error)
}

// Notifier is told about every committed status change. Its errors never undo the change.
type Notifier interface {
	BookingStatusChanged(ctx context.Context, b models.Booking, previous models.BookingStatus) error
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Capture is a successful payment reported by the checkout orchestrator.
type Capture struct {
	TransactionID string
	AmountCents   int64
}

type BookingService struct {
	DB       DBLayer
	Notifier Notifier
	Events   EventReader
	Logger   *logger.Logger
	Now      func() time.Time
}

func NewBookingService(db DBLayer, notifier Notifier, events EventReader, log *logger.Logger) *BookingService {
	return &BookingService{DB: db, Notifier: notifier, Events: events, Logger: log, Now: time.Now}
}

func (s *BookingService) Create(ctx context.Context, hostID string, req models.CreateBookingRequest) (*models.Booking, error) {
	if strings.TrimSpace(hostID) == "" || strings.TrimSpace(req.TalentID) == "" {
		return nil, fmt.Errorf("%w: host and talent are required", ErrInvalidBooking)
	}
	if hostID == req.TalentID {
		return nil, ErrSelfBooking
	}
	if req.PriceCents < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidBooking)
	}
	if req.DurationHours < 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidBooking)
	}
	duration := req.DurationHours
	if duration == 0 {
		duration = models.DefaultDurationHours
	}

	now := s.Now().UTC()
	b := models.Booking{
		ID:            uuid.New().String(),
		EventID:       req.EventID,
		TalentID:      req.TalentID,
		HostID:        hostID,
		ScheduledDate: req.ScheduledDate,
		ScheduledTime: req.ScheduledTime,
		DurationHours: duration,
		Status:        models.BookingRequested,
		PriceCents:    req.PriceCents,
		PaymentStatus: models.PaymentPending,
		Notes:         req.Notes,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.DB.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.Logger.LogBooking("CREATE", b.ID, fmt.Sprintf("host %s requested talent %s for %d cents", hostID, req.TalentID, req.PriceCents))
	s.notify(ctx, b, "")
	return &b, nil
}

// Get returns the booking to its host or talent only.
func (s *BookingService) Get(ctx context.Context, id, actorID string) (*models.Booking, error) {
	b, err := s.DB.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := RoleOf(*b, actorID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) List(ctx context.Context, actorID string) ([]models.Booking, error) {
	return s.DB.ListByParticipant(ctx, actorID)
}

// ListByEvent returns the bookings attached to an event to that event's host.
func (s *BookingService) ListByEvent(ctx context.Context, eventID, hostID string) ([]models.Booking, error) {
	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if hostID == "" || event.HostID != hostID {
		return nil, ErrNotEventHost
	}
	list, err := s.DB.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list bookings for event %s: %w", eventID, err)
	}
	if list == nil {
		list = []models.Booking{}
	}
	return list, nil
}

// RoleOf derives the actor's role from the booking's participants.
func RoleOf(b models.Booking, actorID string) (models.ActorRole, error) {
	switch actorID {
	case "":
		return "", ErrNotParticipant
	case b.HostID:
		return models.RoleHost, nil
	case b.TalentID:
		return models.RoleTalent, nil
	default:
		return "", ErrNotParticipant
	}
}

// Transition applies a participant's requested status change. Confirmation is
// refused here: it belongs to ConfirmPayment. A lost version race re-reads the
// booking and re-applies the request, so a second concurrent cancel sees
// ErrBookingImmutable.
func (s *BookingService) Transition(ctx context.Context, id, actorID string, requested models.BookingStatus) (*models.Booking, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		b, err := s.DB.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		role, err := RoleOf(*b, actorID)
		if err != nil {
			return nil, err
		}

		next, err := Apply(*b, requested, role, s.Now().UTC())
		if err != nil {
			return nil, err
		}
		if requested == models.BookingConfirmed {
			return nil, ErrPaymentRequired
		}

		saved, err := s.save(ctx, *b, next, nil)
		if err != nil {
			return nil, err
		}
		if saved != nil {
			return saved, nil
		}
		s.Logger.Warn("BOOKING", fmt.Sprintf("Version conflict on booking %s (attempt %d/%d)", id, attempt, maxTransitionAttempts))
	}
	return nil, ErrConcurrentUpdate
}

// ConfirmPayment moves an awaiting_payment booking to confirmed after the
// orchestrator has seen the capture, crediting the talent's earning in the same
// write. A repeated capture for the same transaction returns the booking and false.
func (s *BookingService) ConfirmPayment(ctx context.Context, id string, capture Capture) (*models.Booking, bool, error) {
	if capture.TransactionID == "" {
		return nil, false, ErrMissingTransaction
	}

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		b, err := s.DB.GetBooking(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if b.PaymentTransactionID != "" {
			if b.PaymentTransactionID == capture.TransactionID {
				return b, false, nil
			}
			return nil, false, ErrAlreadyPaid
		}

		next, err := Apply(*b, models.BookingConfirmed, models.RoleHost, s.Now().UTC())
		if err != nil {
			return nil, false, err
		}
		next.PaymentTransactionID = capture.TransactionID

		earning := &models.TalentEarning{
			ID:          uuid.New().String(),
			BookingID:   b.ID,
			TalentID:    b.TalentID,
			AmountCents: b.PriceCents,
			Status:      models.EarningAvailable,
			CreatedAt:   next.UpdatedAt,
			UpdatedAt:   next.UpdatedAt,
		}
		saved, err := s.save(ctx, *b, next, earning)
		if err != nil {
			return nil, false, err
		}
		if saved != nil {
			s.Logger.LogBooking("PAID", id, fmt.Sprintf("captured %d cents in %s", capture.AmountCents, capture.TransactionID))
			return saved, true, nil
		}
	}
	return nil, false, ErrConcurrentUpdate
}

func (s *BookingService) Delete(ctx context.Context, id, actorID string) error {
	b, err := s.DB.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if _, err := RoleOf(*b, actorID); err != nil {
		return err
	}
	if !CanDelete(*b, actorID) {
		return ErrDeleteNotAllowed
	}

	deleted, err := s.DB.DeleteRequested(ctx, id, b.Version)
	if err != nil {
		return fmt.Errorf("delete booking %s: %w", id, err)
	}
	if !deleted {
		return ErrDeleteNotAllowed
	}
	s.Logger.LogBooking("DELETE", id, "deleted by host while requested")
	return nil
}

// save writes next over prev. A nil booking with a nil error means the version moved.
func (s *BookingService) save(ctx context.Context, prev, next models.Booking, earning *models.TalentEarning) (*models.Booking, error) {
	next.Version = prev.Version + 1
	ok, err := s.DB.SaveTransition(ctx, next, prev.Version, earning)
	if err != nil {
		return nil, fmt.Errorf("save booking %s: %w", prev.ID, err)
	}
	if !ok {
		return nil, nil
	}
	s.Logger.LogBooking("STATUS", next.ID, fmt.Sprintf("%s -> %s (payment %s)", prev.Status, next.Status, next.PaymentStatus))
	s.notify(ctx, next, prev.Status)
	return &next, nil
}

func (s *BookingService) notify(ctx context.Context, b models.Booking, previous models.BookingStatus) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.BookingStatusChanged(ctx, b, previous); err != nil {
		s.Logger.Error("BOOKING", fmt.Sprintf("Failed to notify status change for %s: %v", b.ID, err))
	}
}
