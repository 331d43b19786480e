package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-engagements/internal/lifecycle"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/tickets/codec"
	ticketdb "ms-engagements/internal/tickets/db"
	"ms-engagements/internal/tickets/qr"
	"ms-engagements/internal/tickets/template"
)

var (
	ErrTicketNotFound   = ticketdb.ErrTicketNotFound
	ErrNotTicketHolder  = errors.New("ticket belongs to another holder")
	ErrTicketNotValid   = errors.New("ticket is no longer valid")
	ErrInvalidQuantity  = errors.New("ticket quantity out of range")
	ErrStatusChanged    = errors.New("ticket status changed concurrently")
	ErrRenderingMissing = errors.New("ticket rendering is not configured")
	ErrNotEventHost     = errors.New("only the event's host can see its tickets")
)

// Actor is who moves a ticket through its lifecycle.
type Actor string

const (
	ActorScanner Actor = "scanner"
	ActorHolder  Actor = "holder"
	ActorSystem  Actor = "system"
)

var machine = lifecycle.New([]lifecycle.Edge[models.TicketStatus, Actor]{
	{From: models.TicketValid, To: models.TicketUsed, Role: ActorScanner},
	{From: models.TicketValid, To: models.TicketCancelled, Role: ActorHolder},
	{From: models.TicketValid, To: models.TicketCancelled, Role: ActorSystem},
	{From: models.TicketValid, To: models.TicketExpired, Role: ActorSystem},
},
	models.TicketUsed,
	models.TicketCancelled,
	models.TicketExpired,
)

// CheckTransition reports whether actor may move a ticket from one status to another.
func CheckTransition(from, to models.TicketStatus, actor Actor) error {
	return machine.Check(from, to, actor)
}

type DBLayer interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	ListByHolder(ctx context.Context, holderID string) ([]models.Ticket, error)
	ListByEvent(ctx context.Context, eventID string) ([]models.Ticket, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]models.Ticket, error)
	IssueTickets(ctx context.Context, marker models.PaymentConfirmation, tickets []models.Ticket) (bool, error)
	UpdateStatus(ctx context.Context, id string, from, to models.TicketStatus, now time.Time) (bool, error)
	ExpireEvent(ctx context.Context, eventID string, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, eventID string) (map[models.TicketStatus]int, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type TicketService struct {
	DB     DBLayer
	Codec  *codec.Codec
	PDF    *template.TicketPDFGenerator
	Events EventReader
	Logger *logger.Logger
	Now    func() time.Time
}

func NewTicketService(db DBLayer, c *codec.Codec, pdf *template.TicketPDFGenerator, events EventReader, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, Codec: c, PDF: pdf, Events: events, Logger: log, Now: time.Now}
}

// IssueRequest describes one confirmed purchase or RSVP.
type IssueRequest struct {
	EventID  string
	HolderID string
	Quantity int64
	Marker   models.PaymentConfirmation
}

// Issue creates Quantity signed tickets, each admitting one person, guarded by the
// request's confirmation marker. A replay returns the tickets of the first issuance
// and false.
func (s *TicketService) Issue(ctx context.Context, req IssueRequest) ([]models.TicketWithCode, bool, error) {
	if req.Quantity < 1 || req.Quantity > models.MaxTicketsPerCheckout {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidQuantity, req.Quantity)
	}

	now := s.Now().UTC().Truncate(time.Second)
	batch := make([]models.Ticket, 0, req.Quantity)
	for i := int64(0); i < req.Quantity; i++ {
		t := models.Ticket{
			ID:            uuid.New().String(),
			EventID:       req.EventID,
			HolderID:      req.HolderID,
			IssuedAt:      now,
			Quantity:      1,
			Status:        models.TicketValid,
			TransactionID: req.Marker.TransactionID,
			UpdatedAt:     now,
		}
		sig, err := s.Codec.Sign(t)
		if err != nil {
			return nil, false, fmt.Errorf("sign ticket: %w", err)
		}
		t.Signature = sig
		batch = append(batch, t)
	}

	issued, err := s.DB.IssueTickets(ctx, req.Marker, batch)
	if err != nil {
		return nil, false, fmt.Errorf("issue tickets: %w", err)
	}
	if !issued {
		s.Logger.Info("TICKETS", fmt.Sprintf("Transaction %s already fulfilled, returning existing tickets", req.Marker.TransactionID))
		existing, err := s.DB.ListByTransaction(ctx, req.Marker.TransactionID)
		if err != nil {
			return nil, false, fmt.Errorf("load issued tickets: %w", err)
		}
		out, err := s.withCodes(existing)
		return out, false, err
	}

	s.Logger.Info("TICKETS", fmt.Sprintf("Issued %d ticket(s) for event %s to %s", len(batch), req.EventID, req.HolderID))
	out, err := s.withCodes(batch)
	return out, true, err
}

func (s *TicketService) ListByHolder(ctx context.Context, holderID string) ([]models.TicketWithCode, error) {
	list, err := s.DB.ListByHolder(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("list tickets for %s: %w", holderID, err)
	}
	return s.withCodes(list)
}

// Get returns a ticket only to its holder.
func (s *TicketService) Get(ctx context.Context, id, holderID string) (*models.TicketWithCode, error) {
	t, err := s.DB.GetTicketByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.HolderID != holderID {
		return nil, ErrNotTicketHolder
	}
	code, err := s.Codec.Encode(*t)
	if err != nil {
		return nil, err
	}
	return &models.TicketWithCode{Ticket: *t, Code: code}, nil
}

// Cancel releases a valid ticket on behalf of its holder.
func (s *TicketService) Cancel(ctx context.Context, id, holderID string) error {
	t, err := s.DB.GetTicketByID(ctx, id)
	if err != nil {
		return err
	}
	if t.HolderID != holderID {
		return ErrNotTicketHolder
	}
	if err := CheckTransition(t.Status, models.TicketCancelled, ActorHolder); err != nil {
		return fmt.Errorf("%w: %s", ErrTicketNotValid, t.Status)
	}

	ok, err := s.DB.UpdateStatus(ctx, id, t.Status, models.TicketCancelled, s.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancel ticket %s: %w", id, err)
	}
	if !ok {
		return ErrStatusChanged
	}
	s.Logger.Info("TICKETS", fmt.Sprintf("Ticket %s cancelled by holder", id))
	return nil
}

// Expire closes every unused ticket of a finished event.
func (s *TicketService) Expire(ctx context.Context, eventID string) (int64, error) {
	n, err := s.DB.ExpireEvent(ctx, eventID, s.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire tickets for event %s: %w", eventID, err)
	}
	s.Logger.Info("TICKETS", fmt.Sprintf("Expired %d ticket(s) for event %s", n, eventID))
	return n, nil
}

func (s *TicketService) requireHost(ctx context.Context, eventID, hostID string) error {
	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if hostID == "" || event.HostID != hostID {
		return ErrNotEventHost
	}
	return nil
}

// ListByEvent returns an event's tickets to its host. Codes are left out:
// they admit the holder at the door.
func (s *TicketService) ListByEvent(ctx context.Context, eventID, hostID string) ([]models.Ticket, error) {
	if err := s.requireHost(ctx, eventID, hostID); err != nil {
		return nil, err
	}
	list, err := s.DB.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tickets for event %s: %w", eventID, err)
	}
	if list == nil {
		list = []models.Ticket{}
	}
	return list, nil
}

// Stats counts an event's tickets per status for its host.
func (s *TicketService) Stats(ctx context.Context, eventID, hostID string) (map[models.TicketStatus]int, error) {
	if err := s.requireHost(ctx, eventID, hostID); err != nil {
		return nil, err
	}
	counts, err := s.DB.CountByStatus(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count tickets for event %s: %w", eventID, err)
	}
	for _, st := range []models.TicketStatus{models.TicketValid, models.TicketUsed, models.TicketCancelled, models.TicketExpired} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

func (s *TicketService) QRCode(ctx context.Context, id, holderID string, size int) ([]byte, error) {
	t, err := s.Get(ctx, id, holderID)
	if err != nil {
		return nil, err
	}
	return qr.PNG(t.Code, size)
}

func (s *TicketService) PDFTicket(ctx context.Context, id, holderID string) ([]byte, error) {
	if s.PDF == nil {
		return nil, ErrRenderingMissing
	}
	t, err := s.Get(ctx, id, holderID)
	if err != nil {
		return nil, err
	}
	png, err := qr.PNG(t.Code, qr.DefaultSize)
	if err != nil {
		return nil, err
	}

	var event *models.Event
	if s.Events != nil {
		if event, err = s.Events.GetEvent(ctx, t.EventID); err != nil {
			s.Logger.Warn("TICKETS", fmt.Sprintf("Rendering ticket %s without event details: %v", id, err))
			event = nil
		}
	}
	return s.PDF.Generate(t.Ticket, event, png)
}

func (s *TicketService) withCodes(list []models.Ticket) ([]models.TicketWithCode, error) {
	out := make([]models.TicketWithCode, 0, len(list))
	for _, t := range list {
		code, err := s.Codec.Encode(t)
		if err != nil {
			return nil, fmt.Errorf("encode ticket %s: %w", t.ID, err)
		}
		out = append(out, models.TicketWithCode{Ticket: t, Code: code})
	}
	return out, nil
}
