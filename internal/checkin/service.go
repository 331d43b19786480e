// Package checkin admits ticket holders at the door.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/tickets"
	"ms-engagements/internal/tickets/codec"
)

type Reason string

const (
	ReasonForgery       Reason = "forgery_or_corruption"
	ReasonWrongEvent    Reason = "wrong_event"
	ReasonAlreadyUsed   Reason = "already_used"
	ReasonCancelled     Reason = "cancelled"
	ReasonExpired       Reason = "expired"
	ReasonUnknownTicket Reason = "unknown_ticket"
)

type CheckInResult struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
	HolderID string `json:"holder_id,omitempty"`
}

type DBLayer interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	MarkUsed(ctx context.Context, id string, now time.Time) (bool, error)
}

// Broadcaster is told about every admission. It must not block.
type Broadcaster interface {
	EmitAdmission(a models.Admission)
}

type Service struct {
	DB          DBLayer
	Codec       *codec.Codec
	Broadcaster Broadcaster
	Logger      *logger.Logger
	Now         func() time.Time
}

func NewService(db DBLayer, c *codec.Codec, b Broadcaster, log *logger.Logger) *Service {
	return &Service{DB: db, Codec: c, Broadcaster: b, Logger: log, Now: time.Now}
}

// CheckIn validates a presented transport string for eventID and, when every
// check passes, flips the ticket to used. Only storage failures return an error;
// every rejection is a result with a reason.
func (s *Service) CheckIn(ctx context.Context, transport, eventID string) (*CheckInResult, error) {
	ok, payload := s.Codec.Validate(transport)
	if !ok {
		if payload != nil {
			s.Logger.LogSecurity("FORGERY", fmt.Sprintf("signature mismatch for claimed ticket %s (event %s) scanned at event %s",
				payload.TicketID, payload.EventID, eventID))
		} else {
			s.Logger.LogSecurity("MALFORMED_TICKET", fmt.Sprintf("undecodable ticket scanned at event %s", eventID))
		}
		return reject(ReasonForgery, nil), nil
	}
	if payload.EventID != eventID {
		s.Logger.Info("CHECKIN", fmt.Sprintf("Ticket %s for event %s scanned at event %s", payload.TicketID, payload.EventID, eventID))
		return reject(ReasonWrongEvent, payload), nil
	}

	stored, err := s.DB.GetTicketByID(ctx, payload.TicketID)
	if errors.Is(err, tickets.ErrTicketNotFound) {
		s.Logger.LogSecurity("UNKNOWN_TICKET", fmt.Sprintf("validly signed ticket %s has no record (event %s)", payload.TicketID, eventID))
		return reject(ReasonUnknownTicket, payload), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", payload.TicketID, err)
	}
	if !matches(stored, payload) {
		s.Logger.LogSecurity("FORGERY", fmt.Sprintf("ticket %s does not match its record", payload.TicketID))
		return reject(ReasonForgery, payload), nil
	}

	if stored.Status != models.TicketValid {
		return reject(reasonFor(stored.Status), payload), nil
	}
	if err := tickets.CheckTransition(stored.Status, models.TicketUsed, tickets.ActorScanner); err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	flipped, err := s.DB.MarkUsed(ctx, stored.ID, now)
	if err != nil {
		return nil, fmt.Errorf("check in ticket %s: %w", stored.ID, err)
	}
	if !flipped {
		// Lost the race to another scanner, or the ticket was cancelled meanwhile.
		current, err := s.DB.GetTicketByID(ctx, stored.ID)
		if err != nil {
			return nil, fmt.Errorf("reload ticket %s: %w", stored.ID, err)
		}
		reason := reasonFor(current.Status)
		if current.Status == models.TicketValid {
			reason = ReasonAlreadyUsed
		}
		return reject(reason, payload), nil
	}

	s.Logger.Info("CHECKIN", fmt.Sprintf("Admitted ticket %s for event %s", stored.ID, eventID))
	if s.Broadcaster != nil {
		s.Broadcaster.EmitAdmission(models.Admission{
			TicketID:    stored.ID,
			EventID:     stored.EventID,
			HolderID:    stored.HolderID,
			CheckedInAt: now,
		})
	}
	return &CheckInResult{Admitted: true, TicketID: stored.ID, HolderID: stored.HolderID}, nil
}

// matches checks the presented claims against the record they claim to be.
func matches(t *models.Ticket, p *codec.Payload) bool {
	return t.Signature == p.Signature &&
		t.EventID == p.EventID &&
		t.HolderID == p.HolderID &&
		t.IssuedAt.Unix() == p.IssuedAt
}

func reasonFor(status models.TicketStatus) Reason {
	switch status {
	case models.TicketCancelled:
		return ReasonCancelled
	case models.TicketExpired:
		return ReasonExpired
	default:
		return ReasonAlreadyUsed
	}
}

func reject(reason Reason, p *codec.Payload) *CheckInResult {
	r := &CheckInResult{Reason: reason}
	if p != nil && reason != ReasonForgery {
		r.TicketID = p.TicketID
	}
	return r
}
