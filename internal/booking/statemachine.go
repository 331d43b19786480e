package booking

import (
	"errors"
	"fmt"
	"time"

	"ms-engagements/internal/lifecycle"
	"ms-engagements/internal/models"
)

var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrInvalidActorForState = errors.New("invalid actor for state")
	ErrBookingImmutable     = errors.New("booking is immutable")
	ErrInvalidStatus        = errors.New("unknown booking status")
	ErrInvalidRole          = errors.New("unknown actor role")
)

// TransitionError carries the rejected edge and unwraps to one of the sentinels above.
type TransitionError struct {
	From models.BookingStatus
	To   models.BookingStatus
	Role models.ActorRole
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s cannot move booking from %s to %s", e.Err, e.Role, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

var machine = lifecycle.New([]lifecycle.Edge[models.BookingStatus, models.ActorRole]{
	{From: models.BookingRequested, To: models.BookingAccepted, Role: models.RoleTalent},
	{From: models.BookingRequested, To: models.BookingDeclined, Role: models.RoleTalent},
	{From: models.BookingRequested, To: models.BookingCanceled, Role: models.RoleHost},
	{From: models.BookingAccepted, To: models.BookingAwaitingPayment, Role: models.RoleHost},
	{From: models.BookingAccepted, To: models.BookingCanceled, Role: models.RoleHost},
	{From: models.BookingAwaitingPayment, To: models.BookingConfirmed, Role: models.RoleHost},
	{From: models.BookingAwaitingPayment, To: models.BookingCanceled, Role: models.RoleHost},
	{From: models.BookingConfirmed, To: models.BookingCompleted, Role: models.RoleHost},
	{From: models.BookingConfirmed, To: models.BookingCanceled, Role: models.RoleHost},
},
	models.BookingDeclined,
	models.BookingExpired,
	models.BookingCanceled,
	models.BookingCompleted,
)

// IsTerminal reports whether no actor may move a booking out of s.
func IsTerminal(s models.BookingStatus) bool {
	return machine.IsTerminal(s)
}

// AllowedTransitions lists the statuses role may request from the booking's current status.
func AllowedTransitions(b models.Booking, role models.ActorRole) []models.BookingStatus {
	return machine.Allowed(b.Status, role)
}

// Apply returns b moved to requested on behalf of role. b itself is never modified.
func Apply(b models.Booking, requested models.BookingStatus, role models.ActorRole, now time.Time) (models.Booking, error) {
	if _, ok := models.ParseBookingStatus(string(requested)); !ok {
		return b, fmt.Errorf("%w: %q", ErrInvalidStatus, requested)
	}
	if role != models.RoleHost && role != models.RoleTalent {
		return b, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	if err := machine.Check(b.Status, requested, role); err != nil {
		te := &TransitionError{From: b.Status, To: requested, Role: role}
		switch {
		case errors.Is(err, lifecycle.ErrTerminal):
			te.Err = ErrBookingImmutable
		case errors.Is(err, lifecycle.ErrWrongRole), role == models.RoleTalent:
			// Talent acts only on requested bookings, so any other move is the wrong actor.
			te.Err = ErrInvalidActorForState
		default:
			te.Err = ErrInvalidTransition
		}
		return b, te
	}

	next := b
	switch {
	case requested == models.BookingConfirmed:
		next.PaymentStatus = models.PaymentPaid
	case requested == models.BookingCanceled && b.PaymentStatus == models.PaymentPaid:
		next.PaymentStatus = models.PaymentRefunded
	}
	next.Status = requested
	next.UpdatedAt = now
	return next, nil
}

// CanDelete enforces the hard-delete policy: only the creating host, only while requested.
func CanDelete(b models.Booking, actorID string) bool {
	return b.Status == models.BookingRequested && b.HostID == actorID
}
