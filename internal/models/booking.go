package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingRequested       BookingStatus = "requested"
	BookingAccepted        BookingStatus = "accepted"
	BookingAwaitingPayment BookingStatus = "awaiting_payment"
	BookingConfirmed       BookingStatus = "confirmed"
	BookingCompleted       BookingStatus = "completed"
	BookingDeclined        BookingStatus = "declined"
	BookingExpired         BookingStatus = "expired"
	BookingCanceled        BookingStatus = "canceled"
)

var bookingStatuses = []BookingStatus{
	BookingRequested,
	BookingAccepted,
	BookingAwaitingPayment,
	BookingConfirmed,
	BookingCompleted,
	BookingDeclined,
	BookingExpired,
	BookingCanceled,
}

// BookingStatuses lists every booking status in lifecycle order.
func BookingStatuses() []BookingStatus {
	out := make([]BookingStatus, len(bookingStatuses))
	copy(out, bookingStatuses)
	return out
}

// ParseBookingStatus reports whether s names a known booking status.
func ParseBookingStatus(s string) (BookingStatus, bool) {
	for _, st := range bookingStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

type ActorRole string

const (
	RoleHost   ActorRole = "host"
	RoleTalent ActorRole = "talent"
)

const DefaultDurationHours = 4

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                   string        `bun:"id,pk" json:"id"`
	EventID              string        `bun:"event_id,nullzero" json:"event_id,omitempty"`
	TalentID             string        `bun:"talent_id,notnull" json:"talent_id"`
	HostID               string        `bun:"host_id,notnull" json:"host_id"`
	ScheduledDate        time.Time     `bun:"scheduled_date,notnull" json:"scheduled_date"`
	ScheduledTime        string        `bun:"scheduled_time,notnull" json:"scheduled_time"`
	DurationHours        int           `bun:"duration_hours,notnull" json:"duration_hours"`
	Status               BookingStatus `bun:"status,notnull" json:"status"`
	PriceCents           int64         `bun:"price_cents,notnull" json:"price_cents"`
	PaymentStatus        PaymentStatus `bun:"payment_status,notnull" json:"payment_status"`
	PaymentTransactionID string        `bun:"payment_transaction_id,nullzero" json:"payment_transaction_id,omitempty"`
	Notes                string        `bun:"notes,nullzero" json:"notes,omitempty"`
	Version              int64         `bun:"version,notnull" json:"version"`
	CreatedAt            time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt            time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

type CreateBookingRequest struct {
	TalentID      string    `json:"talent_id" validate:"required"`
	EventID       string    `json:"event_id"`
	ScheduledDate time.Time `json:"scheduled_date" validate:"required"`
	ScheduledTime string    `json:"scheduled_time" validate:"required,clock"`
	DurationHours int       `json:"duration_hours" validate:"gte=0"`
	PriceCents    int64     `json:"price_cents" validate:"gte=0"`
	Notes         string    `json:"notes"`
}

type UpdateBookingStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type EarningStatus string

const (
	EarningAvailable EarningStatus = "available"
	EarningRefunded  EarningStatus = "refunded"
)

// TalentEarning is the talent's share of a paid booking, credited once per booking.
type TalentEarning struct {
	bun.BaseModel `bun:"table:talent_earnings"`

	ID          string        `bun:"id,pk" json:"id"`
	BookingID   string        `bun:"booking_id,unique,notnull" json:"booking_id"`
	TalentID    string        `bun:"talent_id,notnull" json:"talent_id"`
	AmountCents int64         `bun:"amount_cents,notnull" json:"amount_cents"`
	Status      EarningStatus `bun:"status,notnull" json:"status"`
	CreatedAt   time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}
