package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID               string `bun:"id,pk" json:"id"`
	HostID           string `bun:"host_id,notnull" json:"host_id"`
	Name             string `bun:"name,notnull" json:"name"`
	TicketPriceCents int64  `bun:"ticket_price_cents,notnull" json:"ticket_price_cents"`
	// Decimal string in [0,1]; empty means the platform default applies.
	FeePercentageOverride string    `bun:"fee_percentage_override,nullzero" json:"fee_percentage_override,omitempty"`
	AttendeeCount         int       `bun:"attendee_count,notnull" json:"attendee_count"`
	StartsAt              time.Time `bun:"starts_at,notnull" json:"starts_at"`
	CreatedAt             time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Ticketed reports whether entry to the event has to be paid for.
func (e *Event) Ticketed() bool {
	return e.TicketPriceCents > 0
}
