package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID            string       `bun:"id,pk" json:"id"`
	EventID       string       `bun:"event_id,notnull" json:"event_id"`
	HolderID      string       `bun:"holder_id,notnull" json:"holder_id"`
	IssuedAt      time.Time    `bun:"issued_at,notnull" json:"issued_at"`
	Signature     string       `bun:"signature,notnull" json:"-"`
	Quantity      int          `bun:"quantity,notnull" json:"quantity"`
	Status        TicketStatus `bun:"status,notnull" json:"status"`
	TransactionID string       `bun:"transaction_id,notnull" json:"transaction_id"`
	CheckedInAt   time.Time    `bun:"checked_in_at,nullzero" json:"checked_in_at,omitempty"`
	UpdatedAt     time.Time    `bun:"updated_at,notnull" json:"updated_at"`
}

// TicketWithCode pairs a ticket with its scannable transport string.
type TicketWithCode struct {
	Ticket
	Code string `json:"code"`
}

// Admission is broadcast to door staff when a ticket is checked in.
type Admission struct {
	TicketID    string    `json:"ticket_id"`
	EventID     string    `json:"event_id"`
	HolderID    string    `json:"holder_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
}
