// Package database bootstraps the tables owned by the engagement service.
package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-engagements/internal/models"
)

// Models lists every table in creation order.
func Models() []interface{} {
	return []interface{}{
		(*models.Event)(nil),
		(*models.Booking)(nil),
		(*models.TalentEarning)(nil),
		(*models.Ticket)(nil),
		(*models.PaymentConfirmation)(nil),
	}
}

type index struct {
	model   interface{}
	name    string
	columns []string
}

var indexes = []index{
	{(*models.Ticket)(nil), "idx_tickets_holder", []string{"holder_id"}},
	{(*models.Ticket)(nil), "idx_tickets_event_status", []string{"event_id", "status"}},
	{(*models.Ticket)(nil), "idx_tickets_transaction", []string{"transaction_id"}},
	{(*models.Booking)(nil), "idx_bookings_host", []string{"host_id"}},
	{(*models.Booking)(nil), "idx_bookings_talent", []string{"talent_id"}},
}

// CreateSchema creates missing tables and indexes. It is safe to run repeatedly.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, m := range Models() {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// DropSchema removes every table. Used by the migrate tool's reset flag.
func DropSchema(ctx context.Context, db bun.IDB) error {
	ms := Models()
	for i := len(ms) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(ms[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", ms[i], err)
		}
	}
	return nil
}
