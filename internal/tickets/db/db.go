package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-engagements/internal/events"
	"ms-engagements/internal/models"
)

var ErrTicketNotFound = errors.New("ticket not found")

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) ListByHolder(ctx context.Context, holderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("holder_id = ?", holderID).
		Order("issued_at DESC", "id").
		Scan(ctx)
	return tickets, err
}

// ListByEvent returns every ticket of an event, newest first.
func (d *DB) ListByEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("event_id = ?", eventID).
		Order("issued_at DESC", "id").
		Scan(ctx)
	return tickets, err
}

func (d *DB) ListByTransaction(ctx context.Context, transactionID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("transaction_id = ?", transactionID).
		Order("id").
		Scan(ctx)
	return tickets, err
}

// IssueTickets records the confirmation marker, inserts the tickets and adds them
// to the event's attendee count in one transaction. It reports false, with
// nothing written, when the marker already exists, so a replayed confirmation
// never issues a second batch.
func (d *DB) IssueTickets(ctx context.Context, marker models.PaymentConfirmation, tickets []models.Ticket) (bool, error) {
	issued := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(&marker).
			On("CONFLICT (transaction_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert confirmation marker: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if len(tickets) > 0 {
			if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
				return fmt.Errorf("insert tickets: %w", err)
			}
			if err := events.AddAttendees(ctx, tx, tickets[0].EventID, len(tickets)); err != nil {
				return err
			}
		}
		issued = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return issued, nil
}

func (d *DB) ConfirmationExists(ctx context.Context, transactionID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.PaymentConfirmation)(nil)).
		Where("transaction_id = ?", transactionID).
		Exists(ctx)
}

// UpdateStatus moves a ticket from one status to another only if it is still in
// the expected status. It reports whether the row changed.
func (d *DB) UpdateStatus(ctx context.Context, id string, from, to models.TicketStatus, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from)
	if to == models.TicketUsed {
		q = q.Set("checked_in_at = ?", now)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkUsed is the atomic check-in: exactly one concurrent caller sees true.
func (d *DB) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	return d.UpdateStatus(ctx, id, models.TicketValid, models.TicketUsed, now)
}

// ExpireEvent moves every still-valid ticket of an event to expired.
func (d *DB) ExpireEvent(ctx context.Context, eventID string, now time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketExpired).
		Set("updated_at = ?", now).
		Where("event_id = ?", eventID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type statusCount struct {
	Status models.TicketStatus `bun:"status"`
	Count  int                 `bun:"count"`
}

// CountByStatus returns how many tickets of an event sit in each status.
func (d *DB) CountByStatus(ctx context.Context, eventID string) (map[models.TicketStatus]int, error) {
	var rows []statusCount
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.TicketStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
