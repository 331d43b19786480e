package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-engagements/internal/models"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrEarningNotFound = errors.New("earning not found")
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateBooking(ctx context.Context, b models.Booking) error {
	_, err := d.Bun.NewInsert().Model(&b).Exec(ctx)
	return err
}

func (d *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListByParticipant returns bookings where userID is the host or the talent, newest first.
func (d *DB) ListByParticipant(ctx context.Context, userID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("host_id = ?", userID).WhereOr("talent_id = ?", userID)
		}).
		Order("created_at DESC").
		Scan(ctx)
	return bookings, err
}

// ListByEvent returns the bookings attached to an event, newest first.
func (d *DB) ListByEvent(ctx context.Context, eventID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Scan(ctx)
	return bookings, err
}

// SaveTransition persists b if the stored row still carries expectedVersion.
// In the same transaction it credits earning when given and refunds the
// booking's earning when b has been refunded. It reports false on a version conflict.
func (d *DB) SaveTransition(ctx context.Context, b models.Booking, expectedVersion int64, earning *models.TalentEarning) (bool, error) {
	saved := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(&b).
			Column("status", "payment_status", "payment_transaction_id", "version", "updated_at").
			Where("id = ?", b.ID).
			Where("version = ?", expectedVersion).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		if earning != nil {
			if _, err := tx.NewInsert().
				Model(earning).
				On("CONFLICT (booking_id) DO NOTHING").
				Exec(ctx); err != nil {
				return fmt.Errorf("credit earning: %w", err)
			}
		}
		if b.PaymentStatus == models.PaymentRefunded {
			if _, err := tx.NewUpdate().
				Model((*models.TalentEarning)(nil)).
				Set("status = ?", models.EarningRefunded).
				Set("updated_at = ?", b.UpdatedAt).
				Where("booking_id = ?", b.ID).
				Exec(ctx); err != nil {
				return fmt.Errorf("refund earning: %w", err)
			}
		}
		saved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return saved, nil
}

// DeleteRequested hard-deletes a booking that is still requested at expectedVersion.
func (d *DB) DeleteRequested(ctx context.Context, id string, expectedVersion int64) (bool, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.Booking)(nil)).
		Where("id = ?", id).
		Where("status = ?", models.BookingRequested).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DB) GetEarning(ctx context.Context, bookingID string) (*models.TalentEarning, error) {
	var e models.TalentEarning
	err := d.Bun.NewSelect().
		Model(&e).
		Where("booking_id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEarningNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
