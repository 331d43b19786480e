// Package events is the bun-backed Event Store read by checkout and rendering.
package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"

	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
)

var ErrEventNotFound = errors.New("event not found")

type Store struct {
	DB  *bun.DB
	log *logger.Logger
	// RetryInterval is the pause before the single retry of a failed read.
	RetryInterval time.Duration
}

func NewStore(db *bun.DB, log *logger.Logger) *Store {
	return &Store{DB: db, log: log, RetryInterval: 200 * time.Millisecond}
}

// GetEvent reads an event, retrying once on transient errors.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	attempt := 0
	op := func() error {
		attempt++
		err := s.DB.NewSelect().
			Model(&event).
			Where("id = ?", id).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return backoff.Permanent(ErrEventNotFound)
		}
		if err != nil {
			s.log.Warn("EVENTS", fmt.Sprintf("Event lookup %s failed (attempt %d): %v", id, attempt, err))
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.RetryInterval), 1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return &event, nil
}

// AddAttendees adds delta to an event's attendee count in place. db may be a
// transaction so the count moves together with the tickets that justify it.
func AddAttendees(ctx context.Context, db bun.IDB, eventID string, delta int) error {
	res, err := db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("attendee_count = attendee_count + ?", delta).
		Where("id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment attendee count for %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, e models.Event) error {
	_, err := s.DB.NewInsert().Model(&e).Exec(ctx)
	return err
}
