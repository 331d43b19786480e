package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-engagements/internal/database"
	"ms-engagements/internal/models"
)

// NewTestDB opens an in-memory sqlite database with the full schema.
// A single connection keeps every query on the same in-memory database.
func NewTestDB(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := database.CreateSchema(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

// SeedEvent inserts a free event hosted by hostID unless it already exists.
func SeedEvent(t testing.TB, db *bun.DB, eventID, hostID string) {
	t.Helper()
	now := time.Now().UTC()
	event := models.Event{ID: eventID, HostID: hostID, Name: eventID, StartsAt: now.Add(24 * time.Hour), CreatedAt: now}
	if _, err := db.NewInsert().Model(&event).On("CONFLICT (id) DO NOTHING").Exec(context.Background()); err != nil {
		t.Fatalf("Failed to seed event %s: %v", eventID, err)
	}
}
