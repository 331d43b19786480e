//go:build integration

package database_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"ms-engagements/internal/checkin"
	checkoutredis "ms-engagements/internal/checkout/redis"
	"ms-engagements/internal/config"
	"ms-engagements/internal/database"
	"ms-engagements/internal/events"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/signature"
	"ms-engagements/internal/sse"
	"ms-engagements/internal/tickets"
	"ms-engagements/internal/tickets/codec"
	ticketdb "ms-engagements/internal/tickets/db"
)

func startPostgres(t *testing.T) *bun.DB {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "engage",
				"POSTGRES_PASSWORD": "engage",
				"POSTGRES_DB":       "engagements",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		DSN:          fmt.Sprintf("postgres://engage:engage@%s:%s/engagements?sslmode=disable", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 10,
		MaxLifetime:  time.Minute,
	}
	db, err := database.Connect(ctx, cfg, logger.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.CreateSchema(ctx, db))
	return db
}

func TestPostgresIssuesOnceAndAdmitsOnce(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	log := logger.New(io.Discard)

	keys, err := signature.NewKeyRing("integration-key")
	require.NoError(t, err)
	c := codec.New(keys)

	event := models.Event{ID: "ev-pg", HostID: "host-1", Name: "Gala", TicketPriceCents: 1000,
		StartsAt: time.Now().Add(48 * time.Hour), CreatedAt: time.Now()}
	_, err = db.NewInsert().Model(&event).Exec(ctx)
	require.NoError(t, err)

	store := &ticketdb.DB{Bun: db}
	svc := tickets.NewTicketService(store, c, nil, events.NewStore(db, log), log)

	req := tickets.IssueRequest{
		EventID:  "ev-pg",
		HolderID: "buyer-1",
		Quantity: 2,
		Marker: models.PaymentConfirmation{
			TransactionID: "pi_pg", Kind: models.CheckoutTickets, SubjectID: "ev-pg",
			BuyerID: "buyer-1", Quantity: 2, AmountCents: 2040, CreatedAt: time.Now().UTC(),
		},
	}

	var (
		wg    sync.WaitGroup
		fresh int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isNew, err := svc.Issue(ctx, req)
			assert.NoError(t, err)
			if isNew {
				atomic.AddInt32(&fresh, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh)

	issued, err := store.ListByTransaction(ctx, "pi_pg")
	require.NoError(t, err)
	require.Len(t, issued, 2)

	code, err := c.Encode(issued[0])
	require.NoError(t, err)
	checkIns := checkin.NewService(store, c, sse.NewCheckInEmitter(), log)

	var admitted int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := checkIns.CheckIn(ctx, code, "ev-pg")
			assert.NoError(t, err)
			if res != nil && res.Admitted {
				atomic.AddInt32(&admitted, 1)
			} else if res != nil {
				assert.Equal(t, checkin.ReasonAlreadyUsed, res.Reason)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted)
}

func TestRedisConfirmationLock(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := database.ConnectRedis(ctx, config.RedisConfig{Addr: host + ":" + port.Port()}, logger.New(io.Discard))
	require.NoError(t, err)
	defer client.Close()

	store := checkoutredis.NewRedis(client, time.Minute)
	ok, err := store.LockConfirmation(ctx, "pi_lock", "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.LockConfirmation(ctx, "pi_lock", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.UnlockConfirmation(ctx, "pi_lock", "worker-a"))
	ok, err = store.LockConfirmation(ctx, "pi_lock", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)
}
