package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-engagements/internal/models"
)

func TestEmitAdmissionReachesEventSubscribersOnly(t *testing.T) {
	e := NewCheckInEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	door := e.SubscribeToEvent(ctx, "evt-1")
	other := e.SubscribeToEvent(ctx, "evt-2")

	e.EmitAdmission(models.Admission{TicketID: "t-1", EventID: "evt-1"})

	select {
	case a := <-door:
		assert.Equal(t, "t-1", a.TicketID)
	case <-time.After(time.Second):
		t.Fatal("admission not delivered")
	}
	assert.Empty(t, other)
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	e := NewCheckInEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.SubscribeToEvent(ctx, "evt-1")
	for i := 0; i < clientBuffer+5; i++ {
		e.EmitAdmission(models.Admission{EventID: "evt-1"})
	}
	assert.Len(t, ch, clientBuffer)
}

func TestUnsubscribeOnCancel(t *testing.T) {
	e := NewCheckInEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := e.SubscribeToEvent(ctx, "evt-1")
	require.Equal(t, 1, e.ClientCount("evt-1"))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Equal(t, 0, e.ClientCount("evt-1"))
}
