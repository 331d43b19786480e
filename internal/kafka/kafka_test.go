package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-engagements/internal/config"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/payment"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var topics = config.TopicConfig{
	BookingStatus:    "engagements.booking.status",
	TicketsIssued:    "engagements.tickets.issued",
	PaymentConfirmed: "payments.confirmed",
}

func TestBookingStatusChanged(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topics: topics, Logger: logger.New(io.Discard)}

	b := models.Booking{ID: "b-1", HostID: "host-1", TalentID: "talent-1", Status: models.BookingAccepted, PaymentStatus: models.PaymentPending, Version: 2}
	require.NoError(t, p.BookingStatusChanged(context.Background(), b, models.BookingRequested))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, topics.BookingStatus, w.msgs[0].Topic)
	assert.Equal(t, "b-1", string(w.msgs[0].Key))

	var ev BookingStatusEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, models.BookingAccepted, ev.Status)
	assert.Equal(t, models.BookingRequested, ev.PreviousStatus)
}

func TestTicketsIssuedOmitsCodes(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topics: topics, Logger: logger.New(io.Discard)}

	issued := []models.TicketWithCode{
		{Ticket: models.Ticket{ID: "t-1", EventID: "evt-1", HolderID: "user-1"}, Code: "secret-code-1"},
		{Ticket: models.Ticket{ID: "t-2", EventID: "evt-1", HolderID: "user-1"}, Code: "secret-code-2"},
	}
	require.NoError(t, p.TicketsIssued(context.Background(), "pi_1", issued))
	require.NoError(t, p.TicketsIssued(context.Background(), "pi_2", nil))

	require.Len(t, w.msgs, 1)
	assert.NotContains(t, string(w.msgs[0].Value), "secret-code")
	var ev TicketsIssuedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, []string{"t-1", "t-2"}, ev.TicketIDs)
}

func TestPublishError(t *testing.T) {
	p := &Producer{Writer: &fakeWriter{err: errors.New("broker down")}, Topics: topics, Logger: logger.New(io.Discard)}
	err := p.Publish(context.Background(), "topic", "k", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker down")
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func message(t *testing.T, offset int64, c payment.Confirmation) kafka.Message {
	b, err := json.Marshal(c)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 1, payment.Confirmation{TransactionID: "pi_ok", Succeeded: true}),
		{Offset: 2, Value: []byte("{not json")},
		message(t, 3, payment.Confirmation{TransactionID: "pi_failed", Succeeded: false}),
		message(t, 4, payment.Confirmation{TransactionID: "pi_flaky", Succeeded: true}),
		message(t, 5, payment.Confirmation{TransactionID: "pi_bad", Succeeded: true}),
	}}
	c := &Consumer{reader: reader, Logger: logger.New(io.Discard), Topic: topics.PaymentConfirmed, MaxRetries: 3, RetryInterval: time.Millisecond, RedeliveryDelay: time.Millisecond}

	calls := map[string]int{}
	var mu sync.Mutex
	handle := func(_ context.Context, conf *payment.Confirmation) error {
		mu.Lock()
		defer mu.Unlock()
		calls[conf.TransactionID]++
		switch conf.TransactionID {
		case "pi_flaky":
			if calls[conf.TransactionID] < 3 {
				return errors.New("confirmation in flight")
			}
		case "pi_bad":
			return Permanent(errors.New("integrity fault"))
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Start(ctx, handle) }()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 5
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls["pi_ok"])
	assert.Equal(t, 0, calls["pi_failed"])
	assert.Equal(t, 3, calls["pi_flaky"])
	assert.Equal(t, 1, calls["pi_bad"])
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reader.committed)
}

func TestConsumerHoldsOffsetWhileStorageIsDown(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 7, payment.Confirmation{TransactionID: "pi_outage", Succeeded: true}),
		message(t, 8, payment.Confirmation{TransactionID: "pi_next", Succeeded: true}),
	}}
	c := &Consumer{reader: reader, Logger: logger.New(io.Discard), Topic: topics.PaymentConfirmed,
		MaxRetries: 2, RetryInterval: time.Millisecond, RedeliveryDelay: time.Millisecond}

	var (
		mu    sync.Mutex
		calls = map[string]int{}
		down  = true
	)
	handle := func(_ context.Context, conf *payment.Confirmation) error {
		mu.Lock()
		defer mu.Unlock()
		calls[conf.TransactionID]++
		if down {
			return errors.New("db down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Start(ctx, handle) }()

	// Well past one retry budget (3 attempts) the offset must still be open.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["pi_outage"] > 9
	}, 2*time.Second, time.Millisecond)
	reader.mu.Lock()
	assert.Empty(t, reader.committed)
	reader.mu.Unlock()

	mu.Lock()
	assert.Zero(t, calls["pi_next"])
	down = false
	mu.Unlock()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{7, 8}, reader.committed)
}
