package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-engagements/internal/config"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes domain notifications. It implements the booking and
// checkout notifier interfaces; callers only log its failures.
type Producer struct {
	Writer messageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// BookingStatusEvent is published on every booking status change.
type BookingStatusEvent struct {
	BookingID      string               `json:"booking_id"`
	EventID        string               `json:"event_id,omitempty"`
	HostID         string               `json:"host_id"`
	TalentID       string               `json:"talent_id"`
	Status         models.BookingStatus `json:"status"`
	PreviousStatus models.BookingStatus `json:"previous_status,omitempty"`
	PaymentStatus  models.PaymentStatus `json:"payment_status"`
	Version        int64                `json:"version"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// TicketsIssuedEvent announces a fulfilled purchase or RSVP. Transport codes are
// credentials and are never put on the bus.
type TicketsIssuedEvent struct {
	TransactionID string    `json:"transaction_id"`
	EventID       string    `json:"event_id"`
	HolderID      string    `json:"holder_id"`
	TicketIDs     []string  `json:"ticket_ids"`
	IssuedAt      time.Time `json:"issued_at"`
}

func (p *Producer) BookingStatusChanged(ctx context.Context, b models.Booking, previous models.BookingStatus) error {
	return p.Publish(ctx, p.Topics.BookingStatus, b.ID, BookingStatusEvent{
		BookingID:      b.ID,
		EventID:        b.EventID,
		HostID:         b.HostID,
		TalentID:       b.TalentID,
		Status:         b.Status,
		PreviousStatus: previous,
		PaymentStatus:  b.PaymentStatus,
		Version:        b.Version,
		OccurredAt:     b.UpdatedAt,
	})
}

func (p *Producer) TicketsIssued(ctx context.Context, transactionID string, issued []models.TicketWithCode) error {
	if len(issued) == 0 {
		return nil
	}
	ev := TicketsIssuedEvent{
		TransactionID: transactionID,
		EventID:       issued[0].EventID,
		HolderID:      issued[0].HolderID,
		IssuedAt:      issued[0].IssuedAt,
	}
	for _, t := range issued {
		ev.TicketIDs = append(ev.TicketIDs, t.ID)
	}
	return p.Publish(ctx, p.Topics.TicketsIssued, transactionID, ev)
}

// Publish writes v as JSON to topic, keyed so one aggregate stays on one partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, v interface{}) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}

	if err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.Logger.LogKafka("PUBLISH", topic, key)
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
