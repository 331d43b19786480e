// Command expire-tickets closes the unused tickets of finished events. It is
// meant to run from a scheduler after an event ends.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"ms-engagements/internal/config"
	"ms-engagements/internal/database"
	"ms-engagements/internal/events"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/tickets"
	ticketdb "ms-engagements/internal/tickets/db"
)

func main() {
	eventID := flag.String("event", "", "id of the finished event")
	flag.Parse()

	logger := logger.NewLogger()
	defer logger.Close()

	if *eventID == "" {
		logger.Fatal("CONFIG", "-event is required")
	}
	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer db.Close()

	eventStore := events.NewStore(db, logger)
	event, err := eventStore.GetEvent(ctx, *eventID)
	if err != nil {
		logger.Fatal("TICKETS", fmt.Sprintf("Load event %s: %v", *eventID, err))
	}
	if event.StartsAt.After(time.Now()) {
		logger.Fatal("TICKETS", fmt.Sprintf("Event %s has not started yet", *eventID))
	}

	svc := tickets.NewTicketService(&ticketdb.DB{Bun: db}, nil, nil, eventStore, logger)
	if _, err := svc.Expire(ctx, *eventID); err != nil {
		logger.Fatal("TICKETS", err.Error())
	}
}
