package sse

import (
	"context"
	"sync"

	"ms-engagements/internal/models"
)

const clientBuffer = 10

// CheckInEmitter fans admissions out to the SSE clients watching an event's door.
type CheckInEmitter struct {
	clients map[string][]chan models.Admission
	mu      sync.RWMutex
}

func NewCheckInEmitter() *CheckInEmitter {
	return &CheckInEmitter{
		clients: make(map[string][]chan models.Admission),
	}
}

// SubscribeToEvent registers a client until ctx is done, then closes its channel.
func (e *CheckInEmitter) SubscribeToEvent(ctx context.Context, eventID string) <-chan models.Admission {
	ch := make(chan models.Admission, clientBuffer)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(eventID, ch)
	}()

	return ch
}

// EmitAdmission never blocks: a client with a full buffer misses the update.
func (e *CheckInEmitter) EmitAdmission(a models.Admission) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.clients[a.EventID] {
		select {
		case ch <- a:
		default:
		}
	}
}

func (e *CheckInEmitter) remove(eventID string, ch chan models.Admission) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, c := range clients {
		if c == ch {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

func (e *CheckInEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}
