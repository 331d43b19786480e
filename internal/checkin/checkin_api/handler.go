package checkin_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-engagements/internal/checkin"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/sse"
	"ms-engagements/internal/utils"
)

type Handler struct {
	CheckIn   *checkin.Service
	Emitter   *sse.CheckInEmitter
	Logger    *logger.Logger
	Heartbeat time.Duration
}

func NewHandler(svc *checkin.Service, emitter *sse.CheckInEmitter, log *logger.Logger) *Handler {
	return &Handler{CheckIn: svc, Emitter: emitter, Logger: log, Heartbeat: 25 * time.Second}
}

type checkInRequest struct {
	Code string `json:"code" validate:"required"`
}

// CheckInTicket admits a scanned ticket at an event's door. Rejections are
// 200 responses with admitted=false and a reason.
func (h *Handler) CheckInTicket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := utils.Validate(r.Context(), req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.CheckIn.CheckIn(r.Context(), req.Code, eventID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CheckInTicket: event %s: %v", eventID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Check-in failed", nil)
		return
	}

	message := "Admitted"
	if !result.Admitted {
		message = "Not admitted"
	}
	utils.WriteSuccess(w, http.StatusOK, message, result)
}

// StreamCheckIns streams admissions for one event as server-sent events.
func (h *Handler) StreamCheckIns(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	admissions := h.Emitter.SubscribeToEvent(ctx, eventID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"event_id\":%q}\n\n", eventID)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to check-ins of event %s", eventID))

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case a, ok := <-admissions:
			if !ok {
				return
			}
			data, err := json.Marshal(a)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize admission: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: checkin\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from check-ins of event %s", eventID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Accel-Buffering", "no")
}
