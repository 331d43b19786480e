package ticket_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-engagements/internal/auth"
	"ms-engagements/internal/models"
	"ms-engagements/internal/utils"
)

// TicketStatsResponse is the response format for the GetEventTicketStats endpoint
type TicketStatsResponse struct {
	EventID    string                      `json:"event_id"`
	TotalCount int                         `json:"total_count"`
	ByStatus   map[models.TicketStatus]int `json:"by_status"`
}

// GetEventTicketStats reports the ticket counts of one event to its host.
func (h *Handler) GetEventTicketStats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	counts, err := h.TicketService.Stats(r.Context(), eventID, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetEventTicketStats", err)
		return
	}

	resp := TicketStatsResponse{EventID: eventID, ByStatus: counts}
	for _, n := range counts {
		resp.TotalCount += n
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket stats retrieved", resp)
}

// GetEventTickets lists one event's tickets for its host.
func (h *Handler) GetEventTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListByEvent(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetEventTickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event tickets retrieved", list)
}
