package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-engagements/internal/auth"
	"ms-engagements/internal/events"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/tickets"
	"ms-engagements/internal/tickets/codec"
	"ms-engagements/internal/tickets/qr"
	"ms-engagements/internal/utils"
)

const maxQRSize = 1024

type Handler struct {
	TicketService *tickets.TicketService
	Logger        *logger.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(ticketService *tickets.TicketService, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.ListTickets)
	r.Get("/{id}", h.GetTicket)
	r.Get("/{id}/qr", h.GetTicketQR)
	r.Get("/{id}/pdf", h.GetTicketPDF)
	r.Delete("/{id}", h.CancelTicket)
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListByHolder(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ListTickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets retrieved", list)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.TicketService.Get(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetTicket", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket retrieved", t)
}

func (h *Handler) GetTicketQR(w http.ResponseWriter, r *http.Request) {
	size := qr.DefaultSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > maxQRSize {
			utils.WriteError(w, http.StatusBadRequest, "Invalid size", fmt.Errorf("size must be between 64 and %d", maxQRSize))
			return
		}
		size = n
	}

	png, err := h.TicketService.QRCode(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()), size)
	if err != nil {
		h.writeError(w, "GetTicketQR", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, no-store")
	w.Write(png)
}

func (h *Handler) GetTicketPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pdf, err := h.TicketService.PDFTicket(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetTicketPDF", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=ticket-%s.pdf", id))
	w.Write(pdf)
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	if err := h.TicketService.Cancel(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context())); err != nil {
		h.writeError(w, "CancelTicket", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateRequest struct {
	Code string `json:"code" validate:"required"`
}

// ValidationResponse reports an offline signature check. It says nothing about
// whether the ticket was already used.
type ValidationResponse struct {
	Valid    bool   `json:"valid"`
	TicketID string `json:"ticket_id,omitempty"`
	EventID  string `json:"event_id,omitempty"`
}

// ValidateTicket is public: it verifies a transport string without touching storage.
func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := utils.Validate(r.Context(), req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ok, payload := h.TicketService.Codec.Validate(req.Code)
	if !ok {
		if payload != nil {
			h.Logger.LogSecurity("FORGERY", fmt.Sprintf("signature mismatch for claimed ticket %s presented for validation", payload.TicketID))
		}
		utils.WriteSuccess(w, http.StatusOK, "Ticket is not valid", ValidationResponse{Valid: false})
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket is valid", ValidationResponse{Valid: true, TicketID: payload.TicketID, EventID: payload.EventID})
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteError(w, status, "Ticket request failed", nil)
		return
	}
	utils.WriteError(w, status, "Ticket request rejected", err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound),
		errors.Is(err, events.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, tickets.ErrNotTicketHolder),
		errors.Is(err, tickets.ErrNotEventHost):
		return http.StatusForbidden
	case errors.Is(err, tickets.ErrTicketNotValid),
		errors.Is(err, tickets.ErrStatusChanged):
		return http.StatusConflict
	case errors.Is(err, codec.ErrUnsigned):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tickets.ErrRenderingMissing):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

