package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-engagements/internal/auth"
	"ms-engagements/internal/booking"
	"ms-engagements/internal/events"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/utils"
)

type Handler struct {
	BookingService *booking.BookingService
	Logger         *logger.Logger
}

func NewHandler(svc *booking.BookingService, log *logger.Logger) *Handler {
	return &Handler{BookingService: svc, Logger: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.CreateBooking)
	r.Get("/", h.ListBookings)
	r.Get("/{id}", h.GetBooking)
	r.Patch("/{id}/status", h.UpdateStatus)
	r.Delete("/{id}", h.DeleteBooking)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	hostID := auth.UserID(r.Context())

	var req models.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := utils.Validate(r.Context(), req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid booking request", err)
		return
	}

	b, err := h.BookingService.Create(r.Context(), hostID, req)
	if err != nil {
		h.writeError(w, "CreateBooking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Booking requested", b)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.BookingService.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ListBookings", err)
		return
	}
	if list == nil {
		list = []models.Booking{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Bookings retrieved", list)
}

// ListEventBookings lists the bookings of one event for its host.
func (h *Handler) ListEventBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.BookingService.ListByEvent(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ListEventBookings", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event bookings retrieved", list)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.BookingService.Get(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetBooking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Booking retrieved", b)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.UpdateBookingStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := utils.Validate(r.Context(), req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid status request", err)
		return
	}
	status, ok := models.ParseBookingStatus(req.Status)
	if !ok {
		utils.WriteError(w, http.StatusBadRequest, "Invalid status request", fmt.Errorf("%w: %q", booking.ErrInvalidStatus, req.Status))
		return
	}

	b, err := h.BookingService.Transition(r.Context(), id, auth.UserID(r.Context()), status)
	if err != nil {
		h.writeError(w, "UpdateStatus", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Booking updated", b)
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.BookingService.Delete(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context())); err != nil {
		h.writeError(w, "DeleteBooking", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError surfaces state errors verbatim so clients can explain the refusal.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteError(w, status, "Booking request failed", nil)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("%s: rejected: %v", op, err))
	utils.WriteError(w, status, "Booking request rejected", err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, events.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrNotParticipant),
		errors.Is(err, booking.ErrNotEventHost):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrInvalidBooking),
		errors.Is(err, booking.ErrSelfBooking),
		errors.Is(err, booking.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrInvalidActorForState),
		errors.Is(err, booking.ErrBookingImmutable),
		errors.Is(err, booking.ErrPaymentRequired),
		errors.Is(err, booking.ErrDeleteNotAllowed),
		errors.Is(err, booking.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
