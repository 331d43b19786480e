package ticket_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-engagements/internal/auth"
	"ms-engagements/internal/database/dbtest"
	"ms-engagements/internal/events"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
	"ms-engagements/internal/signature"
	"ms-engagements/internal/tickets"
	"ms-engagements/internal/tickets/codec"
	ticketdb "ms-engagements/internal/tickets/db"
	"ms-engagements/internal/utils"
)

type fixture struct {
	router http.Handler
	svc    *tickets.TicketService
	logs   *bytes.Buffer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.NewTestDB(t)
	logs := &bytes.Buffer{}
	log := logger.New(logs)

	store := events.NewStore(db, log)
	require.NoError(t, store.CreateEvent(context.Background(), models.Event{
		ID: "evt-1", HostID: "host-1", Name: "Rooftop Jazz", TicketPriceCents: 2500,
		StartsAt: time.Now().Add(24 * time.Hour).UTC(), CreatedAt: time.Now().UTC(),
	}))

	keys, err := signature.NewKeyRing("api-key")
	require.NoError(t, err)
	svc := tickets.NewTicketService(&ticketdb.DB{Bun: db}, codec.New(keys), nil, store, log)
	h := NewHandler(svc, log)

	r := chi.NewRouter()
	r.Post("/api/tickets/validate", h.ValidateTicket)
	r.Route("/api/tickets", h.Routes)
	r.Get("/api/events/{eventId}/tickets", h.GetEventTickets)
	r.Get("/api/events/{eventId}/tickets/stats", h.GetEventTicketStats)
	return &fixture{router: r, svc: svc, logs: logs}
}

func (f *fixture) issue(t *testing.T, qty int64) []models.TicketWithCode {
	t.Helper()
	issued, _, err := f.svc.Issue(context.Background(), tickets.IssueRequest{
		EventID: "evt-1", HolderID: "user-1", Quantity: qty,
		Marker: models.PaymentConfirmation{TransactionID: "pi_1", Kind: models.CheckoutTickets, SubjectID: "evt-1", BuyerID: "user-1", Quantity: qty, CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	return issued
}

func (f *fixture) call(method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) {
	t.Helper()
	resp := utils.APIResponse{Data: data}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
}

func TestListAndGet(t *testing.T) {
	f := setup(t)
	issued := f.issue(t, 2)

	rec := f.call(http.MethodGet, "/api/tickets", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.TicketWithCode
	decode(t, rec, &list)
	assert.Len(t, list, 2)
	assert.NotEmpty(t, list[0].Code)
	assert.NotContains(t, rec.Body.String(), `"signature"`)

	assert.Equal(t, http.StatusOK, f.call(http.MethodGet, "/api/tickets/"+issued[0].ID, "user-1", "").Code)
	assert.Equal(t, http.StatusForbidden, f.call(http.MethodGet, "/api/tickets/"+issued[0].ID, "user-2", "").Code)
	assert.Equal(t, http.StatusNotFound, f.call(http.MethodGet, "/api/tickets/nope", "user-1", "").Code)
}

func TestQRAndPDF(t *testing.T) {
	f := setup(t)
	issued := f.issue(t, 1)

	rec := f.call(http.MethodGet, "/api/tickets/"+issued[0].ID+"/qr?size=128", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusBadRequest, f.call(http.MethodGet, "/api/tickets/"+issued[0].ID+"/qr?size=9000", "user-1", "").Code)
	assert.Equal(t, http.StatusNotImplemented, f.call(http.MethodGet, "/api/tickets/"+issued[0].ID+"/pdf", "user-1", "").Code)
}

func TestCancelTicket(t *testing.T) {
	f := setup(t)
	issued := f.issue(t, 1)
	path := "/api/tickets/" + issued[0].ID

	assert.Equal(t, http.StatusForbidden, f.call(http.MethodDelete, path, "user-2", "").Code)
	assert.Equal(t, http.StatusNoContent, f.call(http.MethodDelete, path, "user-1", "").Code)
	assert.Equal(t, http.StatusConflict, f.call(http.MethodDelete, path, "user-1", "").Code)
}

func TestValidateTicket(t *testing.T) {
	f := setup(t)
	issued := f.issue(t, 1)

	rec := f.call(http.MethodPost, "/api/tickets/validate", "", `{"code":"`+issued[0].Code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok ValidationResponse
	decode(t, rec, &ok)
	assert.True(t, ok.Valid)
	assert.Equal(t, issued[0].ID, ok.TicketID)

	tampered := []byte(issued[0].Code)
	tampered[5] ^= 0x02
	rec = f.call(http.MethodPost, "/api/tickets/validate", "", `{"code":"`+string(tampered)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var bad ValidationResponse
	decode(t, rec, &bad)
	assert.False(t, bad.Valid)

	assert.Equal(t, http.StatusBadRequest, f.call(http.MethodPost, "/api/tickets/validate", "", `{}`).Code)
}

func TestEventTicketStats(t *testing.T) {
	f := setup(t)
	issued := f.issue(t, 3)
	require.NoError(t, f.svc.Cancel(context.Background(), issued[0].ID, "user-1"))

	rec := f.call(http.MethodGet, "/api/events/evt-1/tickets/stats", "host-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats TicketStatsResponse
	decode(t, rec, &stats)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 2, stats.ByStatus[models.TicketValid])
	assert.Equal(t, 1, stats.ByStatus[models.TicketCancelled])

	assert.Equal(t, http.StatusForbidden, f.call(http.MethodGet, "/api/events/evt-1/tickets/stats", "user-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.call(http.MethodGet, "/api/events/nope/tickets/stats", "host-1", "").Code)
}

func TestEventTicketsForHostOnly(t *testing.T) {
	f := setup(t)
	f.issue(t, 2)

	rec := f.call(http.MethodGet, "/api/events/evt-1/tickets", "host-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Ticket
	decode(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "user-1", list[0].HolderID)
	assert.NotContains(t, rec.Body.String(), `"code"`)
	assert.NotContains(t, rec.Body.String(), `"signature"`)

	assert.Equal(t, http.StatusForbidden, f.call(http.MethodGet, "/api/events/evt-1/tickets", "user-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.call(http.MethodGet, "/api/events/nope/tickets", "host-1", "").Code)
}
