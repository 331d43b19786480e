package booking_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-engagements/internal/booking"
	bookingdb "ms-engagements/internal/booking/db"
	"ms-engagements/internal/database/dbtest"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
)

type MockBookingDB struct {
	mock.Mock
}

func (m *MockBookingDB) CreateBooking(ctx context.Context, b models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockBookingDB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	b := args.Get(0).(models.Booking)
	return &b, args.Error(1)
}

func (m *MockBookingDB) ListByParticipant(ctx context.Context, userID string) ([]models.Booking, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockBookingDB) ListByEvent(ctx context.Context, eventID string) ([]models.Booking, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockBookingDB) SaveTransition(ctx context.Context, b models.Booking, expectedVersion int64, earning *models.TalentEarning) (bool, error) {
	args := m.Called(ctx, b, expectedVersion, earning)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookingDB) DeleteRequested(ctx context.Context, id string, expectedVersion int64) (bool, error) {
	args := m.Called(ctx, id, expectedVersion)
	return args.Bool(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) BookingStatusChanged(ctx context.Context, b models.Booking, previous models.BookingStatus) error {
	args := m.Called(ctx, b, previous)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newService(db booking.DBLayer, n booking.Notifier) *booking.BookingService {
	svc := booking.NewBookingService(db, n, nil, logger.New(io.Discard))
	svc.Now = func() time.Time { return fixedNow }
	return svc
}

func stored(status models.BookingStatus, version int64) models.Booking {
	return models.Booking{
		ID:            "b-1",
		TalentID:      "talent-1",
		HostID:        "host-1",
		DurationHours: 4,
		Status:        status,
		PriceCents:    50000,
		PaymentStatus: models.PaymentPending,
		Version:       version,
	}
}

func TestCreateBooking(t *testing.T) {
	ctx := context.Background()
	db := new(MockBookingDB)
	n := new(MockNotifier)
	svc := newService(db, n)

	db.On("CreateBooking", ctx, mock.MatchedBy(func(b models.Booking) bool {
		return b.Status == models.BookingRequested &&
			b.PaymentStatus == models.PaymentPending &&
			b.DurationHours == models.DefaultDurationHours &&
			b.Version == 1 &&
			b.HostID == "host-1"
	})).Return(nil)
	n.On("BookingStatusChanged", ctx, mock.Anything, models.BookingStatus("")).Return(nil)

	b, err := svc.Create(ctx, "host-1", models.CreateBookingRequest{
		TalentID:      "talent-1",
		ScheduledDate: fixedNow.Add(48 * time.Hour),
		ScheduledTime: "21:00",
		PriceCents:    50000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, fixedNow, b.CreatedAt)
	db.AssertExpectations(t)
	n.AssertExpectations(t)
}

func TestCreateBookingValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(new(MockBookingDB), nil)

	_, err := svc.Create(ctx, "host-1", models.CreateBookingRequest{TalentID: "host-1"})
	assert.ErrorIs(t, err, booking.ErrSelfBooking)

	_, err = svc.Create(ctx, "host-1", models.CreateBookingRequest{TalentID: "talent-1", PriceCents: -1})
	assert.ErrorIs(t, err, booking.ErrInvalidBooking)

	_, err = svc.Create(ctx, "host-1", models.CreateBookingRequest{TalentID: "talent-1", DurationHours: -2})
	assert.ErrorIs(t, err, booking.ErrInvalidBooking)

	_, err = svc.Create(ctx, "", models.CreateBookingRequest{TalentID: "talent-1"})
	assert.ErrorIs(t, err, booking.ErrInvalidBooking)
}

func TestTransitionAccept(t *testing.T) {
	ctx := context.Background()
	db := new(MockBookingDB)
	n := new(MockNotifier)
	svc := newService(db, n)

	db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingRequested, 1), nil)
	db.On("SaveTransition", ctx, mock.MatchedBy(func(b models.Booking) bool {
		return b.Status == models.BookingAccepted && b.Version == 2
	}), int64(1), (*models.TalentEarning)(nil)).Return(true, nil)
	n.On("BookingStatusChanged", ctx, mock.Anything, models.BookingRequested).Return(errors.New("broker down"))

	b, err := svc.Transition(ctx, "b-1", "talent-1", models.BookingAccepted)
	require.NoError(t, err, "notification failure must not undo the change")
	assert.Equal(t, models.BookingAccepted, b.Status)
	n.AssertExpectations(t)
}

func TestTransitionRejections(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		status    models.BookingStatus
		actor     string
		requested models.BookingStatus
		want      error
	}{
		{"stranger", models.BookingRequested, "someone", models.BookingCanceled, booking.ErrNotParticipant},
		{"talent cancels", models.BookingRequested, "talent-1", models.BookingCanceled, booking.ErrInvalidActorForState},
		{"host accepts", models.BookingRequested, "host-1", models.BookingAccepted, booking.ErrInvalidActorForState},
		{"skip ahead", models.BookingRequested, "host-1", models.BookingCompleted, booking.ErrInvalidTransition},
		{"talent skips ahead", models.BookingRequested, "talent-1", models.BookingCompleted, booking.ErrInvalidActorForState},
		{"talent completes", models.BookingConfirmed, "talent-1", models.BookingCompleted, booking.ErrInvalidActorForState},
		{"terminal", models.BookingDeclined, "host-1", models.BookingCanceled, booking.ErrBookingImmutable},
		{"self-reported payment", models.BookingAwaitingPayment, "host-1", models.BookingConfirmed, booking.ErrPaymentRequired},
		{"unknown status", models.BookingRequested, "host-1", "paid", booking.ErrInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := new(MockBookingDB)
			svc := newService(db, nil)
			db.On("GetBooking", ctx, "b-1").Return(stored(tc.status, 3), nil)

			_, err := svc.Transition(ctx, "b-1", tc.actor, tc.requested)
			assert.ErrorIs(t, err, tc.want)
			db.AssertNotCalled(t, "SaveTransition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTransitionRetriesAfterVersionConflict(t *testing.T) {
	ctx := context.Background()
	db := new(MockBookingDB)
	svc := newService(db, nil)

	db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingAccepted, 2), nil).Once()
	db.On("SaveTransition", ctx, mock.Anything, int64(2), (*models.TalentEarning)(nil)).Return(false, nil).Once()
	canceled := stored(models.BookingCanceled, 3)
	db.On("GetBooking", ctx, "b-1").Return(canceled, nil).Once()

	_, err := svc.Transition(ctx, "b-1", "host-1", models.BookingCanceled)
	assert.ErrorIs(t, err, booking.ErrBookingImmutable)
	db.AssertExpectations(t)
}

func TestTransitionGivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	db := new(MockBookingDB)
	svc := newService(db, nil)

	db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingAccepted, 2), nil)
	db.On("SaveTransition", ctx, mock.Anything, int64(2), (*models.TalentEarning)(nil)).Return(false, nil)

	_, err := svc.Transition(ctx, "b-1", "host-1", models.BookingAwaitingPayment)
	assert.ErrorIs(t, err, booking.ErrConcurrentUpdate)
	db.AssertNumberOfCalls(t, "SaveTransition", 3)
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("first capture", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingAwaitingPayment, 3), nil)
		db.On("SaveTransition", ctx, mock.MatchedBy(func(b models.Booking) bool {
			return b.Status == models.BookingConfirmed && b.PaymentStatus == models.PaymentPaid && b.PaymentTransactionID == "pi_1"
		}), int64(3), mock.MatchedBy(func(e *models.TalentEarning) bool {
			return e != nil && e.AmountCents == 50000 && e.TalentID == "talent-1"
		})).Return(true, nil)

		b, fresh, err := svc.ConfirmPayment(ctx, "b-1", booking.Capture{TransactionID: "pi_1", AmountCents: 51000})
		require.NoError(t, err)
		assert.True(t, fresh)
		assert.Equal(t, models.BookingConfirmed, b.Status)
	})

	t.Run("replay", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		confirmed := stored(models.BookingConfirmed, 4)
		confirmed.PaymentStatus = models.PaymentPaid
		confirmed.PaymentTransactionID = "pi_1"
		db.On("GetBooking", ctx, "b-1").Return(confirmed, nil)

		b, fresh, err := svc.ConfirmPayment(ctx, "b-1", booking.Capture{TransactionID: "pi_1"})
		require.NoError(t, err)
		assert.False(t, fresh)
		assert.Equal(t, models.BookingConfirmed, b.Status)
		db.AssertNotCalled(t, "SaveTransition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("other transaction", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		confirmed := stored(models.BookingConfirmed, 4)
		confirmed.PaymentTransactionID = "pi_1"
		db.On("GetBooking", ctx, "b-1").Return(confirmed, nil)

		_, _, err := svc.ConfirmPayment(ctx, "b-1", booking.Capture{TransactionID: "pi_2"})
		assert.ErrorIs(t, err, booking.ErrAlreadyPaid)
	})

	t.Run("not awaiting payment", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingAccepted, 2), nil)

		_, _, err := svc.ConfirmPayment(ctx, "b-1", booking.Capture{TransactionID: "pi_1"})
		assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	})

	t.Run("missing transaction", func(t *testing.T) {
		svc := newService(new(MockBookingDB), nil)
		_, _, err := svc.ConfirmPayment(ctx, "b-1", booking.Capture{})
		assert.ErrorIs(t, err, booking.ErrMissingTransaction)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("host while requested", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingRequested, 1), nil)
		db.On("DeleteRequested", ctx, "b-1", int64(1)).Return(true, nil)

		assert.NoError(t, svc.Delete(ctx, "b-1", "host-1"))
	})

	t.Run("talent", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingRequested, 1), nil)

		assert.ErrorIs(t, svc.Delete(ctx, "b-1", "talent-1"), booking.ErrDeleteNotAllowed)
	})

	t.Run("after acceptance", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingAccepted, 2), nil)

		assert.ErrorIs(t, svc.Delete(ctx, "b-1", "host-1"), booking.ErrDeleteNotAllowed)
	})

	t.Run("accepted in between", func(t *testing.T) {
		db := new(MockBookingDB)
		svc := newService(db, nil)
		db.On("GetBooking", ctx, "b-1").Return(stored(models.BookingRequested, 1), nil)
		db.On("DeleteRequested", ctx, "b-1", int64(1)).Return(false, nil)

		assert.ErrorIs(t, svc.Delete(ctx, "b-1", "host-1"), booking.ErrDeleteNotAllowed)
	})
}

func TestBookingPaymentScenario(t *testing.T) {
	ctx := context.Background()
	svc := newService(&bookingdb.DB{Bun: dbtest.NewTestDB(t)}, nil)

	b, err := svc.Create(ctx, "host-1", models.CreateBookingRequest{
		TalentID:      "talent-1",
		ScheduledDate: fixedNow.Add(24 * time.Hour),
		ScheduledTime: "20:00",
		PriceCents:    50000,
	})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, b.ID, "talent-1", models.BookingAccepted)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, b.ID, "host-1", models.BookingAwaitingPayment)
	require.NoError(t, err)

	confirmed, fresh, err := svc.ConfirmPayment(ctx, b.ID, booking.Capture{TransactionID: "pi_123", AmountCents: 51000})
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)
	assert.Equal(t, models.PaymentPaid, confirmed.PaymentStatus)

	got, err := svc.Get(ctx, b.ID, "host-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, int64(4), got.Version)
}

func TestConcurrentCancelSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	svc := newService(&bookingdb.DB{Bun: dbtest.NewTestDB(t)}, nil)

	b, err := svc.Create(ctx, "host-1", models.CreateBookingRequest{TalentID: "talent-1", ScheduledTime: "20:00", PriceCents: 1000})
	require.NoError(t, err)

	const callers = 5
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Transition(ctx, b.ID, "host-1", models.BookingCanceled)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, booking.ErrBookingImmutable)
	}
	assert.Equal(t, 1, succeeded)
}

type stubEvents map[string]models.Event

func (s stubEvents) GetEvent(_ context.Context, id string) (*models.Event, error) {
	e, ok := s[id]
	if !ok {
		return nil, errors.New("event not found")
	}
	return &e, nil
}

func TestListByEventForHostOnly(t *testing.T) {
	db := new(MockBookingDB)
	svc := newService(db, nil)
	svc.Events = stubEvents{"evt-1": {ID: "evt-1", HostID: "host-1"}}
	ctx := context.Background()

	db.On("ListByEvent", ctx, "evt-1").Return(nil, nil).Once()

	list, err := svc.ListByEvent(ctx, "evt-1", "host-1")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	_, err = svc.ListByEvent(ctx, "evt-1", "talent-1")
	assert.ErrorIs(t, err, booking.ErrNotEventHost)
	_, err = svc.ListByEvent(ctx, "evt-missing", "host-1")
	assert.Error(t, err)

	db.AssertNumberOfCalls(t, "ListByEvent", 1)
}
