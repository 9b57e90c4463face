package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"servhub/internal/enrich"
	"servhub/internal/events"
	"servhub/internal/lifecycle"
	"servhub/internal/models"
	"servhub/internal/profiles"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetProviderBookings(ctx context.Context, providerID string) ([]*models.Booking, error) {
	args := m.Called(ctx, providerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockStore) AcceptBooking(ctx context.Context, id string, scheduledAt time.Time) (*models.Booking, error) {
	args := m.Called(ctx, id, scheduledAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockStore) DeclineBooking(ctx context.Context, id string, reason string) (*models.Booking, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockStore) StartBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockStore) CompleteBooking(ctx context.Context, id string, finalPrice *models.Money) (*models.Booking, error) {
	args := m.Called(ctx, id, finalPrice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockStore) DisputeBooking(ctx context.Context, id string, reason string) (*models.Booking, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type stubProfileClient struct{}

func (stubProfileClient) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return &models.Profile{ID: id, Name: "Client " + id}, nil
}

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, store *mockStore) *BookingManager {
	t.Helper()
	logger := zerolog.New(io.Discard)
	enricher := enrich.NewEnricher(stubProfileClient{}, profiles.NewMemoryProfileCache(), time.Second, 4, &logger)
	m := NewBookingManager(store, enricher, events.NewEventBus(), nil, &logger)
	m.SetClock(func() time.Time { return testNow })
	return m
}

func booking(id string, status models.BookingStatus, scheduledAt *time.Time) *models.Booking {
	return &models.Booking{
		ID:          id,
		ClientID:    "client-" + id,
		ProviderID:  "provider-1",
		ServiceID:   "svc-1",
		ServiceName: "Pipe repair",
		Status:      status,
		Price:       models.Money{Amount: 100, Currency: "USD"},
		RequestedAt: testNow.Add(-24 * time.Hour),
		ScheduledAt: scheduledAt,
	}
}

func loadSession(t *testing.T, m *BookingManager, store *mockStore, bookings ...*models.Booking) {
	t.Helper()
	store.On("GetProviderBookings", mock.Anything, "provider-1").Return(bookings, nil).Once()
	_, err := m.Load(context.Background(), "provider-1")
	require.NoError(t, err)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("EstablishesSession", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)

		store.On("GetProviderBookings", ctx, "provider-1").Return([]*models.Booking{
			booking("b1", models.StatusRequested, nil),
			booking("b2", models.StatusCompleted, nil),
		}, nil).Once()

		got, err := m.Load(ctx, "provider-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Client client-b1", got[0].ClientName)
		assert.True(t, got[0].CanAccept)
		store.AssertExpectations(t)
	})

	t.Run("StoreFailure", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)

		store.On("GetProviderBookings", ctx, "provider-1").Return(nil, errors.New("connection refused")).Once()

		_, err := m.Load(ctx, "provider-1")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.ErrorIs(t, m.LastError(), ErrStoreUnavailable)
	})
}

func TestOperationsRequireSession(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	m := newTestManager(t, store)

	_, err := m.Accept(ctx, "b1", testNow)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = m.Decline(ctx, "b1", "busy")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = m.Refresh(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	store.AssertNotCalled(t, "AcceptBooking", mock.Anything, mock.Anything, mock.Anything)
}

func TestAccept(t *testing.T) {
	ctx := context.Background()
	scheduledAt := testNow.Add(2 * time.Hour)

	t.Run("Success", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

		accepted := booking("b1", models.StatusAccepted, &scheduledAt)
		store.On("AcceptBooking", ctx, "b1", scheduledAt).Return(accepted, nil).Once()

		got, err := m.Accept(ctx, "b1", scheduledAt)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, got.Status)
		assert.False(t, got.CanAccept)
		assert.False(t, got.CanStart, "schedule is still in the future")
		assert.True(t, got.IsUpcoming)

		// Local set reflects the transition.
		require.Len(t, m.FilterByStatus(models.StatusAccepted), 1)
		assert.Empty(t, m.Pending())
		store.AssertExpectations(t)
	})

	t.Run("ZeroScheduleRejected", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

		_, err := m.Accept(ctx, "b1", time.Time{})
		assert.ErrorIs(t, err, ErrScheduleRequired)
		store.AssertNotCalled(t, "AcceptBooking", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("AlreadyAccepted", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusAccepted, &scheduledAt))

		_, err := m.Accept(ctx, "b1", scheduledAt)
		var invalid *lifecycle.ErrInvalidTransition
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, models.StatusAccepted, invalid.From)

		// Booking unchanged, store never called.
		require.Len(t, m.FilterByStatus(models.StatusAccepted), 1)
		store.AssertNotCalled(t, "AcceptBooking", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UnknownBooking", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

		_, err := m.Accept(ctx, "ghost", scheduledAt)
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})

	t.Run("StoreFailureLeavesStateUntouched", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

		store.On("AcceptBooking", ctx, "b1", scheduledAt).Return(nil, errors.New("timeout")).Once()

		_, err := m.Accept(ctx, "b1", scheduledAt)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		require.Len(t, m.Pending(), 1, "booking stays requested on store failure")
		assert.ErrorIs(t, m.LastError(), ErrStoreUnavailable)
	})
}

func TestDecline(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	m := newTestManager(t, store)
	loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

	declined := booking("b1", models.StatusDeclined, nil)
	declined.DeclineReason = "fully booked"
	store.On("DeclineBooking", ctx, "b1", "fully booked").Return(declined, nil).Once()

	got, err := m.Decline(ctx, "b1", "fully booked")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, got.Status)
	assert.False(t, got.CanAccept)
	store.AssertExpectations(t)
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("BeforeScheduleRejected", func(t *testing.T) {
		future := testNow.Add(time.Hour)
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusAccepted, &future))

		_, err := m.Start(ctx, "b1")
		var invalid *lifecycle.ErrInvalidTransition
		assert.ErrorAs(t, err, &invalid)
		store.AssertNotCalled(t, "StartBooking", mock.Anything, mock.Anything)
	})

	t.Run("AfterScheduleSucceeds", func(t *testing.T) {
		past := testNow.Add(-time.Hour)
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusAccepted, &past))

		started := booking("b1", models.StatusInProgress, &past)
		startedAt := testNow
		started.StartedAt = &startedAt
		store.On("StartBooking", ctx, "b1").Return(started, nil).Once()

		got, err := m.Start(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, got.Status)
		assert.True(t, got.CanComplete)
		require.Len(t, m.Active(), 1)
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	past := testNow.Add(-time.Hour)
	store := new(mockStore)
	m := newTestManager(t, store)
	loadSession(t, m, store, booking("b1", models.StatusInProgress, &past))

	final := &models.Money{Amount: 150, Currency: "USD"}
	completed := booking("b1", models.StatusCompleted, &past)
	completed.Price = *final
	completedAt := testNow
	completed.CompletedAt = &completedAt
	store.On("CompleteBooking", ctx, "b1", final).Return(completed, nil).Once()

	got, err := m.Complete(ctx, "b1", final)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 150.0, got.Price.Amount)
	assert.True(t, got.CanDispute)

	snap := m.Analytics()
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 150.0, snap.TotalRevenue)
}

func TestDispute(t *testing.T) {
	ctx := context.Background()

	t.Run("ReasonRequired", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusCompleted, nil))

		_, err := m.Dispute(ctx, "b1", "")
		assert.ErrorIs(t, err, ErrReasonRequired)
		store.AssertNotCalled(t, "DisputeBooking", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Success", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusCompleted, nil))

		disputed := booking("b1", models.StatusDisputed, nil)
		disputed.DisputeReason = "incomplete work"
		store.On("DisputeBooking", ctx, "b1", "incomplete work").Return(disputed, nil).Once()

		got, err := m.Dispute(ctx, "b1", "incomplete work")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDisputed, got.Status)
	})

	t.Run("OnlyFromCompleted", func(t *testing.T) {
		store := new(mockStore)
		m := newTestManager(t, store)
		loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

		_, err := m.Dispute(ctx, "b1", "reason")
		var invalid *lifecycle.ErrInvalidTransition
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	m := newTestManager(t, store)
	loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

	store.On("GetProviderBookings", mock.Anything, "provider-1").Return([]*models.Booking{
		booking("b1", models.StatusAccepted, &testNow),
		booking("b2", models.StatusRequested, nil),
	}, nil).Once()

	got, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	store.AssertExpectations(t)
}

type countingProfileClient struct {
	fetches atomic.Int64
}

func (c *countingProfileClient) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	c.fetches.Add(1)
	return &models.Profile{ID: id, Name: "Client " + id}, nil
}

func TestRefreshDropsCachedProfiles(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	client := &countingProfileClient{}
	enricher := enrich.NewEnricher(client, profiles.NewMemoryProfileCache(), time.Second, 4, &logger)
	store := new(mockStore)
	m := NewBookingManager(store, enricher, events.NewEventBus(), nil, &logger)
	m.SetClock(func() time.Time { return testNow })

	loadSession(t, m, store, booking("b1", models.StatusRequested, nil))
	loaded := client.fetches.Load()
	require.Positive(t, loaded)

	// A plain reload serves profiles from cache.
	store.On("GetProviderBookings", mock.Anything, "provider-1").
		Return([]*models.Booking{booking("b1", models.StatusRequested, nil)}, nil).Twice()
	_, err := m.Load(ctx, "provider-1")
	require.NoError(t, err)
	assert.Equal(t, loaded, client.fetches.Load())

	// Refresh clears the cache the enricher reads, forcing fresh fetches.
	_, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Greater(t, client.fetches.Load(), loaded)
	store.AssertExpectations(t)
}

type recordingSyncWorker struct {
	mu        sync.Mutex
	bookings  []string
	snapshots []models.AnalyticsSnapshot
}

func (w *recordingSyncWorker) EnqueueBooking(ctx context.Context, b *models.Booking) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bookings = append(w.bookings, b.ID)
	return nil
}

func (w *recordingSyncWorker) EnqueueSnapshot(ctx context.Context, s models.AnalyticsSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshots = append(w.snapshots, s)
	return nil
}

func TestTransitionFeedsSyncWorker(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	enricher := enrich.NewEnricher(stubProfileClient{}, profiles.NewMemoryProfileCache(), time.Second, 4, &logger)
	store := new(mockStore)
	syncWorker := &recordingSyncWorker{}
	m := NewBookingManager(store, enricher, events.NewEventBus(), syncWorker, &logger)
	m.SetClock(func() time.Time { return testNow })

	loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

	scheduledAt := testNow.Add(2 * time.Hour)
	accepted := booking("b1", models.StatusAccepted, &scheduledAt)
	store.On("AcceptBooking", mock.Anything, "b1", scheduledAt).Return(accepted, nil).Once()

	_, err := m.Accept(ctx, "b1", scheduledAt)
	require.NoError(t, err)

	syncWorker.mu.Lock()
	defer syncWorker.mu.Unlock()
	assert.Equal(t, []string{"b1"}, syncWorker.bookings)
	require.Len(t, syncWorker.snapshots, 1)
	assert.Equal(t, 1, syncWorker.snapshots[0].Accepted)
	assert.Equal(t, 1, syncWorker.snapshots[0].Total)
}

func TestViews(t *testing.T) {
	overdueAt := testNow.Add(-3 * time.Hour)
	upcomingAt := testNow.Add(3 * time.Hour)
	tomorrowAt := testNow.Add(24 * time.Hour)

	store := new(mockStore)
	m := newTestManager(t, store)
	loadSession(t, m, store,
		booking("pending", models.StatusRequested, nil),
		booking("overdue", models.StatusAccepted, &overdueAt),
		booking("upcoming", models.StatusAccepted, &upcomingAt),
		booking("tomorrow", models.StatusAccepted, &tomorrowAt),
		booking("active", models.StatusInProgress, &overdueAt),
		booking("done", models.StatusCompleted, &overdueAt),
	)

	ids := func(list []models.EnrichedBooking) []string {
		out := make([]string, len(list))
		for i, b := range list {
			out[i] = b.ID
		}
		return out
	}

	assert.Equal(t, []string{"pending"}, ids(m.Pending()))
	assert.Equal(t, []string{"overdue"}, ids(m.Overdue()))
	assert.ElementsMatch(t, []string{"upcoming", "tomorrow"}, ids(m.Upcoming()))
	assert.Equal(t, []string{"active"}, ids(m.Active()))
	assert.Equal(t, []string{"done"}, ids(m.Completed()))
	assert.ElementsMatch(t, []string{"overdue", "upcoming", "active", "done"}, ids(m.Today()))
	assert.ElementsMatch(t, []string{"overdue", "upcoming", "tomorrow"}, ids(m.FilterByStatus(models.StatusAccepted)))
}

type availabilityProfileClient struct {
	availability *models.WeeklyAvailability
}

func (c availabilityProfileClient) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return &models.Profile{ID: id, Name: "Provider", Availability: c.availability}, nil
}

func TestSameDayAvailable(t *testing.T) {
	// testNow is Monday 12:00 UTC.
	newManager := func(t *testing.T, availability *models.WeeklyAvailability) (*BookingManager, *mockStore) {
		t.Helper()
		logger := zerolog.New(io.Discard)
		store := new(mockStore)
		enricher := enrich.NewEnricher(availabilityProfileClient{availability}, profiles.NewMemoryProfileCache(), time.Second, 4, &logger)
		m := NewBookingManager(store, enricher, events.NewEventBus(), nil, &logger)
		m.SetClock(func() time.Time { return testNow })
		return m, store
	}

	t.Run("WithoutSession", func(t *testing.T) {
		m, _ := newManager(t, nil)
		assert.False(t, m.SameDayAvailable())
	})

	t.Run("InsideSlot", func(t *testing.T) {
		m, store := newManager(t, &models.WeeklyAvailability{
			Days:            []string{"Monday"},
			Slots:           []string{"09:00-17:00"},
			MarkedAvailable: true,
		})
		loadSession(t, m, store)
		assert.True(t, m.SameDayAvailable())
	})

	t.Run("OutsideSlot", func(t *testing.T) {
		m, store := newManager(t, &models.WeeklyAvailability{
			Days:            []string{"Monday"},
			Slots:           []string{"14:00-17:00"},
			MarkedAvailable: true,
		})
		loadSession(t, m, store)
		assert.False(t, m.SameDayAvailable())
	})

	t.Run("NotMarkedAvailable", func(t *testing.T) {
		m, store := newManager(t, &models.WeeklyAvailability{
			Days:            []string{"Monday"},
			Slots:           []string{"09:00-17:00"},
			MarkedAvailable: false,
		})
		loadSession(t, m, store)
		assert.False(t, m.SameDayAvailable())
	})

	t.Run("NoPublishedSchedule", func(t *testing.T) {
		m, store := newManager(t, nil)
		loadSession(t, m, store)
		assert.False(t, m.SameDayAvailable())
	})
}

func TestFlagsRederivedOverTime(t *testing.T) {
	scheduledAt := testNow.Add(time.Hour)
	store := new(mockStore)
	m := newTestManager(t, store)
	loadSession(t, m, store, booking("b1", models.StatusAccepted, &scheduledAt))

	before := m.Bookings()[0]
	assert.False(t, before.CanStart)
	assert.True(t, before.IsUpcoming)

	// Advance past the scheduled instant; no reload, same stored set.
	m.SetClock(func() time.Time { return testNow.Add(2 * time.Hour) })

	after := m.Bookings()[0]
	assert.True(t, after.CanStart)
	assert.True(t, after.IsOverdue)
	assert.False(t, after.IsUpcoming)
}

func TestInflightTracking(t *testing.T) {
	ctx := context.Background()
	scheduledAt := testNow.Add(2 * time.Hour)
	store := new(mockStore)
	m := newTestManager(t, store)
	loadSession(t, m, store, booking("b1", models.StatusRequested, nil))

	inflightSeen := make(chan bool, 1)
	accepted := booking("b1", models.StatusAccepted, &scheduledAt)
	store.On("AcceptBooking", ctx, "b1", scheduledAt).Run(func(mock.Arguments) {
		inflightSeen <- m.IsOperationPending(OpAccept, "b1")
	}).Return(accepted, nil).Once()

	assert.False(t, m.IsOperationPending(OpAccept, "b1"))
	_, err := m.Accept(ctx, "b1", scheduledAt)
	require.NoError(t, err)

	assert.True(t, <-inflightSeen, "operation marked pending while the store call runs")
	assert.False(t, m.IsOperationPending(OpAccept, "b1"), "cleared after completion")
}

func TestEventsPublishedOnTransition(t *testing.T) {
	ctx := context.Background()
	scheduledAt := testNow.Add(2 * time.Hour)

	logger := zerolog.New(io.Discard)
	enricher := enrich.NewEnricher(stubProfileClient{}, profiles.NewMemoryProfileCache(), time.Second, 4, &logger)
	bus := events.NewEventBus()
	store := new(mockStore)
	m := NewBookingManager(store, enricher, bus, nil, &logger)
	m.SetClock(func() time.Time { return testNow })

	received := make(chan events.Event, 1)
	bus.Subscribe(events.EventBookingAccepted, func(e *events.Event) error {
		received <- *e
		return nil
	})

	loadSession(t, m, store, booking("b1", models.StatusRequested, nil))
	accepted := booking("b1", models.StatusAccepted, &scheduledAt)
	store.On("AcceptBooking", ctx, "b1", scheduledAt).Return(accepted, nil).Once()

	_, err := m.Accept(ctx, "b1", scheduledAt)
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, events.EventBookingAccepted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("no booking_accepted event published")
	}
}
