package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"servhub/internal/analytics"
	"servhub/internal/domain"
	"servhub/internal/enrich"
	"servhub/internal/events"
	"servhub/internal/lifecycle"
	"servhub/internal/metrics"
	"servhub/internal/models"
	"servhub/internal/schedule"

	"github.com/rs/zerolog"
)

var (
	// ErrNotAuthenticated blocks all facade operations until a provider
	// session is established via Load.
	ErrNotAuthenticated = errors.New("no provider session established")

	// ErrStoreUnavailable wraps persistence-collaborator failures. Local
	// state is left untouched when it is returned.
	ErrStoreUnavailable = errors.New("booking store unavailable")

	// ErrBookingNotFound means the booking id is not in the loaded session.
	ErrBookingNotFound = errors.New("booking not found in session")

	// ErrReasonRequired is returned when a dispute carries no reason.
	ErrReasonRequired = errors.New("dispute reason is required")

	// ErrScheduleRequired is returned when an accept carries no schedule
	// date.
	ErrScheduleRequired = errors.New("schedule date is required")
)

// Operation names a mutating facade call for in-flight tracking.
type Operation string

const (
	OpAccept   Operation = "accept"
	OpDecline  Operation = "decline"
	OpStart    Operation = "start"
	OpComplete Operation = "complete"
	OpDispute  Operation = "dispute"
)

// BookingManager is the provider-session facade over the booking lifecycle:
// it loads and enriches the provider's bookings, validates and forwards
// transitions to the store, and keeps the in-memory set consistent.
type BookingManager struct {
	store    domain.BookingStore
	enricher *enrich.Enricher
	eventBus domain.EventPublisher
	sync     domain.SyncWorker
	logger   *zerolog.Logger
	clock    func() time.Time

	mu              sync.RWMutex
	providerID      string
	providerProfile *models.Profile
	bookings        []models.EnrichedBooking
	lastErr         error

	inflight sync.Map

	// per-booking locks serialize concurrent mutations on the same id so two
	// simultaneous action requests cannot race a lost update.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewBookingManager(store domain.BookingStore, enricher *enrich.Enricher, eventBus domain.EventPublisher, syncWorker domain.SyncWorker, logger *zerolog.Logger) *BookingManager {
	return &BookingManager{
		store:    store,
		enricher: enricher,
		eventBus: eventBus,
		sync:     syncWorker,
		logger:   logger,
		clock:    time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source.
func (m *BookingManager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Load fetches and enriches the provider's bookings, establishing the
// session.
func (m *BookingManager) Load(ctx context.Context, providerID string) ([]models.EnrichedBooking, error) {
	raw, err := m.store.GetProviderBookings(ctx, providerID)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
		m.recordError(wrapped)
		return nil, wrapped
	}

	enriched := m.enricher.EnrichAll(ctx, raw, m.clock())
	profile, _ := m.enricher.Profile(ctx, providerID)

	m.mu.Lock()
	m.providerID = providerID
	m.providerProfile = profile
	m.bookings = enriched
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info().Str("provider_id", providerID).Int("bookings", len(enriched)).Msg("booking session loaded")
	return m.snapshot(), nil
}

// Refresh clears the enricher's profile cache and reloads the current
// session, so the reload fetches fresh profile data.
func (m *BookingManager) Refresh(ctx context.Context) ([]models.EnrichedBooking, error) {
	m.mu.RLock()
	providerID := m.providerID
	m.mu.RUnlock()
	if providerID == "" {
		return nil, ErrNotAuthenticated
	}

	if err := m.enricher.ClearCache(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("profile cache clear failed during refresh")
	}
	return m.Load(ctx, providerID)
}

func (m *BookingManager) Accept(ctx context.Context, bookingID string, scheduledAt time.Time) (*models.EnrichedBooking, error) {
	if scheduledAt.IsZero() {
		m.recordError(ErrScheduleRequired)
		return nil, ErrScheduleRequired
	}
	return m.mutate(ctx, OpAccept, bookingID, models.StatusAccepted, events.EventBookingAccepted, "",
		func(ctx context.Context) (*models.Booking, error) {
			return m.store.AcceptBooking(ctx, bookingID, scheduledAt)
		})
}

func (m *BookingManager) Decline(ctx context.Context, bookingID string, reason string) (*models.EnrichedBooking, error) {
	return m.mutate(ctx, OpDecline, bookingID, models.StatusDeclined, events.EventBookingDeclined, reason,
		func(ctx context.Context) (*models.Booking, error) {
			return m.store.DeclineBooking(ctx, bookingID, reason)
		})
}

func (m *BookingManager) Start(ctx context.Context, bookingID string) (*models.EnrichedBooking, error) {
	return m.mutate(ctx, OpStart, bookingID, models.StatusInProgress, events.EventBookingStarted, "",
		func(ctx context.Context) (*models.Booking, error) {
			return m.store.StartBooking(ctx, bookingID)
		})
}

func (m *BookingManager) Complete(ctx context.Context, bookingID string, finalPrice *models.Money) (*models.EnrichedBooking, error) {
	return m.mutate(ctx, OpComplete, bookingID, models.StatusCompleted, events.EventBookingCompleted, "",
		func(ctx context.Context) (*models.Booking, error) {
			return m.store.CompleteBooking(ctx, bookingID, finalPrice)
		})
}

func (m *BookingManager) Dispute(ctx context.Context, bookingID string, reason string) (*models.EnrichedBooking, error) {
	if reason == "" {
		m.recordError(ErrReasonRequired)
		return nil, ErrReasonRequired
	}
	return m.mutate(ctx, OpDispute, bookingID, models.StatusDisputed, events.EventBookingDisputed, reason,
		func(ctx context.Context) (*models.Booking, error) {
			return m.store.DisputeBooking(ctx, bookingID, reason)
		})
}

// mutate runs one transition end to end: session check, per-id
// serialization, in-flight marking, table validation, store call, and local
// replacement of the single affected booking.
func (m *BookingManager) mutate(ctx context.Context, op Operation, bookingID string, target models.BookingStatus, eventType, reason string, call func(context.Context) (*models.Booking, error)) (*models.EnrichedBooking, error) {
	m.mu.RLock()
	authenticated := m.providerID != ""
	m.mu.RUnlock()
	if !authenticated {
		return nil, ErrNotAuthenticated
	}

	lock := m.bookingLock(bookingID)
	lock.Lock()
	defer lock.Unlock()

	key := opKey(op, bookingID)
	m.inflight.Store(key, struct{}{})
	defer m.inflight.Delete(key)

	current, err := m.findBooking(bookingID)
	if err != nil {
		m.recordError(err)
		metrics.IncBookingOp(string(op), "not_found")
		return nil, err
	}

	if err := lifecycle.Validate(&current.Booking, target, m.clock()); err != nil {
		m.recordError(err)
		metrics.IncBookingOp(string(op), "invalid_transition")
		return nil, err
	}

	updated, err := call(ctx)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
		m.recordError(wrapped)
		metrics.IncBookingOp(string(op), "store_error")
		return nil, wrapped
	}

	enriched := m.enricher.Enrich(ctx, updated, m.clock())
	m.replaceBooking(enriched)
	metrics.IncBookingOp(string(op), "success")

	m.publishEvent(eventType, updated, reason)
	m.enqueueSync(ctx, updated)
	m.enqueueSnapshot(ctx)

	m.logger.Info().
		Str("booking_id", bookingID).
		Str("operation", string(op)).
		Str("status", string(updated.Status)).
		Msg("booking transition applied")

	return &enriched, nil
}

// IsOperationPending reports whether a specific (operation, bookingId) call
// is in flight, so a caller can disable one action without blocking others.
func (m *BookingManager) IsOperationPending(op Operation, bookingID string) bool {
	_, ok := m.inflight.Load(opKey(op, bookingID))
	return ok
}

// LastError returns the facade's last recorded error for display.
func (m *BookingManager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Bookings returns the session's booking set with time-derived flags
// recomputed at the current instant.
func (m *BookingManager) Bookings() []models.EnrichedBooking {
	return m.snapshot()
}

// FilterByStatus returns the session's bookings holding the given status.
func (m *BookingManager) FilterByStatus(status models.BookingStatus) []models.EnrichedBooking {
	return m.filter(func(b *models.EnrichedBooking) bool { return b.Status == status })
}

func (m *BookingManager) Pending() []models.EnrichedBooking {
	return m.filter(func(b *models.EnrichedBooking) bool { return b.IsPending })
}

func (m *BookingManager) Upcoming() []models.EnrichedBooking {
	return m.filter(func(b *models.EnrichedBooking) bool { return b.IsUpcoming })
}

func (m *BookingManager) Active() []models.EnrichedBooking {
	return m.filter(func(b *models.EnrichedBooking) bool { return b.IsActive })
}

func (m *BookingManager) Completed() []models.EnrichedBooking {
	return m.filter(func(b *models.EnrichedBooking) bool { return b.IsCompleted })
}

func (m *BookingManager) Overdue() []models.EnrichedBooking {
	return m.filter(func(b *models.EnrichedBooking) bool { return b.IsOverdue })
}

// Today returns bookings scheduled on the current calendar day.
func (m *BookingManager) Today() []models.EnrichedBooking {
	now := m.clock()
	return m.filter(func(b *models.EnrichedBooking) bool {
		if b.ScheduledAt == nil {
			return false
		}
		y1, m1, d1 := b.ScheduledAt.In(now.Location()).Date()
		y2, m2, d2 := now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	})
}

// SameDayAvailable reports whether the session provider can take on
// immediate work right now, per their published weekly schedule. A missing
// profile or schedule means not available.
func (m *BookingManager) SameDayAvailable() bool {
	m.mu.RLock()
	profile := m.providerProfile
	m.mu.RUnlock()

	if profile == nil || profile.Availability == nil {
		return false
	}
	a := profile.Availability
	return schedule.SameDayEligible(m.clock(), a.Days, a.Slots, a.MarkedAvailable)
}

// Analytics aggregates the current session's bookings.
func (m *BookingManager) Analytics() models.AnalyticsSnapshot {
	return analytics.Aggregate(m.snapshot(), m.clock())
}

func (m *BookingManager) snapshot() []models.EnrichedBooking {
	now := m.clock()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.EnrichedBooking, len(m.bookings))
	for i := range m.bookings {
		out[i] = rederive(m.bookings[i], now)
	}
	return out
}

func (m *BookingManager) filter(keep func(*models.EnrichedBooking) bool) []models.EnrichedBooking {
	all := m.snapshot()
	out := make([]models.EnrichedBooking, 0, len(all))
	for i := range all {
		if keep(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out
}

// rederive recomputes the time-sensitive flags of an already enriched
// booking without another profile lookup.
func rederive(b models.EnrichedBooking, now time.Time) models.EnrichedBooking {
	caps := lifecycle.Derive(&b.Booking, now)
	b.CanAccept = caps.CanAccept
	b.CanDecline = caps.CanDecline
	b.CanStart = caps.CanStart
	b.CanComplete = caps.CanComplete
	b.CanDispute = caps.CanDispute
	b.IsOverdue = caps.IsOverdue
	b.IsUpcoming = b.Status == models.StatusAccepted && b.ScheduledAt != nil && !b.ScheduledAt.Before(now)
	return b
}

func (m *BookingManager) findBooking(id string) (*models.EnrichedBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.bookings {
		if m.bookings[i].ID == id {
			copied := m.bookings[i]
			return &copied, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (m *BookingManager) replaceBooking(updated models.EnrichedBooking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bookings {
		if m.bookings[i].ID == updated.ID {
			m.bookings[i] = updated
			return
		}
	}
	m.bookings = append(m.bookings, updated)
}

func (m *BookingManager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *BookingManager) bookingLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if lock, ok := m.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[id] = lock
	return lock
}

func (m *BookingManager) publishEvent(eventType string, booking *models.Booking, reason string) {
	if m.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:   booking.ID,
		ClientID:    booking.ClientID,
		ProviderID:  booking.ProviderID,
		ServiceID:   booking.ServiceID,
		Status:      booking.Status,
		ScheduledAt: booking.ScheduledAt,
		Price:       booking.Price,
		Reason:      reason,
	}

	if err := m.eventBus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func (m *BookingManager) enqueueSync(ctx context.Context, booking *models.Booking) {
	if m.sync == nil {
		return
	}
	if err := m.sync.EnqueueBooking(ctx, booking); err != nil {
		m.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("sync enqueue error")
	}
}

// enqueueSnapshot pushes the post-transition analytics aggregate to the sync
// worker so the mirrored summary tracks every state change.
func (m *BookingManager) enqueueSnapshot(ctx context.Context) {
	if m.sync == nil {
		return
	}
	if err := m.sync.EnqueueSnapshot(ctx, m.Analytics()); err != nil {
		m.logger.Error().Err(err).Msg("summary enqueue error")
	}
}

func opKey(op Operation, bookingID string) string {
	return fmt.Sprintf("%s:%s", op, bookingID)
}
