package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"servhub/internal/domain"
	"servhub/internal/lifecycle"
	"servhub/internal/metrics"
	"servhub/internal/models"

	"github.com/rs/zerolog"
)

// Enricher joins raw bookings with cached counterpart profiles and the
// lifecycle-derived flags. Profile fetch failures never surface: the booking
// degrades to sentinel counterpart data and stays actionable.
type Enricher struct {
	profiles     domain.ProfileClient
	cache        domain.ProfileCache
	logger       *zerolog.Logger
	fetchTimeout time.Duration
	concurrency  int

	// keyed locks serialize the cache-miss-then-fetch sequence per profile id
	// so concurrent enrichment does not race duplicate fetches on one key.
	keysMu sync.Mutex
	keys   map[string]*sync.Mutex
}

func NewEnricher(profiles domain.ProfileClient, cache domain.ProfileCache, fetchTimeout time.Duration, concurrency int, logger *zerolog.Logger) *Enricher {
	if fetchTimeout <= 0 {
		fetchTimeout = models.DefaultProfileFetchTimeout * time.Second
	}
	if concurrency <= 0 {
		concurrency = models.DefaultFetchConcurrency
	}
	return &Enricher{
		profiles:     profiles,
		cache:        cache,
		logger:       logger,
		fetchTimeout: fetchTimeout,
		concurrency:  concurrency,
		keys:         make(map[string]*sync.Mutex),
	}
}

// Enrich produces the display-ready view of one booking at the given instant.
func (e *Enricher) Enrich(ctx context.Context, b *models.Booking, now time.Time) models.EnrichedBooking {
	enriched := models.EnrichedBooking{
		Booking:       *b,
		ClientName:    models.UnknownCounterpart,
		LocationLabel: FormatLocation(b.Location),
	}

	if profile, ok := e.lookupProfile(ctx, b.ClientID); ok {
		enriched.ClientName = profile.Name
		enriched.ClientPhone = profile.ContactPhone
		enriched.ClientEmail = profile.ContactEmail
		enriched.ProfileLoaded = true
	}

	caps := lifecycle.Derive(b, now)
	enriched.CanAccept = caps.CanAccept
	enriched.CanDecline = caps.CanDecline
	enriched.CanStart = caps.CanStart
	enriched.CanComplete = caps.CanComplete
	enriched.CanDispute = caps.CanDispute
	enriched.IsOverdue = caps.IsOverdue

	enriched.IsPending = b.Status == models.StatusRequested
	enriched.IsActive = b.Status == models.StatusInProgress
	enriched.IsCompleted = b.Status == models.StatusCompleted
	enriched.IsUpcoming = b.Status == models.StatusAccepted && b.ScheduledAt != nil && !b.ScheduledAt.Before(now)

	enriched.EstimatedRevenue = models.Money{Currency: b.Price.Currency}
	switch b.Status {
	case models.StatusAccepted, models.StatusInProgress, models.StatusCompleted:
		enriched.EstimatedRevenue.Amount = b.Price.Amount
	}

	return enriched
}

// EnrichAll enriches independently and concurrently, capped by the configured
// concurrency. Output preserves input order.
func (e *Enricher) EnrichAll(ctx context.Context, bookings []*models.Booking, now time.Time) []models.EnrichedBooking {
	result := make([]models.EnrichedBooking, len(bookings))
	if len(bookings) == 0 {
		return result
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, b := range bookings {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, b *models.Booking) {
			defer wg.Done()
			defer func() { <-sem }()
			result[i] = e.Enrich(ctx, b, now)
		}(i, b)
	}
	wg.Wait()

	return result
}

// Profile returns the cached-or-fetched profile for an id, with the same
// degradation semantics as enrichment: a miss or failure yields (nil, false).
func (e *Enricher) Profile(ctx context.Context, id string) (*models.Profile, bool) {
	return e.lookupProfile(ctx, id)
}

// ClearCache drops every cached profile. The enricher owns the cache handle,
// so callers wanting fresh profile data clear through here.
func (e *Enricher) ClearCache(ctx context.Context) error {
	return e.cache.Clear(ctx)
}

func (e *Enricher) keyLock(id string) *sync.Mutex {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()
	if mu, ok := e.keys[id]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	e.keys[id] = mu
	return mu
}

// lookupProfile consults the cache first and fetches on a miss, populating
// the cache. Any failure (including timeout) is absorbed as (nil, false).
func (e *Enricher) lookupProfile(ctx context.Context, id string) (*models.Profile, bool) {
	if id == "" {
		return nil, false
	}

	mu := e.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	if cached, err := e.cache.Get(ctx, id); err == nil && cached != nil {
		metrics.IncProfileLookup("hit")
		return cached, true
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	profile, err := e.profiles.GetProfile(fetchCtx, id)
	if err != nil {
		metrics.IncProfileLookup("error")
		e.logger.Warn().Err(err).Str("profile_id", id).Msg("profile fetch failed, degrading to sentinel data")
		return nil, false
	}
	metrics.IncProfileLookup("miss")

	if err := e.cache.Set(ctx, profile); err != nil {
		e.logger.Warn().Err(err).Str("profile_id", id).Msg("profile cache populate failed")
	}

	return profile, true
}

// FormatLocation renders a single display line: full address parts joined
// with ", ", else coordinates to 4 decimal places, else a sentinel.
func FormatLocation(loc models.Location) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{loc.Street, loc.City, loc.State, loc.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	if loc.Latitude != nil && loc.Longitude != nil {
		return fmt.Sprintf("%.4f, %.4f", *loc.Latitude, *loc.Longitude)
	}
	return models.LocationUnavailable
}
