package domain

import (
	"context"
	"time"

	"servhub/internal/models"
)

// BookingStore is the persistence collaborator. It owns bookings; the core
// reads snapshots and requests transitions. Mutations return the booking as
// the store sees it after the change.
type BookingStore interface {
	GetProviderBookings(ctx context.Context, providerID string) ([]*models.Booking, error)
	AcceptBooking(ctx context.Context, id string, scheduledAt time.Time) (*models.Booking, error)
	DeclineBooking(ctx context.Context, id string, reason string) (*models.Booking, error)
	StartBooking(ctx context.Context, id string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id string, finalPrice *models.Money) (*models.Booking, error)
	DisputeBooking(ctx context.Context, id string, reason string) (*models.Booking, error)
}

// ProfileClient is the identity/profile collaborator. A missing profile is
// reported with a distinct not-found sentinel; any other error is a fetch
// failure.
type ProfileClient interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// ProfileCache is the read-through cache in front of ProfileClient. Lifetime
// is one facade session; Clear drops everything on a caller-triggered refresh.
type ProfileCache interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	Set(ctx context.Context, profile *models.Profile) error
	Clear(ctx context.Context) error
}

// EventPublisher publishes booking lifecycle events to in-process consumers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SyncWorker receives booking snapshots for out-of-band reporting after each
// transition.
type SyncWorker interface {
	EnqueueBooking(ctx context.Context, booking *models.Booking) error
	EnqueueSnapshot(ctx context.Context, snapshot models.AnalyticsSnapshot) error
}
