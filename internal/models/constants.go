package models

const (
	// UnknownCounterpart is shown when the counterpart profile could not be
	// loaded.
	UnknownCounterpart = "Unknown"

	// LocationUnavailable is shown when a booking carries neither an address
	// nor coordinates.
	LocationUnavailable = "Location not available"
)

const (
	// DefaultFetchConcurrency caps concurrent profile lookups during batch
	// enrichment.
	DefaultFetchConcurrency = 8

	// DefaultProfileCacheTTL время жизни профиля в Redis, секунды
	DefaultProfileCacheTTL = 24 * 60 * 60

	// DefaultProfileFetchTimeout per-lookup timeout, seconds
	DefaultProfileFetchTimeout = 5

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000
)
