package models

// EnrichedBooking is a display-ready view over a Booking: counterpart profile
// data, the formatted location line, and flags derived from the lifecycle
// rules. It is recomputed on every read and never persisted.
type EnrichedBooking struct {
	Booking

	ClientName    string `json:"client_name"`
	ClientPhone   string `json:"client_phone,omitempty"`
	ClientEmail   string `json:"client_email,omitempty"`
	ProfileLoaded bool   `json:"profile_loaded"`

	LocationLabel string `json:"location_label"`

	CanAccept   bool `json:"can_accept"`
	CanDecline  bool `json:"can_decline"`
	CanStart    bool `json:"can_start"`
	CanComplete bool `json:"can_complete"`
	CanDispute  bool `json:"can_dispute"`

	IsPending   bool `json:"is_pending"`
	IsUpcoming  bool `json:"is_upcoming"`
	IsActive    bool `json:"is_active"`
	IsCompleted bool `json:"is_completed"`
	IsOverdue   bool `json:"is_overdue"`

	// EstimatedRevenue is the booking's contribution to provider revenue:
	// the full price for completed work, the expected price for accepted or
	// in-progress work, zero otherwise.
	EstimatedRevenue Money `json:"estimated_revenue"`
}
