package models

import "time"

type BookingStatus string

const (
	StatusRequested  BookingStatus = "requested"
	StatusAccepted   BookingStatus = "accepted"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusDeclined   BookingStatus = "declined"
	StatusCancelled  BookingStatus = "cancelled"
	StatusDisputed   BookingStatus = "disputed"
)

func (s BookingStatus) String() string {
	return string(s)
}

// Money carries a decimal amount tagged with its currency code.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Location struct {
	Street    string   `json:"street,omitempty"`
	City      string   `json:"city,omitempty"`
	State     string   `json:"state,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Booking is a snapshot of a client's service request as the persistence
// collaborator holds it. The core reads snapshots and requests transitions;
// it never creates or deletes bookings.
type Booking struct {
	ID            string        `json:"id"`
	ClientID      string        `json:"client_id"`
	ProviderID    string        `json:"provider_id"`
	ServiceID     string        `json:"service_id"`
	ServiceName   string        `json:"service_name"`
	Status        BookingStatus `json:"status"`
	Price         Money         `json:"price"`
	Location      Location      `json:"location"`
	RequestedAt   time.Time     `json:"requested_at"`
	ScheduledAt   *time.Time    `json:"scheduled_at,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Evidence      string        `json:"evidence,omitempty"`
	DeclineReason string        `json:"decline_reason,omitempty"`
	DisputeReason string        `json:"dispute_reason,omitempty"`
}
