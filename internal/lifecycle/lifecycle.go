package lifecycle

import (
	"fmt"
	"time"

	"servhub/internal/models"
)

// ErrInvalidTransition is returned when a requested status change is not in
// the legal transition table. The booking is left untouched.
type ErrInvalidTransition struct {
	From models.BookingStatus
	To   models.BookingStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid booking transition: %s -> %s", e.From, e.To)
}

// validTransitions is the single source of truth for the booking lifecycle:
// requested -> accepted -> in_progress -> completed, with declined and
// cancelled as terminal alternates and disputed reachable only from completed.
var validTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusRequested:  {models.StatusAccepted, models.StatusDeclined},
	models.StatusAccepted:   {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted},
	models.StatusCompleted:  {models.StatusDisputed},
	models.StatusDeclined:   {},
	models.StatusCancelled:  {},
	models.StatusDisputed:   {},
}

// IsValid reports whether the status is a recognized booking status.
func IsValid(s models.BookingStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s models.BookingStatus) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return true
	}
	return len(allowed) == 0
}

// CanTransition reports whether from -> to is in the legal table.
func CanTransition(from, to models.BookingStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Validate returns an *ErrInvalidTransition when from -> to is illegal, plus
// the timing rule for starting work: accepted bookings may only start once
// their scheduled instant has arrived.
func Validate(b *models.Booking, to models.BookingStatus, now time.Time) error {
	if !CanTransition(b.Status, to) {
		return &ErrInvalidTransition{From: b.Status, To: to}
	}
	if to == models.StatusInProgress {
		if b.ScheduledAt == nil || now.Before(*b.ScheduledAt) {
			return &ErrInvalidTransition{From: b.Status, To: to}
		}
	}
	return nil
}

// Capabilities are the action-availability flags for a booking at a given
// instant. They are pure functions of status and timestamps, recomputed on
// every read and never stored.
type Capabilities struct {
	CanAccept   bool
	CanDecline  bool
	CanStart    bool
	CanComplete bool
	CanDispute  bool
	IsOverdue   bool
}

// Derive computes the capability flags for a booking relative to now.
func Derive(b *models.Booking, now time.Time) Capabilities {
	scheduled := b.ScheduledAt != nil
	return Capabilities{
		CanAccept:   b.Status == models.StatusRequested,
		CanDecline:  b.Status == models.StatusRequested,
		CanStart:    b.Status == models.StatusAccepted && scheduled && !now.Before(*b.ScheduledAt),
		CanComplete: b.Status == models.StatusInProgress,
		CanDispute:  b.Status == models.StatusCompleted,
		IsOverdue:   b.Status == models.StatusAccepted && scheduled && b.ScheduledAt.Before(now),
	}
}
