package analytics

import (
	"time"

	"servhub/internal/models"
)

// Aggregate folds an enriched booking set into an AnalyticsSnapshot at the
// given instant. Pure: empty input yields a zeroed snapshot, never an error.
func Aggregate(bookings []models.EnrichedBooking, now time.Time) models.AnalyticsSnapshot {
	snap := models.AnalyticsSnapshot{GeneratedAt: now}

	weekStart := WeekStart(now)
	monthStart := MonthStart(now)

	var priceSum float64
	for i := range bookings {
		b := &bookings[i]
		snap.Total++
		priceSum += b.Price.Amount

		switch b.Status {
		case models.StatusRequested:
			snap.Pending++
		case models.StatusAccepted:
			snap.Accepted++
		case models.StatusInProgress:
			snap.InProgress++
		case models.StatusCompleted:
			snap.Completed++
		case models.StatusDeclined:
			snap.Declined++
		case models.StatusCancelled:
			snap.Cancelled++
		case models.StatusDisputed:
			snap.Disputed++
		}

		switch b.Status {
		case models.StatusCompleted:
			snap.TotalRevenue += b.Price.Amount
			if b.CompletedAt != nil && within(*b.CompletedAt, weekStart, now) {
				snap.WeekRevenue += b.Price.Amount
			}
			if b.CompletedAt != nil && within(*b.CompletedAt, monthStart, now) {
				snap.MonthRevenue += b.Price.Amount
			}
		case models.StatusAccepted, models.StatusInProgress:
			snap.ExpectedRevenue += b.Price.Amount
		}

		if within(b.RequestedAt, weekStart, now) {
			snap.WeekBookings++
		}
		if within(b.RequestedAt, monthStart, now) {
			snap.MonthBookings++
		}
	}

	if snap.Total > 0 {
		snap.AverageBookingValue = priceSum / float64(snap.Total)
	}

	// Bookings past the accepted stage still count as accepted for rate
	// purposes; otherwise a provider completing work would see their
	// acceptance rate fall.
	everAccepted := snap.Accepted + snap.InProgress + snap.Completed + snap.Disputed
	if denom := everAccepted + snap.Pending + snap.Declined; denom > 0 {
		snap.AcceptanceRate = clampRate(float64(everAccepted) / float64(denom) * 100)
	}
	if everAccepted > 0 {
		snap.CompletionRate = clampRate(float64(snap.Completed) / float64(everAccepted) * 100)
	}

	return snap
}

// WeekStart returns the most recent Sunday 00:00 in now's location.
func WeekStart(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// MonthStart returns day 1 00:00 of now's month in now's location.
func MonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func clampRate(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
