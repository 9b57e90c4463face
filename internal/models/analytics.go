package models

import "time"

// AnalyticsSnapshot is a value object derived from an enriched booking set.
// Regenerated on demand, never persisted.
type AnalyticsSnapshot struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Accepted   int `json:"accepted"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Declined   int `json:"declined"`
	Cancelled  int `json:"cancelled"`
	Disputed   int `json:"disputed"`

	TotalRevenue        float64 `json:"total_revenue"`
	ExpectedRevenue     float64 `json:"expected_revenue"`
	AverageBookingValue float64 `json:"average_booking_value"`

	// Rates are percentages in [0, 100]. Both are computed over the
	// ever-accepted count: bookings currently accepted plus those that moved
	// on to in_progress, completed, or disputed. AcceptanceRate divides that
	// count by it plus pending and declined; CompletionRate divides completed
	// by it. A completed booking therefore never lowers AcceptanceRate.
	AcceptanceRate float64 `json:"acceptance_rate"`
	CompletionRate float64 `json:"completion_rate"`

	WeekRevenue   float64 `json:"week_revenue"`
	WeekBookings  int     `json:"week_bookings"`
	MonthRevenue  float64 `json:"month_revenue"`
	MonthBookings int     `json:"month_bookings"`

	GeneratedAt time.Time `json:"generated_at"`
}
