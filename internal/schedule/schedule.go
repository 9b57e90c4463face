package schedule

import (
	"strings"
	"time"
)

const timeLayout = "15:04"

// TimeRange is a same-day slot with inclusive start and exclusive end,
// expressed as minutes from midnight.
type TimeRange struct {
	Start int
	End   int
}

// ParseTimeRange parses a slot of the exact form "HH:MM-HH:MM". Ranges
// crossing midnight are not supported: the end must be strictly after the
// start within the same day.
func ParseTimeRange(s string) (TimeRange, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return TimeRange{}, false
	}

	start, err := time.Parse(timeLayout, strings.TrimSpace(parts[0]))
	if err != nil {
		return TimeRange{}, false
	}
	end, err := time.Parse(timeLayout, strings.TrimSpace(parts[1]))
	if err != nil {
		return TimeRange{}, false
	}

	tr := TimeRange{
		Start: start.Hour()*60 + start.Minute(),
		End:   end.Hour()*60 + end.Minute(),
	}
	if tr.End <= tr.Start {
		return TimeRange{}, false
	}
	return tr, true
}

// Contains reports whether the minute-of-day falls within the range,
// start <= m < end.
func (t TimeRange) Contains(m int) bool {
	return m >= t.Start && m < t.End
}

// SameDayEligible decides whether a provider can be booked for immediate
// service at the given instant: the provider is marked available, today's
// weekday is in the schedule (case-insensitive), and the current time of day
// falls within at least one slot. Malformed slot strings are skipped rather
// than failing the whole check.
func SameDayEligible(now time.Time, days []string, slots []string, markedAvailable bool) bool {
	if !markedAvailable {
		return false
	}

	today := strings.ToLower(now.Weekday().String())
	active := false
	for _, d := range days {
		if strings.ToLower(strings.TrimSpace(d)) == today {
			active = true
			break
		}
	}
	if !active {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	for _, s := range slots {
		if tr, ok := ParseTimeRange(s); ok && tr.Contains(minute) {
			return true
		}
	}
	return false
}
