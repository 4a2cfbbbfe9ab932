package dispatch

import (
	"time"

	"github.com/acme/lead-outreach-orchestrator/internal/calendar"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// BusinessHours is the global sending window in a reference time zone.
type BusinessHours struct {
	Location *time.Location
	Days     []time.Weekday
	Start    calendar.Clock
	End      calendar.Clock
}

// DefaultBusinessHours is Monday to Friday, 08:00 to 18:00.
func DefaultBusinessHours(loc *time.Location) BusinessHours {
	return BusinessHours{
		Location: loc,
		Days:     calendar.WorkWeek(),
		Start:    calendar.MustClock("08:00"),
		End:      calendar.MustClock("18:00"),
	}
}

// Open reports whether t falls inside the window.
func (h BusinessHours) Open(t time.Time) bool {
	local := t.In(h.location())
	open := false
	for _, d := range h.Days {
		if d == local.Weekday() {
			open = true
			break
		}
	}
	if !open {
		return false
	}
	c := calendar.Of(local)
	return c >= h.Start && c < h.End
}

func (h BusinessHours) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// isWithinAllowedHours applies a campaign's own windows in loc. Campaigns without
// windows are always allowed. Windows whose end is not after their start span
// midnight into the next day.
func isWithinAllowedHours(now time.Time, loc *time.Location, windows []domain.BusinessHourWindow) bool {
	if len(windows) == 0 {
		return true
	}

	local := now.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	for _, window := range windows {
		start := window.Start.Hour()*60 + window.Start.Minute()
		end := window.End.Hour()*60 + window.End.Minute()

		if end <= start {
			nextDay := (int(window.DayOfWeek) + 1) % 7
			if window.DayOfWeek == weekday && minuteOfDay >= start {
				return true
			}
			if time.Weekday(nextDay) == weekday && minuteOfDay < end {
				return true
			}
			continue
		}

		if window.DayOfWeek != weekday {
			continue
		}
		if minuteOfDay >= start && minuteOfDay < end {
			return true
		}
	}

	return false
}
