// Package calendar defines the availability and booking capabilities used by the
// scheduling negotiator, plus the free-slot computation over busy intervals.
package calendar

import (
	"context"
	"sort"
	"time"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// AvailabilityRequest describes the window and working hours to search.
type AvailabilityRequest struct {
	CalendarID  string
	From        time.Time
	To          time.Time
	Duration    time.Duration
	WorkStart   Clock
	WorkEnd     Clock
	WorkingDays []time.Weekday
	Location    *time.Location
}

// AvailabilityQuerier returns free slots, earliest first.
type AvailabilityQuerier interface {
	Availability(ctx context.Context, req AvailabilityRequest) ([]domain.Slot, error)
}

// EventRequest is a meeting to book.
type EventRequest struct {
	CalendarID  string
	Summary     string
	Description string
	Slot        domain.Slot
	Attendees   []string
	// RequestID makes the conference creation idempotent on the provider side.
	RequestID string
}

// CreatedEvent is the provider's handle for a booked meeting.
type CreatedEvent struct {
	EventID  string
	JoinLink string
}

// EventCreator books meetings.
type EventCreator interface {
	CreateEvent(ctx context.Context, req EventRequest) (CreatedEvent, error)
}

// FreeSlots splits each working day of req into back-to-back slots of
// req.Duration and drops those overlapping a busy interval. A slot that collides
// with a busy interval moves the cursor to the end of that interval.
func FreeSlots(busy []domain.Slot, req AvailabilityRequest) []domain.Slot {
	if req.Duration <= 0 || !req.From.Before(req.To) || req.WorkEnd <= req.WorkStart {
		return nil
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	sorted := append([]domain.Slot(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	days := make(map[time.Weekday]bool, len(req.WorkingDays))
	for _, d := range req.WorkingDays {
		days[d] = true
	}

	from := req.From.In(loc)
	to := req.To.In(loc)
	var out []domain.Slot

	for day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		if !days[day.Weekday()] {
			continue
		}
		dayStart := req.WorkStart.On(day)
		dayEnd := req.WorkEnd.On(day)
		if dayEnd.After(to) {
			dayEnd = to
		}

		cursor := dayStart
		for !cursor.Add(req.Duration).After(dayEnd) {
			candidate := domain.Slot{Start: cursor, End: cursor.Add(req.Duration)}
			if candidate.Start.Before(from) {
				cursor = cursor.Add(req.Duration)
				continue
			}
			if b, ok := overlapping(sorted, candidate); ok {
				cursor = b.End.In(loc)
				continue
			}
			out = append(out, candidate)
			cursor = candidate.End
		}
	}
	return out
}

func overlapping(busy []domain.Slot, s domain.Slot) (domain.Slot, bool) {
	for _, b := range busy {
		if b.Start.Before(s.End) && s.Start.Before(b.End) {
			return b, true
		}
	}
	return domain.Slot{}, false
}
