// Package calendar is the event policy layer over the calendar, sheets and
// drive capabilities: validated mutations through the event cache, filtered
// CSV export and import, and the background jobs that run them.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcnijman/go-emailaddress"

	"github.com/tonimelisma/calbridge/internal/provider"
)

// Validation errors. Each is wrapped with the offending value.
var (
	ErrInvalidTime    = errors.New("calendar: invalid date format")
	ErrEndBeforeStart = errors.New("calendar: end time must be after start time")
	ErrMissingTitle   = errors.New("calendar: title is required")
	ErrInvalidFilter  = errors.New("calendar: unknown filter")
)

// Event is the flattened form of a provider event that calbridge caches
// and exports.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees"`
	ColorID     string   `json:"colorId,omitempty"`
	Recurrence  []string `json:"recurrence,omitempty"`
	StartTime   string   `json:"start_time,omitempty"`
	EndTime     string   `json:"end_time,omitempty"`
	HTMLLink    string   `json:"html_link,omitempty"`
}

// FromProvider flattens ev. All-day events have no start or end time.
func FromProvider(ev *provider.Event) Event {
	out := Event{
		ID:          ev.ID,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Attendees:   make([]string, 0, len(ev.Attendees)),
		ColorID:     ev.ColorID,
		Recurrence:  ev.Recurrence,
		HTMLLink:    ev.HTMLLink,
	}

	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, a.Email)
	}

	if ev.Start != nil {
		out.StartTime = ev.Start.DateTime
	}

	if ev.End != nil {
		out.EndTime = ev.End.DateTime
	}

	return out
}

// Times parses StartTime and EndTime. ok is false when either is missing
// or unparsable.
func (e Event) Times() (start, end time.Time, ok bool) {
	start, err := time.Parse(time.RFC3339, e.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	end, err = time.Parse(time.RFC3339, e.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	return start, end, true
}

// Filter selects events relative to a point in time.
type Filter string

// Filters.
const (
	FilterAll      Filter = "all"
	FilterPast     Filter = "past"
	FilterOngoing  Filter = "ongoing"
	FilterUpcoming Filter = "upcoming"
)

// ParseFilter accepts a filter name; empty means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPast, FilterOngoing, FilterUpcoming:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
}

// Title is the capitalized filter name used in export headings.
func (f Filter) Title() string {
	if f == "" {
		return ""
	}

	return strings.ToUpper(string(f[:1])) + string(f[1:])
}

// Match reports whether e passes f at now. Events without both times never
// match, not even FilterAll.
func (f Filter) Match(e Event, now time.Time) bool {
	start, end, ok := e.Times()
	if !ok {
		return false
	}

	switch f {
	case FilterPast:
		return end.Before(now)
	case FilterOngoing:
		return !start.After(now) && !end.Before(now)
	case FilterUpcoming:
		return start.After(now)
	default:
		return true
	}
}

// Apply returns the events that pass f at now, in their original order.
func (f Filter) Apply(events []Event, now time.Time) []Event {
	out := make([]Event, 0, len(events))

	for _, e := range events {
		if f.Match(e, now) {
			out = append(out, e)
		}
	}

	return out
}

// ParseAttendees splits a comma-separated address list, dropping blanks.
// Every remaining entry must be a valid address.
func ParseAttendees(s string) ([]string, error) {
	out := []string{}

	var errs []error

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		addr, err := emailaddress.Parse(part)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar: invalid attendee %q: %w", part, err))
			continue
		}

		out = append(out, addr.String())
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return out, nil
}

// inputLayouts are the accepted local time formats, tried in order.
var inputLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime reads s in loc. Inputs with an explicit offset keep it.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

func toAttendees(emails []string) []provider.Attendee {
	out := make([]provider.Attendee, 0, len(emails))
	for _, e := range emails {
		out = append(out, provider.Attendee{Email: e})
	}

	return out
}
