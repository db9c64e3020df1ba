package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// allDayLayout is the wire format of the "date" field on all-day events.
const allDayLayout = "2006-01-02"

// EventDateTime is a start or end point. Timed events carry DateTime
// (RFC 3339); all-day events carry Date only.
type EventDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// NewEventDateTime builds a timed EventDateTime.
func NewEventDateTime(t time.Time) *EventDateTime {
	d := &EventDateTime{DateTime: t.Format(time.RFC3339)}

	// "Local" is not an IANA name; the offset in DateTime is enough.
	if tz := t.Location().String(); tz != "Local" {
		d.TimeZone = tz
	}

	return d
}

// Time resolves the point in time. All-day dates are midnight in loc.
func (d *EventDateTime) Time(loc *time.Location) (time.Time, error) {
	if d == nil {
		return time.Time{}, nil
	}

	if d.DateTime != "" {
		t, err := time.Parse(time.RFC3339, d.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("provider: parsing event time %q: %w", d.DateTime, err)
		}

		return t, nil
	}

	if d.Date != "" {
		t, err := time.ParseInLocation(allDayLayout, d.Date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("provider: parsing event date %q: %w", d.Date, err)
		}

		return t, nil
	}

	return time.Time{}, nil
}

// Attendee is one event participant.
type Attendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"responseStatus,omitempty"`
}

// Event mirrors the calendar API event resource (the subset calbridge uses).
type Event struct {
	ID          string         `json:"id,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location,omitempty"`
	ColorID     string         `json:"colorId,omitempty"`
	HTMLLink    string         `json:"htmlLink,omitempty"`
	Status      string         `json:"status,omitempty"`
	Start       *EventDateTime `json:"start,omitempty"`
	End         *EventDateTime `json:"end,omitempty"`
	Attendees   []Attendee     `json:"attendees,omitempty"`
	Recurrence  []string       `json:"recurrence,omitempty"`
}

// eventsPage wraps one page of GET /calendars/{id}/events.
type eventsPage struct {
	Items         []Event `json:"items"`
	NextPageToken string  `json:"nextPageToken"`
}

// CalendarClient exposes the calendar event operations.
type CalendarClient struct {
	c *Client
}

// NewCalendarClient wraps c, which must be scoped to Calendar.
func NewCalendarClient(c *Client) *CalendarClient {
	return &CalendarClient{c: c}
}

func eventsPath(calendarID string) string {
	return "/calendars/" + url.PathEscape(calendarID) + "/events"
}

func eventPath(calendarID, eventID string) string {
	return eventsPath(calendarID) + "/" + url.PathEscape(eventID)
}

// ListEvents returns every event starting at or after timeMin, recurring
// events expanded into instances, ordered by start time. Pages are followed
// until the provider stops returning a page token.
func (cc *CalendarClient) ListEvents(ctx context.Context, calendarID string, timeMin time.Time) ([]Event, error) {
	var events []Event

	pageToken := ""

	for {
		q := url.Values{}
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")

		if !timeMin.IsZero() {
			q.Set("timeMin", timeMin.UTC().Format(time.RFC3339))
		}

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page eventsPage
		if err := cc.c.Do(ctx, http.MethodGet, eventsPath(calendarID), q, nil, &page); err != nil {
			return nil, err
		}

		events = append(events, page.Items...)

		if page.NextPageToken == "" {
			return events, nil
		}

		pageToken = page.NextPageToken
	}
}

// GetEvent fetches one event.
func (cc *CalendarClient) GetEvent(ctx context.Context, calendarID, eventID string) (*Event, error) {
	var ev Event
	if err := cc.c.Do(ctx, http.MethodGet, eventPath(calendarID, eventID), nil, nil, &ev); err != nil {
		return nil, err
	}

	return &ev, nil
}

// InsertEvent creates ev and returns the stored resource.
func (cc *CalendarClient) InsertEvent(ctx context.Context, calendarID string, ev *Event) (*Event, error) {
	var created Event
	if err := cc.c.Do(ctx, http.MethodPost, eventsPath(calendarID), nil, ev, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// UpdateEvent replaces the event with ev.
func (cc *CalendarClient) UpdateEvent(ctx context.Context, calendarID, eventID string, ev *Event) (*Event, error) {
	var updated Event
	if err := cc.c.Do(ctx, http.MethodPut, eventPath(calendarID, eventID), nil, ev, &updated); err != nil {
		return nil, err
	}

	return &updated, nil
}

// DeleteEvent removes the event.
func (cc *CalendarClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return cc.c.Do(ctx, http.MethodDelete, eventPath(calendarID, eventID), nil, nil, nil)
}
