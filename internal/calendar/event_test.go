package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calbridge/internal/provider"
)

func TestFromProvider(t *testing.T) {
	ev := FromProvider(&provider.Event{
		ID:          "e1",
		Summary:     "Standup",
		Description: "daily",
		ColorID:     "5",
		HTMLLink:    "https://cal/e1",
		Start:       &provider.EventDateTime{DateTime: "2025-10-14T10:00:00+06:30"},
		End:         &provider.EventDateTime{DateTime: "2025-10-14T10:15:00+06:30"},
		Attendees:   []provider.Attendee{{Email: "a@example.com"}, {Email: "b@example.com"}},
		Recurrence:  []string{"RRULE:FREQ=DAILY"},
	})

	assert.Equal(t, "Standup", ev.Title)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, ev.Attendees)
	assert.Equal(t, "2025-10-14T10:00:00+06:30", ev.StartTime)
	assert.Equal(t, []string{"RRULE:FREQ=DAILY"}, ev.Recurrence)

	allDay := FromProvider(&provider.Event{ID: "e2", Start: &provider.EventDateTime{Date: "2025-10-14"}})
	assert.Empty(t, allDay.StartTime)
	assert.NotNil(t, allDay.Attendees)
}

func TestFilter(t *testing.T) {
	now := time.Date(2025, 10, 14, 12, 0, 0, 0, time.UTC)
	at := func(h int) string { return now.Add(time.Duration(h) * time.Hour).Format(time.RFC3339) }

	past := Event{ID: "past", StartTime: at(-3), EndTime: at(-2)}
	ongoing := Event{ID: "ongoing", StartTime: at(-1), EndTime: at(1)}
	upcoming := Event{ID: "upcoming", StartTime: at(2), EndTime: at(3)}
	allDay := Event{ID: "all-day"}
	edge := Event{ID: "edge", StartTime: at(0), EndTime: at(0)}

	events := []Event{past, ongoing, upcoming, allDay, edge}

	ids := func(es []Event) []string {
		out := []string{}
		for _, e := range es {
			out = append(out, e.ID)
		}

		return out
	}

	assert.Equal(t, []string{"past", "ongoing", "upcoming", "edge"}, ids(FilterAll.Apply(events, now)))
	assert.Equal(t, []string{"past"}, ids(FilterPast.Apply(events, now)))
	assert.Equal(t, []string{"ongoing", "edge"}, ids(FilterOngoing.Apply(events, now)))
	assert.Equal(t, []string{"upcoming"}, ids(FilterUpcoming.Apply(events, now)))
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	f, err = ParseFilter(" Upcoming ")
	require.NoError(t, err)
	assert.Equal(t, FilterUpcoming, f)
	assert.Equal(t, "Upcoming", f.Title())

	_, err = ParseFilter("tomorrow")
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestParseAttendees(t *testing.T) {
	got, err := ParseAttendees(" a@example.com, ,b@example.com,")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)

	got, err = ParseAttendees("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseAttendees("a@example.com,nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody")
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("MMT", 6*3600+1800)

	got, err := ParseTime("2025-10-14T10:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 14, 10, 0, 0, 0, loc).Unix(), got.Unix())

	got, err = ParseTime("2025-10-14 10:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 14, 10, 0, 0, 0, loc).Unix(), got.Unix())

	got, err = ParseTime("2025-10-14T10:00:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 14, 10, 0, 0, 0, time.UTC).Unix(), got.Unix())

	_, err = ParseTime("next tuesday", loc)
	require.ErrorIs(t, err, ErrInvalidTime)
}
