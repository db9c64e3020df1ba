package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/calbridge/internal/eventcache"
	"github.com/tonimelisma/calbridge/internal/provider"
)

// Defaults for Options.
const (
	DefaultCalendarID = "primary"
	DefaultLookback   = 365 * 24 * time.Hour
)

// Clients hands out authorized provider clients for a user. session.Factory
// implements it.
type Clients interface {
	Calendar(ctx context.Context, userID string) (*provider.CalendarClient, error)
	Sheets(ctx context.Context, userID string) (*provider.SheetsClient, error)
	Drive(ctx context.Context, userID string) (*provider.DriveClient, error)
}

// Options tunes a Service.
type Options struct {
	// CalendarID is the calendar every operation targets.
	CalendarID string
	// Location is the zone naive input times are read in and export times
	// are rendered in.
	Location *time.Location
	// Lookback bounds how far into the past event lists reach.
	Lookback time.Duration
	// RefreshAfterMutation re-fetches and caches the list after every
	// successful mutation instead of leaving a miss behind.
	RefreshAfterMutation bool
}

// Service implements the event operations for any user.
type Service struct {
	clients Clients
	cache   *eventcache.Cache
	opts    Options
	logger  *slog.Logger
	nowFunc func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// NewService creates a Service. cache must be scoped to eventcache.KindEvents.
func NewService(clients Clients, cache *eventcache.Cache, opts Options, logger *slog.Logger, svcOpts ...ServiceOption) *Service {
	if opts.CalendarID == "" {
		opts.CalendarID = DefaultCalendarID
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}

	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		clients: clients,
		cache:   cache,
		opts:    opts,
		logger:  logger,
		nowFunc: time.Now,
	}

	for _, o := range svcOpts {
		o(s)
	}

	return s
}

// Location is the zone the service reads and renders times in.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

func (s *Service) fetch(ctx context.Context, cc *provider.CalendarClient) ([]Event, error) {
	items, err := cc.ListEvents(ctx, s.opts.CalendarID, s.nowFunc().Add(-s.opts.Lookback))
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(items))
	for i := range items {
		events = append(events, FromProvider(&items[i]))
	}

	return events, nil
}

func (s *Service) loader(cc *provider.CalendarClient) eventcache.LoadFunc {
	return func(ctx context.Context) ([]byte, error) {
		events, err := s.fetch(ctx, cc)
		if err != nil {
			return nil, err
		}

		return encodeEvents(events)
	}
}

// reload is the post-mutation refresh, or nil when disabled.
func (s *Service) reload(cc *provider.CalendarClient) eventcache.LoadFunc {
	if !s.opts.RefreshAfterMutation {
		return nil
	}

	return s.loader(cc)
}

// Events fetches the live list and overwrites the cached copy. A failed
// cache write is logged and does not fail the call.
func (s *Service) Events(ctx context.Context, userID string) ([]Event, error) {
	cc, err := s.clients.Calendar(ctx, userID)
	if err != nil {
		return nil, err
	}

	events, err := s.fetch(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("calendar: listing events: %w", err)
	}

	payload, err := encodeEvents(events)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, userID, payload); err != nil {
		s.logger.Warn("event cache not repopulated",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return events, nil
}

// CachedEvents serves the cached list, fetching and caching it on a miss.
// The client is only requested on a miss.
func (s *Service) CachedEvents(ctx context.Context, userID string) ([]Event, error) {
	payload, err := s.cache.ReadThrough(ctx, userID, func(ctx context.Context) ([]byte, error) {
		cc, err := s.clients.Calendar(ctx, userID)
		if err != nil {
			return nil, err
		}

		return s.loader(cc)(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: reading events: %w", err)
	}

	events, err := decodeEvents(payload)
	if err == nil {
		return events, nil
	}

	// An unreadable entry is treated like a miss: drop it and go live.
	s.logger.Warn("discarding undecodable event cache entry",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)

	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("event cache entry not dropped",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return s.Events(ctx, userID)
}

// EventInput is a new event as entered by a user. Times are read in the
// service's location unless they carry an offset.
type EventInput struct {
	Title       string
	Description string
	Location    string
	ColorID     string
	Attendees   string
	Recurrence  string
	Start       string
	End         string
}

// build validates in and converts it to a provider event.
func (s *Service) build(in EventInput) (*provider.Event, error) {
	if in.Title == "" {
		return nil, ErrMissingTitle
	}

	start, err := ParseTime(in.Start, s.opts.Location)
	if err != nil {
		return nil, err
	}

	end, err := ParseTime(in.End, s.opts.Location)
	if err != nil {
		return nil, err
	}

	if !end.After(start) {
		return nil, ErrEndBeforeStart
	}

	attendees, err := ParseAttendees(in.Attendees)
	if err != nil {
		return nil, err
	}

	ev := &provider.Event{
		Summary:     in.Title,
		Description: in.Description,
		Location:    in.Location,
		ColorID:     in.ColorID,
		Start:       provider.NewEventDateTime(start),
		End:         provider.NewEventDateTime(end),
		Attendees:   toAttendees(attendees),
	}

	if rule := recurrenceRule(in.Recurrence); rule != "" {
		ev.Recurrence = []string{rule}
	}

	return ev, nil
}

// recurrenceRule drops the placeholder "null" some clients send for an
// unset rule.
func recurrenceRule(s string) string {
	if s == "null" {
		return ""
	}

	return s
}

// CreateEvent validates in, inserts it and invalidates the user's list.
// Validation happens before any client is requested.
func (s *Service) CreateEvent(ctx context.Context, userID string, in EventInput) (Event, error) {
	ev, err := s.build(in)
	if err != nil {
		return Event{}, err
	}

	cc, err := s.clients.Calendar(ctx, userID)
	if err != nil {
		return Event{}, err
	}

	var created *provider.Event

	err = s.cache.Mutate(ctx, userID, func(ctx context.Context) error {
		var insErr error
		created, insErr = cc.InsertEvent(ctx, s.opts.CalendarID, ev)

		return insErr
	}, s.reload(cc))

	if created == nil {
		return Event{}, fmt.Errorf("calendar: creating event: %w", err)
	}

	s.logger.Info("event created", slog.String("user_id", userID), slog.String("event_id", created.ID))

	return FromProvider(created), err
}

// EventPatch is a partial update. Nil fields are left as they are; an empty
// Title is also ignored so a title can never be blanked.
type EventPatch struct {
	Title       *string
	Description *string
	Location    *string
	ColorID     *string
	Attendees   *string
	Start       *string
	End         *string
}

// UpdateEvent applies patch over the current event and writes it back.
func (s *Service) UpdateEvent(ctx context.Context, userID, eventID string, patch EventPatch) (Event, error) {
	var start, end time.Time

	var err error

	if patch.Start != nil && *patch.Start != "" {
		if start, err = ParseTime(*patch.Start, s.opts.Location); err != nil {
			return Event{}, err
		}
	}

	if patch.End != nil && *patch.End != "" {
		if end, err = ParseTime(*patch.End, s.opts.Location); err != nil {
			return Event{}, err
		}
	}

	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return Event{}, ErrEndBeforeStart
	}

	var attendees []string
	if patch.Attendees != nil {
		if attendees, err = ParseAttendees(*patch.Attendees); err != nil {
			return Event{}, err
		}
	}

	cc, err := s.clients.Calendar(ctx, userID)
	if err != nil {
		return Event{}, err
	}

	var updated *provider.Event

	err = s.cache.Mutate(ctx, userID, func(ctx context.Context) error {
		ev, getErr := cc.GetEvent(ctx, s.opts.CalendarID, eventID)
		if getErr != nil {
			return getErr
		}

		applyPatch(ev, patch, attendees, start, end)

		if err := checkOrder(ev, s.opts.Location); err != nil {
			return err
		}

		var updErr error
		updated, updErr = cc.UpdateEvent(ctx, s.opts.CalendarID, eventID, ev)

		return updErr
	}, s.reload(cc))

	if updated == nil {
		return Event{}, fmt.Errorf("calendar: updating event %s: %w", eventID, err)
	}

	s.logger.Info("event updated", slog.String("user_id", userID), slog.String("event_id", eventID))

	return FromProvider(updated), err
}

func applyPatch(ev *provider.Event, p EventPatch, attendees []string, start, end time.Time) {
	if p.Title != nil && *p.Title != "" {
		ev.Summary = *p.Title
	}

	if p.Description != nil {
		ev.Description = *p.Description
	}

	if p.Location != nil {
		ev.Location = *p.Location
	}

	if p.ColorID != nil {
		ev.ColorID = *p.ColorID
	}

	if p.Attendees != nil {
		ev.Attendees = toAttendees(attendees)
	}

	if !start.IsZero() {
		ev.Start = provider.NewEventDateTime(start)
	}

	if !end.IsZero() {
		ev.End = provider.NewEventDateTime(end)
	}
}

// checkOrder rejects a merged event whose end is not after its start. A
// patch touching only one bound is checked against the stored other bound.
func checkOrder(ev *provider.Event, loc *time.Location) error {
	start, err := ev.Start.Time(loc)
	if err != nil {
		return err
	}

	end, err := ev.End.Time(loc)
	if err != nil {
		return err
	}

	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return ErrEndBeforeStart
	}

	return nil
}

// DeleteEvent removes the event and invalidates the user's list.
func (s *Service) DeleteEvent(ctx context.Context, userID, eventID string) error {
	cc, err := s.clients.Calendar(ctx, userID)
	if err != nil {
		return err
	}

	deleted := false

	err = s.cache.Mutate(ctx, userID, func(ctx context.Context) error {
		if delErr := cc.DeleteEvent(ctx, s.opts.CalendarID, eventID); delErr != nil {
			return delErr
		}

		deleted = true

		return nil
	}, s.reload(cc))

	if !deleted {
		return fmt.Errorf("calendar: deleting event %s: %w", eventID, err)
	}

	s.logger.Info("event deleted", slog.String("user_id", userID), slog.String("event_id", eventID))

	return err
}

// ListSpreadsheets lists the user's spreadsheets.
func (s *Service) ListSpreadsheets(ctx context.Context, userID string) ([]provider.File, error) {
	dc, err := s.clients.Drive(ctx, userID)
	if err != nil {
		return nil, err
	}

	return dc.ListSpreadsheets(ctx)
}

// Spreadsheet returns a spreadsheet's title and tabs.
func (s *Service) Spreadsheet(ctx context.Context, userID, spreadsheetID string) (*provider.Spreadsheet, error) {
	sc, err := s.clients.Sheets(ctx, userID)
	if err != nil {
		return nil, err
	}

	return sc.GetSpreadsheet(ctx, spreadsheetID)
}

// Preview returns the cell values of one sheet.
func (s *Service) Preview(ctx context.Context, userID, spreadsheetID, sheetName string) ([][]string, error) {
	sc, err := s.clients.Sheets(ctx, userID)
	if err != nil {
		return nil, err
	}

	return sc.GetValues(ctx, spreadsheetID, sheetName)
}

func encodeEvents(events []Event) ([]byte, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("calendar: encoding events: %w", err)
	}

	return data, nil
}

func decodeEvents(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("calendar: decoding cached events: %w", err)
	}

	return events, nil
}
