package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calbridge/internal/calendar"
)

// Column width for titles in the events table.
const titleWidth = 40

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List and change calendar events",
	}

	cmd.AddCommand(newEventsListCmd())
	cmd.AddCommand(newEventsCreateCmd())
	cmd.AddCommand(newEventsUpdateCmd())
	cmd.AddCommand(newEventsDeleteCmd())
	cmd.AddCommand(newEventsTemplateCmd())

	return cmd
}

func newEventsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events from the calendar",
		Long: `List events from the configured calendar.

By default the calendar is read directly and the cache refreshed. With --cached
the cached list is returned when present and the calendar is only read on a miss.`,
		RunE: runEventsList,
	}

	cmd.Flags().Bool("cached", false, "serve from the event cache when possible")
	cmd.Flags().String("filter", string(calendar.FilterAll), "all, past, ongoing or upcoming")

	return cmd
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	cached, _ := cmd.Flags().GetBool("cached")
	filterName, _ := cmd.Flags().GetString("filter")

	f, err := calendar.ParseFilter(filterName)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var events []calendar.Event
	if cached {
		events, err = a.calendar.CachedEvents(ctx, currentUser())
	} else {
		events, err = a.calendar.Events(ctx, currentUser())
	}

	if err != nil {
		return err
	}

	// Listing "all" keeps all-day events, which no filter matches.
	if f != calendar.FilterAll {
		events = f.Apply(events, time.Now())
	}

	if flagJSON {
		return printJSON(os.Stdout, events)
	}

	if len(events) == 0 {
		statusf("No %s events found.\n", strings.ToLower(f.Title()))
		return nil
	}

	printEvents(events, a.calendar.Location())

	return nil
}

func printEvents(events []calendar.Event, loc *time.Location) {
	rows := make([][]string, 0, len(events))

	for _, ev := range events {
		start, end := "-", "-"
		if s, e, ok := ev.Times(); ok {
			start = formatTime(s.In(loc))
			end = formatTime(e.In(loc))
		}

		rows = append(rows, []string{ev.ID, truncate(ev.Title, titleWidth), start, end})
	}

	printTable(os.Stdout, []string{"ID", "TITLE", "START", "END"}, rows)
}

// eventFlags binds the event field flags shared by create and update.
func eventFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "event title")
	cmd.Flags().String("start", "", "start time, e.g. 2026-05-01T10:00")
	cmd.Flags().String("end", "", "end time, e.g. 2026-05-01T11:00")
	cmd.Flags().String("description", "", "event description")
	cmd.Flags().String("location", "", "event location")
	cmd.Flags().String("attendees", "", "comma-separated attendee emails")
	cmd.Flags().String("color", "", "provider color ID")
}

func newEventsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		RunE:  runEventsCreate,
	}

	eventFlags(cmd)
	cmd.Flags().String("recurrence", "", "RRULE recurrence, e.g. RRULE:FREQ=WEEKLY;COUNT=4")

	for _, name := range []string{"title", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runEventsCreate(cmd *cobra.Command, _ []string) error {
	in := calendar.EventInput{}

	in.Title, _ = cmd.Flags().GetString("title")
	in.Start, _ = cmd.Flags().GetString("start")
	in.End, _ = cmd.Flags().GetString("end")
	in.Description, _ = cmd.Flags().GetString("description")
	in.Location, _ = cmd.Flags().GetString("location")
	in.Attendees, _ = cmd.Flags().GetString("attendees")
	in.ColorID, _ = cmd.Flags().GetString("color")
	in.Recurrence, _ = cmd.Flags().GetString("recurrence")

	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ev, err := a.calendar.CreateEvent(ctx, currentUser(), in)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, ev)
	}

	statusf("Created event %s.\n", ev.ID)

	if ev.HTMLLink != "" {
		fmt.Println(ev.HTMLLink)
	}

	return nil
}

func newEventsUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <event-id>",
		Short: "Change fields of an existing event",
		Long: `Change fields of an existing event. Only the flags given are applied;
every other field keeps its stored value.`,
		Args: cobra.ExactArgs(1),
		RunE: runEventsUpdate,
	}

	eventFlags(cmd)

	return cmd
}

// patchFromFlags turns every flag the user set into a patch field.
func patchFromFlags(cmd *cobra.Command) calendar.EventPatch {
	var p calendar.EventPatch

	fields := map[string]**string{
		"title":       &p.Title,
		"start":       &p.Start,
		"end":         &p.End,
		"description": &p.Description,
		"location":    &p.Location,
		"attendees":   &p.Attendees,
		"color":       &p.ColorID,
	}

	for name, dst := range fields {
		if !cmd.Flags().Changed(name) {
			continue
		}

		v, _ := cmd.Flags().GetString(name)
		*dst = &v
	}

	return p
}

func runEventsUpdate(cmd *cobra.Command, args []string) error {
	patch := patchFromFlags(cmd)

	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ev, err := a.calendar.UpdateEvent(ctx, currentUser(), args[0], patch)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, ev)
	}

	statusf("Updated event %s.\n", ev.ID)

	return nil
}

func newEventsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete an event",
		Args:  cobra.ExactArgs(1),
		RunE:  runEventsDelete,
	}
}

func runEventsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.calendar.DeleteEvent(ctx, currentUser(), args[0]); err != nil {
		return err
	}

	statusf("Deleted event %s.\n", args[0])

	return nil
}

func newEventsTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Write a sample import CSV to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return calendar.WriteTemplate(cmd.OutOrStdout())
		},
	}
}
