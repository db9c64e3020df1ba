package calendar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportTimeLayout renders times in exported documents.
const ExportTimeLayout = "Jan 02, 2006 03:04 PM"

// CSV column names shared by the template, import and export.
const (
	ColTitle       = "Title"
	ColDescription = "Description"
	ColStart       = "Start Time"
	ColEnd         = "End Time"
	ColLocation    = "Location"
	ColAttendees   = "Attendees"
)

// Columns is the header row of templates and exports.
var Columns = []string{ColTitle, ColDescription, ColStart, ColEnd, ColLocation, ColAttendees}

// ErrMissingColumn is returned by ParseImport when a required column is
// absent from the header.
var ErrMissingColumn = errors.New("calendar: import file missing column")

var templateSample = []string{
	"Sample Event",
	"This is a description",
	"2025-10-14T10:00:00",
	"2025-10-14T12:00:00",
	"Office",
	"attendee1@example.com,attendee2@example.com",
}

// WriteTemplate writes the import template: the header and one sample row.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.WriteAll([][]string{Columns, templateSample}); err != nil {
		return fmt.Errorf("calendar: writing template: %w", err)
	}

	return nil
}

// ImportRow is one data row of an import file. Line is the 1-based line
// the row starts on.
type ImportRow struct {
	Line  int
	Input EventInput
}

// ParseImport reads an import file. Columns are matched by header name,
// case-insensitively and in any order; Title, Start Time and End Time are
// required. Blank rows are skipped. Rows are not validated here.
func ParseImport(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}

	if err != nil {
		return nil, fmt.Errorf("calendar: reading import header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	for _, required := range []string{ColTitle, ColStart, ColEnd} {
		if _, ok := idx[strings.ToLower(required)]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, required)
		}
	}

	var rows []ImportRow

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}

		if err != nil {
			return nil, fmt.Errorf("calendar: reading import file: %w", err)
		}

		line, _ := cr.FieldPos(0)

		field := func(name string) string {
			i, ok := idx[strings.ToLower(name)]
			if !ok || i >= len(rec) {
				return ""
			}

			return strings.TrimSpace(rec[i])
		}

		if blank(rec) {
			continue
		}

		rows = append(rows, ImportRow{
			Line: line,
			Input: EventInput{
				Title:       field(ColTitle),
				Description: field(ColDescription),
				Location:    field(ColLocation),
				Attendees:   field(ColAttendees),
				Start:       field(ColStart),
				End:         field(ColEnd),
			},
		})
	}
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}

	return true
}

// WriteExport renders events as CSV with times in loc. An empty set renders
// a single "No <Filter> Events Found" line instead of a header.
func WriteExport(w io.Writer, events []Event, f Filter, loc *time.Location) error {
	cw := csv.NewWriter(w)

	if len(events) == 0 {
		if err := cw.WriteAll([][]string{{"No " + f.Title() + " Events Found"}}); err != nil {
			return fmt.Errorf("calendar: writing export: %w", err)
		}

		return nil
	}

	records := make([][]string, 0, len(events)+1)
	records = append(records, Columns)

	for _, e := range events {
		records = append(records, []string{
			e.Title,
			e.Description,
			exportTime(e.StartTime, loc),
			exportTime(e.EndTime, loc),
			e.Location,
			strings.Join(e.Attendees, ", "),
		})
	}

	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("calendar: writing export: %w", err)
	}

	return nil
}

func exportTime(s string, loc *time.Location) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return ""
	}

	return t.In(loc).Format(ExportTimeLayout)
}
