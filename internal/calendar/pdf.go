package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// PDF layout, in millimetres and points.
const (
	pdfHeadingSize = 24
	pdfEmptySize   = 16
	pdfBodySize    = 11
	pdfLineHeight  = 6
	pdfEventGap    = 8
)

// WritePDF renders events as an A4 document with times in loc: a
// "<Filter>_Events" heading followed by one block per event. An empty set
// renders "No <Filter> Events Found" under the heading.
func WritePDF(w io.Writer, events []Event, f Filter, loc *time.Location) error {
	return writePDF(w, events, f, loc, true)
}

func writePDF(w io.Writer, events []Event, f Filter, loc *time.Location, compress bool) error {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(compress)
	doc.SetTitle(f.Title()+" Events", true)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", pdfHeadingSize)
	doc.Cell(0, 12, pdfText(f.Title()+"_Events"))
	doc.Ln(20)

	if len(events) == 0 {
		doc.SetFont("Helvetica", "I", pdfEmptySize)
		doc.Cell(0, 8, pdfText("No "+f.Title()+" Events Found"))
	}

	for _, e := range events {
		doc.SetFont("Helvetica", "B", pdfBodySize)
		doc.MultiCell(0, pdfLineHeight, pdfText("Title: "+e.Title), "", "L", false)

		doc.SetFont("Helvetica", "", pdfBodySize)

		for _, line := range eventLines(e, loc) {
			doc.MultiCell(0, pdfLineHeight, pdfText(line), "", "L", false)
		}

		doc.Ln(pdfEventGap)
	}

	if err := doc.Output(w); err != nil {
		return fmt.Errorf("calendar: writing pdf export: %w", err)
	}

	return nil
}

// eventLines is the body of one event block after its title.
func eventLines(e Event, loc *time.Location) []string {
	var lines []string

	if e.Description != "" {
		lines = append(lines, "Description: "+e.Description)
	}

	if e.Location != "" {
		lines = append(lines, "Location: "+e.Location)
	}

	if len(e.Attendees) > 0 {
		lines = append(lines, "Attendees: "+strings.Join(e.Attendees, ", "))
	} else {
		lines = append(lines, "Attendees: None")
	}

	if s := exportTime(e.StartTime, loc); s != "" {
		lines = append(lines, "Start: "+s)
	}

	if s := exportTime(e.EndTime, loc); s != "" {
		lines = append(lines, "End: "+s)
	}

	return lines
}

// pdfText encodes s for the cp1252 core fonts. Input is composed first so
// a decomposed "e" plus accent still maps to a single byte; runes outside
// cp1252 become '?'.
func pdfText(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			c = '?'
		}

		b.WriteByte(c)
	}

	return b.String()
}
