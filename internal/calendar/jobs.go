package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/calbridge/internal/jobs"
	"github.com/tonimelisma/calbridge/internal/mail"
	"github.com/tonimelisma/calbridge/internal/provider"
)

// Job kinds.
const (
	KindImport = "import"
	KindExport = "export"
)

// DefaultImportConcurrency bounds concurrent inserts during an import.
const DefaultImportConcurrency = 4

// ErrNothingImported is returned by Import when no row was created.
var ErrNothingImported = errors.New("calendar: no events imported")

// RowError is one import row that was not created.
type RowError struct {
	Line  int    `json:"line"`
	Title string `json:"title,omitempty"`
	Error string `json:"error"`
}

// ImportResult summarizes an import. Created is in file order.
type ImportResult struct {
	CreatedCount int        `json:"created_count"`
	Created      []Event    `json:"created"`
	Failed       []RowError `json:"failed,omitempty"`
}

// Import creates every valid row. Rows are inserted concurrently, bounded
// by concurrency, inside one cache mutation: the user's list is invalidated
// once, and only if at least one row was created. Invalid or rejected rows
// are reported in the result; the call fails only when nothing was created.
func (s *Service) Import(ctx context.Context, userID string, rows []ImportRow, concurrency int) (ImportResult, error) {
	if concurrency < 1 {
		concurrency = DefaultImportConcurrency
	}

	res := ImportResult{Created: []Event{}}

	type pending struct {
		line  int
		event *provider.Event
	}

	valid := make([]pending, 0, len(rows))

	for _, r := range rows {
		ev, err := s.build(r.Input)
		if err != nil {
			res.Failed = append(res.Failed, RowError{Line: r.Line, Title: r.Input.Title, Error: err.Error()})
			continue
		}

		valid = append(valid, pending{line: r.Line, event: ev})
	}

	if len(valid) == 0 {
		return res, ErrNothingImported
	}

	cc, err := s.clients.Calendar(ctx, userID)
	if err != nil {
		return res, err
	}

	created := make([]*provider.Event, len(valid))
	rowErrs := make([]error, len(valid))

	err = s.cache.Mutate(ctx, userID, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for i, p := range valid {
			g.Go(func() error {
				ev, insErr := cc.InsertEvent(gctx, s.opts.CalendarID, p.event)
				if insErr != nil {
					rowErrs[i] = insErr
					return nil
				}

				created[i] = ev

				return nil
			})
		}

		_ = g.Wait()

		for _, ev := range created {
			if ev != nil {
				return nil
			}
		}

		return ErrNothingImported
	}, s.reload(cc))

	for i, p := range valid {
		switch {
		case created[i] != nil:
			res.Created = append(res.Created, FromProvider(created[i]))
		case rowErrs[i] != nil:
			res.Failed = append(res.Failed, RowError{Line: p.line, Title: p.event.Summary, Error: rowErrs[i].Error()})
		}
	}

	res.CreatedCount = len(res.Created)

	s.logger.Info("import finished",
		slog.String("user_id", userID),
		slog.Int("created", res.CreatedCount),
		slog.Int("failed", len(res.Failed)),
	)

	return res, err
}

// ExportFormat is the document type of an export.
type ExportFormat string

// Export formats.
const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ErrInvalidFormat is returned by ParseFormat for an unknown format.
var ErrInvalidFormat = errors.New("calendar: unknown export format")

// ParseFormat accepts a format name; empty means FormatCSV.
func ParseFormat(s string) (ExportFormat, error) {
	switch fm := ExportFormat(strings.ToLower(strings.TrimSpace(s))); fm {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatPDF:
		return fm, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

// Filename is the attachment name for an export of f.
func (fm ExportFormat) Filename(f Filter) string {
	return string(f) + "_events." + string(fm)
}

// ContentType is the MIME type of the rendered document.
func (fm ExportFormat) ContentType() string {
	if fm == FormatPDF {
		return "application/pdf"
	}

	return "text/csv"
}

// Export renders the user's cached events that pass f as fm. n is the
// number of exported events.
func (s *Service) Export(ctx context.Context, userID string, f Filter, fm ExportFormat) (data []byte, n int, err error) {
	events, err := s.CachedEvents(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	selected := f.Apply(events, s.nowFunc())

	var buf bytes.Buffer

	switch fm {
	case FormatPDF:
		err = WritePDF(&buf, selected, f, s.opts.Location)
	default:
		err = WriteExport(&buf, selected, f, s.opts.Location)
	}

	if err != nil {
		return nil, 0, err
	}

	return buf.Bytes(), len(selected), nil
}

// ImportPayload is the job payload for KindImport. The file travels inline
// so any worker process can run it.
type ImportPayload struct {
	CSV string `json:"csv"`
}

// ExportPayload is the job payload for KindExport.
type ExportPayload struct {
	Filter string   `json:"filter"`
	Format string   `json:"format,omitempty"`
	To     []string `json:"to"`
}

// ExportResult is the data of a finished export job.
type ExportResult struct {
	Filter     string   `json:"filter"`
	Format     string   `json:"format"`
	Events     int      `json:"events"`
	Filename   string   `json:"filename"`
	Recipients []string `json:"recipients"`
}

// Jobs binds the import and export job kinds to a Service.
type Jobs struct {
	svc         *Service
	sink        mail.Sink
	concurrency int
}

// NewJobs creates the job handlers. sink delivers exports; concurrency
// bounds inserts per import.
func NewJobs(svc *Service, sink mail.Sink, concurrency int) *Jobs {
	return &Jobs{svc: svc, sink: sink, concurrency: concurrency}
}

// Register adds both kinds to r.
func (j *Jobs) Register(r *jobs.Runner) {
	r.Register(KindImport, j.Import)
	r.Register(KindExport, j.Export)
}

// Import is the KindImport handler.
func (j *Jobs) Import(ctx context.Context, task jobs.Task) (any, error) {
	var p ImportPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, fmt.Errorf("calendar: decoding import payload: %w", err)
	}

	rows, err := ParseImport(strings.NewReader(p.CSV))
	if err != nil {
		return nil, err
	}

	return j.svc.Import(ctx, task.UserID, rows, j.concurrency)
}

// Export is the KindExport handler. Delivery is part of the job: a mail
// failure fails the job.
func (j *Jobs) Export(ctx context.Context, task jobs.Task) (any, error) {
	var p ExportPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, fmt.Errorf("calendar: decoding export payload: %w", err)
	}

	f, err := ParseFilter(p.Filter)
	if err != nil {
		return nil, err
	}

	fm, err := ParseFormat(p.Format)
	if err != nil {
		return nil, err
	}

	data, n, err := j.svc.Export(ctx, task.UserID, f, fm)
	if err != nil {
		return nil, err
	}

	res := ExportResult{
		Filter:     string(f),
		Format:     string(fm),
		Events:     n,
		Filename:   fm.Filename(f),
		Recipients: p.To,
	}

	err = j.sink.Send(ctx, mail.Message{
		To:      p.To,
		Subject: f.Title() + " calendar events",
		Body:    fmt.Sprintf("Your %s events export (%d events) is attached.", f, n),
		Attachments: []mail.Attachment{
			{Filename: res.Filename, ContentType: fm.ContentType(), Data: data},
		},
	})
	if err != nil {
		return res, fmt.Errorf("calendar: delivering export: %w", err)
	}

	return res, nil
}
