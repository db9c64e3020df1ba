package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Sheet is one tab of a spreadsheet.
type Sheet struct {
	SheetID int64
	Title   string
	Index   int
}

// Spreadsheet is a spreadsheet's title and tabs.
type Spreadsheet struct {
	ID     string
	Title  string
	Sheets []Sheet
}

// spreadsheetResponse mirrors GET /spreadsheets/{id}.
type spreadsheetResponse struct {
	SpreadsheetID string `json:"spreadsheetId"`
	Properties    struct {
		Title string `json:"title"`
	} `json:"properties"`
	Sheets []struct {
		Properties struct {
			SheetID int64  `json:"sheetId"`
			Title   string `json:"title"`
			Index   int    `json:"index"`
		} `json:"properties"`
	} `json:"sheets"`
}

func (r *spreadsheetResponse) toSpreadsheet() *Spreadsheet {
	s := &Spreadsheet{
		ID:     r.SpreadsheetID,
		Title:  r.Properties.Title,
		Sheets: make([]Sheet, 0, len(r.Sheets)),
	}

	for _, sh := range r.Sheets {
		s.Sheets = append(s.Sheets, Sheet{
			SheetID: sh.Properties.SheetID,
			Title:   sh.Properties.Title,
			Index:   sh.Properties.Index,
		})
	}

	return s
}

// valueRangeResponse mirrors GET /spreadsheets/{id}/values/{range}.
// Cells arrive as JSON strings, numbers or booleans.
type valueRangeResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// SheetsClient exposes spreadsheet reads.
type SheetsClient struct {
	c *Client
}

// NewSheetsClient wraps c, which must be scoped to Sheets.
func NewSheetsClient(c *Client) *SheetsClient {
	return &SheetsClient{c: c}
}

// GetSpreadsheet fetches a spreadsheet's title and tabs.
func (sc *SheetsClient) GetSpreadsheet(ctx context.Context, spreadsheetID string) (*Spreadsheet, error) {
	q := url.Values{}
	q.Set("fields", "spreadsheetId,properties.title,sheets.properties")

	var resp spreadsheetResponse
	if err := sc.c.Do(ctx, http.MethodGet, "/spreadsheets/"+url.PathEscape(spreadsheetID), q, nil, &resp); err != nil {
		return nil, err
	}

	if resp.SpreadsheetID == "" {
		resp.SpreadsheetID = spreadsheetID
	}

	return resp.toSpreadsheet(), nil
}

// GetValues reads the cells of rangeA1 (a sheet name or an A1 range) as
// formatted strings. Missing trailing cells are absent, as the provider
// sends them.
func (sc *SheetsClient) GetValues(ctx context.Context, spreadsheetID, rangeA1 string) ([][]string, error) {
	q := url.Values{}
	q.Set("valueRenderOption", "FORMATTED_VALUE")

	path := "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(rangeA1)

	var resp valueRangeResponse
	if err := sc.c.Do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(resp.Values))

	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}

		rows = append(rows, cells)
	}

	return rows, nil
}
