package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// File is a spreadsheet file as listed by the drive API.
type File struct {
	ID         string
	Name       string
	Owner      string
	ModifiedAt time.Time
	Link       string
}

// fileResponse mirrors one entry of GET /files.
type fileResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
	WebViewLink  string    `json:"webViewLink"`
	Owners       []struct {
		DisplayName string `json:"displayName"`
	} `json:"owners"`
}

func (f *fileResponse) toFile() File {
	file := File{
		ID:         f.ID,
		Name:       f.Name,
		ModifiedAt: f.ModifiedTime,
		Link:       f.WebViewLink,
	}

	if len(f.Owners) > 0 {
		file.Owner = f.Owners[0].DisplayName
	}

	return file
}

type filesPage struct {
	Files         []fileResponse `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

// spreadsheetQuery selects live spreadsheet files.
const spreadsheetQuery = "mimeType='application/vnd.google-apps.spreadsheet' and trashed = false"

// DriveClient exposes file listing.
type DriveClient struct {
	c *Client
}

// NewDriveClient wraps c, which must be scoped to Drive.
func NewDriveClient(c *Client) *DriveClient {
	return &DriveClient{c: c}
}

// ListSpreadsheets returns every spreadsheet the user can see, following
// page tokens.
func (dc *DriveClient) ListSpreadsheets(ctx context.Context) ([]File, error) {
	var files []File

	pageToken := ""

	for {
		q := url.Values{}
		q.Set("q", spreadsheetQuery)
		q.Set("fields", "nextPageToken,files(id,name,modifiedTime,owners,webViewLink)")

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page filesPage
		if err := dc.c.Do(ctx, http.MethodGet, "/files", q, nil, &page); err != nil {
			return nil, err
		}

		for i := range page.Files {
			files = append(files, page.Files[i].toFile())
		}

		if page.NextPageToken == "" {
			return files, nil
		}

		pageToken = page.NextPageToken
	}
}
