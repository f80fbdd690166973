// Package client is an HTTP client for the filehub API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// File mirrors a stored file record.
type File struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	StoragePath      string    `json:"storage_path"`
	ContentType      string    `json:"content_type"`
	Size             int64     `json:"size"`
	UploadedAt       time.Time `json:"uploaded_at"`
	Fingerprint      string    `json:"fingerprint"`
	IsDuplicate      bool      `json:"is_duplicate"`
	OriginalFile     string    `json:"original_file,omitempty"`
	ReferenceCount   int       `json:"reference_count"`
}

// UploadResult is the record created by an upload.
type UploadResult struct {
	File
	Duplicate bool `json:"duplicate"`
}

// FileSummary is the short form of a canonical record.
type FileSummary struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	Size             int64     `json:"size"`
	ContentType      string    `json:"content_type"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// FileInfo is a record with its reference details.
type FileInfo struct {
	File
	DuplicatesCount int          `json:"duplicates_count"`
	OriginalDetails *FileSummary `json:"original_file_details,omitempty"`
}

// Stats is the storage accounting report.
type Stats struct {
	TotalFiles               int64   `json:"total_files"`
	UniqueFiles              int64   `json:"unique_files"`
	DuplicateFiles           int64   `json:"duplicate_files"`
	TotalSizeBytes           int64   `json:"total_size_bytes"`
	UniqueSizeBytes          int64   `json:"unique_size_bytes"`
	StorageSavingsBytes      int64   `json:"storage_savings_bytes"`
	StorageSavingsPercentage float64 `json:"storage_savings_percentage"`
}

// SearchParams are the optional list filters. Zero values are omitted.
type SearchParams struct {
	Filename  string
	FileType  string
	MinSize   *int64
	MaxSize   *int64
	DateRange string
	Ordering  string // uploaded_at, size or file_type, "-" prefix for descending
}

func (p SearchParams) values() url.Values {
	v := url.Values{}
	if p.Filename != "" {
		v.Set("filename", p.Filename)
	}
	if p.FileType != "" {
		v.Set("file_type", p.FileType)
	}
	if p.MinSize != nil {
		v.Set("min_size", strconv.FormatInt(*p.MinSize, 10))
	}
	if p.MaxSize != nil {
		v.Set("max_size", strconv.FormatInt(*p.MaxSize, 10))
	}
	if p.DateRange != "" {
		v.Set("date_range", p.DateRange)
	}
	if p.Ordering != "" {
		v.Set("ordering", p.Ordering)
	}
	return v
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to a filehub server.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for the server at baseURL.
// A zero timeout disables the per-request deadline.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Upload streams r to the server as a multipart form.
// POST /api/files
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result UploadResult
	if err := c.do(req, http.StatusCreated, &result); err != nil {
		pr.Close()
		return nil, err
	}
	return &result, nil
}

// List returns all records, most recent first.
// GET /api/files
func (c *Client) List(ctx context.Context) ([]File, error) {
	return c.Search(ctx, SearchParams{})
}

// Search returns the records matching params.
// GET /api/files/search
func (c *Client) Search(ctx context.Context, params SearchParams) ([]File, error) {
	u := c.baseURL + "/api/files/search"
	if q := params.values().Encode(); q != "" {
		u += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	var files []File
	if err := c.do(req, http.StatusOK, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Stats returns the storage accounting report.
// GET /api/files/stats
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/stats", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build stats request: %w", err)
	}

	var stats Stats
	if err := c.do(req, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Info returns a record with its reference details.
// GET /api/files/{id}
func (c *Client) Info(ctx context.Context, id string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(id), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build info request: %w", err)
	}

	var info FileInfo
	if err := c.do(req, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Delete removes a record. A non-empty warning means the record is gone
// but its content is left for the server to reclaim.
// DELETE /api/files/{id}
func (c *Client) Delete(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.fileURL(id), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return "", nil
	case http.StatusOK:
		var body struct {
			Warning string `json:"warning"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("failed to decode delete response: %w", err)
		}
		return body.Warning, nil
	default:
		return "", readAPIError(resp)
	}
}

// Download writes the stored content of id to w and returns the byte count.
// GET /api/files/{id}/download
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(id)+"/download", http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, readAPIError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read download: %w", err)
	}
	return n, nil
}

func (c *Client) fileURL(id string) string {
	return c.baseURL + "/api/files/" + url.PathEscape(id)
}

// do sends req and decodes a JSON body into out when the status matches.
func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
