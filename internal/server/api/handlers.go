package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"filehub/internal/server/database"
	"filehub/internal/server/service"
)

// HealthChecker is implemented by the metadata and blob backends.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the filehub API.
type Handler struct {
	svc  *service.FileService
	meta HealthChecker
	blob HealthChecker
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.FileService, meta, blob HealthChecker) *Handler {
	return &Handler{svc: svc, meta: meta, blob: blob}
}

// uploadResponse is a stored record plus whether it was deduplicated.
type uploadResponse struct {
	*database.FileRecord
	Duplicate bool `json:"duplicate"`
}

// statsResponse adds human-readable sizes to StorageStats.
type statsResponse struct {
	*service.StorageStats
	TotalSizeHuman  string `json:"total_size_human"`
	UniqueSizeHuman string `json:"unique_size_human"`
	SavingsHuman    string `json:"storage_savings_human"`
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return mapServiceError(c, service.ErrNoContent)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	result, err := h.svc.Ingest(c.Request().Context(), service.IngestParams{
		Reader:      src,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get(echo.HeaderContentType),
		Size:        fileHeader.Size,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, uploadResponse{
		FileRecord: result.Record,
		Duplicate:  result.Duplicate,
	})
}

// HandleList handles GET /api/files and GET /api/files/search.
// Both accept the same optional filter parameters.
func (h *Handler) HandleList(c echo.Context) error {
	filter, err := parseFilter(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	records, err := h.svc.Search(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, records)
}

// HandleStats handles GET /api/files/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.ComputeStats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, statsResponse{
		StorageStats:    stats,
		TotalSizeHuman:  humanize.IBytes(uint64(stats.TotalSizeBytes)),
		UniqueSizeHuman: humanize.IBytes(uint64(stats.UniqueSizeBytes)),
		SavingsHuman:    humanize.IBytes(uint64(stats.StorageSavingsBytes)),
	})
}

// HandleInfo handles GET /api/files/:id.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDownload handles GET /api/files/:id/download.
// Streams the blob as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.svc.Open(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer dl.Reader.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": dl.Filename,
	}))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))

	return c.Stream(http.StatusOK, dl.ContentType, dl.Reader)
}

// HandleDelete handles DELETE /api/files/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	id := c.Param("id")

	deleted, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		if deleted && errors.Is(err, service.ErrBlobDeleteFailed) {
			return c.JSON(http.StatusOK, echo.Map{
				"message": "file deleted",
				"warning": "stored content could not be removed and will be reclaimed later",
			})
		}
		return mapServiceError(c, err)
	}
	if !deleted {
		return mapServiceError(c, service.ErrNotFound)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including backend connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	metaStatus := "connected"
	blobStatus := "connected"

	if err := h.meta.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		metaStatus = fmt.Sprintf("error: %v", err)
	}
	if err := h.blob.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		blobStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": metaStatus,
		"storage":  blobStatus,
	})
}

// parseFilter reads the search query parameters.
func parseFilter(c echo.Context) (database.FilterSpec, error) {
	filter := database.FilterSpec{
		Filename:  strings.TrimSpace(c.QueryParam("filename")),
		FileType:  strings.TrimSpace(c.QueryParam("file_type")),
		DateRange: database.DateRange(strings.ToLower(strings.TrimSpace(c.QueryParam("date_range")))),
		Ordering:  database.Ordering(strings.TrimSpace(c.QueryParam("ordering"))),
	}

	for _, p := range []struct {
		name string
		dst  **int64
	}{
		{"min_size", &filter.MinSize},
		{"max_size", &filter.MaxSize},
	} {
		raw := strings.TrimSpace(c.QueryParam(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be an integer", service.ErrInvalidFilter, p.name)
		}
		*p.dst = &n
	}

	return filter, filter.Validate()
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrBlobNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file content not found"})
	case errors.Is(err, service.ErrNoContent):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	case errors.Is(err, service.ErrDigestFailed):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "upload was interrupted"})
	case errors.Is(err, service.ErrInvalidFilter):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrInconsistentReference):
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "file is still referenced by duplicates; delete them first",
		})
	case errors.Is(err, service.ErrBlobWriteFailed):
		slog.Error("blob write failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store file"})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
