package database

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateRange restricts a search to recently uploaded records.
type DateRange string

const (
	DateRangeAny   DateRange = ""
	DateRangeToday DateRange = "today"
	DateRangeWeek  DateRange = "week"
	DateRangeMonth DateRange = "month"
)

// Ordering sorts search results by one field. A leading "-" sorts
// descending. The empty value means "-uploaded_at".
type Ordering string

const (
	OrderUploadedAt     Ordering = "uploaded_at"
	OrderUploadedAtDesc Ordering = "-uploaded_at"
	OrderSize           Ordering = "size"
	OrderSizeDesc       Ordering = "-size"
	OrderFileType       Ordering = "file_type"
	OrderFileTypeDesc   Ordering = "-file_type"
)

var ErrInvalidFilter = errors.New("invalid filter")

// FilterSpec is a conjunctive search filter. Zero-valued fields impose no
// constraint.
type FilterSpec struct {
	Filename  string    // case-insensitive substring of OriginalFilename
	FileType  string    // case-insensitive substring of ContentType
	MinSize   *int64    // inclusive
	MaxSize   *int64    // inclusive
	DateRange DateRange // rolling window relative to the search time
	Ordering  Ordering
	Location  *time.Location
}

// Validate checks enumerations and bounds.
func (f FilterSpec) Validate() error {
	switch f.DateRange {
	case DateRangeAny, DateRangeToday, DateRangeWeek, DateRangeMonth:
	default:
		return fmt.Errorf("%w: unknown date range %q (use today, week or month)", ErrInvalidFilter, f.DateRange)
	}
	switch f.Ordering {
	case "", OrderUploadedAt, OrderUploadedAtDesc, OrderSize, OrderSizeDesc, OrderFileType, OrderFileTypeDesc:
	default:
		return fmt.Errorf("%w: unknown ordering %q (use uploaded_at, size or file_type, optionally prefixed with -)", ErrInvalidFilter, f.Ordering)
	}
	if f.MinSize != nil && *f.MinSize < 0 {
		return fmt.Errorf("%w: min_size must not be negative", ErrInvalidFilter)
	}
	if f.MaxSize != nil && *f.MaxSize < 0 {
		return fmt.Errorf("%w: max_size must not be negative", ErrInvalidFilter)
	}
	return nil
}

// Window returns the [from, to) upload-time bounds implied by DateRange.
// ok is false when no date constraint applies.
func (f FilterSpec) Window(now time.Time) (from, to time.Time, ok bool) {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	switch f.DateRange {
	case DateRangeToday:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1), true
	case DateRangeWeek:
		return now.Add(-7 * 24 * time.Hour), time.Time{}, true
	case DateRangeMonth:
		return now.Add(-30 * 24 * time.Hour), time.Time{}, true
	}
	return time.Time{}, time.Time{}, false
}

// Matches evaluates the filter against a single record.
func (f FilterSpec) Matches(r *FileRecord, now time.Time) bool {
	if f.Filename != "" && !containsFold(r.OriginalFilename, f.Filename) {
		return false
	}
	if f.FileType != "" && !containsFold(r.ContentType, f.FileType) {
		return false
	}
	if f.MinSize != nil && r.Size < *f.MinSize {
		return false
	}
	if f.MaxSize != nil && r.Size > *f.MaxSize {
		return false
	}
	if from, to, ok := f.Window(now); ok {
		if r.UploadedAt.Before(from) {
			return false
		}
		if !to.IsZero() && !r.UploadedAt.Before(to) {
			return false
		}
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// compare orders a before b (negative), after b (positive) or as a tie.
// Size and type ties fall back to newest upload first; remaining ties are
// left to insertion order.
func (o Ordering) compare(a, b *FileRecord) int {
	var c int
	switch o {
	case OrderUploadedAt:
		return a.UploadedAt.Compare(b.UploadedAt)
	case OrderSize:
		c = cmp.Compare(a.Size, b.Size)
	case OrderSizeDesc:
		c = cmp.Compare(b.Size, a.Size)
	case OrderFileType:
		c = strings.Compare(a.ContentType, b.ContentType)
	case OrderFileTypeDesc:
		c = strings.Compare(b.ContentType, a.ContentType)
	}
	if c != 0 {
		return c
	}
	return b.UploadedAt.Compare(a.UploadedAt)
}

// ascendingInsertion reports whether ties keep oldest insertions first.
func (o Ordering) ascendingInsertion() bool {
	return o == OrderUploadedAt
}

// orderBy is the SQL ORDER BY clause for o. seq breaks the remaining ties
// in insertion order.
func (o Ordering) orderBy() string {
	switch o {
	case OrderUploadedAt:
		return "uploaded_at ASC, seq ASC"
	case OrderSize:
		return "size ASC, uploaded_at DESC, seq DESC"
	case OrderSizeDesc:
		return "size DESC, uploaded_at DESC, seq DESC"
	case OrderFileType:
		return `content_type COLLATE "C" ASC, uploaded_at DESC, seq DESC`
	case OrderFileTypeDesc:
		return `content_type COLLATE "C" DESC, uploaded_at DESC, seq DESC`
	}
	return "uploaded_at DESC, seq DESC"
}
