package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tracelog-io/tracelog/internal/storage"
)

// Per-endpoint page size defaults. Correlation and trace detail pages are
// larger because dashboards render the full process instance in one fetch.
const (
	defaultPageSize     = 20
	correlationPageSize = 200
	traceDetailPageSize = 500
	dateOnlyFormat      = "2006-01-02"
)

// decodeJSONBody parses a JSON request body into dst with the standard
// request validation sequence: Content-Type, declared size, empty body,
// then a size-limited decode. Returns nil on success.
func (s *Server) decodeJSONBody(r *http.Request, dst any) *ProblemDetail {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return UnsupportedMediaType("Content-Type must be application/json")
	}

	// Fail fast for known oversized requests; unknown sizes (-1) pass
	// through to the limited reader below.
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return BadRequest("Request body cannot be empty")
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(dst); err != nil {
		return BadRequest("Invalid JSON: " + err.Error())
	}

	return nil
}

// parsePagination reads the page and pageSize query parameters. Absent or
// malformed values fall back to page 1 and the endpoint's default size;
// the storage layer clamps the result to its [1, 1000] bounds.
func parsePagination(r *http.Request, defaultSize int) storage.Pagination {
	p := storage.Pagination{Page: 1, PageSize: defaultSize}

	if raw := r.URL.Query().Get("page"); raw != "" {
		if page, err := strconv.Atoi(raw); err == nil {
			p.Page = page
		}
	}

	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil {
			p.PageSize = size
		}
	}

	return p
}

// paginationFromBody builds pagination from body fields, applying the
// endpoint default when the caller omits a page size.
func paginationFromBody(page, pageSize, defaultSize int) storage.Pagination {
	if page <= 0 {
		page = 1
	}

	if pageSize <= 0 {
		pageSize = defaultSize
	}

	return storage.Pagination{Page: page, PageSize: pageSize}
}

// parseTimeQuery reads an optional timestamp query parameter. Accepts
// RFC 3339 and plain dates (2006-01-02). Returns (nil, nil) when absent
// and a 400 problem when present but malformed.
func parseTimeQuery(r *http.Request, name string) (*time.Time, *ProblemDetail) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}

	if ts, err := time.Parse(dateOnlyFormat, raw); err == nil {
		return &ts, nil
	}

	return nil, ValidationFailed(
		fmt.Sprintf("Invalid %s: must be RFC 3339 or YYYY-MM-DD, got %q", name, raw),
	)
}

// stringQuery reads an optional string query parameter, returning nil when
// absent or empty.
func stringQuery(r *http.Request, name string) *string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}

	return &raw
}

// boolQuery reads an optional boolean query parameter. Anything other than
// a value strconv recognizes as true counts as false.
func boolQuery(r *http.Request, name string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(name))

	return err == nil && value
}
