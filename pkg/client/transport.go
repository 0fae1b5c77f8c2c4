package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

type (
	// TokenProvider supplies the bearer token attached to every request.
	// Implementations may return cached keys, OAuth tokens, or anything else
	// that fits the Authorization header.
	TokenProvider interface {
		Token(ctx context.Context) (string, error)
	}

	// Doer abstracts the HTTP round trip so tests can substitute a stub and
	// deployments can inject instrumented clients.
	Doer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// StaticTokenProvider returns a fixed API key on every call.
	StaticTokenProvider struct {
		key string
	}

	// Transport is the synchronous HTTP client for the ingestion API.
	//
	// Failed requests are retried with exponential backoff and full jitter:
	// the delay before retry k is uniform in [0, min(base*2^k, max)].
	// Statuses 429, 500, 502, 503, and 504 and network-level failures are
	// retryable; every other 4xx, including 501, is permanent.
	//
	// Safe for concurrent use.
	Transport struct {
		baseURL       string
		applicationID string
		tokens        TokenProvider
		client        Doer
		maxRetries    int
		baseDelay     time.Duration
		maxDelay      time.Duration
		logger        *slog.Logger
	}

	// TransportOption customizes a Transport at construction.
	TransportOption func(*Transport)
)

// NewStaticTokenProvider wraps a fixed API key as a TokenProvider.
func NewStaticTokenProvider(key string) *StaticTokenProvider {
	return &StaticTokenProvider{key: key}
}

// Token implements TokenProvider.
func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	return p.key, nil
}

// WithDoer substitutes the HTTP client used for round trips.
func WithDoer(d Doer) TransportOption {
	return func(t *Transport) {
		if d != nil {
			t.client = d
		}
	}
}

// WithTokenProvider substitutes the token source. Overrides Config.APIKey.
func WithTokenProvider(tp TokenProvider) TransportOption {
	return func(t *Transport) {
		t.tokens = tp
	}
}

// NewTransport creates a Transport from the given configuration.
func NewTransport(cfg Config, opts ...TransportOption) (*Transport, error) {
	cfg = cfg.normalized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = newDefaultLogger()
	}

	t := &Transport{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		applicationID: cfg.ApplicationID,
		client:        &http.Client{Timeout: cfg.RequestTimeout},
		maxRetries:    cfg.MaxRetries,
		baseDelay:     cfg.TransportRetryDelay,
		maxDelay:      cfg.MaxRetryDelay,
		logger:        logger,
	}

	if cfg.APIKey != "" {
		t.tokens = NewStaticTokenProvider(cfg.APIKey)
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// CreateEvent submits one event. The server deduplicates on idempotency_key:
// re-submitting the same key returns the original execution ID with 201.
func (t *Transport) CreateEvent(ctx context.Context, event *eventlog.EventLogEntry) (*CreateEventResponse, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event is nil", ErrValidation)
	}

	var out CreateEventResponse
	if err := t.do(ctx, http.MethodPost, "/v1/events", event, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateEvents submits a batch of events, optionally stamped with batchID.
// Partial failures are reported per-row in the response Errors slice.
func (t *Transport) CreateEvents(
	ctx context.Context,
	events []eventlog.EventLogEntry,
	batchID string,
) (*CreateEventsResponse, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: events slice is empty", ErrValidation)
	}

	var out CreateEventsResponse

	body := createEventsRequest{Events: events, BatchID: batchID}
	if err := t.do(ctx, http.MethodPost, "/v1/events/batch", body, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateBatchUpload submits a bulk upload under a caller-supplied batch ID,
// stamped on every inserted row.
func (t *Transport) CreateBatchUpload(
	ctx context.Context,
	batchID string,
	events []eventlog.EventLogEntry,
) (*BatchUploadResponse, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch_id is required", ErrValidation)
	}

	if len(events) == 0 {
		return nil, fmt.Errorf("%w: events slice is empty", ErrValidation)
	}

	var out BatchUploadResponse

	body := batchUploadRequest{BatchID: batchID, Events: events}
	if err := t.do(ctx, http.MethodPost, "/v1/events/batch/upload", body, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateCorrelationLink upserts the account linkage for a correlation ID.
// The operation is idempotent; repeated calls update the same link.
func (t *Transport) CreateCorrelationLink(ctx context.Context, link *CorrelationLink) (*CorrelationLink, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: link is nil", ErrValidation)
	}

	var out CorrelationLink
	if err := t.do(ctx, http.MethodPost, "/v1/correlation-links", link, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// SendEvent implements EventSender.
func (t *Transport) SendEvent(ctx context.Context, event *eventlog.EventLogEntry) error {
	_, err := t.CreateEvent(ctx, event)

	return err
}

// SendEvents implements EventSender.
func (t *Transport) SendEvents(ctx context.Context, events []eventlog.EventLogEntry) error {
	_, err := t.CreateEvents(ctx, events, "")

	return err
}

// GetAccountEvents fetches an account's events, newest first.
func (t *Transport) GetAccountEvents(
	ctx context.Context,
	accountID string,
	query AccountEventsQuery,
) (*EventPage, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrValidation)
	}

	values := pageValues(query.Page, query.PageSize)
	setNonEmpty(values, "startDate", query.StartDate)
	setNonEmpty(values, "endDate", query.EndDate)
	setNonEmpty(values, "processName", query.ProcessName)
	setNonEmpty(values, "eventStatus", query.EventStatus)

	if query.IncludeLinked {
		values.Set("includeLinked", "true")
	}

	var out EventPage

	path := withQuery("/v1/events/account/"+url.PathEscape(accountID), values)
	if err := t.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetAccountSummary fetches the account roll-up with recent activity.
func (t *Transport) GetAccountSummary(ctx context.Context, accountID string) (*AccountSummary, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrValidation)
	}

	var out AccountSummary
	if err := t.do(ctx, http.MethodGet, "/v1/events/account/"+url.PathEscape(accountID)+"/summary", nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetCorrelationEvents fetches one process instance's events in step order.
func (t *Transport) GetCorrelationEvents(
	ctx context.Context,
	correlationID string,
	page, pageSize int,
) (*CorrelationEvents, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation_id is required", ErrValidation)
	}

	var out CorrelationEvents

	path := withQuery("/v1/events/correlation/"+url.PathEscape(correlationID), pageValues(page, pageSize))
	if err := t.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetTraceEvents fetches one trace's events in time order, together with the
// cross-system aggregates and the reconstructed timeline.
func (t *Transport) GetTraceEvents(
	ctx context.Context,
	traceID string,
	page, pageSize int,
) (*TraceEvents, error) {
	if traceID == "" {
		return nil, fmt.Errorf("%w: trace_id is required", ErrValidation)
	}

	var out TraceEvents

	path := withQuery("/v1/events/trace/"+url.PathEscape(traceID), pageValues(page, pageSize))
	if err := t.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetBatchEvents fetches a batch's events, newest first, optionally filtered
// by event status.
func (t *Transport) GetBatchEvents(
	ctx context.Context,
	batchID, eventStatus string,
	page, pageSize int,
) (*BatchEvents, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch_id is required", ErrValidation)
	}

	values := pageValues(page, pageSize)
	setNonEmpty(values, "eventStatus", eventStatus)

	var out BatchEvents

	path := withQuery("/v1/events/batch/"+url.PathEscape(batchID), values)
	if err := t.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetBatchSummary fetches the per-process completion roll-up for a batch.
func (t *Transport) GetBatchSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch_id is required", ErrValidation)
	}

	var out BatchSummary
	if err := t.do(ctx, http.MethodGet, "/v1/events/batch/"+url.PathEscape(batchID)+"/summary", nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// LookupEvents queries events by filter combination. The server requires at
// least one filter; an empty request fails with a validation error.
func (t *Transport) LookupEvents(ctx context.Context, req LookupRequest) (*EventPage, error) {
	var out EventPage
	if err := t.do(ctx, http.MethodPost, "/v1/events/lookup", req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// SearchText runs a text search over event summaries and error messages.
func (t *Transport) SearchText(ctx context.Context, req TextSearchRequest) (*TextSearchResult, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}

	var out TextSearchResult
	if err := t.do(ctx, http.MethodPost, "/v1/events/search/text", req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetCorrelationLink fetches the account linkage for a correlation ID.
func (t *Transport) GetCorrelationLink(ctx context.Context, correlationID string) (*CorrelationLink, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation_id is required", ErrValidation)
	}

	var out CorrelationLink
	if err := t.do(ctx, http.MethodGet, "/v1/correlation-links/"+url.PathEscape(correlationID), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListTraces fetches per-trace aggregates, most recently active first.
func (t *Transport) ListTraces(ctx context.Context, query TraceListQuery) (*TraceList, error) {
	values := pageValues(query.Page, query.PageSize)
	setNonEmpty(values, "accountId", query.AccountID)
	setNonEmpty(values, "processName", query.ProcessName)
	setNonEmpty(values, "eventStatus", query.EventStatus)
	setNonEmpty(values, "startDate", query.StartDate)
	setNonEmpty(values, "endDate", query.EndDate)

	var out TraceList
	if err := t.do(ctx, http.MethodGet, withQuery("/v1/traces", values), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListProcesses fetches the registered process definitions.
func (t *Transport) ListProcesses(ctx context.Context, page, pageSize int) (*ProcessList, error) {
	var out ProcessList
	if err := t.do(ctx, http.MethodGet, withQuery("/v1/processes", pageValues(page, pageSize)), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetDashboardStats fetches the operational overview counters, optionally
// bounded to a date range (ISO-8601 timestamps).
func (t *Transport) GetDashboardStats(ctx context.Context, startDate, endDate string) (*DashboardStats, error) {
	values := url.Values{}
	setNonEmpty(values, "startDate", startDate)
	setNonEmpty(values, "endDate", endDate)

	var out DashboardStats
	if err := t.do(ctx, http.MethodGet, withQuery("/v1/dashboard/stats", values), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// do runs one request with the retry policy applied. The context is honored
// between attempts as well as during them.
func (t *Transport) do(ctx context.Context, method, path string, body, out any) error {
	var lastErr error

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(t.baseDelay, t.maxDelay, attempt-1)

			t.logger.Debug("retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()

				return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		err := t.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry abandoned: %w", ctx.Err())
		}
	}

	return lastErr
}

// doOnce runs a single request/response cycle.
func (t *Transport) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request body: %s", ErrValidation, err.Error())
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: token provider: %s", ErrAuth, err.Error())
		}

		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	if t.applicationID != "" {
		req.Header.Set("X-Application-Id", t.applicationID)
	}

	start := time.Now()

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := t.readError(resp)

		t.logger.Debug("request rejected",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)

		return apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return nil
}

// readError builds an APIError from an error response, tolerating both the
// {error_code, message} shape and RFC 7807 problem documents.
func (t *Transport) readError(resp *http.Response) *APIError {
	const maxErrorBody = 64 * 1024

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
		Title     string `json:"title"`
		Detail    string `json:"detail"`
	}

	_ = json.Unmarshal(raw, &body)

	message := body.Message
	if message == "" {
		message = body.Detail
	}

	if message == "" {
		message = body.Title
	}

	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorCode:  body.ErrorCode,
		Message:    message,
		Retryable:  isRetryableStatus(resp.StatusCode),
	}
}

// retryDelay computes the full-jitter backoff before retry k (0-indexed):
// uniform in [0, min(base*2^k, max)].
func retryDelay(base, maxDelay time.Duration, k int) time.Duration {
	backoff := base << uint(k)
	if backoff <= 0 || backoff > maxDelay {
		backoff = maxDelay
	}

	return time.Duration(rand.Int64N(int64(backoff) + 1))
}

func pageValues(page, pageSize int) url.Values {
	values := url.Values{}

	if page > 0 {
		values.Set("page", strconv.Itoa(page))
	}

	if pageSize > 0 {
		values.Set("pageSize", strconv.Itoa(pageSize))
	}

	return values
}

func setNonEmpty(values url.Values, key, value string) {
	if value != "" {
		values.Set(key, value)
	}
}

func withQuery(path string, values url.Values) string {
	if len(values) == 0 {
		return path
	}

	return path + "?" + values.Encode()
}
