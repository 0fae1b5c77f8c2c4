package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

// Query layer tuning.
const (
	// defaultPageSize applies when the caller does not specify one.
	defaultPageSize = 50

	// maxPageSize caps the page size accepted from callers.
	maxPageSize = 1000

	// recentActivityLimit bounds the recent-events lists on account summaries.
	recentActivityLimit = 10

	// slowQueryThreshold triggers a warning log for long-running queries.
	slowQueryThreshold = 500 * time.Millisecond
)

// normalized clamps pagination to its valid range: Page >= 1,
// PageSize in [1, maxPageSize], defaulting to defaultPageSize when unset.
func (p Pagination) normalized() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}

	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}

	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}

	return p
}

// GetAccountEvents returns the account's events newest first. With
// IncludeLinked set, events whose correlation ID is linked to the account
// through correlation_links are included even when their own account_id is
// empty.
func (s *EventStore) GetAccountEvents(
	ctx context.Context,
	accountID string,
	filter EventFilter,
	p Pagination,
) (*EventQueryResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrEventQueryFailed)
	}

	conditions := []string{"is_deleted = FALSE"}

	var args []any

	paramIndex := 1

	if filter.IncludeLinked {
		conditions = append(conditions, fmt.Sprintf(
			`(account_id = $%d OR correlation_id IN (
				SELECT correlation_id FROM correlation_links WHERE account_id = $%d
			))`, paramIndex, paramIndex))
	} else {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", paramIndex))
	}

	args = append(args, accountID)
	paramIndex++

	// The account is the query subject; only the secondary filters apply.
	scoped := filter
	scoped.AccountID = nil
	conditions, args, paramIndex = buildEventFilterConditions(scoped, conditions, args, paramIndex)

	return s.queryEventPage(ctx, "account_events", conditions, args, paramIndex,
		"event_timestamp DESC, event_log_id DESC", p)
}

// GetAccountSummary returns lifetime totals and recent activity for one
// account: event and process counts, first and last activity, the systems
// touched, per-status counts, and the ten most recent events and failures.
func (s *EventStore) GetAccountSummary(ctx context.Context, accountID string) (*AccountSummary, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrEventQueryFailed)
	}

	start := time.Now()
	summary := &AccountSummary{AccountID: accountID}

	var firstEvent, lastEvent sql.NullTime

	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT correlation_id), MIN(event_timestamp), MAX(event_timestamp)
		FROM event_logs
		WHERE account_id = $1 AND is_deleted = FALSE`, accountID).
		Scan(&summary.TotalEvents, &summary.TotalProcesses, &firstEvent, &lastEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: account summary totals: %w", ErrEventQueryFailed, err)
	}

	summary.FirstEventAt = nullTimePtr(firstEvent)
	summary.LastEventAt = nullTimePtr(lastEvent)

	summary.SystemsInvolved, err = s.queryStringColumn(ctx, `
		SELECT DISTINCT target_system FROM event_logs
		WHERE account_id = $1 AND is_deleted = FALSE AND target_system <> ''
		ORDER BY target_system`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: account systems: %w", ErrEventQueryFailed, err)
	}

	summary.CorrelationIDs, err = s.queryStringColumn(ctx, `
		SELECT DISTINCT correlation_id FROM event_logs
		WHERE account_id = $1 AND is_deleted = FALSE
		ORDER BY correlation_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: account correlations: %w", ErrEventQueryFailed, err)
	}

	summary.StatusCounts, err = s.queryStatusCounts(ctx, `
		SELECT event_status, COUNT(*) FROM event_logs
		WHERE account_id = $1 AND is_deleted = FALSE
		GROUP BY event_status`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: account status counts: %w", ErrEventQueryFailed, err)
	}

	summary.RecentEvents, err = s.queryEventList(ctx, `
		SELECT `+eventSelectColumns+` FROM event_logs
		WHERE account_id = $1 AND is_deleted = FALSE
		ORDER BY event_timestamp DESC, event_log_id DESC
		LIMIT $2`, accountID, recentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: account recent events: %w", ErrEventQueryFailed, err)
	}

	summary.RecentFailures, err = s.queryEventList(ctx, `
		SELECT `+eventSelectColumns+` FROM event_logs
		WHERE account_id = $1 AND is_deleted = FALSE AND event_status = 'FAILURE'
		ORDER BY event_timestamp DESC, event_log_id DESC
		LIMIT $2`, accountID, recentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: account recent failures: %w", ErrEventQueryFailed, err)
	}

	s.logQueryDuration("account_summary", time.Since(start), summary.TotalEvents)

	return summary, nil
}

// GetCorrelationEvents returns every event of one process instance in
// execution order: step sequence first, then time. The account linkage is
// resolved through correlation_links when present, otherwise from the
// earliest event carrying an account.
func (s *EventStore) GetCorrelationEvents(
	ctx context.Context,
	correlationID string,
	p Pagination,
) (*CorrelationQueryResult, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", ErrEventQueryFailed)
	}

	conditions := []string{"is_deleted = FALSE", "correlation_id = $1"}
	args := []any{correlationID}

	page, err := s.queryEventPage(ctx, "correlation_events", conditions, args, 2,
		"step_sequence ASC, event_timestamp ASC, event_log_id ASC", p)
	if err != nil {
		return nil, err
	}

	result := &CorrelationQueryResult{
		CorrelationID:    correlationID,
		EventQueryResult: *page,
	}

	var linkedAccount string

	err = s.conn.QueryRowContext(ctx,
		`SELECT account_id FROM correlation_links WHERE correlation_id = $1`, correlationID).
		Scan(&linkedAccount)

	switch {
	case err == nil:
		result.AccountID = linkedAccount
		result.IsLinked = true
	case errors.Is(err, sql.ErrNoRows):
		fallbackErr := s.conn.QueryRowContext(ctx, `
			SELECT account_id FROM event_logs
			WHERE correlation_id = $1 AND account_id IS NOT NULL AND is_deleted = FALSE
			ORDER BY event_timestamp ASC
			LIMIT 1`, correlationID).Scan(&result.AccountID)
		if fallbackErr != nil && !errors.Is(fallbackErr, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: correlation account: %w", ErrEventQueryFailed, fallbackErr)
		}
	default:
		return nil, fmt.Errorf("%w: correlation link lookup: %w", ErrEventQueryFailed, err)
	}

	return result, nil
}

// GetBatchEvents returns one page of a batch's events newest first,
// optionally filtered by status, plus distinct-correlation success and
// failure counts computed over the whole batch regardless of the filter.
func (s *EventStore) GetBatchEvents(
	ctx context.Context,
	batchID string,
	eventStatus *string,
	p Pagination,
) (*BatchQueryResult, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrEventQueryFailed)
	}

	conditions := []string{"is_deleted = FALSE", "batch_id = $1"}
	args := []any{batchID}
	paramIndex := 2

	if eventStatus != nil {
		conditions = append(conditions, fmt.Sprintf("event_status = $%d", paramIndex))
		args = append(args, *eventStatus)
		paramIndex++
	}

	page, err := s.queryEventPage(ctx, "batch_events", conditions, args, paramIndex,
		"event_timestamp DESC, event_log_id DESC", p)
	if err != nil {
		return nil, err
	}

	result := &BatchQueryResult{
		BatchID:          batchID,
		EventQueryResult: *page,
	}

	err = s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT correlation_id),
			COUNT(DISTINCT correlation_id) FILTER (WHERE event_status = 'SUCCESS'),
			COUNT(DISTINCT correlation_id) FILTER (WHERE event_status = 'FAILURE')
		FROM event_logs
		WHERE batch_id = $1 AND is_deleted = FALSE`, batchID).
		Scan(&result.UniqueCorrelationIDs, &result.SuccessCount, &result.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("%w: batch counts: %w", ErrEventQueryFailed, err)
	}

	return result, nil
}

// GetBatchSummary returns the per-process roll-up of one batch. Counts are
// over distinct correlation IDs; a process can appear in both the completed
// and failed counts, so the in-progress remainder is clamped at zero.
func (s *EventStore) GetBatchSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrEventQueryFailed)
	}

	start := time.Now()
	summary := &BatchSummary{BatchID: batchID}

	var startedAt, lastEventAt sql.NullTime

	err := s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT correlation_id),
			COUNT(DISTINCT correlation_id) FILTER (
				WHERE event_type = 'PROCESS_END' AND event_status = 'SUCCESS'
			),
			COUNT(DISTINCT correlation_id) FILTER (WHERE event_status = 'FAILURE'),
			MIN(event_timestamp),
			MAX(event_timestamp)
		FROM event_logs
		WHERE batch_id = $1 AND is_deleted = FALSE`, batchID).
		Scan(&summary.TotalProcesses, &summary.Completed, &summary.Failed, &startedAt, &lastEventAt)
	if err != nil {
		return nil, fmt.Errorf("%w: batch summary: %w", ErrEventQueryFailed, err)
	}

	summary.StartedAt = nullTimePtr(startedAt)
	summary.LastEventAt = nullTimePtr(lastEventAt)

	summary.InProgress = summary.TotalProcesses - summary.Completed - summary.Failed
	if summary.InProgress < 0 {
		summary.InProgress = 0
	}

	summary.CorrelationIDs, err = s.queryStringColumn(ctx, `
		SELECT DISTINCT correlation_id FROM event_logs
		WHERE batch_id = $1 AND is_deleted = FALSE
		ORDER BY correlation_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("%w: batch correlations: %w", ErrEventQueryFailed, err)
	}

	s.logQueryDuration("batch_summary", time.Since(start), summary.TotalProcesses)

	return summary, nil
}

// LookupEvents returns events matching an ad-hoc filter combination, newest
// first. At least one filter must be set; an unfiltered scan is refused.
func (s *EventStore) LookupEvents(ctx context.Context, filter EventFilter, p Pagination) (*EventQueryResult, error) {
	if !filter.HasAny() {
		return nil, ErrLookupFilterRequired
	}

	conditions := []string{"is_deleted = FALSE"}

	var args []any

	conditions, args, paramIndex := buildEventFilterConditions(filter, conditions, args, 1)

	return s.queryEventPage(ctx, "lookup_events", conditions, args, paramIndex,
		"event_timestamp DESC, event_log_id DESC", p)
}

// SearchEvents performs text search over event summaries and error messages,
// newest first. With full-text search enabled the query uses the indexed
// tsvector column with prefix matching per word; otherwise it degrades to an
// escaped ILIKE substring match.
func (s *EventStore) SearchEvents(ctx context.Context, filter SearchFilter, p Pagination) (*EventQueryResult, error) {
	if strings.TrimSpace(filter.Query) == "" {
		return nil, ErrSearchQueryEmpty
	}

	conditions := []string{"is_deleted = FALSE"}

	var args []any

	paramIndex := 1

	if s.fullText {
		words := sanitizeSearchWords(filter.Query)
		if len(words) == 0 {
			p = p.normalized()

			return &EventQueryResult{
				Events:   []eventlog.EventLogEntry{},
				Page:     p.Page,
				PageSize: p.PageSize,
			}, nil
		}

		conditions = append(conditions, fmt.Sprintf("search_vector @@ to_tsquery('simple', $%d)", paramIndex))
		args = append(args, buildPrefixTSQuery(words))
		paramIndex++
	} else {
		conditions = append(conditions, fmt.Sprintf(
			`(summary ILIKE $%d ESCAPE '\' OR error_message ILIKE $%d ESCAPE '\')`,
			paramIndex, paramIndex))
		args = append(args, "%"+escapeLikePattern(filter.Query)+"%")
		paramIndex++
	}

	scoped := EventFilter{
		AccountID:   filter.AccountID,
		ProcessName: filter.ProcessName,
		StartDate:   filter.StartDate,
		EndDate:     filter.EndDate,
	}
	conditions, args, paramIndex = buildEventFilterConditions(scoped, conditions, args, paramIndex)

	return s.queryEventPage(ctx, "search_events", conditions, args, paramIndex,
		"event_timestamp DESC, event_log_id DESC", p)
}

// buildEventFilterConditions appends the filter's predicates to the WHERE
// conditions, returning the extended conditions, args, and next parameter
// index.
func buildEventFilterConditions(
	filter EventFilter,
	conditions []string,
	args []any,
	paramIndex int,
) ([]string, []any, int) {
	if filter.AccountID != nil {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", paramIndex))
		args = append(args, *filter.AccountID)
		paramIndex++
	}

	if filter.ProcessName != nil {
		conditions = append(conditions, fmt.Sprintf("process_name = $%d", paramIndex))
		args = append(args, *filter.ProcessName)
		paramIndex++
	}

	if filter.EventStatus != nil {
		conditions = append(conditions, fmt.Sprintf("event_status = $%d", paramIndex))
		args = append(args, *filter.EventStatus)
		paramIndex++
	}

	if filter.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("event_timestamp >= $%d", paramIndex))
		args = append(args, *filter.StartDate)
		paramIndex++
	}

	if filter.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("event_timestamp <= $%d", paramIndex))
		args = append(args, *filter.EndDate)
		paramIndex++
	}

	return conditions, args, paramIndex
}

// queryEventPage runs the shared paged-select: one query returning the page
// plus COUNT(*) OVER() as the total. When the requested page is past the end
// the window count is absent, so the total falls back to a COUNT(*) query.
func (s *EventStore) queryEventPage(
	ctx context.Context,
	operation string,
	conditions []string,
	args []any,
	paramIndex int,
	orderBy string,
	p Pagination,
) (*EventQueryResult, error) {
	start := time.Now()
	p = p.normalized()
	offset := (p.Page - 1) * p.PageSize
	where := strings.Join(conditions, " AND ")

	query := `SELECT ` + eventSelectColumns + `, COUNT(*) OVER() AS total_count
		FROM event_logs
		WHERE ` + where + `
		ORDER BY ` + orderBy +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", paramIndex, paramIndex+1)

	pageArgs := append(append([]any{}, args...), p.PageSize, offset)

	rows, err := s.conn.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEventQueryFailed, operation, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	events := make([]eventlog.EventLogEntry, 0, p.PageSize)
	totalCount := 0

	for rows.Next() {
		event, scanErr := scanEventRow(rows, &totalCount)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: %s scan: %w", ErrEventQueryFailed, operation, scanErr)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s rows: %w", ErrEventQueryFailed, operation, err)
	}

	if len(events) == 0 && offset > 0 {
		countQuery := `SELECT COUNT(*) FROM event_logs WHERE ` + where

		if err := s.conn.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
			return nil, fmt.Errorf("%w: %s count: %w", ErrEventQueryFailed, operation, err)
		}
	}

	s.logQueryDuration(operation, time.Since(start), len(events))

	return &EventQueryResult{
		Events:     events,
		TotalCount: totalCount,
		Page:       p.Page,
		PageSize:   p.PageSize,
		HasMore:    p.Page*p.PageSize < totalCount,
	}, nil
}

// queryEventList runs an unpaged event select, for bounded LIMIT queries.
func (s *EventStore) queryEventList(ctx context.Context, query string, args ...any) ([]eventlog.EventLogEntry, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rows.Close()
	}()

	events := make([]eventlog.EventLogEntry, 0)

	for rows.Next() {
		event, scanErr := scanEventRow(rows, nil)
		if scanErr != nil {
			return nil, scanErr
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// queryStringColumn collects a single-column string result set.
func (s *EventStore) queryStringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rows.Close()
	}()

	values := make([]string, 0)

	for rows.Next() {
		var value string

		if err := rows.Scan(&value); err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	return values, rows.Err()
}

// queryStatusCounts collects a (status, count) result set into a map.
func (s *EventStore) queryStatusCounts(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

// logQueryDuration emits the per-query debug log and the slow-query warning.
func (s *EventStore) logQueryDuration(operation string, duration time.Duration, rowCount int) {
	s.logger.Debug("query complete",
		slog.String("operation", operation),
		slog.Int("rows", rowCount),
		slog.Duration("duration", duration),
	)

	if duration > slowQueryThreshold {
		s.logger.Warn("Slow query detected",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.Duration("threshold", slowQueryThreshold),
		)
	}
}

// sanitizeSearchWords strips tsquery metacharacters from the raw query and
// splits it into words safe to embed in to_tsquery.
func sanitizeSearchWords(query string) []string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '"', '[', ']', '{', '}', '(', ')', '*', '?', '\\', '!', '\'', '&', '|', '<', '>', ':':
			return ' '
		default:
			return r
		}
	}, query)

	return strings.Fields(sanitized)
}

// buildPrefixTSQuery renders words as a conjunctive prefix-match tsquery:
// "w1:* & w2:*".
func buildPrefixTSQuery(words []string) string {
	terms := make([]string, len(words))
	for i, word := range words {
		terms[i] = word + ":*"
	}

	return strings.Join(terms, " & ")
}

// escapeLikePattern escapes LIKE metacharacters so the query matches them
// literally.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)

	return s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}

	t := nt.Time

	return &t
}
