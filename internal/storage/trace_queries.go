package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
)

// GetTraceEvents returns one page of a trace's events in chronological
// order, plus aggregates computed over the whole trace: the distinct target
// systems touched, the wall-clock span between first and last event, the
// per-status counts, the process name of the first PROCESS_START (falling
// back to the earliest event), and the earliest known account.
func (s *EventStore) GetTraceEvents(ctx context.Context, traceID string, p Pagination) (*TraceQueryResult, error) {
	if traceID == "" {
		return nil, fmt.Errorf("%w: trace id is required", ErrEventQueryFailed)
	}

	conditions := []string{"is_deleted = FALSE", "trace_id = $1"}
	args := []any{traceID}

	page, err := s.queryEventPage(ctx, "trace_events", conditions, args, 2,
		"event_timestamp ASC, event_log_id ASC", p)
	if err != nil {
		return nil, err
	}

	result := &TraceQueryResult{
		TraceID:          traceID,
		EventQueryResult: *page,
	}

	var (
		startName   sql.NullString
		anyName     sql.NullString
		accountID   sql.NullString
		durationMs  sql.NullInt64
		totalEvents int
	)

	err = s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			(EXTRACT(EPOCH FROM (MAX(event_timestamp) - MIN(event_timestamp))) * 1000)::bigint,
			(array_agg(process_name ORDER BY event_timestamp ASC, event_log_id ASC)
				FILTER (WHERE event_type = 'PROCESS_START'))[1],
			(array_agg(process_name ORDER BY event_timestamp ASC, event_log_id ASC))[1],
			(array_agg(account_id ORDER BY event_timestamp ASC, event_log_id ASC)
				FILTER (WHERE account_id IS NOT NULL))[1]
		FROM event_logs
		WHERE trace_id = $1 AND is_deleted = FALSE`, traceID).
		Scan(&totalEvents, &durationMs, &startName, &anyName, &accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: trace aggregates: %w", ErrEventQueryFailed, err)
	}

	result.TotalDurationMs = durationMs.Int64
	result.AccountID = accountID.String

	if startName.Valid {
		result.ProcessName = startName.String
	} else {
		result.ProcessName = anyName.String
	}

	result.SystemsInvolved, err = s.queryStringColumn(ctx, `
		SELECT DISTINCT target_system FROM event_logs
		WHERE trace_id = $1 AND is_deleted = FALSE AND target_system <> ''
		ORDER BY target_system`, traceID)
	if err != nil {
		return nil, fmt.Errorf("%w: trace systems: %w", ErrEventQueryFailed, err)
	}

	result.StatusCounts, err = s.queryStatusCounts(ctx, `
		SELECT event_status, COUNT(*) FROM event_logs
		WHERE trace_id = $1 AND is_deleted = FALSE
		GROUP BY event_status`, traceID)
	if err != nil {
		return nil, fmt.Errorf("%w: trace status counts: %w", ErrEventQueryFailed, err)
	}

	return result, nil
}

// ListTraces returns per-trace roll-ups grouped by trace_id, most recently
// active first. Filters apply to the events before grouping.
func (s *EventStore) ListTraces(ctx context.Context, filter TraceFilter, p Pagination) (*TraceListResult, error) {
	start := time.Now()
	p = p.normalized()
	offset := (p.Page - 1) * p.PageSize

	conditions := []string{"is_deleted = FALSE"}

	var args []any

	paramIndex := 1

	conditions, args, paramIndex = buildEventFilterConditions(EventFilter{
		AccountID:   filter.AccountID,
		ProcessName: filter.ProcessName,
		EventStatus: filter.EventStatus,
		StartDate:   filter.StartDate,
		EndDate:     filter.EndDate,
	}, conditions, args, paramIndex)

	where := strings.Join(conditions, " AND ")

	query := `
		SELECT
			trace_id,
			COALESCE(
				(array_agg(process_name ORDER BY event_timestamp ASC, event_log_id ASC)
					FILTER (WHERE event_type = 'PROCESS_START'))[1],
				(array_agg(process_name ORDER BY event_timestamp ASC, event_log_id ASC))[1]
			),
			COALESCE((array_agg(account_id ORDER BY event_timestamp ASC, event_log_id ASC)
				FILTER (WHERE account_id IS NOT NULL))[1], ''),
			COUNT(*),
			MIN(event_timestamp),
			MAX(event_timestamp),
			(EXTRACT(EPOCH FROM (MAX(event_timestamp) - MIN(event_timestamp))) * 1000)::bigint,
			(array_agg(event_status ORDER BY event_timestamp DESC, event_log_id DESC))[1],
			bool_or(event_status = 'FAILURE'),
			COUNT(*) OVER() AS total_count
		FROM event_logs
		WHERE ` + where + `
		GROUP BY trace_id
		ORDER BY MAX(event_timestamp) DESC` +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", paramIndex, paramIndex+1)

	pageArgs := append(append([]any{}, args...), p.PageSize, offset)

	rows, err := s.conn.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("%w: list traces: %w", ErrEventQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	traces := make([]TraceSummary, 0, p.PageSize)
	totalCount := 0

	for rows.Next() {
		var summary TraceSummary

		err := rows.Scan(
			&summary.TraceID,
			&summary.ProcessName,
			&summary.AccountID,
			&summary.EventCount,
			&summary.StartedAt,
			&summary.LastEventAt,
			&summary.DurationMs,
			&summary.LatestStatus,
			&summary.HasErrors,
			&totalCount,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: list traces scan: %w", ErrEventQueryFailed, err)
		}

		traces = append(traces, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list traces rows: %w", ErrEventQueryFailed, err)
	}

	if len(traces) == 0 && offset > 0 {
		countQuery := `SELECT COUNT(DISTINCT trace_id) FROM event_logs WHERE ` + where

		if err := s.conn.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
			return nil, fmt.Errorf("%w: list traces count: %w", ErrEventQueryFailed, err)
		}
	}

	s.logQueryDuration("list_traces", time.Since(start), len(traces))

	return &TraceListResult{
		Traces:     traces,
		TotalCount: totalCount,
		Page:       p.Page,
		PageSize:   p.PageSize,
		HasMore:    p.Page*p.PageSize < totalCount,
	}, nil
}

// GetDashboardStats returns the operational overview counters, optionally
// restricted to an event-timestamp window. The success rate is the share of
// traces without any FAILURE event, as a percentage rounded to two decimal
// places, and 100 when no traces exist.
func (s *EventStore) GetDashboardStats(ctx context.Context, startDate, endDate *time.Time) (*DashboardStats, error) {
	start := time.Now()

	conditions := []string{"is_deleted = FALSE"}

	var args []any

	paramIndex := 1

	if startDate != nil {
		conditions = append(conditions, fmt.Sprintf("event_timestamp >= $%d", paramIndex))
		args = append(args, *startDate)
		paramIndex++
	}

	if endDate != nil {
		conditions = append(conditions, fmt.Sprintf("event_timestamp <= $%d", paramIndex))
		args = append(args, *endDate)
		paramIndex++
	}

	where := strings.Join(conditions, " AND ")
	stats := &DashboardStats{}

	err := s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT trace_id),
			COUNT(DISTINCT account_id),
			COUNT(*),
			COUNT(DISTINCT trace_id) FILTER (WHERE event_status = 'FAILURE')
		FROM event_logs
		WHERE `+where, args...).
		Scan(&stats.TotalTraces, &stats.TotalAccounts, &stats.TotalEvents, &stats.TracesWithFailures)
	if err != nil {
		return nil, fmt.Errorf("%w: dashboard stats: %w", ErrEventQueryFailed, err)
	}

	stats.SystemNames, err = s.queryStringColumn(ctx, `
		SELECT DISTINCT system_name FROM (
			SELECT target_system AS system_name FROM event_logs
			WHERE `+where+` AND target_system <> ''
			UNION
			SELECT originating_system FROM event_logs
			WHERE `+where+` AND originating_system <> ''
		) systems
		ORDER BY system_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: dashboard systems: %w", ErrEventQueryFailed, err)
	}

	if stats.TotalTraces == 0 {
		stats.SuccessRate = 100
	} else {
		healthy := float64(stats.TotalTraces - stats.TracesWithFailures)
		stats.SuccessRate = math.Round(healthy/float64(stats.TotalTraces)*10000) / 100
	}

	s.logQueryDuration("dashboard_stats", time.Since(start), stats.TotalEvents)

	return stats, nil
}
