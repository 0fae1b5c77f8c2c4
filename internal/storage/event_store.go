package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tracelog-io/tracelog/internal/config"
	"github.com/tracelog-io/tracelog/pkg/eventlog"
)

var (
	// ErrNoDatabaseConnection is returned when a store is constructed without a connection.
	ErrNoDatabaseConnection = errors.New("database connection is required")

	// ErrEventStoreFailed is returned when an event storage operation fails.
	ErrEventStoreFailed = errors.New("event storage failed")

	// ErrEventQueryFailed is returned when an event query fails.
	ErrEventQueryFailed = errors.New("event query failed")

	// ErrInvalidCleanupInterval is returned when an invalid cleanup interval is provided.
	ErrInvalidCleanupInterval = errors.New("cleanup interval must be greater than zero")

	// ErrDeleteFilterRequired is returned when SoftDeleteEvents is called with no filter.
	// An unfiltered delete would soft-delete the whole table.
	ErrDeleteFilterRequired = errors.New("at least one delete filter is required")

	// ErrLookupFilterRequired is returned when LookupEvents is called with no filter.
	ErrLookupFilterRequired = errors.New("at least one lookup filter is required")

	// ErrSearchQueryEmpty is returned when SearchEvents is called without a query string.
	ErrSearchQueryEmpty = errors.New("search query cannot be empty")
)

// Bulk-insert and cleanup tuning.
const (
	// idempotencyChunkSize bounds the IN (...) predicate of the duplicate pre-query.
	idempotencyChunkSize = 100

	// insertChunkSize bounds the rows per multi-row INSERT.
	insertChunkSize = 100

	// cleanupQueryTimeout is the maximum time allowed for a single purge query execution.
	cleanupQueryTimeout = 30 * time.Second

	// storeShutdownTimeout is the maximum time to wait for the purge goroutine on Close.
	storeShutdownTimeout = 5 * time.Second

	// cleanupBatchSize is the maximum rows purged per batch to avoid long-running locks.
	cleanupBatchSize = 10000

	// batchSleepDuration is the pause between purge batches.
	batchSleepDuration = 100 * time.Millisecond
)

// eventInsertColumns is the column list of every producer-supplied field, in
// the order the insert helpers bind them.
const eventInsertColumns = `
	execution_id, correlation_id, account_id, trace_id, span_id, parent_span_id,
	span_links, batch_id, application_id, target_system, originating_system,
	process_name, step_sequence, step_name, event_type, event_status,
	identifiers, summary, result, metadata, event_timestamp, execution_time_ms,
	endpoint, http_method, http_status_code, error_code, error_message,
	request_payload, response_payload, idempotency_key`

// eventInsertColumnCount must match eventInsertColumns.
const eventInsertColumnCount = 30

// eventSelectColumns is the column list every event query selects, matched by
// scanEventRow.
const eventSelectColumns = `
	event_log_id, execution_id, correlation_id, account_id, trace_id, span_id,
	parent_span_id, span_links, batch_id, application_id, target_system,
	originating_system, process_name, step_sequence, step_name, event_type,
	event_status, identifiers, summary, result, metadata, event_timestamp,
	execution_time_ms, endpoint, http_method, http_status_code, error_code,
	error_message, request_payload, response_payload, created_at`

type (
	// EventStore implements event-log persistence on PostgreSQL: idempotent
	// single and bulk inserts, the query contracts of the read API, and
	// soft deletion with a background retention purge.
	EventStore struct {
		conn            *Connection
		logger          *slog.Logger
		fullText        bool
		cleanupInterval time.Duration
		retentionPeriod time.Duration
		cleanupStop     chan struct{}
		cleanupDone     chan struct{}
		closeOnce       sync.Once
	}

	// EventStoreOption configures optional EventStore behavior.
	EventStoreOption func(*EventStore)
)

// WithFullTextSearch switches SearchEvents from ILIKE substring matching to
// the indexed tsvector predicate. Requires the fulltext migration.
func WithFullTextSearch(enabled bool) EventStoreOption {
	return func(s *EventStore) {
		s.fullText = enabled
	}
}

// WithStoreLogger overrides the store's default logger.
func WithStoreLogger(logger *slog.Logger) EventStoreOption {
	return func(s *EventStore) {
		s.logger = logger
	}
}

// NewEventStore creates a PostgreSQL-backed event store and starts the
// retention purge goroutine, which hard-deletes soft-deleted rows older than
// retentionPeriod every cleanupInterval. The goroutine stops on Close.
func NewEventStore(
	conn *Connection,
	cleanupInterval time.Duration,
	retentionPeriod time.Duration,
	opts ...EventStoreOption,
) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if cleanupInterval <= 0 {
		return nil, ErrInvalidCleanupInterval
	}

	store := &EventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		cleanupInterval: cleanupInterval,
		retentionPeriod: retentionPeriod,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(store)
	}

	go store.runCleanup()

	store.logger.Info("Started retention purge goroutine",
		slog.Duration("interval", cleanupInterval),
		slog.Duration("retention", retentionPeriod),
	)

	return store, nil
}

// Close stops the retention purge goroutine gracefully. Safe to call
// multiple times. The database connection is managed by the caller and is
// not closed here.
func (s *EventStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)

		select {
		case <-s.cleanupDone:
			s.logger.Info("Retention purge goroutine stopped gracefully")
		case <-time.After(storeShutdownTimeout):
			s.logger.Warn("Retention purge goroutine did not stop within timeout")
		}
	})

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// InsertEvent stores a single event.
//
// When the event carries an idempotency key that matches an existing row,
// nothing is inserted and the result reports the stored execution ID with
// Deduplicated=true. Re-submission is success, not conflict.
func (s *EventStore) InsertEvent(ctx context.Context, event *eventlog.EventLogEntry) (*InsertResult, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event is nil", ErrEventStoreFailed)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventStoreFailed, err)
	}

	if event.IdempotencyKey != "" {
		existingID, found, err := s.findByIdempotencyKey(ctx, s.conn.DB, event.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("%w: idempotency lookup: %w", ErrEventStoreFailed, err)
		}

		if found {
			s.logger.Debug("duplicate event detected",
				slog.String("idempotency_key", event.IdempotencyKey),
				slog.String("execution_id", existingID),
			)

			return &InsertResult{
				ExecutionID:   existingID,
				CorrelationID: event.CorrelationID,
				Deduplicated:  true,
			}, nil
		}
	}

	executionID := uuid.NewString()

	query := `INSERT INTO event_logs (` + eventInsertColumns + `)
		VALUES (` + placeholders(1, eventInsertColumnCount) + `)
		RETURNING execution_id`

	var returnedID string

	err := s.conn.QueryRowContext(ctx, query, eventInsertArgs(event, executionID)...).Scan(&returnedID)
	if err != nil {
		// A concurrent writer may have landed the same idempotency key
		// between the lookup and the insert.
		if event.IdempotencyKey != "" && isUniqueViolation(err) {
			existingID, found, lookupErr := s.findByIdempotencyKey(ctx, s.conn.DB, event.IdempotencyKey)
			if lookupErr == nil && found {
				return &InsertResult{
					ExecutionID:   existingID,
					CorrelationID: event.CorrelationID,
					Deduplicated:  true,
				}, nil
			}
		}

		return nil, fmt.Errorf("%w: insert: %w", ErrEventStoreFailed, err)
	}

	s.logger.Debug("event stored",
		slog.String("execution_id", returnedID),
		slog.String("correlation_id", event.CorrelationID),
		slog.String("event_type", string(event.EventType)),
	)

	return &InsertResult{ExecutionID: returnedID, CorrelationID: event.CorrelationID}, nil
}

// InsertEvents stores a batch inside one transaction.
//
// Duplicate idempotency keys are detected up front in chunks of 100 and
// skipped; the remaining rows are inserted in multi-row chunks of 100. A
// failing chunk falls back to per-row inserts under savepoints, so one bad
// row costs only itself: its error lands in Errors while the rest of the
// batch commits.
func (s *EventStore) InsertEvents(ctx context.Context, events []eventlog.EventLogEntry) (*BatchInsertResult, error) {
	start := time.Now()
	result := &BatchInsertResult{TotalReceived: len(events)}

	if len(events) == 0 {
		return result, nil
	}

	executionIDs := make([]string, len(events))
	deduplicated := make([]bool, len(events))
	failed := make([]bool, len(events))

	for i := range events {
		if err := events[i].Validate(); err != nil {
			failed[i] = true

			result.Errors = append(result.Errors, RowError{Index: i, ErrorMessage: err.Error()})
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrEventStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	existing, err := s.lookupIdempotencyKeys(ctx, tx, events, failed)
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency lookup: %w", ErrEventStoreFailed, err)
	}

	var pending []int

	for i := range events {
		if failed[i] {
			continue
		}

		if key := events[i].IdempotencyKey; key != "" {
			if existingID, ok := existing[key]; ok {
				executionIDs[i] = existingID
				deduplicated[i] = true

				continue
			}
		}

		executionIDs[i] = uuid.NewString()
		pending = append(pending, i)
	}

	inserted, err := s.insertChunked(ctx, tx, events, executionIDs, pending, result)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrEventStoreFailed, err)
	}

	for i := range events {
		if failed[i] || executionIDs[i] == "" {
			continue
		}

		result.ExecutionIDs = append(result.ExecutionIDs, executionIDs[i])
		result.CorrelationIDs = append(result.CorrelationIDs, events[i].CorrelationID)
	}

	result.TotalInserted = inserted

	s.logger.Info("batch stored",
		slog.Int("received", result.TotalReceived),
		slog.Int("inserted", result.TotalInserted),
		slog.Int("deduplicated", countTrue(deduplicated)),
		slog.Int("failed", len(result.Errors)),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// InsertBatchUpload stores a bulk upload, stamping batchID on every row.
func (s *EventStore) InsertBatchUpload(
	ctx context.Context,
	batchID string,
	events []eventlog.EventLogEntry,
) (*BatchInsertResult, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrEventStoreFailed)
	}

	stamped := make([]eventlog.EventLogEntry, len(events))
	for i := range events {
		stamped[i] = events[i]
		stamped[i].BatchID = batchID
	}

	return s.InsertEvents(ctx, stamped)
}

// SoftDeleteEvents marks matching rows deleted and returns how many. At
// least one of the identity filters must be set; Before alone is refused.
func (s *EventStore) SoftDeleteEvents(ctx context.Context, filter DeleteFilter) (int64, error) {
	if !filter.HasAny() {
		return 0, ErrDeleteFilterRequired
	}

	conditions := []string{"is_deleted = FALSE"}

	var args []any

	paramIndex := 1

	appendCond := func(column string, value any) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, paramIndex))
		args = append(args, value)
		paramIndex++
	}

	if filter.CorrelationID != nil {
		appendCond("correlation_id", *filter.CorrelationID)
	}

	if filter.TraceID != nil {
		appendCond("trace_id", *filter.TraceID)
	}

	if filter.BatchID != nil {
		appendCond("batch_id", *filter.BatchID)
	}

	if filter.AccountID != nil {
		appendCond("account_id", *filter.AccountID)
	}

	if filter.Before != nil {
		conditions = append(conditions, fmt.Sprintf("event_timestamp < $%d", paramIndex))
		args = append(args, *filter.Before)
		paramIndex++
	}

	query := `UPDATE event_logs SET is_deleted = TRUE, deleted_at = NOW() WHERE ` +
		strings.Join(conditions, " AND ")

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: soft delete: %w", ErrEventStoreFailed, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: soft delete row count: %w", ErrEventStoreFailed, err)
	}

	s.logger.Info("events soft-deleted", slog.Int64("count", deleted))

	return deleted, nil
}

// querier is the subset of database handles the lookup helpers accept, so
// they run both inside and outside transactions.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *EventStore) findByIdempotencyKey(ctx context.Context, q querier, key string) (string, bool, error) {
	query := `SELECT execution_id FROM event_logs WHERE idempotency_key = $1 AND is_deleted = FALSE LIMIT 1`

	var executionID string

	err := q.QueryRowContext(ctx, query, key).Scan(&executionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return executionID, true, nil
}

// lookupIdempotencyKeys resolves the batch's idempotency keys to existing
// execution IDs, chunked to keep the ANY(...) predicate bounded.
func (s *EventStore) lookupIdempotencyKeys(
	ctx context.Context,
	q querier,
	events []eventlog.EventLogEntry,
	failed []bool,
) (map[string]string, error) {
	var keys []string

	seen := make(map[string]struct{})

	for i := range events {
		if failed[i] {
			continue
		}

		key := events[i].IdempotencyKey
		if key == "" {
			continue
		}

		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		keys = append(keys, key)
	}

	existing := make(map[string]string, len(keys))

	for offset := 0; offset < len(keys); offset += idempotencyChunkSize {
		end := offset + idempotencyChunkSize
		if end > len(keys) {
			end = len(keys)
		}

		query := `SELECT idempotency_key, execution_id FROM event_logs
			WHERE idempotency_key = ANY($1) AND is_deleted = FALSE`

		rows, err := q.QueryContext(ctx, query, pq.Array(keys[offset:end]))
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var key, executionID string

			if err := rows.Scan(&key, &executionID); err != nil {
				_ = rows.Close()

				return nil, err
			}

			existing[key] = executionID
		}

		if err := rows.Err(); err != nil {
			_ = rows.Close()

			return nil, err
		}

		_ = rows.Close()
	}

	return existing, nil
}

// insertChunked inserts the pending rows in multi-row chunks, falling back
// to savepoint-guarded per-row inserts when a chunk fails. Returns the
// number of rows actually inserted; per-row failures are recorded in result
// and their execution IDs cleared.
func (s *EventStore) insertChunked(
	ctx context.Context,
	tx *sql.Tx,
	events []eventlog.EventLogEntry,
	executionIDs []string,
	pending []int,
	result *BatchInsertResult,
) (int, error) {
	inserted := 0

	for offset := 0; offset < len(pending); offset += insertChunkSize {
		end := offset + insertChunkSize
		if end > len(pending) {
			end = len(pending)
		}

		chunk := pending[offset:end]

		if err := execChunkInsert(ctx, tx, events, executionIDs, chunk); err == nil {
			inserted += len(chunk)

			continue
		}

		// The chunk failed as a unit; recover the transaction and retry
		// row by row so only the offending rows are lost.
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT chunk"); err != nil {
			return inserted, fmt.Errorf("%w: rollback to savepoint: %w", ErrEventStoreFailed, err)
		}

		for _, idx := range chunk {
			if err := execRowInsert(ctx, tx, &events[idx], executionIDs[idx]); err != nil {
				executionIDs[idx] = ""

				result.Errors = append(result.Errors, RowError{Index: idx, ErrorMessage: err.Error()})

				s.logger.Warn("batch row rejected",
					slog.Int("index", idx),
					slog.String("correlation_id", events[idx].CorrelationID),
					slog.String("error", err.Error()),
				)

				continue
			}

			inserted++
		}
	}

	return inserted, nil
}

// execChunkInsert writes one multi-row chunk under a savepoint so a failure
// leaves the enclosing transaction usable.
func execChunkInsert(
	ctx context.Context,
	tx *sql.Tx,
	events []eventlog.EventLogEntry,
	executionIDs []string,
	chunk []int,
) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT chunk"); err != nil {
		return err
	}

	values := make([]string, len(chunk))
	args := make([]any, 0, len(chunk)*eventInsertColumnCount)

	for i, idx := range chunk {
		values[i] = "(" + placeholders(i*eventInsertColumnCount+1, eventInsertColumnCount) + ")"
		args = append(args, eventInsertArgs(&events[idx], executionIDs[idx])...)
	}

	query := `INSERT INTO event_logs (` + eventInsertColumns + `) VALUES ` + strings.Join(values, ", ")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT chunk")

	return err
}

// execRowInsert writes one row under its own savepoint.
func execRowInsert(ctx context.Context, tx *sql.Tx, event *eventlog.EventLogEntry, executionID string) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT row"); err != nil {
		return err
	}

	query := `INSERT INTO event_logs (` + eventInsertColumns + `)
		VALUES (` + placeholders(1, eventInsertColumnCount) + `)`

	if _, err := tx.ExecContext(ctx, query, eventInsertArgs(event, executionID)...); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT row"); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback failed: %w)", err, rbErr)
		}

		return err
	}

	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT row")

	return err
}

// eventInsertArgs binds one event to eventInsertColumns order.
func eventInsertArgs(event *eventlog.EventLogEntry, executionID string) []any {
	return []any{
		executionID,
		event.CorrelationID,
		nullString(event.AccountID),
		event.TraceID,
		nullString(event.SpanID),
		nullString(event.ParentSpanID),
		pq.Array(event.SpanLinks),
		nullString(event.BatchID),
		event.ApplicationID,
		event.TargetSystem,
		event.OriginatingSystem,
		event.ProcessName,
		event.StepSequence,
		nullString(event.StepName),
		string(event.EventType),
		string(event.EventStatus),
		marshalJSONMap(identifiersOrEmpty(event.Identifiers)),
		event.Summary,
		event.Result,
		marshalJSONAny(event.Metadata),
		event.EventTimestamp,
		event.ExecutionTimeMs,
		nullString(event.Endpoint),
		nullString(event.HTTPMethod),
		event.HTTPStatusCode,
		nullString(event.ErrorCode),
		nullString(event.ErrorMessage),
		nullString(event.RequestPayload),
		nullString(event.ResponsePayload),
		nullString(event.IdempotencyKey),
	}
}

// scanEventRow scans one eventSelectColumns row. When totalCount is non-nil
// the row is expected to carry a trailing COUNT(*) OVER() column.
func scanEventRow(rows *sql.Rows, totalCount *int) (eventlog.EventLogEntry, error) {
	var (
		event           eventlog.EventLogEntry
		accountID       sql.NullString
		spanID          sql.NullString
		parentSpanID    sql.NullString
		spanLinks       pq.StringArray
		batchID         sql.NullString
		stepName        sql.NullString
		identifiersJSON []byte
		metadataJSON    []byte
		endpoint        sql.NullString
		httpMethod      sql.NullString
		errorCode       sql.NullString
		errorMessage    sql.NullString
		eventType       string
		eventStatus     string
		requestPayload  sql.NullString
		responsePayload sql.NullString
	)

	dests := []any{
		&event.EventLogID,
		&event.ExecutionID,
		&event.CorrelationID,
		&accountID,
		&event.TraceID,
		&spanID,
		&parentSpanID,
		&spanLinks,
		&batchID,
		&event.ApplicationID,
		&event.TargetSystem,
		&event.OriginatingSystem,
		&event.ProcessName,
		&event.StepSequence,
		&stepName,
		&eventType,
		&eventStatus,
		&identifiersJSON,
		&event.Summary,
		&event.Result,
		&metadataJSON,
		&event.EventTimestamp,
		&event.ExecutionTimeMs,
		&endpoint,
		&httpMethod,
		&event.HTTPStatusCode,
		&errorCode,
		&errorMessage,
		&requestPayload,
		&responsePayload,
		&event.CreatedAt,
	}

	if totalCount != nil {
		dests = append(dests, totalCount)
	}

	if err := rows.Scan(dests...); err != nil {
		return event, err
	}

	event.AccountID = accountID.String
	event.SpanID = spanID.String
	event.ParentSpanID = parentSpanID.String
	event.SpanLinks = spanLinks
	event.BatchID = batchID.String
	event.StepName = stepName.String
	event.EventType = eventlog.EventType(eventType)
	event.EventStatus = eventlog.EventStatus(eventStatus)
	event.Endpoint = endpoint.String
	event.HTTPMethod = httpMethod.String
	event.ErrorCode = errorCode.String
	event.ErrorMessage = errorMessage.String
	event.RequestPayload = requestPayload.String
	event.ResponsePayload = responsePayload.String

	if len(identifiersJSON) > 0 {
		if err := json.Unmarshal(identifiersJSON, &event.Identifiers); err != nil {
			return event, fmt.Errorf("unmarshal identifiers: %w", err)
		}
	}

	if event.Identifiers == nil {
		event.Identifiers = make(map[string]string)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return event, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return event, nil
}

// runCleanup periodically purges soft-deleted rows past retention.
func (s *EventStore) runCleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.cleanupStop:
			cancel()
			s.logger.Info("Stopping retention purge goroutine")

			return
		case <-ticker.C:
			cleanupCtx, cleanupCancel := context.WithTimeout(ctx, cleanupQueryTimeout)
			s.purgeDeletedEvents(cleanupCtx)
			cleanupCancel()
		}
	}
}

// purgeDeletedEvents hard-deletes soft-deleted rows whose deletion is older
// than the retention period, in bounded batches with pauses in between.
func (s *EventStore) purgeDeletedEvents(ctx context.Context) {
	startTime := time.Now()
	totalDeleted := int64(0)
	batchCount := 0

	for {
		if ctx.Err() != nil {
			s.logger.Info("Retention purge cancelled",
				slog.Int64("rows_deleted", totalDeleted),
				slog.Int("batches_completed", batchCount),
				slog.Duration("duration", time.Since(startTime)))

			return
		}

		query := `
			DELETE FROM event_logs
			WHERE event_log_id IN (
				SELECT event_log_id
				FROM event_logs
				WHERE is_deleted = TRUE AND deleted_at < NOW() - $1::interval
				ORDER BY deleted_at ASC
				LIMIT $2
			)
		`

		result, err := s.conn.ExecContext(ctx, query, s.retentionPeriod.String(), cleanupBatchSize)
		if err != nil {
			s.logger.Error("Failed to purge deleted events",
				slog.String("error", err.Error()),
				slog.Int64("rows_deleted_before_error", totalDeleted),
				slog.Int("batches_completed", batchCount))

			return
		}

		rowsDeleted, err := result.RowsAffected()
		if err != nil {
			s.logger.Warn("Purge batch completed but row count unavailable",
				slog.String("error", err.Error()))

			return
		}

		totalDeleted += rowsDeleted
		batchCount++

		if rowsDeleted < cleanupBatchSize {
			break
		}

		time.Sleep(batchSleepDuration)
	}

	if totalDeleted > 0 {
		s.logger.Info("Retention purge complete",
			slog.Int64("rows_deleted", totalDeleted),
			slog.Int("batches", batchCount),
			slog.Duration("duration", time.Since(startTime)))
	}
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (class 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isDatabaseConnectionError checks if an error indicates database connection
// failure, via PostgreSQL class 08 codes and the standard sql errors.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// placeholders renders "$start, $start+1, ..." for count parameters.
func placeholders(start, count int) string {
	var b strings.Builder

	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "$%d", start+i)
	}

	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func identifiersOrEmpty(identifiers map[string]string) map[string]string {
	if identifiers == nil {
		return map[string]string{}
	}

	return identifiers
}

// marshalJSONMap renders a string map for a JSONB column.
func marshalJSONMap(m map[string]string) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}

	return data
}

// marshalJSONAny renders free-form metadata for a nullable JSONB column.
func marshalJSONAny(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}

	return data
}

func countTrue(flags []bool) int {
	n := 0

	for _, f := range flags {
		if f {
			n++
		}
	}

	return n
}
