package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrCorrelationLinkNotFound is returned when no link exists for the
	// requested correlation ID.
	ErrCorrelationLinkNotFound = errors.New("correlation link not found")

	// ErrCorrelationLinkInvalid is returned when a link is missing its
	// required identifiers.
	ErrCorrelationLinkInvalid = errors.New("correlation link requires correlation_id and account_id")

	// ErrProcessDefinitionInvalid is returned when a process definition is
	// missing its name.
	ErrProcessDefinitionInvalid = errors.New("process definition requires a name")
)

// UpsertCorrelationLink stores the account linkage for one correlation ID.
// Re-submitting the same correlation ID updates the link in place. Returns
// the stored link and whether a new row was created.
func (s *EventStore) UpsertCorrelationLink(ctx context.Context, link CorrelationLink) (*CorrelationLink, bool, error) {
	if link.CorrelationID == "" || link.AccountID == "" {
		return nil, false, ErrCorrelationLinkInvalid
	}

	query := `
		INSERT INTO correlation_links (
			correlation_id, account_id, application_id, customer_id, card_number_last4
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			application_id = EXCLUDED.application_id,
			customer_id = EXCLUDED.customer_id,
			card_number_last4 = EXCLUDED.card_number_last4,
			updated_at = NOW()
		RETURNING created_at, updated_at, (xmax = 0) AS inserted`

	stored := link

	var inserted bool

	err := s.conn.QueryRowContext(ctx, query,
		link.CorrelationID,
		link.AccountID,
		nullString(link.ApplicationID),
		nullString(link.CustomerID),
		nullString(link.CardNumberLast4),
	).Scan(&stored.CreatedAt, &stored.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("%w: upsert correlation link: %w", ErrEventStoreFailed, err)
	}

	s.logger.Debug("correlation link stored",
		slog.String("correlation_id", link.CorrelationID),
		slog.String("account_id", link.AccountID),
		slog.Bool("inserted", inserted),
	)

	return &stored, inserted, nil
}

// GetCorrelationLink returns the account linkage for one correlation ID, or
// ErrCorrelationLinkNotFound.
func (s *EventStore) GetCorrelationLink(ctx context.Context, correlationID string) (*CorrelationLink, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", ErrEventQueryFailed)
	}

	query := `
		SELECT correlation_id, account_id, application_id, customer_id,
		       card_number_last4, created_at, updated_at
		FROM correlation_links
		WHERE correlation_id = $1`

	var (
		link            CorrelationLink
		applicationID   sql.NullString
		customerID      sql.NullString
		cardNumberLast4 sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, query, correlationID).Scan(
		&link.CorrelationID,
		&link.AccountID,
		&applicationID,
		&customerID,
		&cardNumberLast4,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCorrelationLinkNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get correlation link: %w", ErrEventQueryFailed, err)
	}

	link.ApplicationID = applicationID.String
	link.CustomerID = customerID.String
	link.CardNumberLast4 = cardNumberLast4.String

	return &link, nil
}

// UpsertProcessDefinition stores a process definition keyed on its name.
// Returns the stored definition and whether a new row was created.
func (s *EventStore) UpsertProcessDefinition(ctx context.Context, def ProcessDefinition) (*ProcessDefinition, bool, error) {
	if def.Name == "" {
		return nil, false, ErrProcessDefinitionInvalid
	}

	query := `
		INSERT INTO process_definitions (name, description, originating_system, expected_steps)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			originating_system = EXCLUDED.originating_system,
			expected_steps = EXCLUDED.expected_steps,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`

	stored := def

	var inserted bool

	err := s.conn.QueryRowContext(ctx, query,
		def.Name,
		nullString(def.Description),
		nullString(def.OriginatingSystem),
		def.ExpectedSteps,
	).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("%w: upsert process definition: %w", ErrEventStoreFailed, err)
	}

	return &stored, inserted, nil
}

// ListProcesses returns all known process definitions ordered by name.
func (s *EventStore) ListProcesses(ctx context.Context) ([]ProcessDefinition, error) {
	start := time.Now()

	query := `
		SELECT id, name, description, originating_system, expected_steps, created_at, updated_at
		FROM process_definitions
		ORDER BY name ASC`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list processes: %w", ErrEventQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	definitions := make([]ProcessDefinition, 0)

	for rows.Next() {
		var (
			def               ProcessDefinition
			description       sql.NullString
			originatingSystem sql.NullString
		)

		err := rows.Scan(
			&def.ID,
			&def.Name,
			&description,
			&originatingSystem,
			&def.ExpectedSteps,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: list processes scan: %w", ErrEventQueryFailed, err)
		}

		def.Description = description.String
		def.OriginatingSystem = originatingSystem.String

		definitions = append(definitions, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list processes rows: %w", ErrEventQueryFailed, err)
	}

	s.logQueryDuration("list_processes", time.Since(start), len(definitions))

	return definitions, nil
}
