package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tracelog-io/tracelog/internal/config"
)

// Audit log operation labels.
const (
	keyCreated = "created"
	keyUpdated = "updated"
	keyRevoked = "revoked"
)

// PersistentKeyStore implements APIKeyStore on PostgreSQL. Keys are stored
// bcrypt-hashed alongside an indexed SHA-256 lookup digest, so lookups fetch
// one candidate row and verify a single bcrypt hash.
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// compile-time interface check
var _ APIKeyStore = (*PersistentKeyStore)(nil)

// NewPersistentKeyStore creates a PostgreSQL-backed API key store.
func NewPersistentKeyStore(conn *Connection) (*PersistentKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentKeyStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Close releases the underlying connection pool. Safe to call multiple times.
func (s *PersistentKeyStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// FindByKey retrieves an API key by its plaintext value. The indexed
// SHA-256 lookup digest narrows the search to one candidate row, which is
// then verified against its stored bcrypt hash, so authentication costs one
// bcrypt comparison regardless of how many keys exist. Revoked keys are
// still returned so callers can distinguish "unknown key" from "revoked
// key"; active and expiration checks belong to the caller. Returns
// (nil, false) when no key matches. The returned key carries a masked
// value, never the hash.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	query := `
		SELECT id, key_hash, application_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE key_lookup_hash = $1
	`

	rows, err := s.conn.QueryContext(ctx, query, LookupHash(key))
	if err != nil {
		s.logger.Error("failed to query API key", slog.String("error", err.Error()))

		return nil, false
	}

	defer func() {
		_ = rows.Close()
	}()

	var found *APIKey

	for rows.Next() {
		apiKey, err := scanAPIKeyRow(rows)
		if err != nil {
			continue
		}

		// apiKey.Key holds the stored bcrypt hash at this point.
		if CompareAPIKeyHash(apiKey.Key, key) {
			apiKey.Key = MaskKey(key)
			found = apiKey

			break
		}
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("failed to find API key", slog.String("error", err.Error()))

		return nil, false
	}

	return found, found != nil
}

// Add stores a new API key, bcrypt-hashing the plaintext before insert and
// writing an audit log entry. Duplicates are detected through the lookup
// digest, since bcrypt never reproduces a hash.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	lookupHash := LookupHash(apiKey.Key)

	var exists bool

	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM api_keys WHERE key_lookup_hash = $1)`, lookupHash).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate API key: %w", err)
	}

	if exists {
		return ErrKeyAlreadyExists
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, key_hash, key_lookup_hash, application_id, name, permissions, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.conn.ExecContext(
		ctx,
		query,
		apiKey.ID,
		keyHash,
		lookupHash,
		apiKey.ApplicationID,
		apiKey.Name,
		permissionsJSON,
		apiKey.CreatedAt,
		apiKey.ExpiresAt,
		apiKey.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	s.writeAudit(ctx, keyCreated, apiKey)

	return nil
}

// Update modifies an existing API key's name, permissions, active flag, and
// expiration. The key hash itself is immutable.
func (s *PersistentKeyStore) Update(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	if apiKey.ID == "" {
		return ErrKeyNotFound
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		UPDATE api_keys
		SET name = $1, permissions = $2, active = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $5
	`

	result, err := s.conn.ExecContext(
		ctx,
		query,
		apiKey.Name,
		permissionsJSON,
		apiKey.Active,
		apiKey.ExpiresAt,
		apiKey.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.writeAudit(ctx, keyUpdated, apiKey)

	return nil
}

// Delete revokes an API key by setting active=FALSE. The row is kept for
// the audit trail; physical removal never happens through this path.
func (s *PersistentKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	query := `
		UPDATE api_keys
		SET active = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.writeAudit(ctx, keyRevoked, &APIKey{ID: keyID})

	return nil
}

// ListByApplication returns all active API keys for one application, newest
// first, with masked key values.
func (s *PersistentKeyStore) ListByApplication(ctx context.Context, applicationID string) ([]*APIKey, error) {
	if applicationID == "" {
		return nil, ErrApplicationIDEmpty
	}

	query := `
		SELECT id, key_hash, application_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE application_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	keys := []*APIKey{}

	for rows.Next() {
		apiKey, err := scanAPIKeyRow(rows)
		if err != nil {
			continue
		}

		apiKey.Key = MaskKey(apiKey.Key)

		keys = append(keys, apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return keys, nil
}

// scanAPIKeyRow scans one api_keys row. The Key field carries the stored
// hash; callers mask or replace it before returning the key.
func scanAPIKeyRow(rows *sql.Rows) (*APIKey, error) {
	var (
		apiKey          APIKey
		permissionsJSON []byte
	)

	err := rows.Scan(
		&apiKey.ID,
		&apiKey.Key,
		&apiKey.ApplicationID,
		&apiKey.Name,
		&permissionsJSON,
		&apiKey.CreatedAt,
		&apiKey.ExpiresAt,
		&apiKey.Active,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// permissionsToJSON converts a permissions slice to JSON for JSONB storage.
func permissionsToJSON(permissions []string) ([]byte, error) {
	if permissions == nil {
		permissions = []string{}
	}

	return json.Marshal(permissions)
}

// writeAudit records a key lifecycle operation. Audit failures are logged
// and never fail the operation itself.
func (s *PersistentKeyStore) writeAudit(ctx context.Context, operation string, apiKey *APIKey) {
	query := `
		INSERT INTO api_key_audit_log (api_key_id, operation, masked_key, application_id)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.conn.ExecContext(ctx, query, apiKey.ID, operation, MaskKey(apiKey.Key), apiKey.ApplicationID)
	if err != nil {
		s.logger.Error("failed to write API key audit entry",
			slog.String("operation", operation),
			slog.String("key_id", apiKey.ID),
			slog.String("error", err.Error()),
		)
	}
}
