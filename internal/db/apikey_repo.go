package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"mailsmith/internal/types"
)

// APIKeyRepository provides data access for the api_keys table. Only the
// bcrypt hash of a key's secret is stored; authentication looks rows up by
// the non-secret prefix so the hash comparison runs against a single
// candidate row instead of the whole table.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates a new APIKeyRepository backed by the given
// database connection (pool or transaction).
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// apiKeyColumns defines the standard set of columns selected for API key
// queries. The full secret is never stored, so every column is safe to
// select; key_hash still must not leave the auth layer.
const apiKeyColumns = `id, name, prefix, key_hash, revoked_at, last_used_at, created_at`

// scanAPIKey scans a single API key row into a types.APIKey struct.
// The columns must match the order defined in apiKeyColumns.
func scanAPIKey(row pgx.Row) (*types.APIKey, error) {
	var key types.APIKey
	err := row.Scan(
		&key.ID,
		&key.Name,
		&key.Prefix,
		&key.KeyHash,
		&key.RevokedAt,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// Create inserts a new API key record. The caller must set the ID (prefixed
// UUID, e.g. "key_..."), the lookup prefix, and the bcrypt hash before
// calling. A unique violation on the prefix is surfaced so the caller can
// regenerate and retry.
func (r *APIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, prefix, key_hash, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		key.ID,
		key.Name,
		key.Prefix,
		key.KeyHash,
		nilIfZeroTime(key.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeInternalDB, "api key prefix collision", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create api key", err)
	}
	return nil
}

// GetActiveByPrefix retrieves the non-revoked key with the given lookup
// prefix. Returns ErrCodeNotFoundAPIKey when no active key matches; revoked
// keys are deliberately indistinguishable from absent ones.
func (r *APIKeyRepository) GetActiveByPrefix(ctx context.Context, prefix string) (*types.APIKey, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys
		 WHERE prefix = $1 AND revoked_at IS NULL`,
		prefix,
	)

	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAPIKey, "api key not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve api key", err)
	}
	return key, nil
}

// ListAPIKeysParams defines filtering options for listing API keys.
type ListAPIKeysParams struct {
	// ActiveOnly excludes revoked keys.
	ActiveOnly bool
	// Limit caps the page size; defaults to 20 when <= 0.
	Limit int
	// Cursor is the created_at of the last row of the previous page,
	// formatted as RFC3339Nano.
	Cursor string
}

// List retrieves API keys, newest first, with cursor-based pagination.
// Fetches Limit+1 rows so the caller can tell whether a further page exists.
func (r *APIKeyRepository) List(ctx context.Context, params ListAPIKeysParams) ([]*types.APIKey, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.ActiveOnly {
		conditions = append(conditions, "revoked_at IS NULL")
	}

	// Cursor-based pagination using created_at.
	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM api_keys %s ORDER BY created_at DESC LIMIT $%d`,
		apiKeyColumns,
		whereClause,
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query api keys", err)
	}
	defer rows.Close()

	var results []*types.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan api key row", err)
		}
		results = append(results, key)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate api key rows", err)
	}
	return results, nil
}

// Revoke performs a soft revocation by setting revoked_at = NOW(). The row is
// kept for audit history; GetActiveByPrefix stops returning it immediately.
// Returns ErrCodeNotFoundAPIKey if the key is absent or already revoked.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW()
		 WHERE id = $1 AND revoked_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke api key", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAPIKey, "api key not found or already revoked", nil)
	}
	return nil
}

// TouchLastUsed updates the last_used_at timestamp after a successful
// authentication. Callers treat failures as non-fatal; losing a touch must
// never fail a request.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch api key", err)
	}
	return nil
}
