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

// RenderRepository provides data access for the renders table: one row per
// render attempt, recording the audience context, outcome, and timing. The
// produced HTML itself is not stored, only its byte size.
type RenderRepository struct {
	db DBTX
}

// NewRenderRepository creates a new RenderRepository backed by the given
// database connection (pool or transaction).
func NewRenderRepository(db DBTX) *RenderRepository {
	return &RenderRepository{db: db}
}

// renderColumns defines the standard set of columns selected for render
// queries. Used consistently across all query methods to avoid column drift.
const renderColumns = `id, document_id, status, context, output_bytes, error, duration_ms, created_at`

// scanRender scans a single render row into a types.Render struct.
// The columns must match the order defined in renderColumns.
func scanRender(row pgx.Row) (*types.Render, error) {
	var ren types.Render
	var errMsg *string

	err := row.Scan(
		&ren.ID,
		&ren.DocumentID,
		&ren.Status,
		&ren.Context,
		&ren.OutputBytes,
		&errMsg,
		&ren.DurationMS,
		&ren.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		ren.Error = *errMsg
	}
	return &ren, nil
}

// Create inserts a new render record. Synchronous renders insert the final
// row directly; the async job flow inserts a pending row first and settles it
// with UpdateResult once the worker finishes.
func (r *RenderRepository) Create(ctx context.Context, ren *types.Render) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO renders
		 (id, document_id, status, context, output_bytes, error, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		ren.ID,
		ren.DocumentID,
		string(ren.Status),
		ren.Context,
		ren.OutputBytes,
		nilIfEmptyString(ren.Error),
		ren.DurationMS,
		nilIfZeroTime(ren.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create render", err)
	}
	return nil
}

// UpdateResult settles a pending render row with the outcome of a completed
// render job. Returns ErrCodeNotFoundRender if no row matched.
func (r *RenderRepository) UpdateResult(ctx context.Context, id string, status types.RenderStatus, outputBytes int, errMsg string, durationMS int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE renders
		 SET status = $1, output_bytes = $2, error = $3, duration_ms = $4
		 WHERE id = $5`,
		string(status),
		outputBytes,
		nilIfEmptyString(errMsg),
		durationMS,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update render result", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRender, "render not found", nil)
	}
	return nil
}

// GetByID retrieves a render by its ID.
// Returns ErrCodeNotFoundRender if no render exists.
func (r *RenderRepository) GetByID(ctx context.Context, id string) (*types.Render, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+renderColumns+` FROM renders WHERE id = $1`,
		id,
	)

	ren, err := scanRender(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRender, "render not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve render", err)
	}
	return ren, nil
}

// ListRendersParams defines filtering options for listing renders.
type ListRendersParams struct {
	// Status filters to a single render status when non-empty.
	Status types.RenderStatus
	// Limit caps the page size; defaults to 20 when <= 0.
	Limit int
	// Cursor is the created_at of the last row of the previous page,
	// formatted as RFC3339Nano.
	Cursor string
}

// ListByDocument retrieves the render history of a document, newest first,
// with cursor-based pagination. Fetches Limit+1 rows so the caller can tell
// whether a further page exists.
func (r *RenderRepository) ListByDocument(ctx context.Context, documentID string, params ListRendersParams) ([]*types.Render, error) {
	var conditions []string
	var args []any
	argIdx := 1

	// Document ID is always required.
	conditions = append(conditions, fmt.Sprintf("document_id = $%d", argIdx))
	args = append(args, documentID)
	argIdx++

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(params.Status))
		argIdx++
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

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM renders %s ORDER BY created_at DESC LIMIT $%d`,
		renderColumns,
		whereClause,
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query renders", err)
	}
	defer rows.Close()

	var results []*types.Render
	for rows.Next() {
		ren, err := scanRender(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan render row", err)
		}
		results = append(results, ren)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate render rows", err)
	}
	return results, nil
}
