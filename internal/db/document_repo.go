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

// DocumentRepository provides data access for the documents table. Documents
// store the authored block definition verbatim as JSONB; parsing into a block
// tree happens at render time, so rows here are cheap to read and write.
type DocumentRepository struct {
	db DBTX
}

// NewDocumentRepository creates a new DocumentRepository backed by the given
// database connection (pool or transaction).
func NewDocumentRepository(db DBTX) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// documentColumns defines the standard set of columns selected for document
// queries. Used consistently across all query methods to avoid column drift.
const documentColumns = `id, name, definition, created_at, updated_at`

// scanDocument scans a single document row into a types.Document struct.
// The columns must match the order defined in documentColumns.
func scanDocument(row pgx.Row) (*types.Document, error) {
	var doc types.Document
	err := row.Scan(
		&doc.ID,
		&doc.Name,
		&doc.Definition,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create inserts a new document record. The caller must set the ID (prefixed
// UUID, e.g. "doc_...") and a parse-validated definition before calling.
// Returns ErrCodeConflictDocumentName when the name is already taken.
func (r *DocumentRepository) Create(ctx context.Context, doc *types.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, name, definition, created_at, updated_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()), COALESCE($5, NOW()))`,
		doc.ID,
		doc.Name,
		doc.Definition,
		nilIfZeroTime(doc.CreatedAt),
		nilIfZeroTime(doc.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDocumentName, "document name already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create document", err)
	}
	return nil
}

// GetByID retrieves a document by its ID.
// Returns ErrCodeNotFoundDocument if no document exists.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*types.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`,
		id,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDocument, "document not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve document", err)
	}
	return doc, nil
}

// ListDocumentsParams defines filtering options for listing documents.
type ListDocumentsParams struct {
	// Name filters by case-insensitive substring match when non-empty.
	Name string
	// Limit caps the page size; defaults to 20 when <= 0.
	Limit int
	// Cursor is the created_at of the last row of the previous page,
	// formatted as RFC3339Nano.
	Cursor string
}

// List retrieves documents ordered newest first with cursor-based pagination.
// It fetches Limit+1 rows so the caller can tell whether a further page
// exists; the caller trims the extra row before responding.
func (r *DocumentRepository) List(ctx context.Context, params ListDocumentsParams) ([]*types.Document, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Name != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argIdx))
		args = append(args, "%"+params.Name+"%")
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

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM documents %s ORDER BY created_at DESC LIMIT $%d`,
		documentColumns,
		whereClause,
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query documents", err)
	}
	defer rows.Close()

	var results []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan document row", err)
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate document rows", err)
	}
	return results, nil
}

// Update replaces the mutable fields of a document (name and definition) and
// bumps updated_at. Returns ErrCodeNotFoundDocument if no row matched, or
// ErrCodeConflictDocumentName when renaming onto a taken name.
func (r *DocumentRepository) Update(ctx context.Context, doc *types.Document) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents
		 SET name = $1, definition = $2, updated_at = NOW()
		 WHERE id = $3`,
		doc.Name,
		doc.Definition,
		doc.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDocumentName, "document name already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update document", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDocument, "document not found", nil)
	}
	return nil
}

// Delete removes a document. Render history rows are removed alongside it by
// the ON DELETE CASCADE constraint on renders.document_id.
// Returns ErrCodeNotFoundDocument if no row matched.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM documents WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDocument, "document not found", nil)
	}
	return nil
}
