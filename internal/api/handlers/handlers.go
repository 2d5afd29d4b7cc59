package handlers

import (
	"time"

	"mailsmith/internal/types"
)

const (
	// defaultPageLimit is the page size applied when a list request does
	// not specify one.
	defaultPageLimit = 20

	// maxPageLimit caps requested page sizes.
	maxPageLimit = 100
)

// paginate applies the limit+1 listing convention shared by all repos: the
// repo fetches one row beyond the requested limit, and the presence of that
// extra row means a further page exists. The returned slice is trimmed to
// the limit and the cursor points at the created_at of its last row.
func paginate[T any](rows []T, limit int, createdAt func(T) time.Time) ([]T, types.PageInfo) {
	if limit <= 0 {
		limit = defaultPageLimit
	}

	info := types.PageInfo{}
	if len(rows) > limit {
		info.HasMore = true
		rows = rows[:limit]
		info.NextCursor = createdAt(rows[len(rows)-1]).Format(time.RFC3339Nano)
	}
	return rows, info
}
