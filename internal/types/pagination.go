package types

// PageInfo contains pagination metadata for list responses. Cursors are
// opaque to clients; internally they are the created_at timestamp of the
// last returned row.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ResponseMeta contains non-blocking metadata returned with API responses.
type ResponseMeta struct {
	Warnings   []string  `json:"warnings,omitempty"`
	Pagination *PageInfo `json:"pagination,omitempty"`
}
