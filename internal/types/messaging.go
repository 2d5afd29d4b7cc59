package types

// RenderJob is the SQS payload sent from the API to the render worker. It
// carries everything needed to render a stored document asynchronously:
// identity, the render context, and observability metadata. JSON tags use
// snake_case to match the queue contract.
type RenderJob struct {
	// Core Identity
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`

	// Audience for visibility filtering.
	Context RenderContext `json:"context"`

	// Origin, for metrics segmentation.
	Source RenderJobSource `json:"source"`

	// Retry State: carries attempt count across the SQS publish-consume
	// cycle. Incremented by the worker on transient failures before
	// re-publishing.
	RetryCount int `json:"retry_count"`

	// Observability
	TraceID string `json:"trace_id"`
}
