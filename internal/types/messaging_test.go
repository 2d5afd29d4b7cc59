package types

import (
	"encoding/json"
	"testing"
)

// TestRenderJob_JSONRoundTrip verifies the queue wire contract: snake_case
// keys and lossless round-tripping of all fields.
func TestRenderJob_JSONRoundTrip(t *testing.T) {
	job := RenderJob{
		JobID:      "7f9c24e5-1df2-4a5b-9f3a-111111111111",
		DocumentID: "doc-42",
		Context: RenderContext{
			Device:   "mobile",
			Client:   "outlook",
			Receiver: map[string]string{"plan": "pro"},
		},
		Source:     JobSourceAPI,
		RetryCount: 2,
		TraceID:    "trace-abc",
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded RenderJob
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.JobID != job.JobID {
		t.Errorf("JobID = %q, want %q", decoded.JobID, job.JobID)
	}
	if decoded.DocumentID != job.DocumentID {
		t.Errorf("DocumentID = %q, want %q", decoded.DocumentID, job.DocumentID)
	}
	if decoded.Context.Device != "mobile" {
		t.Errorf("Context.Device = %q, want %q", decoded.Context.Device, "mobile")
	}
	if decoded.Context.Receiver["plan"] != "pro" {
		t.Errorf("Context.Receiver[plan] = %q, want %q", decoded.Context.Receiver["plan"], "pro")
	}
	if decoded.Source != JobSourceAPI {
		t.Errorf("Source = %q, want %q", decoded.Source, JobSourceAPI)
	}
	if decoded.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", decoded.RetryCount)
	}
	if decoded.TraceID != "trace-abc" {
		t.Errorf("TraceID = %q, want %q", decoded.TraceID, "trace-abc")
	}
}

// TestRenderJob_WireKeys pins the exact JSON key names consumed by the worker.
func TestRenderJob_WireKeys(t *testing.T) {
	data, err := json.Marshal(RenderJob{JobID: "j", DocumentID: "d", TraceID: "t"})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	for _, want := range []string{"job_id", "document_id", "context", "source", "retry_count", "trace_id"} {
		if _, ok := keys[want]; !ok {
			t.Errorf("wire payload missing key %q: %s", want, data)
		}
	}
}
