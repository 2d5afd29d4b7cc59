package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mailsmith/internal/types"
)

// noopSleep is a sleep function that does nothing, for fast tests.
func noopSleep(time.Duration) {}

// newTestFeedClient creates a Client with fast retries and no real sleep.
func newTestFeedClient(t *testing.T, policy RetryPolicy) *Client {
	t.Helper()
	return NewClient(
		&http.Client{Timeout: 5 * time.Second},
		policy,
		"mailsmith-test/1.0",
		WithSleepFunc(noopSleep),
	)
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	client := newTestFeedClient(t, DefaultRetryPolicy())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestDo_InjectsHeaders(t *testing.T) {
	var receivedUA, receivedTraceID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		receivedTraceID = r.Header.Get("X-B3-TraceId")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestFeedClient(t, DefaultRetryPolicy())

	ctx := types.WithRequestID(context.Background(), "trace-abc-123")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	resp.Body.Close()

	if receivedUA != "mailsmith-test/1.0" {
		t.Errorf("expected User-Agent 'mailsmith-test/1.0', got '%s'", receivedUA)
	}
	if receivedTraceID != "trace-abc-123" {
		t.Errorf("expected trace ID 'trace-abc-123', got '%s'", receivedTraceID)
	}
}

func TestDo_RetriesOn500(t *testing.T) {
	var callCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := callCount.Add(1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	policy := RetryPolicy{
		MaxRetries: 3,
		MinWait:    10 * time.Millisecond,
		MaxWait:    100 * time.Millisecond,
	}
	client := newTestFeedClient(t, policy)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	defer resp.Body.Close()

	if calls := callCount.Load(); calls != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

func TestDo_RespectsRetryAfterHeader(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := callCount.Add(1)
		if count == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var sleepDurations []time.Duration
	trackingSleep := func(d time.Duration) {
		sleepDurations = append(sleepDurations, d)
	}

	policy := RetryPolicy{
		MaxRetries: 1,
		MinWait:    100 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
	client := NewClient(
		&http.Client{Timeout: 5 * time.Second},
		policy,
		"mailsmith-test/1.0",
		WithSleepFunc(trackingSleep),
	)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	resp.Body.Close()

	if len(sleepDurations) != 1 {
		t.Fatalf("expected 1 sleep call, got %d", len(sleepDurations))
	}

	if sleepDurations[0] != 2*time.Second {
		t.Errorf("expected sleep of 2s (Retry-After), got %v", sleepDurations[0])
	}
}

func TestDo_ExhaustedRetriesReturnsUpstreamError(t *testing.T) {
	var callCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	policy := RetryPolicy{
		MaxRetries: 2,
		MinWait:    10 * time.Millisecond,
		MaxWait:    50 * time.Millisecond,
	}
	client := newTestFeedClient(t, policy)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if resp != nil {
		t.Error("expected nil response on exhausted retries")
	}
	if err == nil {
		t.Fatal("expected error on exhausted retries, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamFeed {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamFeed, appErr.Code)
	}

	if calls := callCount.Load(); calls != 3 {
		t.Errorf("expected 3 total attempts (1 + 2 retries), got %d", calls)
	}
}

func TestDo_ExhaustedRetriesOn429ReturnsRateLimitedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	policy := RetryPolicy{
		MaxRetries: 1,
		MinWait:    10 * time.Millisecond,
		MaxWait:    50 * time.Millisecond,
	}
	client := newTestFeedClient(t, policy)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	_, err = client.Do(req)
	if err == nil {
		t.Fatal("expected error on exhausted 429 retries, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamRateLimited, appErr.Code)
	}
}

func TestDo_4xxNotRetried(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	policy := RetryPolicy{
		MaxRetries: 3,
		MinWait:    10 * time.Millisecond,
		MaxWait:    50 * time.Millisecond,
	}
	client := newTestFeedClient(t, policy)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected no error for 404, got: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
	if calls := callCount.Load(); calls != 1 {
		t.Errorf("expected exactly 1 call for 4xx, got %d", calls)
	}
}

func TestDo_BreakerIsPerOrigin(t *testing.T) {
	var failingCalls atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failingCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	// No retries: each Do is exactly one attempt against the breaker.
	policy := RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}
	client := newTestFeedClient(t, policy)

	// Trip the failing origin's breaker (opens once consecutive failures
	// exceed five).
	for i := 0; i < 6; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, failing.URL+"/feed.xml", nil)
		_, _ = client.Do(req)
	}

	callsBefore := failingCalls.Load()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, failing.URL+"/feed.xml", nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error from open breaker, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamRateLimited, appErr.Code)
	}
	if failingCalls.Load() != callsBefore {
		t.Errorf("expected no additional calls to the failing origin while its breaker is open")
	}

	// The open breaker belongs to the failing host only; the healthy origin
	// is not penalized for its neighbor.
	req, _ = http.NewRequestWithContext(context.Background(), http.MethodGet, healthy.URL+"/feed.xml", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected healthy origin to succeed, got: %v", err)
	}
	resp.Body.Close()
}

func TestDo_NetworkErrorMapsToUpstreamFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close() // Close immediately so connections fail.

	policy := RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond}
	client := newTestFeedClient(t, policy)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	_, err = client.Do(req)
	if err == nil {
		t.Fatal("expected error for network failure, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamFeed {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamFeed, appErr.Code)
	}
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())

	policy := RetryPolicy{MaxRetries: 5, MinWait: time.Millisecond, MaxWait: time.Millisecond}
	client := NewClient(
		&http.Client{Timeout: 5 * time.Second},
		policy,
		"mailsmith-test/1.0",
		WithSleepFunc(func(time.Duration) { cancel() }),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/feed.xml", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	_, err = client.Do(req)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	// One failed attempt, then the cancellation (raised during the backoff
	// sleep) must cut the remaining retries short.
	if calls := callCount.Load(); calls > 2 {
		t.Errorf("expected at most 2 attempts after cancellation, got %d", calls)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", policy.MaxRetries)
	}
	if policy.MinWait != 500*time.Millisecond {
		t.Errorf("expected MinWait 500ms, got %v", policy.MinWait)
	}
	if policy.MaxWait != 10*time.Second {
		t.Errorf("expected MaxWait 10s, got %v", policy.MaxWait)
	}
}

func TestComputeBackoff_StaysWithinBounds(t *testing.T) {
	client := &Client{
		retryPolicy: RetryPolicy{
			MaxRetries: 5,
			MinWait:    100 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
	}

	// Jitter makes exact values unpredictable; check bounds instead.
	for attempt := 0; attempt < 5; attempt++ {
		backoff := client.computeBackoff(attempt, nil)
		if backoff < client.retryPolicy.MinWait {
			t.Errorf("attempt %d: backoff %v < MinWait %v", attempt, backoff, client.retryPolicy.MinWait)
		}
		if backoff > client.retryPolicy.MaxWait {
			t.Errorf("attempt %d: backoff %v > MaxWait %v", attempt, backoff, client.retryPolicy.MaxWait)
		}
	}
}
