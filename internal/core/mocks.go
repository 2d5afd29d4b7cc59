package core

import (
	"context"
	"sync"
	"time"

	"mailsmith/internal/types"
)

// Test doubles for the interfaces this package consumes. Exported so that
// handler packages can reuse them in their own tests.

// MockKeyVerifier is a configurable KeyVerifier. VerifyKeyFunc takes
// precedence when set; otherwise Err, then Key, then a generated key.
type MockKeyVerifier struct {
	Key           *types.APIKey
	Err           error
	VerifyKeyFunc func(ctx context.Context, rawKey string) (*types.APIKey, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockKeyVerifier) VerifyKey(ctx context.Context, rawKey string) (*types.APIKey, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, rawKey)
	m.mu.Unlock()

	if m.VerifyKeyFunc != nil {
		return m.VerifyKeyFunc(ctx, rawKey)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Key != nil {
		return m.Key, nil
	}
	return &types.APIKey{
		ID:        "key-mock",
		Name:      "mock key",
		Prefix:    "ms_mockmock",
		CreatedAt: time.Now().UTC(),
	}, nil
}

// CallCount returns how many times VerifyKey was invoked.
func (m *MockKeyVerifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// RecordedRequest is one observation captured by MockMetricsCollector.
type RecordedRequest struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

// MockMetricsCollector records metric observations for assertions.
type MockMetricsCollector struct {
	mu       sync.Mutex
	Requests []RecordedRequest
}

func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RecordedRequest{
		Method:   method,
		Endpoint: endpoint,
		Status:   status,
		Duration: duration,
	})
}

// Recorded returns a copy of the captured observations.
func (m *MockMetricsCollector) Recorded() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// MockHealthProbe is a configurable HealthProbe. CheckFunc takes precedence
// when set; otherwise Err is returned as-is.
type MockHealthProbe struct {
	ProbeName string
	Err       error
	CheckFunc func(ctx context.Context) error
}

func (m *MockHealthProbe) Name() string {
	if m.ProbeName == "" {
		return "mock"
	}
	return m.ProbeName
}

func (m *MockHealthProbe) Check(ctx context.Context) error {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return m.Err
}

// Compile-time interface checks.
var (
	_ KeyVerifier      = (*MockKeyVerifier)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
	_ HealthProbe      = (*MockHealthProbe)(nil)
)
