package core

import (
	"context"
	"sync"
	"testing"

	"mailsmith/internal/config"
	"mailsmith/internal/db"
	"mailsmith/internal/types"
)

// noopLogger discards everything. Shared by tests across this package.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)      {}
func (noopLogger) Error(string, ...any)     {}
func (noopLogger) Warn(string, ...any)      {}
func (noopLogger) With(...any) types.Logger { return noopLogger{} }

// recordingLogger captures log entries for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *recordingLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.log("info", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log("error", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args...) }
func (l *recordingLogger) With(...any) types.Logger      { return l }

func (l *recordingLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

// argValue extracts the value for a key from alternating key-value args.
func (e logEntry) argValue(key string) (any, bool) {
	for i := 0; i+1 < len(e.args); i += 2 {
		if k, ok := e.args[i].(string); ok && k == key {
			return e.args[i+1], true
		}
	}
	return nil, false
}

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "local"}
	cfg.Security.AdminAPIKey = "test-admin-key"
	cfg.Security.CorsAllowedOrigins = []string{"*"}
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), &db.Repositories{}, noopLogger{})
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}
	return srv
}

func TestNewServer_NilConfig(t *testing.T) {
	_, err := NewServer(nil, &db.Repositories{}, noopLogger{})
	if err == nil {
		t.Fatal("expected error for nil config, got nil")
	}
}

func TestNewServer_NilRepositories(t *testing.T) {
	_, err := NewServer(testConfig(), nil, noopLogger{})
	if err == nil {
		t.Fatal("expected error for nil repositories, got nil")
	}
}

func TestNewServer_NilLogger(t *testing.T) {
	_, err := NewServer(testConfig(), &db.Repositories{}, nil)
	if err == nil {
		t.Fatal("expected error for nil logger, got nil")
	}
}

func TestNewServer_InitializesDefaults(t *testing.T) {
	srv := newTestServer(t)

	if srv.Validator == nil {
		t.Error("expected Validator to be initialized")
	}
	if srv.Router() == nil {
		t.Error("expected router to be initialized")
	}
	if srv.Handler() == nil {
		t.Error("expected Handler() to return a non-nil handler")
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() unexpected error: %v", err)
	}
}

func TestServer_Shutdown_NilRepos(t *testing.T) {
	srv := &Server{Logger: noopLogger{}}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() with nil repos unexpected error: %v", err)
	}
}
