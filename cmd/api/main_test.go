package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

// clearLambdaEnv unsets both Lambda runtime markers, registering restores
// via t.Setenv so other tests see the original environment.
func clearLambdaEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"AWS_LAMBDA_RUNTIME_API", "_LAMBDA_SERVER_PORT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestIsLambdaEnvironment(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{
			name: "plain process",
			env:  nil,
			want: false,
		},
		{
			name: "runtime API set",
			env:  map[string]string{"AWS_LAMBDA_RUNTIME_API": "127.0.0.1:9001"},
			want: true,
		},
		{
			name: "legacy server port set",
			env:  map[string]string{"_LAMBDA_SERVER_PORT": "8789"},
			want: true,
		},
		{
			name: "both set",
			env: map[string]string{
				"AWS_LAMBDA_RUNTIME_API": "127.0.0.1:9001",
				"_LAMBDA_SERVER_PORT":    "8789",
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLambdaEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if got := isLambdaEnvironment(); got != tt.want {
				t.Errorf("isLambdaEnvironment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelThresholds(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		level        string
		debugEnabled bool
		infoEnabled  bool
		warnEnabled  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
		{"nonsense", false, true, true}, // unknown levels fall back to info
		{"", false, true, true},
	}

	for _, tt := range tests {
		t.Run("level_"+tt.level, func(t *testing.T) {
			logger := newLogger(tt.level)

			if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debugEnabled {
				t.Errorf("Enabled(debug) = %v, want %v", got, tt.debugEnabled)
			}
			if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.infoEnabled {
				t.Errorf("Enabled(info) = %v, want %v", got, tt.infoEnabled)
			}
			if got := logger.Enabled(ctx, slog.LevelWarn); got != tt.warnEnabled {
				t.Errorf("Enabled(warn) = %v, want %v", got, tt.warnEnabled)
			}
		})
	}
}

func TestSecretProvider_LocalSkipsSSM(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	if p := secretProvider(); p != nil {
		t.Errorf("secretProvider() in local mode = %T, want nil", p)
	}
}

func TestSecretProvider_DeployedUsesSSM(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("AWS_REGION", "eu-west-1")

	// Construction must not dial AWS; the SSM client is created lazily.
	if p := secretProvider(); p == nil {
		t.Error("secretProvider() in deployed mode = nil, want SSM provider")
	}
}

func TestSlogAdapter_PreservesFields(t *testing.T) {
	var buf bytes.Buffer
	adapter := &slogAdapter{logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	adapter.With("document_id", "doc_1").Info("render requested", "device", "mobile")

	out := buf.String()
	for _, want := range []string{"render requested", "document_id", "doc_1", "device", "mobile"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
