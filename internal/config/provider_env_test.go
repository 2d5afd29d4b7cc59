package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = (*EnvVarProvider)(nil)
	var _ SecretProvider = NewEnvVarProvider()
}

func TestEnvVarProviderReturnsSetVariables(t *testing.T) {
	t.Setenv("MAILSMITH_TEST_SECRET_A", "value-a")
	t.Setenv("MAILSMITH_TEST_SECRET_B", "value-b")

	provider := NewEnvVarProvider()
	result, err := provider.GetParametersBatch(context.Background(),
		[]string{"MAILSMITH_TEST_SECRET_A", "MAILSMITH_TEST_SECRET_B"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	if result["MAILSMITH_TEST_SECRET_A"] != "value-a" {
		t.Errorf("SECRET_A = %q, want value-a", result["MAILSMITH_TEST_SECRET_A"])
	}
	if result["MAILSMITH_TEST_SECRET_B"] != "value-b" {
		t.Errorf("SECRET_B = %q, want value-b", result["MAILSMITH_TEST_SECRET_B"])
	}
}

func TestEnvVarProviderOmitsMissingVariables(t *testing.T) {
	t.Setenv("MAILSMITH_TEST_SECRET_SET", "present")

	provider := NewEnvVarProvider()
	result, err := provider.GetParametersBatch(context.Background(),
		[]string{"MAILSMITH_TEST_SECRET_SET", "MAILSMITH_TEST_SECRET_ABSENT"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	if len(result) != 1 {
		t.Errorf("len(result) = %d, want 1 (missing keys omitted)", len(result))
	}
	if _, ok := result["MAILSMITH_TEST_SECRET_ABSENT"]; ok {
		t.Error("absent variable must not appear in the result")
	}
}

func TestEnvVarProviderEmptyKeys(t *testing.T) {
	provider := NewEnvVarProvider()
	result, err := provider.GetParametersBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("len(result) = %d, want 0", len(result))
	}
}

func TestEnvVarProviderEmptyValue(t *testing.T) {
	t.Setenv("MAILSMITH_TEST_SECRET_EMPTY", "")

	provider := NewEnvVarProvider()
	result, err := provider.GetParametersBatch(context.Background(),
		[]string{"MAILSMITH_TEST_SECRET_EMPTY"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	val, ok := result["MAILSMITH_TEST_SECRET_EMPTY"]
	if !ok {
		t.Fatal("variable set to empty string must still resolve")
	}
	if val != "" {
		t.Errorf("value = %q, want empty string", val)
	}
}
