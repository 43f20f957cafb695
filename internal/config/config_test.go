package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func envFunc(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envFunc(nil))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	want := &Config{
		BaseURL:      DefaultBaseURL,
		DatabasePath: DefaultDatabasePath,
		LogLevel:     DefaultLogLevel,
		InferPairs:   true,
		KafkaTopic:   DefaultKafkaTopic,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("FromEnv() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envFunc(map[string]string{
		"AKAHU_APP_TOKEN":    "app_token_1",
		"AKAHU_USER_TOKEN":   "user_token_1",
		"AKAHU_BASE_URL":     "http://localhost:8080/v1/",
		"LEDGER_DB_PATH":     "/tmp/db.db",
		"IMPORT_INFER_PAIRS": "false",
		"KAFKA_BROKERS":      "a:9092, b:9092,,",
		"ARCHIVE_BUCKET":     "snapshots",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.InferPairs {
		t.Error("Expected InferPairs to be disabled")
	}
	if diff := cmp.Diff([]string{"a:9092", "b:9092"}, cfg.KafkaBrokers); diff != "" {
		t.Errorf("KafkaBrokers mismatch (-want +got):\n%s", diff)
	}
	if cfg.ArchiveBucket != "snapshots" || cfg.DatabasePath != "/tmp/db.db" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestFromEnv_InvalidBool(t *testing.T) {
	if _, err := FromEnv(envFunc(map[string]string{"IMPORT_INFER_PAIRS": "maybe"})); err == nil {
		t.Error("Expected error for invalid IMPORT_INFER_PAIRS")
	}
}

func TestValidate_MissingTokens(t *testing.T) {
	cfg := &Config{AppToken: "app"}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Validate() = %v, want ErrMissingCredentials", err)
	}
}
