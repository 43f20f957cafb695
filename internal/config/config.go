package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default values used when the environment does not override them.
const (
	DefaultBaseURL      = "https://api.akahu.io/v1"
	DefaultDatabasePath = "ledger.db"
	DefaultLogLevel     = "info"
	DefaultKafkaTopic   = "ledger.import.completed"
)

// ErrMissingCredentials is returned by Validate when the aggregator tokens are unset.
var ErrMissingCredentials = errors.New("please set the AKAHU_APP_TOKEN and AKAHU_USER_TOKEN environment variables")

// Config holds everything the importer binary needs to run.
type Config struct {
	AppToken     string
	UserToken    string
	BaseURL      string
	DatabasePath string
	LogLevel     string

	// InferPairs enables transfer and conversion pairing.
	InferPairs bool

	// ArchiveBucket is optional; when empty raw snapshots are not archived.
	ArchiveBucket          string
	ArchiveCredentialsFile string

	// KafkaBrokers is optional; when empty no completion events are published.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads a .env file when one exists and then the process environment.
// A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, usually os.Getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	inferPairs := true
	if raw := get("IMPORT_INFER_PAIRS", ""); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("FromEnv: IMPORT_INFER_PAIRS=%q: %w", raw, err)
		}
		inferPairs = v
	}

	cfg := &Config{
		AppToken:               get("AKAHU_APP_TOKEN", ""),
		UserToken:              get("AKAHU_USER_TOKEN", ""),
		BaseURL:                strings.TrimRight(get("AKAHU_BASE_URL", DefaultBaseURL), "/"),
		DatabasePath:           get("LEDGER_DB_PATH", DefaultDatabasePath),
		LogLevel:               get("LOG_LEVEL", DefaultLogLevel),
		InferPairs:             inferPairs,
		ArchiveBucket:          get("ARCHIVE_BUCKET", ""),
		ArchiveCredentialsFile: get("ARCHIVE_CREDENTIALS_FILE", ""),
		KafkaBrokers:           splitList(get("KAFKA_BROKERS", "")),
		KafkaTopic:             get("KAFKA_TOPIC", DefaultKafkaTopic),
	}
	return cfg, nil
}

// Validate checks the settings a sync run cannot do without.
func (c *Config) Validate() error {
	if c.AppToken == "" || c.UserToken == "" {
		return ErrMissingCredentials
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
