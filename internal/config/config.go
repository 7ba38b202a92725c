// Package config assembles the immutable settings bundle for one run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "SENDERSWEEP_"

const (
	ProviderGraph = "graph"
	ProviderGmail = "gmail"
)

type Config struct {
	Provider string
	Mailbox  string
	Sender   string

	SinceDays   int
	PageSize    int
	MaxRetries  int
	BaseDelay   time.Duration
	ItemPause   time.Duration
	RPS         int
	Delete      bool
	SkipFailed  bool
	AuditPath   string
	SummaryJSON string

	LogFormat string
	Verbose   bool

	// Microsoft Graph, app-only client credentials
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphBaseURL      string

	// Gmail, service account with domain-wide delegation
	GmailCredentialsFile string
}

// Load reads an optional .env file (files later in the list never override
// earlier ones or the real environment) and then SENDERSWEEP_* variables.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the process environment with defaults.
func FromEnv() Config {
	return Config{
		Provider: getEnv("PROVIDER", ProviderGraph),
		Mailbox:  getEnv("MAILBOX", ""),
		Sender:   getEnv("SENDER", ""),

		SinceDays:   getEnvInt("SINCE_DAYS", 30),
		PageSize:    getEnvInt("PAGE_SIZE", 50),
		MaxRetries:  getEnvInt("MAX_RETRIES", 5),
		BaseDelay:   getEnvDuration("BASE_DELAY", 2*time.Second),
		ItemPause:   getEnvDuration("ITEM_PAUSE", 200*time.Millisecond),
		RPS:         getEnvInt("RPS", 0),
		Delete:      getEnvBool("DELETE", false),
		SkipFailed:  getEnvBool("SKIP_FAILED_ITEMS", false),
		AuditPath:   getEnv("AUDIT_PATH", ""),
		SummaryJSON: getEnv("SUMMARY_JSON", ""),

		LogFormat: getEnv("LOG_FORMAT", "text"),
		Verbose:   getEnvBool("VERBOSE", false),

		GraphTenantID:     getEnv("GRAPH_TENANT_ID", ""),
		GraphClientID:     getEnv("GRAPH_CLIENT_ID", ""),
		GraphClientSecret: getEnv("GRAPH_CLIENT_SECRET", ""),
		GraphBaseURL:      getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),

		GmailCredentialsFile: getEnv("GMAIL_CREDENTIALS", ""),
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Mailbox) == "" {
		errs = append(errs, errors.New("mailbox is required"))
	}
	if strings.TrimSpace(c.Sender) == "" {
		errs = append(errs, errors.New("sender is required"))
	}
	if c.SinceDays < 0 {
		errs = append(errs, fmt.Errorf("since-days must not be negative, got %d", c.SinceDays))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max-retries must not be negative, got %d", c.MaxRetries))
	}
	if c.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("base-delay must be positive, got %s", c.BaseDelay))
	}
	if c.ItemPause < 0 {
		errs = append(errs, fmt.Errorf("item-pause must not be negative, got %s", c.ItemPause))
	}
	if c.RPS < 0 {
		errs = append(errs, fmt.Errorf("rps must not be negative, got %d", c.RPS))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log-format must be text or json, got %q", c.LogFormat))
	}

	switch c.Provider {
	case ProviderGraph:
		if c.PageSize < 1 || c.PageSize > 1000 {
			errs = append(errs, fmt.Errorf("page-size must be within 1..1000 for graph, got %d", c.PageSize))
		}
		if c.GraphTenantID == "" || c.GraphClientID == "" || c.GraphClientSecret == "" {
			errs = append(errs, errors.New("graph tenant id, client id and client secret are required"))
		}
	case ProviderGmail:
		if c.PageSize < 1 || c.PageSize > 500 {
			errs = append(errs, fmt.Errorf("page-size must be within 1..500 for gmail, got %d", c.PageSize))
		}
		if c.GmailCredentialsFile == "" {
			errs = append(errs, errors.New("gmail credentials file is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderGraph, ProviderGmail))
	}
	return errors.Join(errs...)
}

// Since converts SinceDays into the absolute lower bound for the scan.
func (c Config) Since(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.SinceDays)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
