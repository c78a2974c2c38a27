// Package config loads the environment, after an optional .env file, into
// a Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/subosito/gotenv"
	"google.golang.org/api/option"

	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/domain"
	"github.com/dvloznov/finance-companion/internal/gcs"
	"github.com/dvloznov/finance-companion/internal/notifications"
	"github.com/dvloznov/finance-companion/internal/notify/email"
	"github.com/dvloznov/finance-companion/internal/scheduler"
)

// DefaultEnvFile is read by Load when present.
const DefaultEnvFile = ".env"

// Config holds application configuration
type Config struct {
	DocstoreProjectID string
	DocstoreBaseURL   string
	DocstoreDatabase  string
	DocstoreAPIKey    string

	CacheMaxAge      time.Duration
	RateLimitBackoff time.Duration
	// DeliveryHistory bounds the delivery jobs the daemon remembers.
	DeliveryHistory int

	UserID    string
	UserEmail string
	IDToken   string

	Periodicity   string
	Intensity     string
	DisabledTypes []string
	Currency      string
	// LowBalanceThreshold is empty when the rule is off.
	LowBalanceThreshold string

	LogLevel string
	Port     string
	// APIKey protects the daemon's HTTP API when set.
	APIKey string

	GCSBucket      string
	SnapshotObject string

	BQProjectID string
	BQDataset   string

	GoogleCredentials string
	GeminiModel       string
	GeminiAPIKey      string
	// GenAIVertex routes Gemini calls through Vertex AI.
	GenAIVertex bool

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string
}

// Load reads envFile when it exists and then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := gotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: read %s: %w", envFile, err)
	}

	cacheMaxAge, err := getDuration("CACHE_MAX_AGE", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	backoff, err := getDuration("RATE_LIMIT_BACKOFF", 3*time.Second)
	if err != nil {
		return nil, err
	}
	history, err := getInt("DELIVERY_HISTORY", 1000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DocstoreProjectID: getEnv("DOCSTORE_PROJECT_ID", ""),
		DocstoreBaseURL:   getEnv("DOCSTORE_BASE_URL", docstore.DefaultBaseURL),
		DocstoreDatabase:  getEnv("DOCSTORE_DATABASE", docstore.DefaultDatabase),
		DocstoreAPIKey:    getEnv("DOCSTORE_API_KEY", ""),

		CacheMaxAge:      cacheMaxAge,
		RateLimitBackoff: backoff,
		DeliveryHistory:  history,

		UserID:    getEnv("USER_ID", ""),
		UserEmail: getEnv("USER_EMAIL", ""),
		IDToken:   getEnv("ID_TOKEN", ""),

		Periodicity:         getEnv("NOTIFY_PERIODICITY", string(scheduler.Daily)),
		Intensity:           getEnv("NOTIFY_INTENSITY", string(scheduler.Moderate)),
		DisabledTypes:       splitList(getEnv("NOTIFY_DISABLED_TYPES", "")),
		Currency:            getEnv("CURRENCY", "USD"),
		LowBalanceThreshold: getEnv("LOW_BALANCE_THRESHOLD", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "8080"),
		APIKey:   getEnv("API_KEY", ""),

		GCSBucket:      getEnv("GCS_BUCKET", ""),
		SnapshotObject: getEnv("CACHE_SNAPSHOT_OBJECT", "cache/snapshot.json"),

		BQProjectID: getEnv("BQ_PROJECT_ID", ""),
		BQDataset:   getEnv("BQ_DATASET", "finance"),

		GoogleCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
		GenAIVertex:       strings.EqualFold(getEnv("GOOGLE_GENAI_USE_VERTEXAI", ""), "true"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPTo:       splitList(getEnv("SMTP_TO", "")),
	}

	// CACHE_SNAPSHOT_URI is a shorthand for bucket plus object.
	if uri := getEnv("CACHE_SNAPSHOT_URI", ""); uri != "" {
		bucket, object, err := gcs.ParseURI(uri)
		if err != nil {
			return nil, fmt.Errorf("Load: CACHE_SNAPSHOT_URI: %w", err)
		}
		cfg.GCSBucket, cfg.SnapshotObject = bucket, object
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	if _, err := c.Preferences(); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	if c.CacheMaxAge < 0 {
		return fmt.Errorf("Validate: CACHE_MAX_AGE must not be negative")
	}
	if c.RateLimitBackoff < 0 {
		return fmt.Errorf("Validate: RATE_LIMIT_BACKOFF must not be negative")
	}
	return nil
}

// Policy is the configured schedule policy.
func (c *Config) Policy() (scheduler.Policy, error) {
	return scheduler.ParsePolicy(c.Periodicity, c.Intensity)
}

// Preferences are the configured notification preferences.
func (c *Config) Preferences() (notifications.Preferences, error) {
	prefs := notifications.DefaultPreferences()
	if c.Currency != "" {
		prefs.Currency = strings.ToUpper(c.Currency)
	}
	for _, name := range c.DisabledTypes {
		t, err := notifications.ParseType(name)
		if err != nil {
			return prefs, fmt.Errorf("NOTIFY_DISABLED_TYPES: %w", err)
		}
		prefs = prefs.WithDisabled(t)
	}
	if c.LowBalanceThreshold != "" {
		threshold, err := decimal.NewFromString(c.LowBalanceThreshold)
		if err != nil {
			return prefs, fmt.Errorf("LOW_BALANCE_THRESHOLD: %w", err)
		}
		prefs.LowBalanceThreshold = &threshold
	}
	return prefs, nil
}

// Identity is the daemon's user.
func (c *Config) Identity() domain.Identity {
	return domain.Identity{UserID: c.UserID, Email: c.UserEmail, Token: c.IDToken}
}

// Email is the SMTP delivery configuration.
func (c *Config) Email() email.Config {
	return email.Config{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		To:       c.SMTPTo,
	}
}

// SnapshotEnabled reports whether a snapshot bucket is configured.
func (c *Config) SnapshotEnabled() bool {
	return c.GCSBucket != ""
}

// AuditEnabled reports whether the BigQuery audit log is configured.
func (c *Config) AuditEnabled() bool {
	return c.BQProjectID != ""
}

// SummariesEnabled reports whether Gemini credentials are available for
// monthly summaries.
func (c *Config) SummariesEnabled() bool {
	return c.GeminiAPIKey != "" || c.GenAIVertex
}

// GoogleOptions are the client options for the Cloud Storage and BigQuery
// clients. Without an explicit credentials file the default credentials are
// used.
func (c *Config) GoogleOptions() []option.ClientOption {
	if c.GoogleCredentials == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.GoogleCredentials)}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("Load: %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("Load: %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
