// Package config loads the ingestion settings from defaults, an optional YAML
// file and environment variables. Command-line flags are applied on top by
// the cmd package.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teemow/inboxevents/internal/secrets"
)

// Store backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Dedup fallback policies.
const (
	FallbackLenient = "lenient"
	FallbackStrict  = "strict"
)

// Defaults.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultModel          = "gpt-4o-mini"
	DefaultTimezone       = "UTC"
	DefaultQuery          = "label:events"
	DefaultSQLitePath     = "inboxevents.db"
	DefaultCacheTTL       = 24 * time.Hour
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
)

// MaxRetriesLimit bounds GMAIL_MAX_RETRIES and LLM_MAX_RETRIES.
const MaxRetriesLimit = 10

// Error reports a configuration problem. It is raised before any pipeline work.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configErr(key, format string, args ...any) *Error {
	return &Error{Key: key, Err: fmt.Errorf(format, args...)}
}

// GmailConfig configures the mailbox side of a run.
type GmailConfig struct {
	Query       string
	MaxRetries  int
	Credentials secrets.Ref
}

// LLMConfig configures the structured extractor.
type LLMConfig struct {
	Model      string
	BaseURL    string
	MaxRetries int
	Timezone   string
	APIKey     secrets.Ref
}

// AWSConfig holds region and endpoint overrides for the AWS clients.
type AWSConfig struct {
	Region           string
	DynamoDBEndpoint string
	SecretsEndpoint  string
}

// StoreConfig selects and configures the event store backend.
type StoreConfig struct {
	Backend     string
	Table       string
	PostgresDSN string
	SQLitePath  string
}

// CacheConfig configures the optional extraction cache. An empty RedisURL
// disables it.
type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds everything a run needs.
type Config struct {
	Gmail          GmailConfig
	LLM            LLMConfig
	AWS            AWSConfig
	Store          StoreConfig
	Cache          CacheConfig
	Log            LogConfig
	RequestTimeout time.Duration
	DedupFallback  string

	// MaxMessages limits how many listed messages are processed. 0 means all.
	MaxMessages int

	// MetricsAddr is the listen address of the metrics server. Empty disables it.
	MetricsAddr string
}

type refFile struct {
	SecretID string `yaml:"secret_id"`
	JSON     string `yaml:"json"`
	File     string `yaml:"file"`
}

// fileConfig mirrors the YAML structure for unmarshalling.
type fileConfig struct {
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxMessages           int    `yaml:"max_messages"`
	MetricsAddr           string `yaml:"metrics_addr"`
	Gmail                 struct {
		Query       string  `yaml:"query"`
		MaxRetries  int     `yaml:"max_retries"`
		Credentials refFile `yaml:"credentials"`
	} `yaml:"gmail"`
	LLM struct {
		Model      string  `yaml:"model"`
		BaseURL    string  `yaml:"base_url"`
		MaxRetries int     `yaml:"max_retries"`
		Timezone   string  `yaml:"timezone"`
		APIKey     refFile `yaml:"api_key"`
	} `yaml:"llm"`
	AWS struct {
		Region           string `yaml:"region"`
		DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
		SecretsEndpoint  string `yaml:"secrets_endpoint"`
	} `yaml:"aws"`
	Store struct {
		Backend     string `yaml:"backend"`
		Table       string `yaml:"table"`
		PostgresDSN string `yaml:"postgres_dsn"`
		SQLitePath  string `yaml:"sqlite_path"`
	} `yaml:"store"`
	Dedup struct {
		Fallback string `yaml:"fallback"`
	} `yaml:"dedup"`
	Cache struct {
		RedisURL string `yaml:"redis_url"`
		TTL      string `yaml:"ttl"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Gmail: GmailConfig{
			Query:       DefaultQuery,
			MaxRetries:  DefaultMaxRetries,
			Credentials: secrets.Ref{Name: "gmail"},
		},
		LLM: LLMConfig{
			Model:      DefaultModel,
			MaxRetries: DefaultMaxRetries,
			Timezone:   DefaultTimezone,
			APIKey:     secrets.Ref{Name: "openai"},
		},
		Store: StoreConfig{
			Backend:    BackendDynamoDB,
			SQLitePath: DefaultSQLitePath,
		},
		Cache:          CacheConfig{TTL: DefaultCacheTTL},
		Log:            LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		RequestTimeout: DefaultRequestTimeout,
		DedupFallback:  FallbackLenient,
	}
}

// Load builds the configuration. path is the YAML file to read; when empty,
// CONFIG_PATH is consulted, and when that is empty too no file is read.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	path = firstNonEmpty(path, os.Getenv("CONFIG_PATH"))
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Key: "CONFIG_PATH", Err: fmt.Errorf("read config file %s: %w", path, err)}
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return &Error{Key: "CONFIG_PATH", Err: fmt.Errorf("parse config YAML: %w", err)}
	}

	if raw.RequestTimeoutSeconds > 0 {
		c.RequestTimeout = time.Duration(raw.RequestTimeoutSeconds) * time.Second
	}
	if raw.MaxMessages > 0 {
		c.MaxMessages = raw.MaxMessages
	}
	c.MetricsAddr = firstNonEmpty(raw.MetricsAddr, c.MetricsAddr)

	c.Gmail.Query = firstNonEmpty(raw.Gmail.Query, c.Gmail.Query)
	if raw.Gmail.MaxRetries > 0 {
		c.Gmail.MaxRetries = raw.Gmail.MaxRetries
	}
	c.Gmail.Credentials = raw.Gmail.Credentials.ref("gmail")

	c.LLM.Model = firstNonEmpty(raw.LLM.Model, c.LLM.Model)
	c.LLM.BaseURL = firstNonEmpty(raw.LLM.BaseURL, c.LLM.BaseURL)
	if raw.LLM.MaxRetries > 0 {
		c.LLM.MaxRetries = raw.LLM.MaxRetries
	}
	c.LLM.Timezone = firstNonEmpty(raw.LLM.Timezone, c.LLM.Timezone)
	c.LLM.APIKey = raw.LLM.APIKey.ref("openai")

	c.AWS.Region = firstNonEmpty(raw.AWS.Region, c.AWS.Region)
	c.AWS.DynamoDBEndpoint = firstNonEmpty(raw.AWS.DynamoDBEndpoint, c.AWS.DynamoDBEndpoint)
	c.AWS.SecretsEndpoint = firstNonEmpty(raw.AWS.SecretsEndpoint, c.AWS.SecretsEndpoint)

	c.Store.Backend = firstNonEmpty(raw.Store.Backend, c.Store.Backend)
	c.Store.Table = firstNonEmpty(raw.Store.Table, c.Store.Table)
	c.Store.PostgresDSN = firstNonEmpty(raw.Store.PostgresDSN, c.Store.PostgresDSN)
	c.Store.SQLitePath = firstNonEmpty(raw.Store.SQLitePath, c.Store.SQLitePath)

	c.DedupFallback = firstNonEmpty(raw.Dedup.Fallback, c.DedupFallback)

	c.Cache.RedisURL = firstNonEmpty(raw.Cache.RedisURL, c.Cache.RedisURL)
	if raw.Cache.TTL != "" {
		ttl, err := time.ParseDuration(raw.Cache.TTL)
		if err != nil {
			return configErr("cache.ttl", "invalid duration %q", raw.Cache.TTL)
		}
		c.Cache.TTL = ttl
	}

	c.Log.Level = firstNonEmpty(raw.Log.Level, c.Log.Level)
	c.Log.Format = firstNonEmpty(raw.Log.Format, c.Log.Format)
	return nil
}

func (r refFile) ref(name string) secrets.Ref {
	return secrets.Ref{Name: name, SecretID: r.SecretID, Inline: r.JSON, File: r.File}
}

func (c *Config) applyEnv() error {
	var err error

	if c.RequestTimeout, err = envSeconds("REQUEST_TIMEOUT_SECONDS", c.RequestTimeout); err != nil {
		return err
	}
	if c.Gmail.MaxRetries, err = envInt("GMAIL_MAX_RETRIES", c.Gmail.MaxRetries); err != nil {
		return err
	}
	if c.LLM.MaxRetries, err = envInt("LLM_MAX_RETRIES", c.LLM.MaxRetries); err != nil {
		return err
	}
	if c.MaxMessages, err = envInt("MAX_MESSAGES", c.MaxMessages); err != nil {
		return err
	}
	if c.Cache.TTL, err = envDuration("EXTRACT_CACHE_TTL", c.Cache.TTL); err != nil {
		return err
	}

	c.LLM.Model = envOrDefault("LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = envOrDefault("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Timezone = envOrDefault("EVENT_TIMEZONE", c.LLM.Timezone)
	c.AWS.Region = envOrDefault("AWS_REGION", c.AWS.Region)
	c.AWS.DynamoDBEndpoint = envOrDefault("DYNAMODB_ENDPOINT", c.AWS.DynamoDBEndpoint)
	c.AWS.SecretsEndpoint = envOrDefault("SECRETS_ENDPOINT", c.AWS.SecretsEndpoint)
	c.Gmail.Query = envOrDefault("GMAIL_QUERY", c.Gmail.Query)
	c.Store.Table = envOrDefault("EVENTS_TABLE", c.Store.Table)
	c.Store.Backend = envOrDefault("STORE_BACKEND", c.Store.Backend)
	c.Store.PostgresDSN = envOrDefault("POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.SQLitePath = envOrDefault("SQLITE_PATH", c.Store.SQLitePath)
	c.DedupFallback = envOrDefault("DEDUP_FALLBACK", c.DedupFallback)
	c.Cache.RedisURL = envOrDefault("EXTRACT_CACHE_REDIS_URL", c.Cache.RedisURL)
	c.Log.Level = envOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("LOG_FORMAT", c.Log.Format)
	c.MetricsAddr = envOrDefault("METRICS_ADDR", c.MetricsAddr)

	if c.LLM.APIKey, err = envRef("OPENAI_API_KEY", c.LLM.APIKey); err != nil {
		return err
	}
	if c.Gmail.Credentials, err = envRef("GMAIL_CREDENTIALS", c.Gmail.Credentials); err != nil {
		return err
	}
	return nil
}

// envRef reads the <prefix>_SECRET_ID, _JSON and _FILE variables. They may
// repeat the config file's source but not name a different one.
func envRef(prefix string, ref secrets.Ref) (secrets.Ref, error) {
	env := secrets.Ref{
		Name:     ref.Name,
		SecretID: os.Getenv(prefix + "_SECRET_ID"),
		Inline:   os.Getenv(prefix + "_JSON"),
		File:     os.Getenv(prefix + "_FILE"),
	}
	if env.SecretID == "" && env.Inline == "" && env.File == "" {
		return ref, nil
	}
	fileSet := ref.SecretID != "" || ref.Inline != "" || ref.File != ""
	if fileSet && env != ref {
		return ref, &Error{
			Key: prefix + "_*",
			Err: fmt.Errorf("environment and config file name different %s credential sources: %w", ref.Name, secrets.ErrAmbiguousSource),
		}
	}
	return env, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Table) == "" {
		return configErr("EVENTS_TABLE", "is required")
	}

	switch c.Store.Backend {
	case BackendDynamoDB, BackendSQLite:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return configErr("POSTGRES_DSN", "is required for the postgres backend")
		}
	default:
		return configErr("STORE_BACKEND", "unknown backend %q, must be one of: dynamodb, postgres, sqlite", c.Store.Backend)
	}

	switch c.DedupFallback {
	case FallbackLenient, FallbackStrict:
	default:
		return configErr("DEDUP_FALLBACK", "unknown policy %q, must be lenient or strict", c.DedupFallback)
	}

	if c.RequestTimeout <= 0 {
		return configErr("REQUEST_TIMEOUT_SECONDS", "must be positive")
	}
	if c.Gmail.MaxRetries < 1 || c.Gmail.MaxRetries > MaxRetriesLimit {
		return configErr("GMAIL_MAX_RETRIES", "must be between 1 and %d", MaxRetriesLimit)
	}
	if c.LLM.MaxRetries < 1 || c.LLM.MaxRetries > MaxRetriesLimit {
		return configErr("LLM_MAX_RETRIES", "must be between 1 and %d", MaxRetriesLimit)
	}
	if c.MaxMessages < 0 {
		return configErr("MAX_MESSAGES", "must not be negative")
	}
	if _, err := time.LoadLocation(c.LLM.Timezone); err != nil {
		return &Error{Key: "EVENT_TIMEZONE", Err: err}
	}
	if c.Cache.RedisURL != "" && c.Cache.TTL <= 0 {
		return configErr("EXTRACT_CACHE_TTL", "must be positive")
	}
	return nil
}

// ValidateCredentials checks that both credential references name exactly one source.
func (c *Config) ValidateCredentials() error {
	if err := c.LLM.APIKey.Validate(); err != nil {
		return &Error{Key: "OPENAI_API_KEY_*", Err: err}
	}
	if err := c.Gmail.Credentials.Validate(); err != nil {
		return &Error{Key: "GMAIL_CREDENTIALS_*", Err: err}
	}
	return nil
}

// UsesSecretStore reports whether any credential is read from the secret store.
func (c *Config) UsesSecretStore() bool {
	return c.LLM.APIKey.SecretID != "" || c.Gmail.Credentials.SecretID != ""
}

// IsConfigError reports whether err is a configuration problem.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce) ||
		errors.Is(err, secrets.ErrNoSource) ||
		errors.Is(err, secrets.ErrAmbiguousSource)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, configErr(key, "invalid integer %q", v)
	}
	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, configErr(key, "invalid number of seconds %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, configErr(key, "invalid duration %q", v)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
