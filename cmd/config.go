package cmd

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/tokens"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"
	// transportStreamableHTTP is accepted as an alias of transportHTTP.
	transportStreamableHTTP = "streamable-http"

	tokenStoreMemory = "memory"
	tokenStoreValkey = "valkey"

	defaultHTTPAddr    = ":8080"
	defaultMetricsAddr = ":9090"
	defaultOpenAIModel = "gpt-4o-mini"
	minStateKeyLength  = 32
)

// ServeConfig is the resolved configuration of the serve command.
type ServeConfig struct {
	Transport string
	HTTPAddr  string
	BaseURL   string
	Debug     bool

	Google     GoogleConfig
	Completion CompletionConfig
	Security   SecurityConfig
	TokenStore TokenStoreConfig
	// CredentialStoreDSN selects the persistent credential store. Empty
	// keeps credentials in memory.
	CredentialStoreDSN string
	Metrics            MetricsConfig
	Telemetry          instrumentation.Config
	RateLimit          RateLimitConfig
}

// GoogleConfig holds the Google OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
}

// CompletionConfig configures the text completion backend.
type CompletionConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// SecurityConfig holds the keys protecting state and stored credentials.
type SecurityConfig struct {
	// StateSigningKey signs the OAuth state parameter. At least 32 bytes.
	StateSigningKey string
	// EncryptionKey is the base64 encoded AES-256 key for credentials at
	// rest. Empty disables encryption.
	EncryptionKey string
}

// TokenStoreConfig selects the authentication token backend.
type TokenStoreConfig struct {
	// Type is "memory" or "valkey" (default: "memory")
	Type string
	TTL  time.Duration

	// Valkey configuration (used when Type is "valkey")
	Valkey ValkeyStorageConfig
}

// ValkeyStorageConfig holds configuration for the Valkey token store.
type ValkeyStorageConfig struct {
	// URL is the Valkey server address (e.g., "valkey.namespace.svc:6379")
	URL string

	// Password is the optional password for Valkey authentication
	Password string

	// TLSEnabled enables TLS for Valkey connections
	TLSEnabled bool

	// KeyPrefix is the prefix for all Valkey keys (default: "inboxagent:token:")
	KeyPrefix string

	// DB is the Valkey database number (default: 0)
	DB int
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// RateLimitConfig configures per-IP limits on the public endpoints.
type RateLimitConfig struct {
	Rate       int
	Burst      int
	TrustProxy bool
}

// loadServeEnvVars fills configuration from environment variables. An
// environment variable only applies when the corresponding flag was not
// explicitly set.
func loadServeEnvVars(cmd *cobra.Command, cfg *ServeConfig) {
	envString(cmd, "base-url", "INBOXAGENT_BASE_URL", &cfg.BaseURL)
	envString(cmd, "google-client-id", "GOOGLE_CLIENT_ID", &cfg.Google.ClientID)
	envString(cmd, "google-client-secret", "GOOGLE_CLIENT_SECRET", &cfg.Google.ClientSecret)

	envString(cmd, "openai-api-key", "OPENAI_API_KEY", &cfg.Completion.APIKey)
	envString(cmd, "openai-model", "OPENAI_MODEL", &cfg.Completion.Model)
	envString(cmd, "openai-base-url", "OPENAI_BASE_URL", &cfg.Completion.BaseURL)

	envString(cmd, "state-signing-key", "STATE_SIGNING_KEY", &cfg.Security.StateSigningKey)
	envString(cmd, "credential-encryption-key", "CREDENTIAL_ENCRYPTION_KEY", &cfg.Security.EncryptionKey)
	envString(cmd, "credential-store-dsn", "CREDENTIAL_STORE_DSN", &cfg.CredentialStoreDSN)

	envString(cmd, "token-store-type", "TOKEN_STORE_TYPE", &cfg.TokenStore.Type)
	envString(cmd, "valkey-url", "VALKEY_URL", &cfg.TokenStore.Valkey.URL)
	envString(cmd, "valkey-password", "VALKEY_PASSWORD", &cfg.TokenStore.Valkey.Password)
	envString(cmd, "valkey-key-prefix", "VALKEY_KEY_PREFIX", &cfg.TokenStore.Valkey.KeyPrefix)
	envBool(cmd, "valkey-tls", "VALKEY_TLS_ENABLED", &cfg.TokenStore.Valkey.TLSEnabled)
	envInt(cmd, "valkey-db", "VALKEY_DB", &cfg.TokenStore.Valkey.DB)

	envBool(cmd, "metrics-enabled", "METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString(cmd, "metrics-addr", "METRICS_ADDR", &cfg.Metrics.Addr)

	envString(cmd, "", "OTEL_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	envBool(cmd, "instrumentation-enabled", "INSTRUMENTATION_ENABLED", &cfg.Telemetry.Enabled)
	envString(cmd, "metrics-exporter", "METRICS_EXPORTER", &cfg.Telemetry.MetricsExporter)
	envString(cmd, "tracing-exporter", "TRACING_EXPORTER", &cfg.Telemetry.TracingExporter)
	envString(cmd, "otlp-endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envBool(cmd, "otlp-insecure", "OTEL_EXPORTER_OTLP_INSECURE", &cfg.Telemetry.OTLPInsecure)
	envFloat(cmd, "trace-sample-rate", "OTEL_TRACES_SAMPLER_ARG", &cfg.Telemetry.TraceSampleRate)
	envBool(cmd, "metrics-detailed-labels", "METRICS_DETAILED_LABELS", &cfg.Telemetry.DetailedLabels)
	envBool(cmd, "audit-logging", "AUDIT_LOGGING_ENABLED", &cfg.Telemetry.AuditLogging.Enabled)
	envBool(cmd, "audit-include-pii", "AUDIT_LOGGING_INCLUDE_PII", &cfg.Telemetry.AuditLogging.IncludePII)

	envBool(cmd, "trust-proxy", "TRUST_PROXY", &cfg.RateLimit.TrustProxy)
}

func envString(cmd *cobra.Command, flag, env string, dst *string) {
	if flag != "" && cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func envBool(cmd *cobra.Command, flag, env string, dst *bool) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(cmd *cobra.Command, flag, env string, dst *int) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(cmd *cobra.Command, flag, env string, dst *float64) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks the resolved configuration.
func (c *ServeConfig) Validate() error {
	switch c.Transport {
	case transportStdio, transportHTTP:
	case transportStreamableHTTP:
		c.Transport = transportHTTP
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, http)", c.Transport)
	}

	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("google client id and secret are required (--google-client-id/--google-client-secret or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET)")
	}
	if len(c.Security.StateSigningKey) < minStateKeyLength {
		return fmt.Errorf("state signing key must be at least %d bytes (--state-signing-key or STATE_SIGNING_KEY)", minStateKeyLength)
	}
	if _, err := decodeEncryptionKey(c.Security.EncryptionKey); err != nil {
		return err
	}

	switch c.TokenStore.Type {
	case tokenStoreMemory:
	case tokenStoreValkey:
		if c.TokenStore.Valkey.URL == "" {
			return fmt.Errorf("valkey token store requires --valkey-url or VALKEY_URL")
		}
	default:
		return fmt.Errorf("unsupported token store type: %s (supported: memory, valkey)", c.TokenStore.Type)
	}

	if c.Telemetry.Enabled {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("invalid instrumentation settings: %w", err)
		}
	}
	return nil
}

// resolveBaseURL returns the configured base URL or one derived from the
// listen address for local development.
func resolveBaseURL(baseURL, httpAddr string) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/")
	}
	if strings.HasPrefix(httpAddr, ":") {
		return "http://localhost" + httpAddr
	}
	return "http://" + httpAddr
}

// decodeEncryptionKey decodes a base64 AES-256 key. An empty value returns
// a nil key.
func decodeEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key (must be base64 encoded): %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes (got %d bytes)", len(key))
	}
	return key, nil
}

func tokenTTL(cfg TokenStoreConfig) time.Duration {
	if cfg.TTL > 0 {
		return cfg.TTL
	}
	return tokens.DefaultTTL
}
