package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/resources"
	"github.com/teemow/inboxagent/internal/server"
	"github.com/teemow/inboxagent/internal/tools/assistant_tools"
	"github.com/teemow/inboxagent/internal/tools/common"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cfg := ServeConfig{}
	var disableStreaming bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant",
		Long: `Start the assistant.

Supports two transport types:
  - http: Chat endpoint (POST /chat), Google sign-in (/auth-web, /auth/callback),
    MCP over streamable HTTP (/mcp) and health endpoints (default)
  - stdio: MCP server on standard input/output. The sign-in endpoints are
    still served on --http-addr so links in replies can be completed.

Configuration:
  Google OAuth client (required):
    --google-client-id/--google-client-secret
    OR GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET env vars

  State signing key (required, at least 32 bytes):
    --state-signing-key OR STATE_SIGNING_KEY env var

  Base URL (required for deployed instances, HTTPS outside localhost):
    --base-url OR INBOXAGENT_BASE_URL env var

  Text completion (optional, keyword classification only without it):
    --openai-api-key OR OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL

  Storage:
    TOKEN_STORE_TYPE=memory|valkey with VALKEY_* settings
    CREDENTIAL_STORE_DSN (postgres:// or a SQLite path) with
    CREDENTIAL_ENCRYPTION_KEY (base64, 32 bytes)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadServeEnvVars(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, disableStreaming)
		},
	}

	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cfg.Transport, "transport", transportHTTP, "Transport type: http or stdio")
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", defaultHTTPAddr, "HTTP server address")
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "", "Public base URL used in sign-in links and as the OAuth redirect origin. Can also use INBOXAGENT_BASE_URL env var. Example: https://assistant.example.com")
	cmd.Flags().BoolVar(&disableStreaming, "disable-streaming", false, "Disable streaming for the MCP HTTP endpoint (for compatibility with certain clients)")

	cmd.Flags().StringVar(&cfg.Google.ClientID, "google-client-id", "", "Google OAuth Client ID. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&cfg.Google.ClientSecret, "google-client-secret", "", "Google OAuth Client Secret. Can also use GOOGLE_CLIENT_SECRET env var.")

	cmd.Flags().StringVar(&cfg.Completion.APIKey, "openai-api-key", "", "API key for the text completion backend. Can also use OPENAI_API_KEY env var.")
	cmd.Flags().StringVar(&cfg.Completion.Model, "openai-model", defaultOpenAIModel, "Completion model. Can also use OPENAI_MODEL env var.")
	cmd.Flags().StringVar(&cfg.Completion.BaseURL, "openai-base-url", "", "Base URL of an OpenAI compatible API. Can also use OPENAI_BASE_URL env var.")
	cmd.Flags().DurationVar(&cfg.Completion.Timeout, "completion-timeout", 0, "Timeout for a single completion call (default 10s)")

	cmd.Flags().StringVar(&cfg.Security.StateSigningKey, "state-signing-key", "", "Key signing the OAuth state parameter (at least 32 bytes). Can also use STATE_SIGNING_KEY env var. Generate with: openssl rand -base64 48")
	cmd.Flags().StringVar(&cfg.Security.EncryptionKey, "credential-encryption-key", "", "AES-256 encryption key for stored Google credentials (32 bytes, base64 encoded). Can also use CREDENTIAL_ENCRYPTION_KEY env var. Generate with: openssl rand -base64 32")
	cmd.Flags().StringVar(&cfg.CredentialStoreDSN, "credential-store-dsn", "", "Database for Google credentials: postgres://... or a SQLite file path. Empty keeps credentials in memory. Can also use CREDENTIAL_STORE_DSN env var.")

	cmd.Flags().StringVar(&cfg.TokenStore.Type, "token-store-type", tokenStoreMemory, "Sign-in link token storage: memory or valkey. Can also use TOKEN_STORE_TYPE env var.")
	cmd.Flags().DurationVar(&cfg.TokenStore.TTL, "token-ttl", 0, "Lifetime of an unused sign-in link (default 15m)")
	cmd.Flags().StringVar(&cfg.TokenStore.Valkey.URL, "valkey-url", "", "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	cmd.Flags().StringVar(&cfg.TokenStore.Valkey.Password, "valkey-password", "", "Valkey authentication password. Can also use VALKEY_PASSWORD env var.")
	cmd.Flags().BoolVar(&cfg.TokenStore.Valkey.TLSEnabled, "valkey-tls", false, "Enable TLS for Valkey connections. Can also use VALKEY_TLS_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.TokenStore.Valkey.KeyPrefix, "valkey-key-prefix", "", "Prefix for all Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	cmd.Flags().IntVar(&cfg.TokenStore.Valkey.DB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")

	cmd.Flags().BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Start the metrics server (http transport only). Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.Metrics.Addr, "metrics-addr", defaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	cmd.Flags().BoolVar(&cfg.Telemetry.Enabled, "instrumentation-enabled", true, "Record metrics and traces. Can also use INSTRUMENTATION_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.Telemetry.MetricsExporter, "metrics-exporter", instrumentation.ExporterPrometheus, "Metrics exporter: prometheus, otlp or stdout. Can also use METRICS_EXPORTER env var.")
	cmd.Flags().StringVar(&cfg.Telemetry.TracingExporter, "tracing-exporter", instrumentation.ExporterNone, "Tracing exporter: otlp, stdout or none. Can also use TRACING_EXPORTER env var.")
	cmd.Flags().StringVar(&cfg.Telemetry.OTLPEndpoint, "otlp-endpoint", "", "OTLP collector host:port. Can also use OTEL_EXPORTER_OTLP_ENDPOINT env var.")
	cmd.Flags().BoolVar(&cfg.Telemetry.OTLPInsecure, "otlp-insecure", false, "Send OTLP without TLS. Can also use OTEL_EXPORTER_OTLP_INSECURE env var.")
	cmd.Flags().Float64Var(&cfg.Telemetry.TraceSampleRate, "trace-sample-rate", instrumentation.DefaultTraceSampleRate, "Fraction of traces to sample. Can also use OTEL_TRACES_SAMPLER_ARG env var.")
	cmd.Flags().BoolVar(&cfg.Telemetry.DetailedLabels, "metrics-detailed-labels", false, "Add anonymized user hashes to tool metrics. Can also use METRICS_DETAILED_LABELS env var.")
	cmd.Flags().BoolVar(&cfg.Telemetry.AuditLogging.Enabled, "audit-logging", true, "Log tool calls and sign-ins to the audit trail. Can also use AUDIT_LOGGING_ENABLED env var.")
	cmd.Flags().BoolVar(&cfg.Telemetry.AuditLogging.IncludePII, "audit-include-pii", false, "Include raw user ids in audit logs. Can also use AUDIT_LOGGING_INCLUDE_PII env var.")

	cmd.Flags().IntVar(&cfg.RateLimit.Rate, "rate-limit", server.DefaultRateLimit, "Requests per second allowed per client IP on public endpoints")
	cmd.Flags().IntVar(&cfg.RateLimit.Burst, "rate-burst", server.DefaultRateBurst, "Burst allowed per client IP on public endpoints")
	cmd.Flags().BoolVar(&cfg.RateLimit.TrustProxy, "trust-proxy", false, "Use X-Forwarded-For/X-Real-IP for client IPs. Only enable behind a trusted proxy. Can also use TRUST_PROXY env var.")

	return cmd
}

func runServe(cfg ServeConfig, disableStreaming bool) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout belongs to the MCP protocol on stdio.
	logger := logging.New(os.Stderr, cfg.Debug)
	slog.SetDefault(logger)

	instrConfig := cfg.Telemetry
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during instrumentation shutdown", logging.Err(err))
		}
	}()

	metrics := provider.Metrics()
	audit := instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)

	a, err := buildApp(cfg, metrics, audit, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Error closing stores", logging.Err(err))
		}
	}()

	// Note: mcp.Implementation has Title field but WithTitle() ServerOption not available in v0.43.0
	mcpSrv := mcpserver.NewMCPServer("inboxagent", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false), // Subscribe and listChanged
	)
	if err := resources.RegisterUserResources(mcpSrv, a.credentials); err != nil {
		return fmt.Errorf("failed to register user resources: %w", err)
	}
	if err := assistant_tools.RegisterAssistantTools(mcpSrv, a.assistant, common.Instrumentation{
		Metrics: metrics,
		Audit:   audit,
	}); err != nil {
		return fmt.Errorf("failed to register assistant tools: %w", err)
	}

	var mcpHandler http.Handler
	if cfg.Transport == transportHTTP {
		mcpHandler = mcpserver.NewStreamableHTTPServer(mcpSrv,
			mcpserver.WithEndpointPath("/mcp"),
			mcpserver.WithDisableStreaming(disableStreaming),
		)
	}

	httpSrv, err := server.New(server.Config{
		BaseURL:    a.baseURL,
		Chat:       a.assistant,
		Flow:       a.flow,
		Health:     a.health,
		MCP:        mcpHandler,
		RateLimit:  cfg.RateLimit.Rate,
		RateBurst:  cfg.RateLimit.Burst,
		TrustProxy: cfg.RateLimit.TrustProxy,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if cfg.Transport == transportHTTP && cfg.Metrics.Enabled && provider.Enabled() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", logging.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	switch cfg.Transport {
	case transportStdio:
		return runStdioServer(ctx, mcpSrv, httpSrv, cfg.HTTPAddr, logger)
	default:
		return runHTTPServer(ctx, httpSrv, cfg.HTTPAddr, logger)
	}
}

func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, httpSrv *server.Server, addr string, logger *slog.Logger) error {
	go func() {
		if err := httpSrv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Sign-in endpoints stopped", logging.Err(err))
		}
	}()
	defer shutdownHTTP(httpSrv, logger)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}
}

func runHTTPServer(ctx context.Context, httpSrv *server.Server, addr string, logger *slog.Logger) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpSrv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	logger.Info("inboxagent started",
		"addr", addr,
		"endpoints", []string{"/chat", "/auth-web", "/auth/callback", "/mcp", "/healthz", "/readyz"})

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
		shutdownHTTP(httpSrv, logger)
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

func shutdownHTTP(httpSrv *server.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error shutting down HTTP server", logging.Err(err))
	}
}
