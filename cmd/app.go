package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/teemow/inboxagent/internal/assistant"
	"github.com/teemow/inboxagent/internal/automation"
	"github.com/teemow/inboxagent/internal/calendar"
	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/completion"
	"github.com/teemow/inboxagent/internal/gate"
	"github.com/teemow/inboxagent/internal/gmail"
	"github.com/teemow/inboxagent/internal/google"
	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/oauthflow"
	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/server"
	"github.com/teemow/inboxagent/internal/tokens"
)

const (
	callbackPath       = "/auth/callback"
	tokenSweepInterval = time.Minute
	valkeyDialTimeout  = 5 * time.Second
)

// newDBCredentialStore is replaced in tests.
var newDBCredentialStore = google.NewDBCredentialStore

// app holds the wired components shared by every transport.
type app struct {
	assistant   *assistant.Assistant
	flow        *oauthflow.Controller
	credentials google.CredentialStore
	health      *server.HealthChecker
	baseURL     string

	closers []func() error
}

// Close releases stores in reverse construction order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp wires the request pipeline from cfg.
func buildApp(cfg ServeConfig, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger, logger *slog.Logger) (*app, error) {
	a := &app{
		health:  server.NewHealthChecker(),
		baseURL: resolveBaseURL(cfg.BaseURL, cfg.HTTPAddr),
	}

	store, err := buildTokenStore(cfg.TokenStore, a, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	credentials, err := buildCredentialStore(cfg, a, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.credentials = credentials

	oauthClient, err := google.NewOAuthClient(google.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  a.baseURL + callbackPath,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create Google OAuth client: %w", err)
	}

	codec, err := oauthflow.NewStateCodec([]byte(cfg.Security.StateSigningKey))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.flow, err = oauthflow.NewController(oauthflow.Config{
		Tokens:      store,
		Provider:    oauthClient,
		Credentials: credentials,
		State:       codec,
		Metrics:     metrics,
		Audit:       audit,
		Logger:      logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var client *completion.Client
	if cfg.Completion.APIKey != "" {
		client, err = completion.NewClient(completion.Config{
			APIKey:  cfg.Completion.APIKey,
			BaseURL: cfg.Completion.BaseURL,
			Model:   cfg.Completion.Model,
			Timeout: cfg.Completion.Timeout,
		}, metrics, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		logger.Info("Using completion model", "model", client.Model())
	} else {
		logger.Warn("No completion API key configured, classification falls back to keywords only")
	}

	var model *classifier.ModelStage
	if client != nil {
		model = classifier.NewModelStage(client, cfg.Completion.Timeout, logger)
	}

	reminders := automation.NewManager(logger)
	sources := google.NewTokenSources(oauthClient, credentials, logger)
	dispatcher := assistant.NewDispatcher()
	dispatcher.Register(classifier.TaskEmail, gmail.NewExecutor(sources, metrics, logger))
	dispatcher.Register(classifier.TaskCalendar, calendar.NewExecutor(sources, metrics, logger))
	dispatcher.Register(classifier.TaskAutomation, reminders)
	if client != nil {
		dispatcher.Register(classifier.TaskInformation,
			assistant.NewConversation(client.WithSystemPrompt(assistant.ConversationPrompt), 0))
	}

	a.assistant, err = assistant.New(assistant.Config{
		Classifier: classifier.New(model, metrics, logger),
		Gate:       gate.New(credentials, metrics, logger),
		Tokens:     store,
		Executor:   dispatcher,
		Formatter:  respond.NewFormatter(),
		Reminders:  reminders,
		BaseURL:    a.baseURL,
		Metrics:    metrics,
		Audit:      audit,
		Logger:     logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

func buildTokenStore(cfg TokenStoreConfig, a *app, logger *slog.Logger) (tokens.Store, error) {
	switch cfg.Type {
	case tokenStoreValkey:
		opt := valkey.ClientOption{
			InitAddress: []string{cfg.Valkey.URL},
			Password:    cfg.Valkey.Password,
			SelectDB:    cfg.Valkey.DB,
			Dialer:      net.Dialer{Timeout: valkeyDialTimeout},
		}
		if cfg.Valkey.TLSEnabled {
			opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client, err := valkey.NewClient(opt)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Valkey.URL, err)
		}
		store := tokens.NewValkeyStore(client, tokens.ValkeyConfig{
			Prefix: cfg.Valkey.KeyPrefix,
			TTL:    tokenTTL(cfg),
			Logger: logger,
		})
		a.closers = append(a.closers, store.Close)
		a.health.AddCheck("token_store", func(ctx context.Context) error {
			return client.Do(ctx, client.B().Ping().Build()).Error()
		})
		logger.Info("Using valkey token store", "addr", cfg.Valkey.URL)
		return store, nil
	default:
		store := tokens.NewMemoryStore(tokenSweepInterval,
			tokens.WithTTL(tokenTTL(cfg)),
			tokens.WithLogger(logger))
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
}

func buildCredentialStore(cfg ServeConfig, a *app, logger *slog.Logger) (google.CredentialStore, error) {
	if cfg.CredentialStoreDSN == "" {
		logger.Warn("No credential store DSN configured, connected accounts are lost on restart")
		return google.NewMemoryCredentialStore(logger), nil
	}

	key, err := decodeEncryptionKey(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}
	encryptor, err := google.NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	if !encryptor.Enabled() {
		logger.Warn("Credential encryption is disabled, set CREDENTIAL_ENCRYPTION_KEY for production")
	}

	db, err := google.OpenDB(cfg.CredentialStoreDSN)
	if err != nil {
		return nil, err
	}
	store, err := newDBCredentialStore(db, encryptor, logger)
	if err != nil {
		_ = google.CloseDB(db)
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.health.AddCheck("credential_store", store.Ping)
	return store, nil
}
