package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/tokens"
)

// DefaultExchangeTimeout bounds the code exchange with the provider.
const DefaultExchangeTimeout = 15 * time.Second

// Provider is the OAuth provider the flow redirects to.
type Provider interface {
	AuthCodeURL(state string, service tokens.Service) string
	Exchange(ctx context.Context, code string, service tokens.Service) (*oauth2.Token, error)
}

// CredentialWriter persists the credential obtained at the end of the flow.
type CredentialWriter interface {
	StoreCredentials(ctx context.Context, userID string, service tokens.Service, tok *oauth2.Token) error
}

// Result is a completed authorization.
type Result struct {
	UserID  string
	Service tokens.Service
}

// Config wires a Controller.
type Config struct {
	Tokens          tokens.Store
	Provider        Provider
	Credentials     CredentialWriter
	State           *StateCodec
	ExchangeTimeout time.Duration
	Metrics         *instrumentation.Metrics
	Audit           *instrumentation.AuditLogger
	Logger          *slog.Logger
}

// Controller runs the initiate and callback steps.
type Controller struct {
	tokens          tokens.Store
	provider        Provider
	credentials     CredentialWriter
	state           *StateCodec
	exchangeTimeout time.Duration
	metrics         *instrumentation.Metrics
	audit           *instrumentation.AuditLogger
	logger          *slog.Logger
}

// NewController validates cfg and returns a Controller.
func NewController(cfg Config) (*Controller, error) {
	switch {
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("token store is required")
	case cfg.Provider == nil:
		return nil, fmt.Errorf("oauth provider is required")
	case cfg.Credentials == nil:
		return nil, fmt.Errorf("credential store is required")
	case cfg.State == nil:
		return nil, fmt.Errorf("state codec is required")
	}

	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		tokens:          cfg.Tokens,
		provider:        cfg.Provider,
		credentials:     cfg.Credentials,
		state:           cfg.State,
		exchangeTimeout: timeout,
		metrics:         cfg.Metrics,
		audit:           cfg.Audit,
		logger:          logging.WithOperation(logger, "oauth_flow"),
	}, nil
}

// Initiate returns the provider URL for an issued token.
func (c *Controller) Initiate(ctx context.Context, token *tokens.AuthToken) (string, error) {
	if token == nil {
		return "", newFlowError(ErrStateMalformed, nil, false)
	}
	return c.InitiateFromLink(ctx, token.Token, token.UserID, token.Service)
}

// InitiateFromLink builds the provider URL from the values carried by an
// auth link. The token store is not consulted here; an unknown token is
// rejected at callback.
func (c *Controller) InitiateFromLink(ctx context.Context, token, userID string, service tokens.Service) (string, error) {
	if service == "" {
		service = tokens.ServiceGoogle
	}

	ctx, span := instrumentation.StartFlowSpan(ctx, PhaseInitiate.String(),
		attribute.String(instrumentation.SpanAttrService, string(service)))
	defer span.End()

	state, err := c.state.Encode(token, userID, service)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return "", newFlowError(ErrStateMalformed, err, false)
	}

	c.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
		Event:   "redirect",
		Phase:   PhaseInitiate.String(),
		UserID:  userID,
		Service: string(service),
		Success: true,
	})
	instrumentation.SetSpanSuccess(span)
	return c.provider.AuthCodeURL(state, service), nil
}

// Callback completes the flow. Denied is reported when code is empty, in
// which case the token is left untouched. All failures are *FlowError.
func (c *Controller) Callback(ctx context.Context, code, rawState string) (*Result, error) {
	ctx, span := instrumentation.StartFlowSpan(ctx, PhaseCallback.String())
	defer span.End()

	res, err := c.callback(ctx, code, rawState)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return res, nil
}

func (c *Controller) callback(ctx context.Context, code, rawState string) (*Result, error) {
	st, err := c.state.Decode(rawState)
	if err != nil {
		return nil, c.fail(ctx, "", "", newFlowError(ErrStateMalformed, nil, false), instrumentation.CallbackResultMalformed)
	}

	if strings.TrimSpace(code) == "" {
		return nil, c.fail(ctx, st.UserID, "", newFlowError(ErrAuthorizationDenied, nil, false), instrumentation.CallbackResultDenied)
	}

	grant, err := c.tokens.ValidateAndConsume(ctx, st.Token)
	if err != nil {
		return nil, c.consumeFailure(ctx, st.UserID, err)
	}
	c.metrics.RecordTokenEvent(ctx, instrumentation.TokenEventConsumed)

	if grant.UserID != st.UserID {
		c.logger.Warn("authorization state user does not match token owner",
			logging.UserHash(st.UserID))
		return nil, c.fail(ctx, st.UserID, grant.Service, newFlowError(ErrStateMalformed, nil, true), instrumentation.CallbackResultMalformed)
	}

	if !scopesCover(st.Service, grant.Service) {
		c.logger.Warn("authorization state requested scopes for a different service",
			logging.UserHash(grant.UserID),
			logging.Service(string(grant.Service)),
			slog.String("requested_service", string(st.Service)))
		return nil, c.fail(ctx, grant.UserID, grant.Service, newFlowError(ErrStateMalformed, nil, true), instrumentation.CallbackResultMalformed)
	}

	tok, err := c.exchange(ctx, code, grant.Service)
	if err != nil {
		return nil, c.fail(ctx, grant.UserID, grant.Service, newFlowError(ErrCodeExchangeFailed, err, true), instrumentation.CallbackResultExchangeFailed)
	}

	if err := c.credentials.StoreCredentials(ctx, grant.UserID, grant.Service, tok); err != nil {
		return nil, c.fail(ctx, grant.UserID, grant.Service, newFlowError(ErrCredentialStoreFailed, err, true), instrumentation.CallbackResultStoreFailed)
	}

	c.metrics.RecordOAuthCallback(ctx, instrumentation.CallbackResultSuccess)
	c.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
		Event:   instrumentation.CallbackResultSuccess,
		Phase:   PhaseSucceeded.String(),
		UserID:  grant.UserID,
		Service: string(grant.Service),
		Success: true,
	})
	c.logger.Info("authorization completed",
		logging.UserHash(grant.UserID),
		logging.Service(string(grant.Service)))

	return &Result{UserID: grant.UserID, Service: grant.Service}, nil
}

func (c *Controller) exchange(ctx context.Context, code string, service tokens.Service) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	start := time.Now()
	tok, err := c.provider.Exchange(ctx, code, service)
	status := instrumentation.StatusSuccess
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = instrumentation.StatusTimeout
	case err != nil:
		status = instrumentation.StatusError
	case tok == nil:
		err = fmt.Errorf("provider returned no token")
		status = instrumentation.StatusError
	}
	c.metrics.RecordCodeExchange(ctx, string(service), status, time.Since(start))
	return tok, err
}

func (c *Controller) consumeFailure(ctx context.Context, userID string, err error) error {
	switch {
	case errors.Is(err, tokens.ErrTokenAlreadyUsed):
		c.metrics.RecordTokenEvent(ctx, instrumentation.TokenEventReplay)
		return c.fail(ctx, userID, "", newFlowError(tokens.ErrTokenAlreadyUsed, nil, true), instrumentation.CallbackResultAlreadyUsed)
	case errors.Is(err, tokens.ErrTokenNotFound):
		c.metrics.RecordTokenEvent(ctx, instrumentation.TokenEventNotFound)
		return c.fail(ctx, userID, "", newFlowError(tokens.ErrTokenNotFound, nil, false), instrumentation.CallbackResultNotFound)
	default:
		return c.fail(ctx, userID, "", newFlowError(ErrTokenStoreUnavailable, err, false), instrumentation.CallbackResultTokenStoreFailed)
	}
}

// scopesCover reports whether scopes requested for requested also serve a
// credential stored under granted. Generic scopes are the union.
func scopesCover(requested, granted tokens.Service) bool {
	return requested == granted || requested == tokens.ServiceGoogle
}

func (c *Controller) fail(ctx context.Context, userID string, service tokens.Service, fe *FlowError, result string) error {
	c.metrics.RecordOAuthCallback(ctx, result)
	c.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
		Event:   result,
		Phase:   PhaseFailed.String(),
		UserID:  userID,
		Service: string(service),
		Success: false,
		Error:   fe.Kind.Error(),
	})
	c.logger.Debug("authorization callback failed",
		logging.Status(result),
		logging.Err(fe))
	return fe
}

// AuthLinkURL builds <base>/auth-web?token=...&user_id=...[&service=...].
func AuthLinkURL(base, token, userID string, service tokens.Service) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("user_id", userID)
	if service != "" {
		q.Set("service", string(service))
	}
	return strings.TrimRight(base, "/") + "/auth-web?" + q.Encode()
}
