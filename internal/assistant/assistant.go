package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/gate"
	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/oauthflow"
	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tokens"
)

// Classifier interprets request text.
type Classifier interface {
	Classify(ctx context.Context, text string) *classifier.Classification
}

// Authorizer decides whether a task may run for a user.
type Authorizer interface {
	Authorize(ctx context.Context, userID string, taskType classifier.TaskType) gate.Decision
}

// ReminderSource reports reminders that came due for a user. Reported
// reminders are not reported again.
type ReminderSource interface {
	DueReminders(ctx context.Context, userID string) []string
}

// Config wires an Assistant.
type Config struct {
	Classifier Classifier
	Gate       Authorizer
	Tokens     tokens.Store
	Executor   Executor
	Formatter  *respond.Formatter
	// Reminders, when set, are appended to replies once due.
	Reminders ReminderSource
	// PendingTTL bounds how long a draft waits for confirmation.
	PendingTTL time.Duration
	// BaseURL is the public origin auth links point at.
	BaseURL string
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// Assistant handles chat requests.
type Assistant struct {
	classifier Classifier
	gate       Authorizer
	tokens     tokens.Store
	executor   Executor
	formatter  *respond.Formatter
	reminders  ReminderSource
	pending    *pendingActions
	baseURL    string
	metrics    *instrumentation.Metrics
	audit      *instrumentation.AuditLogger
	logger     *slog.Logger
}

// New validates cfg and returns an Assistant.
func New(cfg Config) (*Assistant, error) {
	switch {
	case cfg.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case cfg.Gate == nil:
		return nil, fmt.Errorf("gate is required")
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("token store is required")
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("base url is required")
	}

	executor := cfg.Executor
	if executor == nil {
		executor = NewDispatcher()
	}
	formatter := cfg.Formatter
	if formatter == nil {
		formatter = respond.NewFormatter()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Assistant{
		classifier: cfg.Classifier,
		gate:       cfg.Gate,
		tokens:     cfg.Tokens,
		executor:   executor,
		formatter:  formatter,
		reminders:  cfg.Reminders,
		pending:    newPendingActions(cfg.PendingTTL),
		baseURL:    cfg.BaseURL,
		metrics:    cfg.Metrics,
		audit:      cfg.Audit,
		logger:     logging.WithOperation(logger, "assistant"),
	}, nil
}

// Handle processes one request and returns the reply with the outcome it
// was rendered from.
func (a *Assistant) Handle(ctx context.Context, userID, text string) (string, respond.Outcome) {
	ctx, span := instrumentation.StartSpan(ctx, "assistant.handle",
		attribute.String(instrumentation.SpanAttrUserHash, logging.AnonymizeUser(userID)))
	defer span.End()

	var outcome respond.Outcome
	if r := parseReply(text); r != replyNone {
		if pending, ok := a.pending.take(userID); ok {
			span.SetAttributes(attribute.String(instrumentation.SpanAttrTaskType, string(pending.TaskType)))
			outcome = a.resolve(ctx, userID, pending, r)
			return a.finish(ctx, span, userID, outcome)
		}
	}

	c := a.classifier.Classify(ctx, text)
	span.SetAttributes(
		attribute.String(instrumentation.SpanAttrTaskType, string(c.TaskType)),
		attribute.String(instrumentation.SpanAttrSource, string(c.Source)))

	outcome = a.outcome(ctx, userID, text, c)
	if needsConfirmation(outcome) {
		a.pending.put(userID, outcome)
	}
	return a.finish(ctx, span, userID, outcome)
}

func (a *Assistant) finish(ctx context.Context, span trace.Span, userID string, outcome respond.Outcome) (string, respond.Outcome) {
	if outcome.Err != nil {
		instrumentation.SetSpanError(span, outcome.Err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	reply := a.formatter.Format(outcome)
	if a.reminders != nil {
		if due := a.reminders.DueReminders(ctx, userID); len(due) > 0 {
			var b strings.Builder
			b.WriteString(reply)
			for _, msg := range due {
				b.WriteString("\n\nReminder: " + msg)
			}
			reply = b.String()
		}
	}
	return reply, outcome
}

// resolve acts on the user's answer to a pending draft.
func (a *Assistant) resolve(ctx context.Context, userID string, pending respond.Outcome, r reply) respond.Outcome {
	if r == replyNo {
		return respond.Message(pending.TaskType, "Got it, I won't go ahead with that.")
	}

	// Credentials may have been revoked since the draft was made.
	if d := a.gate.Authorize(ctx, userID, pending.TaskType); d.Kind == gate.NeedsAuth {
		a.pending.put(userID, pending)
		return a.authenticate(ctx, userID, d.Service)
	}

	confirmer, ok := a.executor.(Confirmer)
	if !ok {
		return respond.Failure(pending.TaskType, fmt.Errorf("%w: executor cannot confirm drafts", respond.ErrCapabilityExecutionFailed))
	}
	out, err := confirmer.Confirm(ctx, userID, pending)
	if err != nil {
		a.logger.Warn("Confirmed action failed",
			logging.TaskType(string(pending.TaskType)),
			logging.UserHash(userID),
			logging.Err(err))
		return respond.Failure(pending.TaskType, fmt.Errorf("%w: %w", respond.ErrCapabilityExecutionFailed, err))
	}
	if out.TaskType == "" {
		out.TaskType = pending.TaskType
	}
	a.logger.Info("Confirmed action completed",
		logging.TaskType(string(pending.TaskType)),
		logging.UserHash(userID))
	return out
}

func (a *Assistant) outcome(ctx context.Context, userID, text string, c *classifier.Classification) respond.Outcome {
	if c.TaskType == classifier.TaskAuthentication {
		service, ok := c.Service()
		if !ok {
			service = tokens.ServiceGoogle
		}
		return a.authenticate(ctx, userID, service)
	}

	if d := a.gate.Authorize(ctx, userID, c.TaskType); d.Kind == gate.NeedsAuth {
		return a.authenticate(ctx, userID, d.Service)
	}

	params := make(map[string]string, len(c.Parameters)+1)
	maps.Copy(params, c.Parameters)
	params[ParamRequest] = text

	out, err := a.executor.Execute(ctx, c.TaskType, params, userID)
	if err != nil {
		a.logger.Warn("Task execution failed",
			logging.TaskType(string(c.TaskType)),
			logging.UserHash(userID),
			logging.Err(err))
		return respond.Failure(c.TaskType, fmt.Errorf("%w: %w", respond.ErrCapabilityExecutionFailed, err))
	}
	if out.TaskType == "" {
		out.TaskType = c.TaskType
	}
	return out
}

// authenticate issues a token and builds the outcome carrying its link.
func (a *Assistant) authenticate(ctx context.Context, userID string, service tokens.Service) respond.Outcome {
	tok, err := a.tokens.Issue(ctx, userID, service)
	if err != nil {
		a.logger.Error("Failed to issue auth token",
			logging.UserHash(userID),
			logging.Service(string(service)),
			logging.Err(err))
		out := respond.AuthenticationOutcome(service, "")
		out.Err = err
		return out
	}

	a.metrics.RecordTokenEvent(ctx, instrumentation.TokenEventIssued)
	a.audit.LogAuthEvent(ctx, instrumentation.AuthEvent{
		Event:   instrumentation.TokenEventIssued,
		Phase:   oauthflow.PhaseInitiate.String(),
		UserID:  userID,
		Service: string(service),
		Success: true,
	})

	return respond.AuthenticationOutcome(service, oauthflow.AuthLinkURL(a.baseURL, tok.Token, userID, service))
}
