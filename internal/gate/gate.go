// Package gate decides whether a classified request may run or must first
// send the user through authorization.
package gate

import (
	"context"
	"log/slog"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/tokens"
)

// Kind is the gate verdict.
type Kind int

const (
	Proceed Kind = iota
	NeedsAuth
)

func (k Kind) String() string {
	if k == NeedsAuth {
		return instrumentation.GateNeedsAuth
	}
	return instrumentation.GateProceed
}

// Decision is the result of Authorize. Service is set for gated task types.
type Decision struct {
	Kind    Kind
	Service tokens.Service
}

// CredentialChecker reports whether a usable credential exists for (user, service).
type CredentialChecker interface {
	HasCredentials(ctx context.Context, userID string, service tokens.Service) (bool, error)
}

// gatedServices maps task types that need a credential to the service they use.
var gatedServices = map[classifier.TaskType]tokens.Service{
	classifier.TaskEmail:    tokens.ServiceGmail,
	classifier.TaskCalendar: tokens.ServiceCalendar,
}

// ServiceFor returns the service a task type is gated on.
func ServiceFor(taskType classifier.TaskType) (tokens.Service, bool) {
	svc, ok := gatedServices[taskType]
	return svc, ok
}

// Gate checks credentials before gated task types execute. It never issues tokens.
type Gate struct {
	checker CredentialChecker
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// New creates a Gate.
func New(checker CredentialChecker, metrics *instrumentation.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		checker: checker,
		metrics: metrics,
		logger:  logging.WithOperation(logger, "gate"),
	}
}

// Authorize returns Proceed for ungated task types. For gated ones it asks the
// checker and returns NeedsAuth when the credential is missing or the check
// fails.
func (g *Gate) Authorize(ctx context.Context, userID string, taskType classifier.TaskType) Decision {
	service, gated := ServiceFor(taskType)
	if !gated {
		return Decision{Kind: Proceed}
	}

	decision := Decision{Kind: NeedsAuth, Service: service}

	ok, err := g.checker.HasCredentials(ctx, userID, service)
	switch {
	case err != nil:
		g.logger.Warn("Credential check failed, treating user as unauthorized",
			logging.UserHash(userID),
			logging.Service(string(service)),
			logging.Err(err))
	case ok:
		decision.Kind = Proceed
	}

	g.metrics.RecordGateDecision(ctx, string(service), decision.Kind.String())
	return decision
}
