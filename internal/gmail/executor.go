package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tokens"
)

const (
	// DefaultQuery is used when a search names no query.
	DefaultQuery = "in:inbox"

	maxSearchResults = respond.MaxListedResults
)

// TokenSourceProvider supplies a user's Google credential.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID string, service tokens.Service) (oauth2.TokenSource, error)
}

// Executor runs email tasks against the user's mailbox.
type Executor struct {
	sources TokenSourceProvider
	opts    []option.ClientOption
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewExecutor creates an Executor. opts are appended to every client, which
// lets tests point the client at a fake endpoint.
func NewExecutor(sources TokenSourceProvider, metrics *instrumentation.Metrics, logger *slog.Logger, opts ...option.ClientOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sources: sources,
		opts:    opts,
		metrics: metrics,
		logger:  logging.WithService(logger, instrumentation.ServiceGmail),
	}
}

// Execute runs a search or compose action.
func (e *Executor) Execute(ctx context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error) {
	if taskType != classifier.TaskEmail {
		return respond.Outcome{}, fmt.Errorf("gmail executor cannot run %s tasks", taskType)
	}

	client, err := e.client(ctx, userID)
	if err != nil {
		return respond.Outcome{}, err
	}

	if isCompose(params) {
		return e.compose(ctx, client, params)
	}
	return e.search(ctx, client, params)
}

// Confirm sends the draft carried by pending, an outcome previously
// returned by Execute.
func (e *Executor) Confirm(ctx context.Context, userID string, pending respond.Outcome) (respond.Outcome, error) {
	draft, ok := pending.Payload[respond.PayloadEmailDraft].(respond.EmailDraft)
	if !ok || draft.ID == "" {
		return respond.Outcome{}, fmt.Errorf("nothing to send")
	}

	client, err := e.client(ctx, userID)
	if err != nil {
		return respond.Outcome{}, err
	}

	err = e.observe(ctx, instrumentation.OperationSend, func(ctx context.Context) error {
		_, err := client.SendDraft(ctx, draft.ID)
		return err
	})
	if err != nil {
		return respond.Outcome{}, err
	}
	return respond.Message(classifier.TaskEmail, fmt.Sprintf("Sent your email to %s.", draft.To)), nil
}

func (e *Executor) client(ctx context.Context, userID string) (*Client, error) {
	ts, err := e.sources.TokenSource(ctx, userID, tokens.ServiceGmail)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, e.opts...)
	return NewClient(ctx, opts...)
}

func (e *Executor) search(ctx context.Context, client *Client, params map[string]string) (respond.Outcome, error) {
	query := strings.TrimSpace(params["query"])
	if query == "" {
		query = DefaultQuery
	}

	var messages []MessageSummary
	err := e.observe(ctx, instrumentation.OperationSearch, func(ctx context.Context) error {
		var err error
		messages, err = client.SearchMessages(ctx, query, maxSearchResults)
		return err
	})
	if err != nil {
		return respond.Outcome{}, err
	}

	summaries := make([]string, 0, len(messages))
	for _, m := range messages {
		summaries = append(summaries, summarize(m))
	}
	return respond.Results(classifier.TaskEmail, summaries), nil
}

func (e *Executor) compose(ctx context.Context, client *Client, params map[string]string) (respond.Outcome, error) {
	to := splitRecipients(params["recipient"])
	subject := strings.TrimSpace(params["subject"])
	body := strings.TrimSpace(params["body"])

	if len(to) == 0 || (subject == "" && body == "") {
		return respond.Message(classifier.TaskEmail,
			"Who should the email go to, and what should it say?"), nil
	}

	draft := &Draft{To: to, Subject: subject, Body: body}
	var id string
	err := e.observe(ctx, instrumentation.OperationDraft, func(ctx context.Context) error {
		var err error
		id, err = client.CreateDraft(ctx, draft)
		return err
	})
	if err != nil {
		return respond.Outcome{}, err
	}

	return respond.Outcome{
		Success:  true,
		TaskType: classifier.TaskEmail,
		Payload: map[string]any{respond.PayloadEmailDraft: respond.EmailDraft{
			ID:      id,
			To:      strings.Join(to, ", "),
			Subject: subject,
			Body:    body,
		}},
	}, nil
}

func (e *Executor) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		e.logger.Warn("Gmail API call failed", logging.Operation(operation), logging.Err(err))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	e.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))
	return err
}

func isCompose(params map[string]string) bool {
	switch strings.ToLower(params["action"]) {
	case "compose", "draft", "write", "send", "reply":
		return true
	case "search", "read", "list":
		return false
	}
	return params["recipient"] != "" || params["body"] != ""
}

func splitRecipients(s string) []string {
	var out []string
	for _, r := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func summarize(m MessageSummary) string {
	subject := m.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	s := subject
	if m.From != "" {
		s += " from " + m.From
	}
	if m.Snippet != "" {
		s += ": " + m.Snippet
	}
	return s
}
