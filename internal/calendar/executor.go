package calendar

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
	// DefaultLookahead is how far ahead a search looks when no date is given.
	DefaultLookahead = 7 * 24 * time.Hour

	// DefaultEventDuration is the length of a confirmed timed event.
	DefaultEventDuration = time.Hour
)

var clockLayouts = []string{"15:04", "3:04pm", "3pm"}

// TokenSourceProvider supplies a user's Google credential.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID string, service tokens.Service) (oauth2.TokenSource, error)
}

// Executor runs calendar tasks.
type Executor struct {
	sources TokenSourceProvider
	opts    []option.ClientOption
	metrics *instrumentation.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(sources TokenSourceProvider, metrics *instrumentation.Metrics, logger *slog.Logger, opts ...option.ClientOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sources: sources,
		opts:    opts,
		metrics: metrics,
		logger:  logging.WithService(logger, instrumentation.ServiceCalendar),
		now:     time.Now,
	}
}

// Execute runs a search or prepares an event draft.
func (e *Executor) Execute(ctx context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error) {
	if taskType != classifier.TaskCalendar {
		return respond.Outcome{}, fmt.Errorf("calendar executor cannot run %s tasks", taskType)
	}

	if isCreate(params) {
		return draftEvent(params), nil
	}

	client, err := e.client(ctx, userID)
	if err != nil {
		return respond.Outcome{}, err
	}
	return e.search(ctx, client, params)
}

// Confirm inserts the event drafted in pending, an outcome previously
// returned by Execute.
func (e *Executor) Confirm(ctx context.Context, userID string, pending respond.Outcome) (respond.Outcome, error) {
	draft, ok := pending.Payload[respond.PayloadEventDraft].(respond.EventDraft)
	if !ok {
		return respond.Outcome{}, fmt.Errorf("no event to create")
	}
	ev, err := e.newEvent(draft)
	if err != nil {
		return respond.Outcome{}, err
	}

	client, err := e.client(ctx, userID)
	if err != nil {
		return respond.Outcome{}, err
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationCreate)
	defer span.End()

	start := time.Now()
	created, err := client.CreateEvent(ctx, PrimaryCalendar, ev)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		e.logger.Warn("Calendar API call failed", logging.Operation(instrumentation.OperationCreate), logging.Err(err))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	e.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationCreate, status, time.Since(start))
	if err != nil {
		return respond.Outcome{}, err
	}

	if created.Summary == "" {
		created.Summary = ev.Summary
	}
	if created.Start.IsZero() {
		created.Start, created.AllDay = ev.Start, ev.AllDay
	}
	return respond.Message(classifier.TaskCalendar, "Added to your calendar: "+describe(created)+"."), nil
}

func (e *Executor) client(ctx context.Context, userID string) (*Client, error) {
	ts, err := e.sources.TokenSource(ctx, userID, tokens.ServiceCalendar)
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, e.opts...)...)
}

// newEvent turns a draft into an event in the executor's location. A draft
// without a time becomes an all-day event.
func (e *Executor) newEvent(d respond.EventDraft) (NewEvent, error) {
	loc := e.now().Location()
	day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(d.Date), loc)
	if err != nil {
		return NewEvent{}, fmt.Errorf("event date %q is not YYYY-MM-DD", d.Date)
	}
	ev := NewEvent{Summary: d.Title, Description: d.Description}

	clock := strings.ToLower(strings.ReplaceAll(d.Time, " ", ""))
	if clock == "" {
		ev.Start, ev.End, ev.AllDay = day, day.AddDate(0, 0, 1), true
		return ev, nil
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, clock); err == nil {
			ev.Start = time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc)
			ev.End = ev.Start.Add(DefaultEventDuration)
			return ev, nil
		}
	}
	return NewEvent{}, fmt.Errorf("event time %q is not understood", d.Time)
}

func (e *Executor) search(ctx context.Context, client *Client, params map[string]string) (respond.Outcome, error) {
	from, to := e.window(params["date"])
	query := strings.TrimSpace(params["query"])

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationSearch)
	defer span.End()

	start := time.Now()
	events, err := client.ListEvents(ctx, PrimaryCalendar, from, to, query, respond.MaxListedResults)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		e.logger.Warn("Calendar API call failed", logging.Operation(instrumentation.OperationSearch), logging.Err(err))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	e.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationSearch, status, time.Since(start))
	if err != nil {
		return respond.Outcome{}, err
	}

	summaries := make([]string, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, describe(ev))
	}
	return respond.Results(classifier.TaskCalendar, summaries), nil
}

// window returns the search range: the named day, or now plus DefaultLookahead.
func (e *Executor) window(date string) (time.Time, time.Time) {
	now := e.now()
	if day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(date), now.Location()); err == nil {
		return day, day.Add(24 * time.Hour)
	}
	return now, now.Add(DefaultLookahead)
}

func isCreate(params map[string]string) bool {
	switch strings.ToLower(params["action"]) {
	case "create", "schedule", "add", "book":
		return true
	}
	return false
}

func draftEvent(params map[string]string) respond.Outcome {
	title := strings.TrimSpace(params["subject"])
	if title == "" {
		title = strings.TrimSpace(params["query"])
	}
	if title == "" {
		title = "New event"
	}

	date := strings.TrimSpace(params["date"])
	if date == "" {
		return respond.Message(classifier.TaskCalendar, fmt.Sprintf("When should %q happen?", title))
	}

	return respond.Outcome{
		Success:  true,
		TaskType: classifier.TaskCalendar,
		Payload: map[string]any{respond.PayloadEventDraft: respond.EventDraft{
			Title:       title,
			Date:        date,
			Time:        strings.TrimSpace(params["time"]),
			Description: strings.TrimSpace(params["body"]),
		}},
	}
}

func describe(ev EventSummary) string {
	title := ev.Summary
	if title == "" {
		title = "(untitled)"
	}
	var when string
	switch {
	case ev.Start.IsZero():
		when = "time unknown"
	case ev.AllDay:
		when = ev.Start.Format("Mon Jan 2") + ", all day"
	default:
		when = ev.Start.Format("Mon Jan 2 15:04")
	}
	s := title + " (" + when + ")"
	if ev.Location != "" {
		s += " at " + ev.Location
	}
	return s
}
