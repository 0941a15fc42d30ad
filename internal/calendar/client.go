package calendar

import (
	"context"
	"fmt"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// PrimaryCalendar is the id of the user's default calendar.
const PrimaryCalendar = "primary"

// EventSummary represents a simplified calendar event for listing.
type EventSummary struct {
	ID       string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
	Status   string
}

// Client wraps the Google Calendar service.
type Client struct {
	svc *calendar.Service
}

// NewClient creates a Calendar client. Authentication comes from opts.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListEvents lists events in a calendar within a time range.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time, query string, max int64) ([]EventSummary, error) {
	call := c.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(max)

	if query != "" {
		call = call.Q(query)
	}

	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	summaries := make([]EventSummary, 0, len(events.Items))
	for _, event := range events.Items {
		summaries = append(summaries, toEventSummary(event))
	}
	return summaries, nil
}

// NewEvent describes an event to insert. All-day events use only the date
// part of Start and End, with End exclusive.
type NewEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// CreateEvent inserts ev into calendarID and returns the created event.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev NewEvent) (EventSummary, error) {
	event := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
	}
	if ev.AllDay {
		event.Start = &calendar.EventDateTime{Date: ev.Start.Format(time.DateOnly)}
		event.End = &calendar.EventDateTime{Date: ev.End.Format(time.DateOnly)}
	} else {
		event.Start = &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)}
		event.End = &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339)}
	}

	created, err := c.svc.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return EventSummary{}, fmt.Errorf("failed to create event: %w", err)
	}
	return toEventSummary(created), nil
}

func toEventSummary(event *calendar.Event) EventSummary {
	if event == nil {
		return EventSummary{}
	}
	summary := EventSummary{
		ID:       event.Id,
		Summary:  event.Summary,
		Location: event.Location,
		Status:   event.Status,
	}
	summary.Start, summary.AllDay = parseEventTime(event.Start)
	summary.End, _ = parseEventTime(event.End)
	return summary
}

// parseEventTime reads a timed or all-day boundary.
func parseEventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, _ := time.Parse(time.RFC3339, dt.DateTime)
		return t, false
	}
	if dt.Date != "" {
		t, _ := time.Parse(time.DateOnly, dt.Date)
		return t, true
	}
	return time.Time{}, false
}
