package respond

import (
	"errors"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/tokens"
)

// ErrCapabilityExecutionFailed marks an outcome whose executor failed.
var ErrCapabilityExecutionFailed = errors.New("capability execution failed")

// Payload keys understood by the built-in renderers.
const (
	PayloadAuthURL = "auth_url"
	PayloadService = "service"
	// PayloadResults holds []string summaries.
	PayloadResults = "results"
	// PayloadEmailDraft holds an EmailDraft.
	PayloadEmailDraft = "email_draft"
	// PayloadEventDraft holds an EventDraft.
	PayloadEventDraft = "event_draft"
	// PayloadMessage holds a free-form reply.
	PayloadMessage = "message"
)

// Outcome is the result of handling one request.
type Outcome struct {
	Success  bool
	TaskType classifier.TaskType
	Payload  map[string]any
	Err      error
}

// EmailDraft is a message awaiting the user's confirmation.
type EmailDraft struct {
	ID      string
	To      string
	Subject string
	Body    string
}

// EventDraft is a calendar event awaiting the user's confirmation.
type EventDraft struct {
	Title       string
	Date        string
	Time        string
	Description string
}

// AuthenticationOutcome builds the outcome for a fresh auth link.
func AuthenticationOutcome(service tokens.Service, authURL string) Outcome {
	return Outcome{
		Success:  authURL != "",
		TaskType: classifier.TaskAuthentication,
		Payload: map[string]any{
			PayloadAuthURL: authURL,
			PayloadService: string(service),
		},
	}
}

// Failure builds a failed outcome for taskType.
func Failure(taskType classifier.TaskType, err error) Outcome {
	return Outcome{TaskType: taskType, Err: err}
}

// Results builds a successful outcome listing summaries.
func Results(taskType classifier.TaskType, summaries []string) Outcome {
	return Outcome{
		Success:  true,
		TaskType: taskType,
		Payload:  map[string]any{PayloadResults: summaries},
	}
}

// Message builds a successful outcome carrying free text.
func Message(taskType classifier.TaskType, text string) Outcome {
	return Outcome{
		Success:  true,
		TaskType: taskType,
		Payload:  map[string]any{PayloadMessage: text},
	}
}

func (o Outcome) str(key string) string {
	s, _ := o.Payload[key].(string)
	return s
}
