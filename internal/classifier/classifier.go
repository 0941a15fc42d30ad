package classifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/tokens"
)

// TaskType is the kind of work a request asks for.
type TaskType string

const (
	TaskAuthentication TaskType = "authentication"
	TaskEmail          TaskType = "email"
	TaskCalendar       TaskType = "calendar"
	TaskInformation    TaskType = "information"
	TaskAutomation     TaskType = "automation"
	TaskUnknown        TaskType = "unknown"
)

// TaskTypes lists every task type.
var TaskTypes = []TaskType{TaskAuthentication, TaskEmail, TaskCalendar, TaskInformation, TaskAutomation, TaskUnknown}

// Source records which stage produced a classification.
type Source string

const (
	SourceModel           Source = "model"
	SourceKeywordFallback Source = "keyword-fallback"
	SourceKeywordOverride Source = "keyword-override"
	SourceDefault         Source = "default"
)

// Confidence levels used by the deterministic stages.
const (
	ConfidenceHigh = 0.9
	ConfidenceLow  = 0.1
)

// ParamService is the parameter key carrying the service of an authentication task.
const ParamService = "service"

// Classification is the result of interpreting one request.
type Classification struct {
	TaskType   TaskType          `json:"task_type"`
	Confidence float64           `json:"confidence"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Source     Source            `json:"source"`
}

// Service resolves the service parameter.
func (c *Classification) Service() (tokens.Service, bool) {
	if c == nil {
		return "", false
	}
	return resolveService(c.Parameters[ParamService])
}

// Param returns a parameter value or "".
func (c *Classification) Param(key string) string {
	if c == nil {
		return ""
	}
	return c.Parameters[key]
}

// Decision tells the pipeline whether to stop.
type Decision int

const (
	// Defer passes the returned classification, if any, to the next stage as its candidate.
	Defer Decision = iota
	// Finalize ends the pipeline with the returned classification.
	Finalize
)

// Stage is one step of the classification pipeline. prev is the current
// candidate from earlier stages and may be nil.
type Stage interface {
	Name() string
	Classify(ctx context.Context, text string, prev *Classification) (*Classification, Decision)
}

// Pipeline runs stages in order and ends in a deterministic default.
type Pipeline struct {
	stages  []Stage
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewPipeline creates a pipeline. metrics and logger may be nil.
func NewPipeline(stages []Stage, metrics *instrumentation.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		stages:  stages,
		metrics: metrics,
		logger:  logging.WithOperation(logger, "classify"),
	}
}

// Classify never fails. Empty input is TaskUnknown without consulting any stage.
func (p *Pipeline) Classify(ctx context.Context, text string) *Classification {
	result := p.classify(ctx, strings.TrimSpace(text))
	p.metrics.RecordClassification(ctx, string(result.TaskType), string(result.Source))
	return result
}

func (p *Pipeline) classify(ctx context.Context, text string) *Classification {
	if text == "" {
		return defaultClassification()
	}

	var candidate *Classification
	for _, stage := range p.stages {
		result, decision := stage.Classify(ctx, text, candidate)
		if result != nil {
			if !valid(result) {
				p.logger.Warn("Discarding invalid stage result",
					slog.String("stage", stage.Name()),
					logging.TaskType(string(result.TaskType)))
				continue
			}
			candidate = result
		}
		if decision == Finalize && candidate != nil {
			p.logger.Debug("Classification finalized",
				slog.String("stage", stage.Name()),
				logging.TaskType(string(candidate.TaskType)),
				slog.String("source", string(candidate.Source)))
			return candidate
		}
	}

	if candidate == nil {
		return defaultClassification()
	}
	return candidate
}

// valid enforces that authentication carries a resolvable service.
func valid(c *Classification) bool {
	if c.TaskType != TaskAuthentication {
		return true
	}
	_, ok := c.Service()
	return ok
}

func defaultClassification() *Classification {
	return &Classification{
		TaskType:   TaskUnknown,
		Confidence: ConfidenceLow,
		Parameters: map[string]string{},
		Source:     SourceDefault,
	}
}

// ParseTaskType maps a model supplied label onto a TaskType.
// Labels the model commonly emits for the same intent are accepted as aliases.
func ParseTaskType(s string) (TaskType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "authentication", "auth", "connect":
		return TaskAuthentication, true
	case "email", "gmail", "mail":
		return TaskEmail, true
	case "calendar":
		return TaskCalendar, true
	case "information", "search", "question", "chat":
		return TaskInformation, true
	case "automation", "trigger", "integration", "reminder":
		return TaskAutomation, true
	case "unknown":
		return TaskUnknown, true
	default:
		return "", false
	}
}

// resolveService accepts service enum values plus "email" and "mail" for gmail.
func resolveService(s string) (tokens.Service, bool) {
	if svc, ok := tokens.ParseService(s); ok {
		return svc, true
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email", "mail", "google mail":
		return tokens.ServiceGmail, true
	case "google calendar":
		return tokens.ServiceCalendar, true
	}
	return "", false
}

// New builds the default model-then-keywords pipeline. A nil completer
// leaves only the keyword stage.
func New(model *ModelStage, metrics *instrumentation.Metrics, logger *slog.Logger) *Pipeline {
	stages := make([]Stage, 0, 2)
	if model != nil {
		stages = append(stages, model)
	}
	stages = append(stages, NewKeywordStage())
	return NewPipeline(stages, metrics, logger)
}
