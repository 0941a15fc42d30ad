package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/teemow/inboxagent/internal/completion"
	"github.com/teemow/inboxagent/internal/logging"
)

// DefaultModelTimeout bounds the model call made for one classification.
const DefaultModelTimeout = 8 * time.Second

const defaultModelConfidence = 0.5

// ModelStage asks the completion model for a structured classification.
// Model output is untrusted: anything that does not parse into a known task
// type yields no candidate. The stage always defers so later deterministic
// stages can still override it.
type ModelStage struct {
	completer completion.Completer
	timeout   time.Duration
	logger    *slog.Logger
}

// NewModelStage creates a ModelStage. A timeout of zero uses DefaultModelTimeout.
func NewModelStage(completer completion.Completer, timeout time.Duration, logger *slog.Logger) *ModelStage {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelStage{
		completer: completer,
		timeout:   timeout,
		logger:    logger,
	}
}

// Name implements Stage.
func (s *ModelStage) Name() string { return "model" }

// Classify implements Stage.
func (s *ModelStage) Classify(ctx context.Context, text string, _ *Classification) (*Classification, Decision) {
	if s.completer == nil {
		return nil, Defer
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.completer.Complete(ctx, buildPrompt(text))
	if err != nil {
		s.logger.Warn("Classification degraded: model unavailable", logging.Err(err))
		return nil, Defer
	}

	result, err := parseModelOutput(out)
	if err != nil {
		s.logger.Warn("Classification degraded: unusable model output", logging.Err(err))
		return nil, Defer
	}
	return result, Defer
}

func buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("You classify requests sent to a personal assistant with Gmail and Google Calendar access.\n")
	b.WriteString("Return JSON only.\n\n")
	b.WriteString("JSON schema:\n")
	b.WriteString(`{"task_type":"authentication|email|calendar|information|automation|unknown",`)
	b.WriteString(`"action":"search|compose|create|connect|answer|list|delete","parameters":{"query":"","recipient":"","subject":"","body":"","date":"","time":"","id":"","service":"gmail|calendar|google-generic"},"confidence":0.0}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- authentication means the user wants to connect or log in to a service; set parameters.service.\n")
	b.WriteString("- email covers reading, searching and drafting mail.\n")
	b.WriteString("- calendar covers events, meetings and scheduling.\n")
	b.WriteString("- information covers general questions and conversation.\n")
	b.WriteString("- automation covers reminders: put the reminder text in body, the date as YYYY-MM-DD and the time as HH:MM.\n")
	b.WriteString("- dates are YYYY-MM-DD, times are HH:MM in 24h.\n")
	b.WriteString("- If uncertain, choose unknown with a low confidence.\n\n")
	b.WriteString("Request: ")
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}

// parseModelOutput extracts and validates the JSON object in out.
func parseModelOutput(out string) (*Classification, error) {
	payload, err := extractJSONObject(out)
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("invalid json")
	}

	doc := gjson.Parse(payload)
	taskType, ok := ParseTaskType(doc.Get("task_type").String())
	if !ok {
		return nil, fmt.Errorf("unrecognized task type %q", doc.Get("task_type").String())
	}
	if taskType == TaskUnknown {
		return nil, fmt.Errorf("model returned unknown task type")
	}

	params := make(map[string]string)
	doc.Get("parameters").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Null || value.IsObject() || value.IsArray() {
			return true
		}
		if v := strings.TrimSpace(value.String()); v != "" {
			params[key.String()] = v
		}
		return true
	})
	if action := strings.TrimSpace(doc.Get("action").String()); action != "" {
		params["action"] = strings.ToLower(action)
	}

	if taskType == TaskAuthentication {
		svc, ok := resolveService(params[ParamService])
		if !ok {
			return nil, fmt.Errorf("authentication without a known service")
		}
		params[ParamService] = string(svc)
	}

	confidence := defaultModelConfidence
	if c := doc.Get("confidence"); c.Exists() {
		confidence = clamp(c.Float())
	}

	return &Classification{
		TaskType:   taskType,
		Confidence: confidence,
		Parameters: params,
		Source:     SourceModel,
	}, nil
}

// extractJSONObject prefers a fenced code block and otherwise takes the
// outermost braces.
func extractJSONObject(text string) (string, error) {
	if start := strings.Index(text, "```"); start != -1 {
		rest := text[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end != -1 {
			text = rest[:end]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("json object not found")
	}
	return text[start : end+1], nil
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
