package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/completion"
	"github.com/teemow/inboxagent/internal/respond"
)

// ParamRequest carries the raw request text to executors.
const ParamRequest = "request"

// Executor runs a classified task for a user.
type Executor interface {
	Execute(ctx context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error) {
	return f(ctx, taskType, params, userID)
}

// Confirmer carries out a draft the user approved. pending is the outcome
// the same executor returned for the draft.
type Confirmer interface {
	Confirm(ctx context.Context, userID string, pending respond.Outcome) (respond.Outcome, error)
}

// Dispatcher routes tasks to the executor registered for their type.
type Dispatcher struct {
	mu        sync.RWMutex
	executors map[classifier.TaskType]Executor
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{executors: make(map[classifier.TaskType]Executor)}
}

// Register sets the executor for taskType.
func (d *Dispatcher) Register(taskType classifier.TaskType, e Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[taskType] = e
}

// Execute implements Executor. Task types without an executor produce an
// unsuccessful outcome and no error.
func (d *Dispatcher) Execute(ctx context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error) {
	d.mu.RLock()
	e, ok := d.executors[taskType]
	d.mu.RUnlock()
	if !ok {
		return respond.Outcome{TaskType: taskType}, nil
	}
	return e.Execute(ctx, taskType, params, userID)
}

// Confirm implements Confirmer by routing on pending.TaskType.
func (d *Dispatcher) Confirm(ctx context.Context, userID string, pending respond.Outcome) (respond.Outcome, error) {
	d.mu.RLock()
	e, ok := d.executors[pending.TaskType]
	d.mu.RUnlock()
	c, canConfirm := e.(Confirmer)
	if !ok || !canConfirm {
		return respond.Outcome{}, fmt.Errorf("no executor can confirm %s drafts", pending.TaskType)
	}
	return c.Confirm(ctx, userID, pending)
}

// ConversationPrompt is the system prompt for conversational replies. Pass
// a completer configured with it to NewConversation.
const ConversationPrompt = `You are a concise personal assistant with access to the user's Gmail and Google Calendar.
Reply like a friend texting: warm, brief, no preamble, no emojis unless the user used them.
Match the length of your reply to the user's message.`

// DefaultConversationTimeout bounds a conversational reply.
const DefaultConversationTimeout = 20 * time.Second

// Conversation answers information requests with the completion model,
// replaying the user's recent exchanges.
type Conversation struct {
	completer completion.Completer
	timeout   time.Duration
	history   *history
}

// NewConversation creates a Conversation. A non-positive timeout uses the default.
func NewConversation(completer completion.Completer, timeout time.Duration) *Conversation {
	if timeout <= 0 {
		timeout = DefaultConversationTimeout
	}
	return &Conversation{completer: completer, timeout: timeout, history: newHistory(DefaultHistoryTurns)}
}

// Execute implements Executor.
func (c *Conversation) Execute(ctx context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error) {
	text := strings.TrimSpace(params[ParamRequest])
	if text == "" {
		return respond.Outcome{TaskType: taskType}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.completer.Complete(ctx, c.history.prompt(userID, text))
	if err != nil {
		return respond.Outcome{}, fmt.Errorf("conversation reply: %w", err)
	}
	c.history.add(userID, text, reply)
	return respond.Message(taskType, reply), nil
}
