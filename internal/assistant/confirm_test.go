package assistant

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/completion"
	"github.com/teemow/inboxagent/internal/gate"
	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tokens"
)

// draftingExecutor drafts an email on every request and sends it on confirm.
type draftingExecutor struct {
	confirmed atomic.Int32
	err       error
}

func (d *draftingExecutor) Execute(_ context.Context, taskType classifier.TaskType, _ map[string]string, _ string) (respond.Outcome, error) {
	return respond.Outcome{
		Success:  true,
		TaskType: taskType,
		Payload: map[string]any{respond.PayloadEmailDraft: respond.EmailDraft{
			ID: "draft-1", To: "bob@example.com", Subject: "Lunch", Body: "Tomorrow?",
		}},
	}, nil
}

func (d *draftingExecutor) Confirm(_ context.Context, _ string, pending respond.Outcome) (respond.Outcome, error) {
	if d.err != nil {
		return respond.Outcome{}, d.err
	}
	d.confirmed.Add(1)
	draft := pending.Payload[respond.PayloadEmailDraft].(respond.EmailDraft)
	return respond.Message(classifier.TaskEmail, "Sent your email to "+draft.To+"."), nil
}

// toggleChecker grants every service while connected is true.
type toggleChecker struct {
	connected atomic.Bool
}

func (c *toggleChecker) HasCredentials(context.Context, string, tokens.Service) (bool, error) {
	return c.connected.Load(), nil
}

type confirmEnv struct {
	assistant *Assistant
	exec      *draftingExecutor
	checker   *toggleChecker
}

func newConfirmEnv(t *testing.T, reminders ReminderSource) *confirmEnv {
	t.Helper()
	store := tokens.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })
	checker := &toggleChecker{}
	checker.connected.Store(true)

	exec := &draftingExecutor{}
	d := NewDispatcher()
	d.Register(classifier.TaskEmail, exec)

	a, err := New(Config{
		Classifier: classifier.New(classifier.NewModelStage(routingModel(), time.Second, nil), nil, nil),
		Gate:       gate.New(checker, nil, nil),
		Tokens:     store,
		Executor:   d,
		Reminders:  reminders,
		BaseURL:    baseURL,
	})
	require.NoError(t, err)
	return &confirmEnv{assistant: a, exec: exec, checker: checker}
}

func TestHandle_ConfirmSendsPendingDraft(t *testing.T) {
	e := newConfirmEnv(t, nil)
	ctx := context.Background()

	reply, out := e.assistant.Handle(ctx, "alice", "write an email to bob about lunch")
	require.True(t, out.Success)
	assert.Contains(t, reply, "Does this look good to send?")

	reply, out = e.assistant.Handle(ctx, "alice", "Yes!")
	assert.True(t, out.Success)
	assert.Equal(t, classifier.TaskEmail, out.TaskType)
	assert.Equal(t, "Sent your email to bob@example.com.", reply)
	assert.Equal(t, int32(1), e.exec.confirmed.Load())

	// The draft is spent; a second yes is an ordinary request.
	_, out = e.assistant.Handle(ctx, "alice", "yes")
	assert.Equal(t, int32(1), e.exec.confirmed.Load())
	assert.Equal(t, classifier.TaskUnknown, out.TaskType)
}

func TestHandle_DeclineDiscardsDraft(t *testing.T) {
	e := newConfirmEnv(t, nil)
	ctx := context.Background()

	e.assistant.Handle(ctx, "alice", "email bob")
	reply, _ := e.assistant.Handle(ctx, "alice", "👎")
	assert.Equal(t, "Got it, I won't go ahead with that.", reply)

	e.assistant.Handle(ctx, "alice", "ok")
	assert.Zero(t, e.exec.confirmed.Load())
}

func TestHandle_DraftsArePerUser(t *testing.T) {
	e := newConfirmEnv(t, nil)
	ctx := context.Background()

	e.assistant.Handle(ctx, "alice", "email bob")
	_, out := e.assistant.Handle(ctx, "mallory", "yes")
	assert.Equal(t, classifier.TaskUnknown, out.TaskType)
	assert.Zero(t, e.exec.confirmed.Load())
}

func TestHandle_ConfirmRechecksCredentials(t *testing.T) {
	e := newConfirmEnv(t, nil)
	ctx := context.Background()

	e.assistant.Handle(ctx, "alice", "email bob")
	e.checker.connected.Store(false)

	_, out := e.assistant.Handle(ctx, "alice", "send it")
	assert.Equal(t, classifier.TaskAuthentication, out.TaskType)
	assert.Zero(t, e.exec.confirmed.Load())

	e.checker.connected.Store(true)
	_, out = e.assistant.Handle(ctx, "alice", "send it")
	assert.True(t, out.Success)
	assert.Equal(t, int32(1), e.exec.confirmed.Load())
}

func TestHandle_ConfirmFailure(t *testing.T) {
	e := newConfirmEnv(t, nil)
	e.exec.err = errors.New("gmail: 500 backend")
	ctx := context.Background()

	e.assistant.Handle(ctx, "alice", "email bob")
	reply, out := e.assistant.Handle(ctx, "alice", "yes")
	assert.ErrorIs(t, out.Err, respond.ErrCapabilityExecutionFailed)
	assert.NotContains(t, reply, "500")
}

func TestPendingActions_Expire(t *testing.T) {
	p := newPendingActions(time.Minute)
	now := time.Now()
	p.now = func() time.Time { return now }

	p.put("alice", respond.Message(classifier.TaskEmail, "draft"))
	now = now.Add(2 * time.Minute)
	_, ok := p.take("alice")
	assert.False(t, ok)
}

func TestParseReply(t *testing.T) {
	for text, want := range map[string]reply{
		"yes":                   replyYes,
		"  Sounds good! ":       replyYes,
		"✅":                     replyYes,
		"No.":                   replyNo,
		"never mind":            replyNo,
		"yes please send it to": replyNone,
		"search my email":       replyNone,
	} {
		assert.Equal(t, want, parseReply(text), text)
	}
}

type staticReminders struct {
	due []string
}

func (s *staticReminders) DueReminders(context.Context, string) []string {
	due := s.due
	s.due = nil
	return due
}

func TestHandle_AppendsDueReminders(t *testing.T) {
	r := &staticReminders{due: []string{"call mom", "water plants"}}
	e := newConfirmEnv(t, r)

	reply, _ := e.assistant.Handle(context.Background(), "alice", "blorp")
	assert.True(t, strings.HasPrefix(reply, respond.FallbackText))
	assert.Contains(t, reply, "Reminder: call mom")
	assert.Contains(t, reply, "Reminder: water plants")

	reply, _ = e.assistant.Handle(context.Background(), "alice", "blorp")
	assert.Equal(t, respond.FallbackText, reply)
}

func TestConversation_ReplaysHistory(t *testing.T) {
	var prompts []string
	model := completion.Func(func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "reply " + string(rune('A'+len(prompts)-1)), nil
	})
	c := NewConversation(model, time.Second)
	ctx := context.Background()

	_, err := c.Execute(ctx, classifier.TaskInformation, map[string]string{ParamRequest: "hi"}, "alice")
	require.NoError(t, err)
	_, err = c.Execute(ctx, classifier.TaskInformation, map[string]string{ParamRequest: "and you?"}, "alice")
	require.NoError(t, err)
	_, err = c.Execute(ctx, classifier.TaskInformation, map[string]string{ParamRequest: "hello"}, "bob")
	require.NoError(t, err)

	assert.Equal(t, "hi", prompts[0])
	assert.Contains(t, prompts[1], "User: hi\nAssistant: reply A\n")
	assert.True(t, strings.HasSuffix(prompts[1], "User: and you?"))
	assert.Equal(t, "hello", prompts[2])
}

func TestHistory_KeepsRecentTurns(t *testing.T) {
	h := newHistory(2)
	for _, msg := range []string{"one", "two", "three"} {
		h.add("alice", msg, "ok")
	}
	p := h.prompt("alice", "four")
	assert.NotContains(t, p, "User: one")
	assert.Contains(t, p, "User: two")
	assert.Contains(t, p, "User: three")

	now := time.Now().Add(2 * historyIdleTTL)
	h.now = func() time.Time { return now }
	assert.Equal(t, "four", h.prompt("alice", "four"))
}

func TestDispatcher_ConfirmWithoutConfirmer(t *testing.T) {
	d := NewDispatcher()
	d.Register(classifier.TaskEmail, &recordingExecutor{})

	_, err := d.Confirm(context.Background(), "u", respond.Outcome{TaskType: classifier.TaskEmail})
	assert.Error(t, err)
	_, err = d.Confirm(context.Background(), "u", respond.Outcome{TaskType: classifier.TaskCalendar})
	assert.Error(t, err)
}
