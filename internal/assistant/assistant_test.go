package assistant

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/completion"
	"github.com/teemow/inboxagent/internal/gate"
	"github.com/teemow/inboxagent/internal/google"
	"github.com/teemow/inboxagent/internal/oauthflow"
	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tokens"
)

const baseURL = "https://agent.example.com"

type recordingExecutor struct {
	calls  atomic.Int32
	params map[string]string
	err    error
}

func (r *recordingExecutor) Execute(_ context.Context, taskType classifier.TaskType, params map[string]string, _ string) (respond.Outcome, error) {
	r.calls.Add(1)
	r.params = params
	if r.err != nil {
		return respond.Outcome{}, r.err
	}
	return respond.Results(taskType, []string{"one result"}), nil
}

type fakeProvider struct {
	exchanges atomic.Int32
}

func (p *fakeProvider) AuthCodeURL(state string, _ tokens.Service) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string, _ tokens.Service) (*oauth2.Token, error) {
	p.exchanges.Add(1)
	return &oauth2.Token{AccessToken: "at-" + code, RefreshToken: "rt"}, nil
}

// routingModel answers classification prompts by looking at the request line.
func routingModel() completion.Completer {
	return completion.Func(func(_ context.Context, prompt string) (string, error) {
		_, request, _ := strings.Cut(prompt, "Request: ")
		request = strings.ToLower(request)
		switch {
		case strings.Contains(request, "email"):
			return `{"task_type":"email","action":"search","confidence":0.9}`, nil
		case strings.Contains(request, "calendar"):
			return "```json\n{\"task_type\":\"calendar\",\"action\":\"search\"}\n```", nil
		default:
			return "not sure", nil
		}
	})
}

type failingChecker struct{}

func (failingChecker) HasCredentials(context.Context, string, tokens.Service) (bool, error) {
	return false, errors.New("database unavailable")
}

type env struct {
	assistant *Assistant
	store     *tokens.MemoryStore
	creds     *google.MemoryCredentialStore
	exec      *recordingExecutor
	flow      *oauthflow.Controller
	provider  *fakeProvider
}

func newEnv(t *testing.T, model completion.Completer) *env {
	t.Helper()

	store := tokens.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })
	creds := google.NewMemoryCredentialStore(nil)
	exec := &recordingExecutor{}

	dispatcher := NewDispatcher()
	dispatcher.Register(classifier.TaskEmail, exec)
	dispatcher.Register(classifier.TaskCalendar, exec)

	if model == nil {
		model = routingModel()
	}
	stage := classifier.NewModelStage(model, time.Second, nil)

	a, err := New(Config{
		Classifier: classifier.New(stage, nil, nil),
		Gate:       gate.New(creds, nil, nil),
		Tokens:     store,
		Executor:   dispatcher,
		BaseURL:    baseURL,
	})
	require.NoError(t, err)

	codec, err := oauthflow.NewStateCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	provider := &fakeProvider{}
	flow, err := oauthflow.NewController(oauthflow.Config{
		Tokens:      store,
		Provider:    provider,
		Credentials: creds,
		State:       codec,
	})
	require.NoError(t, err)

	return &env{assistant: a, store: store, creds: creds, exec: exec, flow: flow, provider: provider}
}

func authLinkParams(t *testing.T, out respond.Outcome) url.Values {
	t.Helper()
	link, _ := out.Payload[respond.PayloadAuthURL].(string)
	require.NotEmpty(t, link)
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, baseURL+"/auth-web?"))
	return u.Query()
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHandle_ConnectGmailEndToEnd(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	reply, out := e.assistant.Handle(ctx, "alice", "connect to gmail")
	require.Equal(t, classifier.TaskAuthentication, out.TaskType)
	assert.Equal(t, "gmail", out.Payload[respond.PayloadService])

	q := authLinkParams(t, out)
	assert.Equal(t, "alice", q.Get("user_id"))
	assert.Contains(t, reply, q.Get("token"))
	assert.NotContains(t, reply, respond.FallbackText)

	redirect, err := e.flow.InitiateFromLink(ctx, q.Get("token"), q.Get("user_id"), tokens.ServiceGmail)
	require.NoError(t, err)
	ru, err := url.Parse(redirect)
	require.NoError(t, err)
	state := ru.Query().Get("state")

	res, err := e.flow.Callback(ctx, "code", state)
	require.NoError(t, err)
	assert.Equal(t, tokens.ServiceGmail, res.Service)

	_, err = e.flow.Callback(ctx, "code", state)
	assert.ErrorIs(t, err, tokens.ErrTokenAlreadyUsed)
	assert.Equal(t, int32(1), e.provider.exchanges.Load())

	_, out = e.assistant.Handle(ctx, "alice", "search my email for invoices")
	assert.Equal(t, classifier.TaskEmail, out.TaskType)
	assert.True(t, out.Success)
	assert.Equal(t, int32(1), e.exec.calls.Load())
	assert.Equal(t, "search my email for invoices", e.exec.params[ParamRequest])
}

func TestHandle_KeywordOverrideBeatsModel(t *testing.T) {
	model := completion.Func(func(context.Context, string) (string, error) {
		return `{"task_type":"email","action":"search","confidence":0.95}`, nil
	})
	e := newEnv(t, model)

	_, out := e.assistant.Handle(context.Background(), "alice", "connect my gmail")
	assert.Equal(t, classifier.TaskAuthentication, out.TaskType)
	assert.Equal(t, "gmail", out.Payload[respond.PayloadService])
	assert.Zero(t, e.exec.calls.Load())
}

func TestHandle_GatedTaskWithoutCredentialsNeverExecutes(t *testing.T) {
	for _, tc := range []struct {
		text    string
		service tokens.Service
	}{
		{"read my latest email", tokens.ServiceGmail},
		{"what's on my calendar tomorrow", tokens.ServiceCalendar},
	} {
		t.Run(tc.text, func(t *testing.T) {
			e := newEnv(t, nil)
			_, out := e.assistant.Handle(context.Background(), "bob", tc.text)

			assert.Equal(t, classifier.TaskAuthentication, out.TaskType)
			assert.Equal(t, string(tc.service), out.Payload[respond.PayloadService])
			q := authLinkParams(t, out)
			assert.Equal(t, string(tc.service), q.Get("service"))
			assert.Zero(t, e.exec.calls.Load())
			assert.Equal(t, 1, e.store.Len())
		})
	}
}

func TestHandle_GenericCredentialCoversGatedTasks(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.creds.StoreCredentials(context.Background(), "carol", tokens.ServiceGoogle,
		&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))

	_, out := e.assistant.Handle(context.Background(), "carol", "check my calendar")
	assert.Equal(t, classifier.TaskCalendar, out.TaskType)
	assert.Equal(t, int32(1), e.exec.calls.Load())
}

func TestHandle_CheckerFailureFailsClosed(t *testing.T) {
	store := tokens.NewMemoryStore(0)
	defer store.Close()
	exec := &recordingExecutor{}
	d := NewDispatcher()
	d.Register(classifier.TaskEmail, exec)

	a, err := New(Config{
		Classifier: classifier.New(classifier.NewModelStage(routingModel(), time.Second, nil), nil, nil),
		Gate:       gate.New(failingChecker{}, nil, nil),
		Tokens:     store,
		Executor:   d,
		BaseURL:    baseURL,
	})
	require.NoError(t, err)

	_, out := a.Handle(context.Background(), "dave", "show my email")
	assert.Equal(t, classifier.TaskAuthentication, out.TaskType)
	assert.Zero(t, exec.calls.Load())
}

func TestHandle_ExecutionFailure(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.creds.StoreCredentials(context.Background(), "erin", tokens.ServiceGmail,
		&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	e.exec.err = errors.New("gmail: 503 backend error")

	reply, out := e.assistant.Handle(context.Background(), "erin", "search my email")
	assert.False(t, out.Success)
	assert.ErrorIs(t, out.Err, respond.ErrCapabilityExecutionFailed)
	assert.Equal(t, respond.UserMessage(respond.ErrCapabilityExecutionFailed), reply)
	assert.NotContains(t, reply, "503")
}

func TestHandle_UnknownFallsBack(t *testing.T) {
	e := newEnv(t, nil)
	for _, text := range []string{"", "blorp"} {
		reply, out := e.assistant.Handle(context.Background(), "frank", text)
		assert.Equal(t, classifier.TaskUnknown, out.TaskType)
		assert.Equal(t, respond.FallbackText, reply)
	}
}

func TestHandle_KeywordOnlyPipeline(t *testing.T) {
	store := tokens.NewMemoryStore(0)
	defer store.Close()

	a, err := New(Config{
		Classifier: classifier.New(nil, nil, nil),
		Gate:       gate.New(google.NewMemoryCredentialStore(nil), nil, nil),
		Tokens:     store,
		BaseURL:    baseURL,
	})
	require.NoError(t, err)

	_, out := a.Handle(context.Background(), "hank", "please login to google")
	assert.Equal(t, classifier.TaskAuthentication, out.TaskType)
	assert.Equal(t, string(tokens.ServiceGoogle), out.Payload[respond.PayloadService])
}

func TestHandle_InformationUsesConversation(t *testing.T) {
	model := completion.Func(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "JSON") {
			return `{"task_type":"information","confidence":0.8}`, nil
		}
		return "Paris, obviously.", nil
	})

	store := tokens.NewMemoryStore(0)
	defer store.Close()
	d := NewDispatcher()
	d.Register(classifier.TaskInformation, NewConversation(model, time.Second))

	a, err := New(Config{
		Classifier: classifier.New(classifier.NewModelStage(model, time.Second, nil), nil, nil),
		Gate:       gate.New(google.NewMemoryCredentialStore(nil), nil, nil),
		Tokens:     store,
		Executor:   d,
		BaseURL:    baseURL,
	})
	require.NoError(t, err)

	reply, out := a.Handle(context.Background(), "gina", "what's the capital of France?")
	assert.Equal(t, classifier.TaskInformation, out.TaskType)
	assert.Equal(t, "Paris, obviously.", reply)
}

func TestDispatcher_Unregistered(t *testing.T) {
	out, err := NewDispatcher().Execute(context.Background(), classifier.TaskAutomation, nil, "u")
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, classifier.TaskAutomation, out.TaskType)
}

func TestConversation_Errors(t *testing.T) {
	failing := completion.Func(func(context.Context, string) (string, error) {
		return "", errors.New("rate limited")
	})
	c := NewConversation(failing, 0)

	out, err := c.Execute(context.Background(), classifier.TaskInformation, map[string]string{}, "u")
	require.NoError(t, err)
	assert.False(t, out.Success)

	_, err = c.Execute(context.Background(), classifier.TaskInformation, map[string]string{ParamRequest: "hi"}, "u")
	assert.Error(t, err)
}
