package automation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/respond"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestManager() (*Manager, *time.Time) {
	now := testNow
	m := NewManager(nil)
	m.now = func() time.Time { return now }
	return m, &now
}

func run(t *testing.T, m *Manager, userID string, params map[string]string) respond.Outcome {
	t.Helper()
	out, err := m.Execute(context.Background(), classifier.TaskAutomation, params, userID)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, classifier.TaskAutomation, out.TaskType)
	return out
}

func message(o respond.Outcome) string {
	s, _ := o.Payload[respond.PayloadMessage].(string)
	return s
}

func TestExecute_CreateReminder(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		due    time.Time
	}{
		{"date and time", map[string]string{"body": "call mom", "date": "2026-10-20", "time": "09:30"}, time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC)},
		{"today", map[string]string{"body": "stretch", "time": "5 PM"}, time.Date(2026, 10, 19, 17, 0, 0, 0, time.UTC)},
		{"falls back to request text", map[string]string{"request": "remind me to water plants", "time": "6:15pm"}, time.Date(2026, 10, 19, 18, 15, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			out := run(t, m, "alice", tt.params)
			assert.Contains(t, message(out), "remind you")

			list := m.List("alice")
			require.Len(t, list, 1)
			assert.Equal(t, tt.due, list[0].DueAt)
			assert.NotEmpty(t, list[0].ID)
		})
	}
}

func TestExecute_CreateAsksForMissingDetails(t *testing.T) {
	m, _ := newTestManager()

	assert.Contains(t, message(run(t, m, "alice", map[string]string{"time": "10:00"})), "What should I remind you about")
	assert.Contains(t, message(run(t, m, "alice", map[string]string{"body": "x"})), "When should I remind you")
	assert.Contains(t, message(run(t, m, "alice", map[string]string{"body": "x", "date": "tomorrow", "time": "10:00"})), "When should I remind you")
	assert.Contains(t, message(run(t, m, "alice", map[string]string{"body": "x", "time": "08:00"})), "already passed")
	assert.Empty(t, m.List("alice"))
}

func TestExecute_PerUserLimit(t *testing.T) {
	m, _ := newTestManager()
	m.maxPerUser = 2

	for i := range 2 {
		run(t, m, "alice", map[string]string{"body": fmt.Sprintf("r%d", i), "time": "23:00"})
	}
	out := run(t, m, "alice", map[string]string{"body": "r3", "time": "23:00"})
	assert.Contains(t, message(out), "already have 2 reminders")
	assert.Len(t, m.List("alice"), 2)

	run(t, m, "bob", map[string]string{"body": "mine", "time": "23:00"})
	assert.Len(t, m.List("bob"), 1)
}

func TestExecute_ListAndDelete(t *testing.T) {
	m, _ := newTestManager()
	run(t, m, "alice", map[string]string{"body": "later", "time": "20:00"})
	run(t, m, "alice", map[string]string{"body": "sooner", "time": "13:00"})
	run(t, m, "bob", map[string]string{"body": "bob's", "time": "14:00"})

	out := run(t, m, "alice", map[string]string{"action": "list"})
	results, ok := out.Payload[respond.PayloadResults].([]string)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.True(t, strings.HasPrefix(results[0], "sooner"))

	bobs := m.List("bob")
	require.Len(t, bobs, 1)
	out = run(t, m, "alice", map[string]string{"action": "delete", "id": bobs[0].ID})
	assert.Contains(t, message(out), "couldn't find")
	assert.Len(t, m.List("bob"), 1)

	id := m.List("alice")[0].ID
	out = run(t, m, "alice", map[string]string{"action": "delete", "id": id})
	assert.Contains(t, message(out), "sooner")
	assert.Len(t, m.List("alice"), 1)

	out = run(t, m, "alice", map[string]string{"action": "remove"})
	assert.Contains(t, message(out), "Which reminder")

	assert.Contains(t, message(run(t, m, "carol", map[string]string{"action": "list"})), "no reminders")
}

func TestDueReminders(t *testing.T) {
	m, now := newTestManager()
	run(t, m, "alice", map[string]string{"body": "second", "time": "14:00"})
	run(t, m, "alice", map[string]string{"body": "first", "time": "13:00"})
	run(t, m, "alice", map[string]string{"body": "tomorrow", "date": "2026-10-20", "time": "09:00"})
	run(t, m, "bob", map[string]string{"body": "bob's", "time": "13:00"})

	assert.Empty(t, m.DueReminders(context.Background(), "alice"))

	*now = testNow.Add(3 * time.Hour)
	assert.Equal(t, []string{"first", "second"}, m.DueReminders(context.Background(), "alice"))
	assert.Empty(t, m.DueReminders(context.Background(), "alice"), "due reminders fire once")
	assert.Len(t, m.List("alice"), 1)
	assert.Equal(t, []string{"bob's"}, m.DueReminders(context.Background(), "bob"))
}

func TestExecute_WrongTaskType(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Execute(context.Background(), classifier.TaskEmail, nil, "alice")
	assert.Error(t, err)
}
