package automation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/respond"
)

// DefaultMaxPerUser caps the active reminders of one user.
const DefaultMaxPerUser = 50

var clockLayouts = []string{"15:04", "3:04pm", "3pm"}

// Reminder is a time based trigger.
type Reminder struct {
	ID        string
	UserID    string
	Message   string
	DueAt     time.Time
	CreatedAt time.Time
}

// Manager stores reminders and executes automation tasks.
type Manager struct {
	mu         sync.Mutex
	reminders  map[string]*Reminder
	maxPerUser int
	now        func() time.Time
	logger     *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		reminders:  make(map[string]*Reminder),
		maxPerUser: DefaultMaxPerUser,
		now:        time.Now,
		logger:     logging.WithOperation(logger, "automation"),
	}
}

// Execute creates, lists or deletes reminders depending on params["action"].
func (m *Manager) Execute(_ context.Context, taskType classifier.TaskType, params map[string]string, userID string) (respond.Outcome, error) {
	if taskType != classifier.TaskAutomation {
		return respond.Outcome{}, fmt.Errorf("automation manager cannot run %s tasks", taskType)
	}

	switch strings.ToLower(params["action"]) {
	case "list", "show":
		return m.list(userID), nil
	case "delete", "cancel", "remove":
		return m.remove(userID, strings.TrimSpace(params["id"])), nil
	default:
		return m.create(userID, params), nil
	}
}

func (m *Manager) create(userID string, params map[string]string) respond.Outcome {
	message := firstNonEmpty(params["body"], params["subject"], params["query"], params["request"])
	if message == "" {
		return respond.Message(classifier.TaskAutomation, "What should I remind you about?")
	}

	due, ok := m.dueAt(params["date"], params["time"])
	if !ok {
		return respond.Message(classifier.TaskAutomation,
			fmt.Sprintf("When should I remind you about %q? Give me a date (YYYY-MM-DD) and a time.", message))
	}
	if !due.After(m.now()) {
		return respond.Message(classifier.TaskAutomation, "That time has already passed. When should I remind you instead?")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.countLocked(userID) >= m.maxPerUser {
		return respond.Message(classifier.TaskAutomation,
			fmt.Sprintf("You already have %d reminders. Delete one before adding another.", m.maxPerUser))
	}

	r := &Reminder{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		DueAt:     due,
		CreatedAt: m.now(),
	}
	m.reminders[r.ID] = r

	m.logger.Info("Reminder created", logging.UserHash(userID), slog.Time("due_at", due))
	return respond.Message(classifier.TaskAutomation,
		fmt.Sprintf("Okay, I'll remind you: %s (%s).", message, due.Format("Mon Jan 2 15:04")))
}

func (m *Manager) list(userID string) respond.Outcome {
	reminders := m.List(userID)
	if len(reminders) == 0 {
		return respond.Message(classifier.TaskAutomation, "You have no reminders set.")
	}
	summaries := make([]string, 0, len(reminders))
	for _, r := range reminders {
		summaries = append(summaries, fmt.Sprintf("%s (%s) [id %s]", r.Message, r.DueAt.Format("Mon Jan 2 15:04"), r.ID))
	}
	return respond.Results(classifier.TaskAutomation, summaries)
}

func (m *Manager) remove(userID, id string) respond.Outcome {
	if id == "" {
		return respond.Message(classifier.TaskAutomation, "Which reminder should I delete? Ask me to list them to see their ids.")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok || r.UserID != userID {
		return respond.Message(classifier.TaskAutomation, "I couldn't find that reminder.")
	}
	delete(m.reminders, id)
	return respond.Message(classifier.TaskAutomation, fmt.Sprintf("Deleted the reminder %q.", r.Message))
}

// List returns the user's pending reminders ordered by due time.
func (m *Manager) List(userID string) []Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Reminder
	for _, r := range m.reminders {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b Reminder) int { return a.DueAt.Compare(b.DueAt) })
	return out
}

// DueReminders removes and returns the messages of the user's reminders
// that are due, oldest first.
func (m *Manager) DueReminders(_ context.Context, userID string) []string {
	now := m.now()

	m.mu.Lock()
	var due []*Reminder
	for id, r := range m.reminders {
		if r.UserID == userID && !r.DueAt.After(now) {
			due = append(due, r)
			delete(m.reminders, id)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(due, func(a, b *Reminder) int { return a.DueAt.Compare(b.DueAt) })
	out := make([]string, 0, len(due))
	for _, r := range due {
		out = append(out, r.Message)
	}
	return out
}

func (m *Manager) countLocked(userID string) int {
	n := 0
	for _, r := range m.reminders {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

// dueAt combines an optional YYYY-MM-DD date and a clock time. A missing
// date means today; a missing time is not accepted.
func (m *Manager) dueAt(date, clock string) (time.Time, bool) {
	now := m.now()
	loc := now.Location()

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if date = strings.TrimSpace(date); date != "" {
		d, err := time.ParseInLocation(time.DateOnly, date, loc)
		if err != nil {
			return time.Time{}, false
		}
		day = d
	}

	clock = strings.ToLower(strings.ReplaceAll(clock, " ", ""))
	if clock == "" {
		return time.Time{}, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, clock); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
