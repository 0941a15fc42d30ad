package assistant

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultHistoryTurns is how many exchanges are replayed to the model.
	DefaultHistoryTurns = 5

	historyIdleTTL  = time.Hour
	historyMaxUsers = 1000
)

type turn struct {
	user, assistant string
}

type transcript struct {
	turns   []turn
	updated time.Time
}

// history keeps the recent conversation of each user in memory.
type history struct {
	mu       sync.Mutex
	users    map[string]*transcript
	maxTurns int
	now      func() time.Time
}

func newHistory(maxTurns int) *history {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	return &history{users: make(map[string]*transcript), maxTurns: maxTurns, now: time.Now}
}

// prompt renders the user's recent turns followed by text.
func (h *history) prompt(userID, text string) string {
	h.mu.Lock()
	t, ok := h.users[userID]
	var turns []turn
	if ok && h.now().Sub(t.updated) <= historyIdleTTL {
		turns = append(turns, t.turns...)
	}
	h.mu.Unlock()

	if len(turns) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, t := range turns {
		b.WriteString("User: " + t.user + "\n")
		b.WriteString("Assistant: " + t.assistant + "\n")
	}
	b.WriteString("\nUser: " + text)
	return b.String()
}

func (h *history) add(userID, user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	t, ok := h.users[userID]
	if !ok || now.Sub(t.updated) > historyIdleTTL {
		t = &transcript{}
		h.users[userID] = t
	}
	t.turns = append(t.turns, turn{user: user, assistant: assistant})
	if len(t.turns) > h.maxTurns {
		t.turns = t.turns[len(t.turns)-h.maxTurns:]
	}
	t.updated = now

	if len(h.users) > historyMaxUsers {
		h.evictLocked()
	}
}

// evictLocked drops the least recently updated transcript.
func (h *history) evictLocked() {
	var oldestID string
	var oldest time.Time
	for id, t := range h.users {
		if oldestID == "" || t.updated.Before(oldest) {
			oldestID, oldest = id, t.updated
		}
	}
	delete(h.users, oldestID)
}
