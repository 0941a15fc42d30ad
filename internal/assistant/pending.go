package assistant

import (
	"strings"
	"sync"
	"time"

	"github.com/teemow/inboxagent/internal/respond"
)

// DefaultPendingTTL is how long a draft waits for the user's answer.
const DefaultPendingTTL = 30 * time.Minute

// reply is the user's answer to a pending draft.
type reply int

const (
	replyNone reply = iota
	replyYes
	replyNo
)

var (
	affirmative = map[string]bool{
		"yes": true, "y": true, "yep": true, "yeah": true, "sure": true, "ok": true, "okay": true,
		"confirm": true, "confirmed": true, "go ahead": true, "do it": true, "send": true,
		"send it": true, "create it": true, "looks good": true, "sounds good": true,
		"👍": true, "✅": true, "👌": true, "❤️": true, "🎉": true, "😊": true,
	}
	negative = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "stop": true, "don't": true,
		"dont": true, "never mind": true, "nevermind": true, "discard": true,
		"👎": true, "❌": true, "😡": true,
	}
)

// parseReply recognizes short yes/no answers. Anything else is replyNone.
func parseReply(text string) reply {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".!?, ")
	switch {
	case affirmative[s]:
		return replyYes
	case negative[s]:
		return replyNo
	default:
		return replyNone
	}
}

// needsConfirmation reports whether o carries a draft the user must approve.
func needsConfirmation(o respond.Outcome) bool {
	if !o.Success {
		return false
	}
	if _, ok := o.Payload[respond.PayloadEmailDraft]; ok {
		return true
	}
	_, ok := o.Payload[respond.PayloadEventDraft]
	return ok
}

type pendingAction struct {
	outcome respond.Outcome
	at      time.Time
}

// pendingActions holds at most one draft per user.
type pendingActions struct {
	mu      sync.Mutex
	actions map[string]pendingAction
	ttl     time.Duration
	now     func() time.Time
}

func newPendingActions(ttl time.Duration) *pendingActions {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &pendingActions{actions: make(map[string]pendingAction), ttl: ttl, now: time.Now}
}

// put replaces the user's pending draft.
func (p *pendingActions) put(userID string, o respond.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for id, a := range p.actions {
		if now.Sub(a.at) > p.ttl {
			delete(p.actions, id)
		}
	}
	p.actions[userID] = pendingAction{outcome: o, at: now}
}

// take removes and returns the user's unexpired draft.
func (p *pendingActions) take(userID string) (respond.Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.actions[userID]
	if !ok {
		return respond.Outcome{}, false
	}
	delete(p.actions, userID)
	if p.now().Sub(a.at) > p.ttl {
		return respond.Outcome{}, false
	}
	return a.outcome, true
}
