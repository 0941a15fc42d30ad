package respond

import (
	"fmt"
	"strings"
	"sync"

	"github.com/teemow/inboxagent/internal/classifier"
	"github.com/teemow/inboxagent/internal/tokens"
)

// FallbackText is the reply when nothing can be rendered.
const FallbackText = "I couldn't find anything matching your request."

// MaxListedResults caps the entries of a result list.
const MaxListedResults = 5

// Renderer renders a successful outcome. ok=false means it has nothing to say.
type Renderer func(o Outcome) (text string, ok bool)

// Formatter dispatches outcomes to renderers by task type.
type Formatter struct {
	mu        sync.RWMutex
	renderers map[classifier.TaskType]Renderer
}

// NewFormatter returns a Formatter with the built-in renderers.
func NewFormatter() *Formatter {
	f := &Formatter{renderers: map[classifier.TaskType]Renderer{}}
	f.Register(classifier.TaskEmail, renderEmail)
	f.Register(classifier.TaskCalendar, renderCalendar)
	f.Register(classifier.TaskInformation, renderInformation)
	f.Register(classifier.TaskAutomation, renderInformation)
	return f
}

// Register sets the renderer for taskType. Authentication cannot be overridden.
func (f *Formatter) Register(taskType classifier.TaskType, r Renderer) {
	if taskType == classifier.TaskAuthentication || r == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renderers[taskType] = r
}

// Format renders o.
func (f *Formatter) Format(o Outcome) string {
	if o.TaskType == classifier.TaskAuthentication {
		return renderAuthentication(o)
	}
	if !o.Success && o.Err != nil {
		return UserMessage(o.Err)
	}

	f.mu.RLock()
	r, ok := f.renderers[o.TaskType]
	f.mu.RUnlock()

	if ok && o.Success {
		if text, ok := r(o); ok {
			return text
		}
	}
	return FallbackText
}

var capabilities = map[tokens.Service][]string{
	tokens.ServiceGmail: {
		"search and summarize your inbox",
		"draft emails for you to review before anything is sent",
	},
	tokens.ServiceCalendar: {
		"check what's coming up on your calendar",
		"draft new events for you to confirm",
	},
}

// Capabilities lists what a connected service unlocks.
func Capabilities(service tokens.Service) []string {
	if service == tokens.ServiceGoogle {
		out := append([]string{}, capabilities[tokens.ServiceGmail]...)
		return append(out, capabilities[tokens.ServiceCalendar]...)
	}
	return append([]string{}, capabilities[service]...)
}

func renderAuthentication(o Outcome) string {
	service, ok := tokens.ParseService(o.str(PayloadService))
	if !ok {
		service = tokens.ServiceGoogle
	}
	name := service.DisplayName()

	link := o.str(PayloadAuthURL)
	if link == "" {
		return fmt.Sprintf("I need access to your %s first, but I couldn't create a sign-in link right now. Please try again in a moment.", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To continue I need access to your %s. Connect it here:\n%s\n", name, link)
	if caps := Capabilities(service); len(caps) > 0 {
		b.WriteString("\nOnce connected I can:\n")
		for _, c := range caps {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\nThe link works once and expires soon.")
	return b.String()
}

func renderEmail(o Outcome) (string, bool) {
	if d, ok := o.Payload[PayloadEmailDraft].(EmailDraft); ok {
		return fmt.Sprintf("Email draft\n\nTo: %s\nSubject: %s\n\n%s\n\nIt's saved in your drafts. Does this look good to send? Reply yes to send it or no to keep it unsent.",
			d.To, d.Subject, d.Body), true
	}
	return renderList(o)
}

func renderCalendar(o Outcome) (string, bool) {
	if d, ok := o.Payload[PayloadEventDraft].(EventDraft); ok {
		var b strings.Builder
		b.WriteString("Calendar event draft\n\n")
		fmt.Fprintf(&b, "Title: %s\n", d.Title)
		fmt.Fprintf(&b, "Date: %s\n", d.Date)
		if d.Time != "" {
			fmt.Fprintf(&b, "Time: %s\n", d.Time)
		}
		if d.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", d.Description)
		}
		b.WriteString("\nShould I create it? Reply yes or no.")
		return b.String(), true
	}
	return renderList(o)
}

func renderInformation(o Outcome) (string, bool) {
	if text, ok := renderMessage(o); ok {
		return text, true
	}
	return renderList(o)
}

func renderMessage(o Outcome) (string, bool) {
	msg := strings.TrimSpace(o.str(PayloadMessage))
	return msg, msg != ""
}

func renderList(o Outcome) (string, bool) {
	items, _ := o.Payload[PayloadResults].([]string)
	if len(items) == 0 {
		return "", false
	}
	var b strings.Builder
	b.WriteString("Here's what I found:\n\n")
	for i, item := range items {
		if i == MaxListedResults {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return strings.TrimRight(b.String(), "\n"), true
}
