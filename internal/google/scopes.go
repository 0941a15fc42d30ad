package google

import (
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxagent/internal/tokens"
)

var identityScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
}

// GmailScopes allow searching mail, creating drafts and sending a draft
// once the user confirmed it.
var GmailScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailComposeScope,
}

// CalendarScopes allow reading calendars and managing events.
var CalendarScopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
}

// ScopesFor returns the OAuth scopes requested for a service. The generic
// Google service requests the union of all service scopes.
func ScopesFor(service tokens.Service) []string {
	scopes := append([]string{}, identityScopes...)
	switch service {
	case tokens.ServiceGmail:
		scopes = append(scopes, GmailScopes...)
	case tokens.ServiceCalendar:
		scopes = append(scopes, CalendarScopes...)
	default:
		scopes = append(scopes, GmailScopes...)
		scopes = append(scopes, CalendarScopes...)
	}
	return scopes
}

// Covers reports whether a credential granted for granted also serves want.
func Covers(granted, want tokens.Service) bool {
	return granted == want || granted == tokens.ServiceGoogle
}
