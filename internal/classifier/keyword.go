package classifier

import (
	"context"
	"strings"

	"github.com/teemow/inboxagent/internal/tokens"
)

var defaultAuthTerms = []string{"connect", "authenticate", "login", "access", "auth"}

// serviceTerm maps a term to a service. Order is match priority.
type serviceTerm struct {
	term    string
	service tokens.Service
}

var defaultServiceTerms = []serviceTerm{
	{"gmail", tokens.ServiceGmail},
	{"email", tokens.ServiceGmail},
	{"calendar", tokens.ServiceCalendar},
	{"google", tokens.ServiceGoogle},
}

// KeywordStage detects connection requests. When the text contains an
// authentication term and a service term it finalizes TaskAuthentication
// for the matched service. It is a fallback when no earlier stage produced
// a candidate and an override when the candidate disagrees.
type KeywordStage struct {
	authTerms    []string
	serviceTerms []serviceTerm
}

// NewKeywordStage returns a stage using the built-in term sets.
func NewKeywordStage() *KeywordStage {
	return &KeywordStage{authTerms: defaultAuthTerms, serviceTerms: defaultServiceTerms}
}

// Name implements Stage.
func (s *KeywordStage) Name() string { return "keyword" }

// Classify implements Stage.
func (s *KeywordStage) Classify(_ context.Context, text string, prev *Classification) (*Classification, Decision) {
	service, ok := s.Match(text)
	if !ok {
		return nil, Defer
	}

	if prev != nil && prev.TaskType == TaskAuthentication {
		if prevService, ok := prev.Service(); ok && prevService == service {
			return nil, Finalize
		}
	}

	source := SourceKeywordFallback
	if prev != nil {
		source = SourceKeywordOverride
	}
	return &Classification{
		TaskType:   TaskAuthentication,
		Confidence: ConfidenceHigh,
		Parameters: map[string]string{ParamService: string(service)},
		Source:     source,
	}, Finalize
}

// Match reports the highest priority service when the lowercased text
// contains at least one authentication term and one service term. Terms
// match anywhere, so "authentication" and "emails" count.
func (s *KeywordStage) Match(text string) (tokens.Service, bool) {
	lower := strings.ToLower(text)

	hasAuth := false
	for _, t := range s.authTerms {
		if strings.Contains(lower, t) {
			hasAuth = true
			break
		}
	}
	if !hasAuth {
		return "", false
	}

	for _, st := range s.serviceTerms {
		if strings.Contains(lower, st.term) {
			return st.service, true
		}
	}
	return "", false
}
