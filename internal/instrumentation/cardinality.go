package instrumentation

import "strings"

// Cardinality management helpers for metrics.
//
// Label values that originate from user input or model output must be
// reduced to a closed set before they reach a metric, or a single noisy
// client can create unbounded series.

// LabelOther replaces label values outside the allowed set.
const LabelOther = "other"

// KnownServices is the closed set of service label values.
var KnownServices = []string{ServiceGmail, ServiceCalendar, ServiceGoogle}

// BoundedLabel returns value lowercased if it is one of allowed, otherwise LabelOther.
//
// Example:
//
//	BoundedLabel("Gmail", "gmail", "calendar")   // "gmail"
//	BoundedLabel("dropbox", "gmail", "calendar") // "other"
//	BoundedLabel("", "gmail")                    // "other"
func BoundedLabel(value string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return LabelOther
}

// Common operation types for Google API metrics.
const (
	OperationSearch = "search"
	OperationDraft  = "draft"
	OperationCreate = "create"
	OperationSend   = "send"
)
