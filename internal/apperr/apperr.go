// Package apperr defines the typed errors shared by the data layer.
//
// Every error that crosses a package boundary carries a Kind (used for
// control flow: retry, fall back to cache, trip the breaker), a technical
// detail for logs, and a Scout-friendly message derived from a
// classification table so the UI never shows a raw stack trace to a leader
// standing in a field.
package apperr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Kind classifies an error for control-flow decisions.
type Kind string

const (
	KindNetwork            Kind = "network_error"
	KindRateLimited        Kind = "rate_limited"
	KindAuthExpired        Kind = "auth_expired"
	KindAuthForbidden      Kind = "auth_forbidden"
	KindServerError        Kind = "server_error"
	KindApplicationFailure Kind = "application_failure"
	KindRequestTimeout     Kind = "request_timeout"
	KindNotFound           Kind = "not_found"
	KindStorageFull        Kind = "storage_full"
	KindInvalidData        Kind = "invalid_data"
	KindMissingFields      Kind = "missing_fields"
	KindDemoMode           Kind = "demo_mode"
)

// Error is the typed error used throughout the data layer.
type Error struct {
	Kind       Kind
	Message    string        // technical message, for logs
	RetryAfter time.Duration // only set for KindRateLimited, 0 = unknown
	Err        error         // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// RateLimited creates a rate-limit error carrying the server's retry hint.
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// KindOf returns the kind of err, or "" if err is not a typed error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RetryAfterOf returns the retry hint on a rate-limit error, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.RetryAfter, e.RetryAfter > 0
	}
	return 0, false
}

var waitSecondsRe = regexp.MustCompile(`(?i)wait\s+(\d+)\s+seconds?`)

// ParseWaitSeconds extracts a "wait N seconds" hint from an upstream error
// message. Returns 0, false when the message carries no hint.
func ParseWaitSeconds(message string) (time.Duration, bool) {
	m := waitSecondsRe.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// classification maps technical messages to Scout-friendly text. First match
// wins; order matters (rate limiting before generic server errors).
var classification = []struct {
	pattern  *regexp.Regexp
	friendly string
}{
	{regexp.MustCompile(`(?i)rate.?limit|too many requests|wait\s+\d+\s+seconds?|429`),
		"OSM is asking us to slow down. Hang on a moment and we'll retry automatically."},
	{regexp.MustCompile(`(?i)unauthori[sz]ed|session.*(expired|invalid)|token.*(expired|invalid)|\b401\b`),
		"Your OSM session has expired. Please log in again."},
	{regexp.MustCompile(`(?i)forbidden|permission|\b403\b`),
		"You don't have permission to do that in OSM."},
	{regexp.MustCompile(`(?i)not found|\b404\b`),
		"OSM couldn't find that record. It may have been removed."},
	{regexp.MustCompile(`(?i)timeout|timed out|deadline`),
		"OSM took too long to respond. Please try again."},
	{regexp.MustCompile(`(?i)network|connection|no such host|refused|offline|unreachable`),
		"Can't reach OSM right now. Check your signal - your saved data is still available."},
	{regexp.MustCompile(`(?i)storage|quota|disk full`),
		"The device is out of storage space for offline data."},
	{regexp.MustCompile(`(?i)\b5\d\d\b|server error|internal error|bad gateway|unavailable`),
		"OSM is having problems at the moment. Your saved data is still available."},
}

// kindFriendly provides a fallback per kind when no pattern matches.
var kindFriendly = map[Kind]string{
	KindNetwork:            "Can't reach OSM right now. Check your signal - your saved data is still available.",
	KindRateLimited:        "OSM is asking us to slow down. Hang on a moment and we'll retry automatically.",
	KindAuthExpired:        "Your OSM session has expired. Please log in again.",
	KindAuthForbidden:      "You don't have permission to do that in OSM.",
	KindServerError:        "OSM is having problems at the moment. Your saved data is still available.",
	KindApplicationFailure: "OSM rejected that request. Please try again.",
	KindRequestTimeout:     "OSM took too long to respond. Please try again.",
	KindNotFound:           "OSM couldn't find that record. It may have been removed.",
	KindStorageFull:        "The device is out of storage space for offline data.",
	KindInvalidData:        "OSM sent back data we couldn't understand.",
	KindMissingFields:      "This record is missing fields we need.",
	KindDemoMode:           "This action isn't available in demo mode.",
}

const genericFriendly = "Something went wrong talking to OSM. Please try again."

// FriendlyMessage maps any error to a message suitable for showing to a
// Scout leader. It never returns an empty string.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, c := range classification {
		if c.pattern.MatchString(msg) {
			return c.friendly
		}
	}
	if f, ok := kindFriendly[KindOf(err)]; ok {
		return f
	}
	return genericFriendly
}
