package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	err := New(KindAuthExpired, "token expired")

	if KindOf(err) != KindAuthExpired {
		t.Errorf("Expected kind %s, got %s", KindAuthExpired, KindOf(err))
	}

	// Wrapped errors still classify
	wrapped := fmt.Errorf("failed to fetch events: %w", err)
	if KindOf(wrapped) != KindAuthExpired {
		t.Errorf("Expected wrapped kind %s, got %s", KindAuthExpired, KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != "" {
		t.Error("Expected empty kind for untyped error")
	}
	if !Is(wrapped, KindAuthExpired) {
		t.Error("Expected Is to match through wrapping")
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := RateLimited("rate limited (429)", 2*time.Second)

	d, ok := RetryAfterOf(err)
	if !ok {
		t.Fatal("Expected retry-after hint to be present")
	}
	if d != 2*time.Second {
		t.Errorf("Expected 2s, got %v", d)
	}

	// No hint on an unknown delay
	if _, ok := RetryAfterOf(RateLimited("rate limited", 0)); ok {
		t.Error("Expected no hint when RetryAfter is zero")
	}

	// Not a rate-limit error
	if _, ok := RetryAfterOf(New(KindServerError, "boom")); ok {
		t.Error("Expected no hint on non-rate-limit error")
	}
}

func TestParseWaitSeconds(t *testing.T) {
	tests := []struct {
		message string
		want    time.Duration
		ok      bool
	}{
		{"Rate limited, please wait 30 seconds before retrying", 30 * time.Second, true},
		{"wait 1 second", time.Second, true},
		{"Please Wait 5 Seconds", 5 * time.Second, true},
		{"wait zero seconds", 0, false},
		{"some unrelated error", 0, false},
		{"wait -3 seconds", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseWaitSeconds(tt.message)
		if ok != tt.ok {
			t.Errorf("ParseWaitSeconds(%q) ok = %v, want %v", tt.message, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseWaitSeconds(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestFriendlyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limit by message", errors.New("upstream said wait 10 seconds"),
			"OSM is asking us to slow down. Hang on a moment and we'll retry automatically."},
		{"auth by message", errors.New("session expired for user"),
			"Your OSM session has expired. Please log in again."},
		{"network by message", errors.New("dial tcp: connection refused"),
			"Can't reach OSM right now. Check your signal - your saved data is still available."},
		{"fallback by kind", New(KindDemoMode, "xyzzy"),
			"This action isn't available in demo mode."},
		{"generic", errors.New("xyzzy"),
			"Something went wrong talking to OSM. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FriendlyMessage(tt.err)
			if got != tt.want {
				t.Errorf("FriendlyMessage() = %q, want %q", got, tt.want)
			}
		})
	}

	if FriendlyMessage(nil) != "" {
		t.Error("Expected empty message for nil error")
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindServerError, "request failed", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable via errors.Is")
	}
	if err.Error() != "server_error: request failed: underlying" {
		t.Errorf("Unexpected error string: %s", err.Error())
	}
}
