package auth

import (
	"net/http"
	"testing"

	"vikings-osm-sync/internal/apperr"
)

func TestTokenLifecycle(t *testing.T) {
	g := NewGate(false, nil)

	if g.Token() != "" {
		t.Error("Expected empty token on fresh gate")
	}
	if g.HasUsableToken() {
		t.Error("Expected no usable token on fresh gate")
	}

	g.SetToken("abc123")
	if g.Token() != "abc123" {
		t.Errorf("Expected token abc123, got %s", g.Token())
	}

	g.MarkExpired()
	if g.Token() != "" {
		t.Error("Expected empty token while expired")
	}
	if !g.Expired() {
		t.Error("Expected expired flag set")
	}

	// Replacing the token clears the expired flag
	g.SetToken("def456")
	if g.Expired() {
		t.Error("Expected expired flag cleared after SetToken")
	}
	if g.Token() != "def456" {
		t.Errorf("Expected token def456, got %s", g.Token())
	}

	g.ClearToken()
	if g.Token() != "" || g.Expired() || g.BreakerTripped() {
		t.Error("Expected all session state cleared")
	}
}

func TestBreakerTripsOnceAndNotifiesOnce(t *testing.T) {
	notifications := 0
	g := NewGate(false, func(status int) {
		notifications++
		if status != http.StatusUnauthorized {
			t.Errorf("Expected 401 in notification, got %d", status)
		}
	})
	g.SetToken("tok")

	if !g.ShouldMakeAPICall() {
		t.Error("Expected calls allowed before any failure")
	}

	g.ClassifyResponse(http.StatusOK)
	if g.BreakerTripped() {
		t.Error("Expected 200 not to trip the breaker")
	}

	g.ClassifyResponse(http.StatusUnauthorized)
	if !g.BreakerTripped() {
		t.Error("Expected breaker tripped after 401")
	}
	if g.ShouldMakeAPICall() {
		t.Error("Expected calls blocked after breaker trip")
	}

	// Further failures are absorbed silently
	g.ClassifyResponse(http.StatusForbidden)
	g.ClassifyResponse(http.StatusUnauthorized)
	if notifications != 1 {
		t.Errorf("Expected exactly one notification, got %d", notifications)
	}

	// A fresh token resets the breaker and re-arms the notification
	g.SetToken("tok2")
	if !g.ShouldMakeAPICall() {
		t.Error("Expected calls allowed after token replacement")
	}
	g.ClassifyResponse(http.StatusForbidden)
	if notifications != 2 {
		t.Errorf("Expected notification re-armed, got %d", notifications)
	}
}

func TestCheckWritePermission(t *testing.T) {
	g := NewGate(false, nil)

	err := g.CheckWritePermission()
	if !apperr.Is(err, apperr.KindAuthExpired) {
		t.Errorf("Expected AuthExpired with no token, got %v", err)
	}

	g.SetToken("tok")
	if err := g.CheckWritePermission(); err != nil {
		t.Errorf("Expected write permitted with fresh token, got %v", err)
	}

	g.MarkExpired()
	err = g.CheckWritePermission()
	if !apperr.Is(err, apperr.KindAuthExpired) {
		t.Errorf("Expected AuthExpired after MarkExpired, got %v", err)
	}
}

func TestDemoMode(t *testing.T) {
	g := NewGate(true, nil)

	if g.Token() != DemoToken {
		t.Errorf("Expected demo sentinel token, got %s", g.Token())
	}
	if err := g.CheckWritePermission(); err != nil {
		t.Errorf("Expected writes permitted in demo mode, got %v", err)
	}
	if !g.DemoMode() {
		t.Error("Expected DemoMode to report true")
	}
}
