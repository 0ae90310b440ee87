// Package auth holds the session-scoped authentication gate.
//
// The gate owns three pieces of session state: the bearer token, a sticky
// expired flag, and a circuit-breaker bit. The breaker exists because a
// single expired token used to cause every request issued by a screen mount
// (dozens of them) to stampede the backend with 401s; after the first auth
// failure the gate refuses to let any further request enter the pipeline
// until the token is replaced.
package auth

import (
	"log/slog"
	"net/http"
	"sync"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/metrics"
)

// DemoToken is the fixed sentinel returned in demo mode. It is never sent
// upstream because demo mode never calls upstream.
const DemoToken = "demo-mode-token"

// Gate serialises access to the session's auth state. All methods are safe
// for concurrent use; a single mutex guards the three session items.
type Gate struct {
	mu             sync.Mutex
	token          string
	expired        bool
	breakerTripped bool
	notified       bool

	demoMode  bool
	onFailure func(status int) // one-shot auth-failure notification
	logger    *slog.Logger
}

// NewGate creates an auth gate. onFailure, if non-nil, is invoked at most
// once per session when the first 401/403 is observed.
func NewGate(demoMode bool, onFailure func(status int)) *Gate {
	return &Gate{
		demoMode:  demoMode,
		onFailure: onFailure,
		logger:    slog.Default(),
	}
}

// Token returns the current token, or "" if no usable token is held.
// In demo mode it always returns the demo sentinel.
func (g *Gate) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.demoMode {
		return DemoToken
	}
	if g.expired {
		return ""
	}
	return g.token
}

// HasUsableToken reports whether a request could carry valid credentials.
func (g *Gate) HasUsableToken() bool {
	return g.Token() != ""
}

// SetToken stores a fresh token, clearing the expired flag and resetting
// the breaker. Called after a successful OAuth exchange.
func (g *Gate) SetToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token = token
	g.expired = false
	g.breakerTripped = false
	g.notified = false
	metrics.BreakerTripped.Set(0)
	g.logger.Info("Auth token replaced, breaker reset")
}

// ClearToken erases all session state. Called on logout or data wipe.
func (g *Gate) ClearToken() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token = ""
	g.expired = false
	g.breakerTripped = false
	g.notified = false
	metrics.BreakerTripped.Set(0)
	g.logger.Info("Auth session cleared")
}

// ClassifyResponse inspects an upstream status code. On 401/403 it trips
// the breaker and emits the one-shot auth-failure notification. Idempotent
// within a session.
func (g *Gate) ClassifyResponse(status int) {
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return
	}

	g.mu.Lock()
	alreadyNotified := g.notified
	g.breakerTripped = true
	g.notified = true
	g.mu.Unlock()

	metrics.AuthFailuresTotal.Inc()
	metrics.BreakerTripped.Set(1)

	if !alreadyNotified {
		g.logger.Warn("Auth failure, circuit breaker tripped", "status", status)
		if g.onFailure != nil {
			g.onFailure(status)
		}
	}
}

// MarkExpired sets the sticky expired flag. Called when a write path sees a
// 401/403; every subsequent mutation fails fast until the token is replaced.
func (g *Gate) MarkExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.expired {
		g.logger.Warn("Auth token marked expired")
	}
	g.expired = true
}

// Expired reports the sticky expired flag.
func (g *Gate) Expired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expired
}

// ShouldMakeAPICall reports whether a new upstream request may be issued.
// False once the breaker is tripped.
func (g *Gate) ShouldMakeAPICall() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.breakerTripped
}

// BreakerTripped reports the breaker bit.
func (g *Gate) BreakerTripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breakerTripped
}

// CheckWritePermission fails with AuthExpired when the session can no
// longer write. Mutations call this before touching the network.
func (g *Gate) CheckWritePermission() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.demoMode {
		return nil
	}
	if g.expired {
		return apperr.New(apperr.KindAuthExpired, "token expired, writes blocked until re-authentication")
	}
	if g.token == "" {
		return apperr.New(apperr.KindAuthExpired, "no token held")
	}
	return nil
}

// DemoMode reports whether the repository-global demo flag is set.
func (g *Gate) DemoMode() bool {
	return g.demoMode
}
