// Package oauth runs the OSM authorization-code flow.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/config"
)

// Endpoint is OSM's OAuth 2.0 endpoint pair.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://www.onlinescoutmanager.co.uk/oauth/authorize",
	TokenURL: "https://www.onlinescoutmanager.co.uk/oauth/token",
}

// scopes cover everything the data layer touches: member directory,
// events with attendance, and FlexiRecord reads and writes.
var scopes = []string{
	"section:member:read",
	"section:event:read",
	"section:flexirecord:write",
}

const stateTTL = 10 * time.Minute

type stateEntry struct {
	expires     time.Time
	frontendURL string
}

// Manager handles the OAuth flow and arms the auth gate with the
// resulting access token.
type Manager struct {
	oauth  *oauth2.Config
	gate   *auth.Gate
	logger *slog.Logger

	mu     sync.Mutex // CSRF state store
	states map[string]stateEntry
}

// NewManager creates an OAuth manager.
func NewManager(cfg *config.Config, gate *auth.Gate) *Manager {
	m := &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			Endpoint:     Endpoint,
			Scopes:       scopes,
		},
		gate:   gate,
		logger: slog.Default(),
		states: make(map[string]stateEntry),
	}

	// Background cleanup of expired states
	go m.cleanupStates()

	return m
}

// GenerateAuthURL builds the authorization URL. The frontend URL is
// remembered against the CSRF state so the callback can redirect back to
// wherever the user started.
func (m *Manager) GenerateAuthURL(redirectURI, frontendURL string) (string, string, error) {
	state, err := generateRandomState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	m.mu.Lock()
	m.states[state] = stateEntry{
		expires:     time.Now().Add(stateTTL),
		frontendURL: frontendURL,
	}
	m.mu.Unlock()

	authURL := m.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("redirect_uri", redirectURI))

	m.logger.Info("Generated auth URL", "state", state)
	return authURL, state, nil
}

// HandleCallback validates the state, exchanges the code and arms the
// gate. Returns the frontend URL stored at login time.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (string, error) {
	frontendURL, ok := m.consumeState(state)
	if !ok {
		return "", fmt.Errorf("invalid or expired state")
	}

	token, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}

	m.gate.SetToken(token.AccessToken)
	m.logger.Info("OAuth session established", "expires", token.Expiry)

	return frontendURL, nil
}

// consumeState validates and removes a state (one-time use).
func (m *Manager) consumeState(state string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.states[state]
	if !exists {
		return "", false
	}
	delete(m.states, state)

	if time.Now().After(entry.expires) {
		return "", false
	}
	return entry.frontendURL, true
}

// cleanupStates removes expired states every minute.
func (m *Manager) cleanupStates() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		now := time.Now()
		for state, entry := range m.states {
			if now.After(entry.expires) {
				delete(m.states, state)
			}
		}
		m.mu.Unlock()
	}
}

// generateRandomState generates a cryptographically secure random state.
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
