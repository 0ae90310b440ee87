package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"vikings-osm-sync/internal/config"
	"vikings-osm-sync/internal/oauth"
)

// OAuthHandler handles the login and callback endpoints.
type OAuthHandler struct {
	manager *oauth.Manager
	config  *config.Config
	logger  *slog.Logger
}

// NewOAuthHandler creates an OAuth handler.
func NewOAuthHandler(manager *oauth.Manager, cfg *config.Config) *OAuthHandler {
	return &OAuthHandler{
		manager: manager,
		config:  cfg,
		logger:  slog.Default(),
	}
}

// HandleLogin starts the OAuth flow by redirecting to OSM. An optional
// frontend_url query parameter controls where the callback sends the user
// afterwards.
func (h *OAuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frontendURL := r.URL.Query().Get("frontend_url")
	if frontendURL == "" {
		frontendURL = h.config.FrontendURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	redirectURI := fmt.Sprintf("%s://%s/oauth/callback", scheme, r.Host)

	authURL, state, err := h.manager.GenerateAuthURL(redirectURI, frontendURL)
	if err != nil {
		h.logger.Error("Failed to generate auth URL", "error", err)
		http.Error(w, "Failed to start OAuth flow", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Starting OAuth flow", "state", state, "redirect_uri", redirectURI)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleCallback processes the OAuth callback from OSM and redirects back
// to the frontend.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	errorParam := r.URL.Query().Get("error")

	if errorParam != "" {
		h.logger.Warn("OAuth authorization denied", "error", errorParam)
		http.Error(w, fmt.Sprintf("Authorization failed: %s", errorParam), http.StatusBadRequest)
		return
	}
	if code == "" || state == "" {
		h.logger.Warn("Missing OAuth parameters", "has_code", code != "", "has_state", state != "")
		http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
		return
	}

	frontendURL, err := h.manager.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.logger.Error("Failed to handle OAuth callback", "error", err)

		errorMsg := "Failed to complete authorization"
		if err.Error() == "invalid or expired state" {
			errorMsg = "Invalid or expired authorization request. Please try again."
		}
		http.Error(w, errorMsg, http.StatusBadRequest)
		return
	}

	h.logger.Info("OAuth flow completed")

	if frontendURL != "" {
		http.Redirect(w, r, frontendURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Signed in</title></head>
<body>
	<h1>Signed in to OSM</h1>
	<p>Your section data is now syncing in the background.</p>
	<p>You can close this window and return to the app.</p>
</body>
</html>`)
}
