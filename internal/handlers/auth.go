package handlers

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"tracspend/internal/apperr"
	"tracspend/internal/auth"
	"tracspend/internal/models"
)

// authFailedRedirect is the only failure detail a browser ever sees from the
// sign-in flow.
const authFailedRedirect = "/?error=AuthenticationFailed"

// Providers lists the sign-in providers this deployment accepts.
func (h *Handlers) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    h.auth.Providers(),
	})
}

// SignIn starts the authorization-code flow for the provider in the path.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	provider, err := h.auth.Provider(r.PathValue("provider"))
	if err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.CodeNotFound, "Unknown sign-in provider", err))
		return
	}

	state, err := h.states.Issue(w, r, provider.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	target, err := h.auth.AuthorizationURL(string(provider.ID), state)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes sign-in: it checks the code and state, exchanges the
// code for an identity and establishes the session.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	provider, err := h.auth.Provider(r.PathValue("provider"))
	if err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.CodeNotFound, "Unknown sign-in provider", err))
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		if providerErr := query.Get("error"); providerErr != "" {
			log.Printf("%s callback returned error %q: %s", provider.Name, providerErr, query.Get("error_description"))
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(apperr.CodeMissingAuthorizationCode),
			Message: "Missing code parameter in " + provider.Name + " callback",
		})
		return
	}

	if err := h.states.Verify(w, r, provider.ID, query.Get("state")); err != nil {
		h.authFailed(w, r, provider, apperr.Wrap(apperr.CodeStateMismatch, "state check failed", err))
		return
	}

	identity, err := h.auth.Exchange(r.Context(), string(provider.ID), code)
	if err != nil {
		h.authFailed(w, r, provider, err)
		return
	}

	target, err := h.sessions.Establish(w, r, identity)
	if err != nil {
		h.authFailed(w, r, provider, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handlers) authFailed(w http.ResponseWriter, r *http.Request, provider auth.Provider, err error) {
	log.Printf("%s sign-in failed (%s): %v request_id=%s", provider.Name, apperr.CodeOf(err), err, RequestIDFromContext(r.Context()))
	http.Redirect(w, r, authFailedRedirect, http.StatusFound)
}

type sessionResponse struct {
	Success   bool            `json:"success"`
	Data      models.Identity `json:"data"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Session returns the identity of the cookie session together with a fresh
// identity token for API calls.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, r, methodNotAllowed())
		return
	}
	identity, ok := h.sessions.Current(r)
	if !ok {
		h.writeError(w, r, apperr.New(apperr.CodeUnauthorized, "No active session"))
		return
	}
	token, expiresAt, err := h.tokens.Issue(identity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Data:      identity,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// SignOut ends the session.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, r, methodNotAllowed())
		return
	}
	if err := h.sessions.Clear(w, r); err != nil {
		h.writeError(w, r, fmt.Errorf("clear session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
