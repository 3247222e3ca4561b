package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"tracspend/internal/apperr"
	"tracspend/internal/auth"
	"tracspend/internal/models"
	"tracspend/internal/storage"

	"github.com/google/uuid"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// IdentityContextKey is the context key for the authenticated identity.
	IdentityContextKey contextKey = "identity"
	// RequestIDContextKey is the context key for the request correlation id.
	RequestIDContextKey contextKey = "request_id"
	// RequestIDHeader carries the correlation id in requests and responses.
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 1 << 20
)

// Config lists the collaborators the handlers need.
type Config struct {
	Store      storage.Store
	Auth       *auth.Authenticator
	Sessions   auth.SessionStrategy
	States     *auth.StateKeeper
	Tokens     *auth.TokenIssuer
	Debug      bool   // expose internal error detail to clients
	CORSOrigin string // allowed cross-origin caller, empty disables CORS
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store      storage.Store
	auth       *auth.Authenticator
	sessions   auth.SessionStrategy
	states     *auth.StateKeeper
	tokens     *auth.TokenIssuer
	debug      bool
	corsOrigin string
	now        func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg Config) *Handlers {
	return &Handlers{
		store:      cfg.Store,
		auth:       cfg.Auth,
		sessions:   cfg.Sessions,
		states:     cfg.States,
		tokens:     cfg.Tokens,
		debug:      cfg.Debug,
		corsOrigin: strings.TrimRight(cfg.CORSOrigin, "/"),
		now:        time.Now,
	}
}

// RegisterRoutes registers the API endpoints on mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth/providers", h.Providers)
	mux.HandleFunc("GET /api/auth/signin/{provider}", h.SignIn)
	mux.HandleFunc("GET /api/auth/callback/{provider}", h.Callback)
	mux.HandleFunc("/api/auth/session", h.Session)
	mux.HandleFunc("/api/auth/signout", h.SignOut)

	mux.Handle("/api/expenses", h.RequireIdentity(http.HandlerFunc(h.Expenses)))
	mux.Handle("/api/expenses/reset", h.RequireIdentity(http.HandlerFunc(h.Reset)))
	mux.Handle("/api/expenses/stats", h.RequireIdentity(http.HandlerFunc(h.Statistics)))

	mux.HandleFunc("/api/health", h.Health)
}

// Wrap applies the cross-cutting middleware to the whole router.
func (h *Handlers) Wrap(next http.Handler) http.Handler {
	return LogRequests(h.CORS(next))
}

// GetIdentityFromContext retrieves the authenticated identity from request context.
func GetIdentityFromContext(r *http.Request) (models.Identity, bool) {
	identity, ok := r.Context().Value(IdentityContextKey).(models.Identity)
	return identity, ok
}

// RequestIDFromContext returns the correlation id attached by LogRequests.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// RequireIdentity wraps handlers to require an authenticated caller. A bearer
// identity token is checked first; without an Authorization header a valid
// cookie session is accepted.
func (h *Handlers) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.identify(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handlers) identify(r *http.Request) (models.Identity, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := bearerToken(header)
		if !ok {
			return models.Identity{}, apperr.New(apperr.CodeUnauthorized, "Authorization header must use the Bearer scheme")
		}
		identity, err := h.tokens.Verify(token)
		if err != nil {
			return models.Identity{}, apperr.Wrap(apperr.CodeUnauthorized, "Invalid or expired identity token", err)
		}
		return identity, nil
	}
	if h.sessions != nil {
		if identity, ok := h.sessions.Current(r); ok {
			return identity, nil
		}
	}
	return models.Identity{}, apperr.New(apperr.CodeUnauthorized, "Authentication required")
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CORS answers preflight requests and tags responses for the configured
// origin. It is a pass-through when no origin is configured.
func (h *Handlers) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.corsOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}
		origin := r.Header.Get("Origin")
		if origin != "" && (h.corsOrigin == "*" || origin == h.corsOrigin) {
			w.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LogRequests logs one line per request and echoes a correlation id.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Printf("%s %s %d %s request_id=%s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond), id)
	})
}

// errorResponse is the failure envelope of every JSON endpoint.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeError renders err as the failure envelope. Internal errors are logged
// and their detail is only exposed in debug mode.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	resp := errorResponse{Error: string(code), Message: "Internal server error"}

	var appErr *apperr.Error
	if errors.As(err, &appErr) && code != apperr.CodeInternal {
		resp.Message = appErr.Message
	}
	if code == apperr.CodeInternal {
		log.Printf("%s %s failed: %v request_id=%s", r.Method, r.URL.Path, err, RequestIDFromContext(r.Context()))
		if h.debug {
			resp.Detail = err.Error()
		}
	}
	if code == apperr.CodeMethodNotAllowed {
		w.Header().Set("Allow", allowedMethods(r.URL.Path))
	}
	writeJSON(w, code.HTTPStatus(), resp)
}

func allowedMethods(path string) string {
	switch path {
	case "/api/expenses":
		return "GET, POST, PUT, DELETE"
	case "/api/expenses/stats", "/api/health", "/api/auth/session":
		return "GET"
	default:
		return "POST"
	}
}

func methodNotAllowed() error {
	return apperr.New(apperr.CodeMethodNotAllowed, "Method not allowed")
}
