package auth

import (
	"crypto/subtle"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tracspend/internal/config"
	"tracspend/internal/models"

	"github.com/gorilla/sessions"
)

const (
	// SessionCookieName is the cookie carrying the signed identity.
	SessionCookieName = "tracspend_session"
	// StateCookieName is the cookie carrying the pending OAuth state.
	StateCookieName = "tracspend_oauth_state"
	// SessionDuration is how long a cookie session lasts (30 days).
	SessionDuration = 30 * 24 * time.Hour
	// StateTTL bounds the provider round trip.
	StateTTL = 10 * time.Minute

	identityKey = "identity"
	stateKey    = "state"
	providerKey = "provider"
	issuedKey   = "issued"
)

// ErrStateMismatch is returned when the callback state does not match the
// value issued at sign-in.
var ErrStateMismatch = errors.New("auth: oauth state mismatch")

func init() {
	gob.Register(models.Identity{})
}

// NewCookieStore returns the signed and encrypted cookie store shared by the
// session and state cookies.
func NewCookieStore(keys Keys, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(keys.CookieHash, keys.CookieBlock)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(SessionDuration.Seconds()))
	return store
}

// SessionStrategy establishes and reads the session that follows a
// successful sign-in. A deployment uses exactly one strategy.
type SessionStrategy interface {
	// Establish persists identity and returns where the browser goes next.
	Establish(w http.ResponseWriter, r *http.Request, identity models.Identity) (string, error)
	// Current returns the identity carried by the request, if any.
	Current(r *http.Request) (models.Identity, bool)
	// Clear ends the session.
	Clear(w http.ResponseWriter, r *http.Request) error
}

// NewSessionStrategy returns the strategy named by mode.
func NewSessionStrategy(mode string, store sessions.Store, tokens *TokenIssuer) (SessionStrategy, error) {
	switch mode {
	case config.SessionModeCookie:
		return &CookieSession{store: store}, nil
	case config.SessionModeQuery:
		return &QuerySession{tokens: tokens}, nil
	default:
		return nil, fmt.Errorf("auth: unknown session mode %q", mode)
	}
}

// CookieSession keeps the identity in a signed HttpOnly cookie.
type CookieSession struct {
	store sessions.Store
}

// Establish stores identity in the session cookie and sends the browser to /.
func (c *CookieSession) Establish(w http.ResponseWriter, r *http.Request, identity models.Identity) (string, error) {
	session, err := c.store.New(r, SessionCookieName)
	if err != nil && session == nil {
		return "", err
	}
	session.Values[identityKey] = identity
	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return "/", nil
}

// Current returns the identity stored in the session cookie.
func (c *CookieSession) Current(r *http.Request) (models.Identity, bool) {
	session, err := c.store.Get(r, SessionCookieName)
	if err != nil {
		return models.Identity{}, false
	}
	identity, ok := session.Values[identityKey].(models.Identity)
	if !ok || !identity.Valid() {
		return models.Identity{}, false
	}
	return identity, true
}

// Clear expires the session cookie.
func (c *CookieSession) Clear(w http.ResponseWriter, r *http.Request) error {
	session, err := c.store.Get(r, SessionCookieName)
	if err != nil && session == nil {
		return err
	}
	delete(session.Values, identityKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// QuerySession hands the identity to the browser in the redirect query. The
// client keeps it; the server holds nothing. An identity token rides along so
// the client can call the expense API.
type QuerySession struct {
	tokens *TokenIssuer
}

// Establish encodes identity into /?auth=success&user=<json>&token=<jwt>.
func (q *QuerySession) Establish(_ http.ResponseWriter, _ *http.Request, identity models.Identity) (string, error) {
	encoded, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}
	query := url.Values{}
	query.Set("auth", "success")
	query.Set("user", string(encoded))
	if q.tokens != nil {
		token, _, err := q.tokens.Issue(identity)
		if err != nil {
			return "", err
		}
		query.Set("token", token)
	}
	return "/?" + query.Encode(), nil
}

// Current always reports no session; query sessions live in the client.
func (q *QuerySession) Current(*http.Request) (models.Identity, bool) {
	return models.Identity{}, false
}

// Clear is a no-op; the client discards its stored copy.
func (q *QuerySession) Clear(http.ResponseWriter, *http.Request) error {
	return nil
}

// StateKeeper issues the OAuth state at sign-in and checks it at callback,
// keeping it in a short-lived signed cookie for the round trip.
type StateKeeper struct {
	store sessions.Store
	now   func() time.Time
}

// NewStateKeeper returns a keeper backed by store.
func NewStateKeeper(store sessions.Store) *StateKeeper {
	return &StateKeeper{store: store, now: time.Now}
}

// Issue generates a fresh state for provider and sets it in the state cookie.
func (k *StateKeeper) Issue(w http.ResponseWriter, r *http.Request, provider models.Provider) (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}
	session, err := k.store.New(r, StateCookieName)
	if err != nil && session == nil {
		return "", err
	}
	opts := *session.Options
	opts.MaxAge = int(StateTTL.Seconds())
	session.Options = &opts
	session.Values[stateKey] = state
	session.Values[providerKey] = string(provider)
	session.Values[issuedKey] = k.now().Unix()
	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}
	return state, nil
}

// Verify checks state against the issued value for provider and clears the
// state cookie whatever the outcome, so a state is usable once.
func (k *StateKeeper) Verify(w http.ResponseWriter, r *http.Request, provider models.Provider, state string) error {
	session, err := k.store.Get(r, StateCookieName)
	if err != nil || session == nil {
		return fmt.Errorf("%w: unreadable state cookie", ErrStateMismatch)
	}
	issuedState, _ := session.Values[stateKey].(string)
	issuedProvider, _ := session.Values[providerKey].(string)
	issuedAt, _ := session.Values[issuedKey].(int64)

	opts := *session.Options
	opts.MaxAge = -1
	session.Options = &opts
	for key := range session.Values {
		delete(session.Values, key)
	}
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}

	switch {
	case issuedState == "" || state == "":
		return fmt.Errorf("%w: no state", ErrStateMismatch)
	case subtle.ConstantTimeCompare([]byte(issuedState), []byte(state)) != 1:
		return fmt.Errorf("%w: value differs", ErrStateMismatch)
	case issuedProvider != string(provider):
		return fmt.Errorf("%w: issued for %q", ErrStateMismatch, issuedProvider)
	case k.now().Sub(time.Unix(issuedAt, 0)) > StateTTL:
		return fmt.Errorf("%w: expired", ErrStateMismatch)
	}
	return nil
}
