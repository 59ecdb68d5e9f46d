package api

import (
	"net/http"
	"strings"

	"github.com/antonets/toolbridge/internal/bridge"
	"github.com/antonets/toolbridge/internal/session"
)

// AccountVerifier validates account-mode bearer credentials. Account mode
// is defined but optional: with a nil verifier every bearer-authenticated
// memory request is refused and clients degrade to their no-op path.
type AccountVerifier interface {
	Verify(token string) (bridge.User, bool)
}

// StaticAccounts is an AccountVerifier over a fixed token->user table.
type StaticAccounts map[string]bridge.User

func (a StaticAccounts) Verify(token string) (bridge.User, bool) {
	u, ok := a[token]
	return u, ok
}

const (
	scopeSession = "session:"
	scopeAccount = "account:"
)

// resolveScope maps a memory request to its storage scope: the account of
// a valid bearer credential, else the anonymous session identity. When no
// session id accompanies the request one is minted and mirrored into a
// first-party cookie so later plain page loads stay attributable.
func resolveScope(w http.ResponseWriter, r *http.Request, accounts AccountVerifier) (string, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		token := auth[len(bearerPrefix):]
		if accounts != nil {
			if u, ok := accounts.Verify(token); ok {
				return scopeAccount + u.ID, true
			}
		}
		httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer credential")
		return "", false
	}

	return scopeSession + ensureSession(w, r), true
}

// ensureSession returns the request's session id, minting one (and setting
// the mirror cookie) when neither the header nor the cookie carries one.
// Cookie write failures are non-fatal; the id still serves this request.
func ensureSession(w http.ResponseWriter, r *http.Request) string {
	if id := r.Header.Get(session.HeaderName); id != "" {
		return id
	}
	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := session.NewToken()
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   session.CookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
