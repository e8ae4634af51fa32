// Package session attributes anonymous submissions to a browser.
//
// The session key is a random UUID carried in a signed cookie. It is
// issued on the first anonymous submission and reused by every later
// request from the same browser.
package session

import (
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
)

const (
	CookieName = "qforms_session"
	claimKey   = "sid"
	cookieAge  = 365 * 24 * time.Hour
)

type Manager struct {
	auth   *jwtauth.JWTAuth
	secure bool
}

func NewManager(secret string, secure bool) *Manager {
	return &Manager{
		auth:   jwtauth.New("HS256", []byte(secret), nil),
		secure: secure,
	}
}

// Key returns the session key of the request, if it carries a valid
// session cookie.
func (m *Manager) Key(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	token, err := m.auth.Decode(c.Value)
	if err != nil || token == nil {
		return "", false
	}
	raw, ok := token.Get(claimKey)
	if !ok {
		return "", false
	}
	key, ok := raw.(string)
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(key); err != nil {
		return "", false
	}
	return key, true
}

// Ensure returns the session key of the request, issuing a new session
// cookie on w when there is none.
func (m *Manager) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if key, ok := m.Key(r); ok {
		return key, nil
	}

	key := uuid.NewString()
	_, signed, err := m.auth.Encode(map[string]any{claimKey: key})
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(cookieAge / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return key, nil
}
