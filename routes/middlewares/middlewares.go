package middlewares

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
)

// Identity attaches the claims of a valid bearer token to the request
// context. The token is read from the authorization header or, failing
// that, from the access_token cookie; an expired cookie is renewed with
// the refresh_token cookie. Requests without a valid token go through
// unauthenticated.
func Identity(app app.App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := bearerToken(r)
			if token == "" && !fromCookie {
				next.ServeHTTP(w, r)
				return
			}

			claims := verify(app, r, token)
			if claims == nil && fromCookie {
				claims = renew(app, w, r)
			}
			if claims == nil {
				log.Debug("auth.identity.invalid_token")
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), oauth.ClaimsContext, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Admin middleware to check for the 'admin' role in an OAuth token.
func Admin(app app.App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return chi.Chain(Identity(app), admin).Handler(next)
	}
}

func admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := Claims(r)
		if claims == nil {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "auth.admin.no_token")
			return
		}
		if !HasRole(claims, httpx.RoleAdmin) {
			httpx.LogStatus(w, http.StatusForbidden, log.DebugLevel, "auth.admin.forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Claims returns the token claims of the request, or nil when anonymous.
func Claims(r *http.Request) map[string]string {
	claims, _ := r.Context().Value(oauth.ClaimsContext).(map[string]string)
	return claims
}

// UserID returns the id of the authenticated user, if any.
func UserID(r *http.Request) (int64, bool) {
	claims := Claims(r)
	if claims == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(claims[httpx.ClaimUserID], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func HasRole(claims map[string]string, role string) bool {
	for _, r := range strings.Split(claims[httpx.ClaimRoles], ",") {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}

// bearerToken reports the token and whether it came from cookies. A
// request holding only a refresh_token cookie reports an empty token.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:]), false
	}
	if c, err := r.Cookie(httpx.AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	if c, err := r.Cookie(httpx.RefreshTokenCookie); err == nil && c.Value != "" {
		return "", true
	}
	return "", false
}

// verify runs the token through oauth.Authorize and captures its claims.
func verify(app app.App, r *http.Request, token string) map[string]string {
	if token == "" {
		return nil
	}

	var claims map[string]string
	probe := oauth.Authorize(app.TokenSecret, nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		claims = Claims(r)
	}))

	req := r.Clone(r.Context())
	req.Header.Set("authorization", "Bearer "+token)
	probe.ServeHTTP(httpx.NewResponseBuffer(), req)
	return claims
}

func renew(app app.App, w http.ResponseWriter, r *http.Request) map[string]string {
	refresh, err := r.Cookie(httpx.RefreshTokenCookie)
	if err != nil || refresh.Value == "" {
		return nil
	}

	resp := httpx.RefreshGrant(r.Context(), app.BearerServer, refresh.Value)
	if resp.Status() != http.StatusOK {
		log.Debugf("auth.identity.refresh: status %d", resp.Status())
		httpx.ClearTokenCookies(w)
		return nil
	}
	tok, err := httpx.DecodeToken(resp)
	if err != nil {
		log.Errorf("auth.identity.refresh.decode: %s", err)
		return nil
	}

	httpx.SetTokenCookies(w, tok, app.SecureCookies)
	return verify(app, r, tok.Token)
}
