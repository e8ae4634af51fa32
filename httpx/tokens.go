package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/oauth"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Grant runs an OAuth2 token request against the bearer server and
// buffers its response.
func Grant(ctx context.Context, bs *oauth.BearerServer, form url.Values) ResponseBuffer {
	body := form.Encode()
	resp := NewResponseBuffer()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", strings.NewReader(body))
	if err != nil {
		resp.WriteHeader(http.StatusInternalServerError)
		return resp
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("content-length", strconv.Itoa(len(body)))

	bs.UserCredentials(resp, req)
	return resp
}

// RefreshGrant exchanges a refresh token for a new token pair.
func RefreshGrant(ctx context.Context, bs *oauth.BearerServer, refreshToken string) ResponseBuffer {
	return Grant(ctx, bs, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func DecodeToken(resp ResponseBuffer) (*oauth.TokenResponse, error) {
	tok := &oauth.TokenResponse{}
	if err := json.Unmarshal(resp.Body(), tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func SetTokenCookies(w http.ResponseWriter, tok *oauth.TokenResponse, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     AccessTokenCookie,
		Value:    tok.Token,
		MaxAge:   int(tok.ExpiresIn),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     RefreshTokenCookie,
		Value:    tok.RefreshToken,
		MaxAge:   int(refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Path:   "/",
			Name:   name,
			Value:  "",
			MaxAge: -1,
		})
	}
}
