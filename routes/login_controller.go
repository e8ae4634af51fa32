package routes

import (
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
)

var reRefresh = regexp.MustCompile(`(?i)^refresh\s+(.*)`)

type registration struct {
	Username string `json:"username" validate:"required,min=3,max=150"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func Register(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg := registration{}
		err := render.DecodeJSON(r.Body, &reg)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		if errs := validateStruct(app, &reg); errs != nil {
			httpx.LogInvalid(w, r, "request.validate_registration", errs)
			return
		}

		user := model.User{Username: reg.Username}
		err = app.Queries().CreateUser(r.Context(), &user, reg.Password)
		if err != nil {
			httpx.LogError(w, "db.insert_user", err, reg.Username)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, user)
	}
}

// Login exchanges HTTP basic credentials for a token pair, which is
// returned in the body and stored in cookies.
func Login(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "login.basic_auth")
			return
		}

		resp := httpx.Grant(r.Context(), app.BearerServer, url.Values{
			"grant_type": {"password"},
			"username":   {user},
			"password":   {pass},
		})
		flushToken(app, w, resp)
	}
}

// Refresh accepts the refresh token as "Authorization: Refresh <token>"
// or through the refresh_token cookie.
func Refresh(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var token string
		if match := reRefresh.FindStringSubmatch(r.Header.Get("authorization")); len(match) > 0 {
			token = match[1]
		} else if c, err := r.Cookie(httpx.RefreshTokenCookie); err == nil {
			token = c.Value
		}
		if token == "" {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "refresh.token")
			return
		}

		resp := httpx.RefreshGrant(r.Context(), app.BearerServer, token)
		flushToken(app, w, resp)
	}
}

func flushToken(app app.App, w http.ResponseWriter, resp httpx.ResponseBuffer) {
	if resp.Status() == http.StatusOK {
		tok, err := httpx.DecodeToken(resp)
		if err != nil {
			httpx.LogInternalError(w, "token.decode", err)
			return
		}
		httpx.SetTokenCookies(w, tok, app.SecureCookies)
	} else {
		log.Debugf("token.grant: status %d", resp.Status())
	}

	if err := resp.Flush(w); err != nil {
		log.Errorf("token.flush: %s", err)
	}
}
