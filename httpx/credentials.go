package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/oauth"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbolis/quick-forms/config"
	"github.com/mbolis/quick-forms/database"
	"github.com/mbolis/quick-forms/model"
)

// refresh tokens stay valid for a year
const refreshTTL = 8760 * time.Hour

var errRefresh = errors.New("could not refresh")

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	ClaimRoles  = "roles"
	ClaimUserID = "uid"
)

type credentialsVerifier struct {
	db *database.DB
}

func CredentialsVerifier(db *database.DB) oauth.CredentialsVerifier {
	return &credentialsVerifier{db}
}

func NewBearerServer(db *database.DB, cfg config.Config) *oauth.BearerServer {
	return oauth.NewBearerServer(cfg.TokenSecret, cfg.TokenTTL, CredentialsVerifier(db), nil)
}

func (cs *credentialsVerifier) ValidateUser(username string, password string, scope string, r *http.Request) error {
	u, err := cs.db.Queries().GetUser(r.Context(), username)
	if err != nil {
		return err
	}
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password))
}

func (cs *credentialsVerifier) StoreTokenID(tokenType oauth.TokenType, credential string, tokenID string, refreshTokenID string) error {
	return cs.db.Queries().StoreToken(context.Background(), credential, tokenID, refreshTokenID, time.Now().Add(refreshTTL))
}

func (cs *credentialsVerifier) ValidateTokenID(tokenType oauth.TokenType, credential string, tokenID string, refreshTokenID string) error {
	expiration, err := cs.db.Queries().ConsumeToken(context.Background(), credential, tokenID, refreshTokenID)
	if errors.Is(err, model.ErrNotFound) {
		return errRefresh
	}
	if err != nil {
		return err
	}
	if expiration.Before(time.Now()) {
		return errRefresh
	}
	return nil
}

func (cs *credentialsVerifier) AddClaims(tokenType oauth.TokenType, credential string, tokenID string, scope string, r *http.Request) (map[string]string, error) {
	u, err := cs.db.Queries().GetUser(r.Context(), credential)
	if err != nil {
		return nil, err
	}
	roles := RoleUser
	if u.IsAdmin {
		roles = RoleAdmin + "," + RoleUser
	}
	return map[string]string{
		ClaimRoles:  roles,
		ClaimUserID: strconv.FormatInt(u.ID, 10),
	}, nil
}

func (*credentialsVerifier) AddProperties(tokenType oauth.TokenType, credential string, tokenID string, scope string, r *http.Request) (map[string]string, error) {
	return map[string]string{}, nil
}

func (*credentialsVerifier) ValidateClient(clientID string, clientSecret string, scope string, r *http.Request) error {
	return errors.New("not supported")
}
