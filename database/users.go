package database

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
)

func (q *Queries) CreateUser(ctx context.Context, u *model.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.CreatedAt = time.Now().UTC()

	u.ID, err = q.insert(ctx, `
		INSERT INTO user (username, password_hash, is_admin, created_at)
		VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.IsAdmin, u.CreatedAt,
	)
	return err
}

func (q *Queries) GetUser(ctx context.Context, username string) (*model.User, error) {
	u := &model.User{}
	err := q.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at
		FROM user
		WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// EnsureAdmin creates the admin account if no user with that name exists.
func (q *Queries) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := q.GetUser(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}
	log.Infof("creating admin account %q", username)
	return q.CreateUser(ctx, &model.User{Username: username, IsAdmin: true}, password)
}

func (q *Queries) StoreToken(ctx context.Context, username, tokenID, refreshTokenID string, expiration time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO token (username, token_id, refresh_token_id, expiration)
		VALUES (?, ?, ?, ?)`,
		username, tokenID, refreshTokenID, expiration,
	)
	return err
}

// ConsumeToken deletes a stored refresh token and returns its expiration.
func (q *Queries) ConsumeToken(ctx context.Context, username, tokenID, refreshTokenID string) (time.Time, error) {
	var rowID int64
	var expiration time.Time
	err := q.db.QueryRowContext(ctx, `
		SELECT rowid, expiration
		FROM token
		WHERE username = ?
			AND token_id = ?
			AND refresh_token_id = ?`,
		username, tokenID, refreshTokenID,
	).Scan(&rowID, &expiration)
	if err != nil {
		return time.Time{}, notFound(err)
	}

	_, err = q.db.ExecContext(ctx, `DELETE FROM token WHERE rowid = ?`, rowID)
	if err != nil {
		return time.Time{}, err
	}
	return expiration, nil
}
