package app

import (
	"context"

	"github.com/go-chi/oauth"
	"github.com/go-playground/validator/v10"

	"github.com/mbolis/quick-forms/config"
	"github.com/mbolis/quick-forms/database"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/session"
	"github.com/mbolis/quick-forms/storage"
	"github.com/mbolis/quick-forms/submission"
)

type App struct {
	*database.DB
	*oauth.BearerServer
	config.Config

	Store       storage.Storage
	Sessions    *session.Manager
	Submissions *submission.Service
	Validate    *validator.Validate
}

func New(cfg config.Config, db *database.DB, store storage.Storage) App {
	inTx := func(ctx context.Context, fn func(submission.Repo) error) error {
		return db.InTx(ctx, func(q *database.Queries) error {
			return fn(q)
		})
	}

	return App{
		DB:           db,
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
		Store:        store,
		Sessions:     session.NewManager(cfg.SessionSecret, cfg.SecureCookies),
		Submissions:  submission.NewService(inTx, store),
		Validate:     validator.New(),
	}
}
