package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/config"
	"github.com/mbolis/quick-forms/database"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/routes"
	"github.com/mbolis/quick-forms/storage"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.AdminUser != "" {
		err = db.Queries().EnsureAdmin(ctx, cfg.AdminUser, cfg.AdminPassword)
		if err != nil {
			log.Fatal("main.db.admin:", err)
		}
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("main.storage:", err)
	}

	handler := routes.Wire(app.New(cfg, db, store))

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  time.Minute,
		WriteTimeout: 2 * time.Minute,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
