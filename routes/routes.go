package routes

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/routes/middlewares"
	"github.com/mbolis/quick-forms/storage"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(
		middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.Logger, NoColor: true}),
		middleware.Recoverer,
	)

	root.Mount("/api", apiRouter(app))

	if fs, ok := app.Store.(*storage.FS); ok {
		prefix := "/" + strings.Trim(app.Config.Storage.MediaURL, "/")
		if prefix != "/" {
			root.Mount(prefix, serveMediaFiles(prefix, fs.Root()))
		}
	}

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Group(func(r chi.Router) {
		r.Use(middlewares.Identity(app))

		r.Get("/forms", PublicListForms(app))
		r.Get(`/forms/{id:^\d+$}`, PublicGetForm(app))
		r.Post(`/forms/{id:^\d+$}/submissions`, PublicSubmit(app))

		r.Get(`/submissions/{id:^\d+$}`, PublicGetSubmission(app))
		r.Get(`/submissions/{id:^\d+$}/edit`, PublicEditSchema(app))
		r.Put(`/submissions/{id:^\d+$}`, PublicEditSubmission(app))
	})

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app))

		// CRUD form
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get(`/forms/{id:^\d+$}`, GetForm(app))
		r.Put(`/forms/{id:^\d+$}`, UpdateForm(app))
		r.Delete(`/forms/{id:^\d+$}`, DeleteForm(app))

		r.Get(`/forms/{id:^\d+$}/submissions`, ListSubmissions(app))
		r.Get(`/submissions/{id:^\d+$}`, GetSubmission(app))
		r.Delete(`/submissions/{id:^\d+$}`, DeleteSubmission(app))
	})

	api.Post("/register", Register(app))
	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}

// serveMediaFiles serves stored objects by key. Directories are never
// listed.
func serveMediaFiles(prefix, dir string) http.Handler {
	files := http.FileServer(mediaFS{http.Dir(dir)})
	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}))
}

type mediaFS struct {
	http.FileSystem
}

func (fs mediaFS) Open(name string) (http.File, error) {
	f, err := fs.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
