package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/database"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
)

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		for i := range form.Fields {
			form.Fields[i].ID = 0
		}

		if errs := validateForm(app, &form); errs != nil {
			httpx.LogInvalid(w, r, "request.validate_form", errs)
			return
		}

		err = app.InTx(r.Context(), func(q *database.Queries) error {
			return q.CreateForm(r.Context(), &form)
		})
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form", err)
			return
		}

		w.Header().Set("location", "/api/admin/forms/"+strconv.FormatInt(form.ID, 10))
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": form.ID,
		})
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forms, err := app.Queries().ListForms(r.Context())
		if err != nil {
			httpx.LogInternalError(w, "db.get_forms", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, ok := urlID(w, r)
		if !ok {
			return
		}

		form, err := app.Queries().GetForm(r.Context(), formID)
		if err != nil {
			httpx.LogError(w, "db.get_form", err, formID)
			return
		}

		render.JSON(w, r, form)
	}
}

func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, ok := urlID(w, r)
		if !ok {
			return
		}

		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		form.ID = formID

		if errs := validateForm(app, &form); errs != nil {
			httpx.LogInvalid(w, r, "request.validate_form", errs)
			return
		}

		var keys []string
		err = app.InTx(r.Context(), func(q *database.Queries) (err error) {
			keys, err = q.UpdateForm(r.Context(), &form)
			return
		})
		if err != nil {
			httpx.LogError(w, "db.update_form", err, formID)
			return
		}
		app.Submissions.Purge(r.Context(), keys)

		render.JSON(w, r, form)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, ok := urlID(w, r)
		if !ok {
			return
		}

		var keys []string
		err := app.InTx(r.Context(), func(q *database.Queries) (err error) {
			keys, err = q.DeleteForm(r.Context(), formID)
			return
		})
		if err != nil {
			httpx.LogError(w, "db.delete_form", err, formID)
			return
		}
		app.Submissions.Purge(r.Context(), keys)

		w.WriteHeader(http.StatusNoContent)
	}
}

// ListSubmissions is the reporting feed: every submission of a form with
// its values and downloadable attachments.
func ListSubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, ok := urlID(w, r)
		if !ok {
			return
		}

		q := app.Queries()
		if _, err := q.GetForm(r.Context(), formID); err != nil {
			httpx.LogError(w, "db.get_form", err, formID)
			return
		}

		subs, err := q.ListSubmissions(r.Context(), formID)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submissions", err)
			return
		}
		for _, s := range subs {
			if err := app.Submissions.ResolveURLs(r.Context(), s); err != nil {
				httpx.LogInternalError(w, "storage.resolve_urls", err)
				return
			}
		}

		render.JSON(w, r, map[string]any{
			"submissions": subs,
		})
	}
}

func GetSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID, ok := urlID(w, r)
		if !ok {
			return
		}

		sub, err := app.Queries().GetSubmission(r.Context(), subID)
		if err != nil {
			httpx.LogError(w, "db.get_submission", err, subID)
			return
		}
		if err := app.Submissions.ResolveURLs(r.Context(), sub); err != nil {
			httpx.LogInternalError(w, "storage.resolve_urls", err)
			return
		}

		render.JSON(w, r, sub)
	}
}

func DeleteSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID, ok := urlID(w, r)
		if !ok {
			return
		}

		var keys []string
		err := app.InTx(r.Context(), func(q *database.Queries) (err error) {
			keys, err = q.DeleteSubmission(r.Context(), subID)
			return
		})
		if err != nil {
			httpx.LogError(w, "db.delete_submission", err, subID)
			return
		}
		app.Submissions.Purge(r.Context(), keys)

		w.WriteHeader(http.StatusNoContent)
	}
}

func urlID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
		return 0, false
	}
	return id, true
}
