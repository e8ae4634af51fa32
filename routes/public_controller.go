package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/httpx"
	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/routes/middlewares"
	"github.com/mbolis/quick-forms/schema"
)

// multipart parts above this size spill to temporary files
const maxMemory = 8 << 20

type formView struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	SubmissionID *int64         `json:"submission_id,omitempty"`
	Schema       *schema.Schema `json:"schema"`
}

func PublicListForms(app app.App) http.HandlerFunc {
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

func PublicGetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, ok := urlID(w, r)
		if !ok {
			return
		}

		q := app.Queries()
		form, err := q.GetForm(r.Context(), formID)
		if err != nil {
			httpx.LogError(w, "db.get_form", err, formID)
			return
		}

		view := formView{ID: form.ID, Name: form.Name, Schema: schema.Build(form.Fields)}
		if owner := requestOwner(app, r); owner.Valid() {
			subID, err := q.FindSubmission(r.Context(), formID, owner)
			switch {
			case err == nil:
				view.SubmissionID = &subID
			case !errors.Is(err, model.ErrNotFound):
				httpx.LogInternalError(w, "db.find_submission", err)
				return
			}
		}

		render.JSON(w, r, view)
	}
}

func PublicSubmit(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, ok := urlID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

		form, err := app.Queries().GetForm(r.Context(), formID)
		if err != nil {
			httpx.LogError(w, "db.get_form", err, formID)
			return
		}

		in, ok := parseInput(w, r)
		if !ok {
			return
		}

		owner := requestOwner(app, r)
		if !owner.Valid() {
			key, err := app.Sessions.Ensure(w, r)
			if err != nil {
				httpx.LogInternalError(w, "session.ensure", err)
				return
			}
			owner = model.SessionOwner(key)
		}

		sub, err := app.Submissions.Create(r.Context(), form, owner, in)
		var verrs schema.Errors
		switch {
		case errors.As(err, &verrs):
			httpx.LogInvalid(w, r, "submission.create.invalid", verrs)
			return
		case err != nil:
			httpx.LogError(w, "submission.create", err, formID)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": sub.ID,
		})
	}
}

func PublicGetSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := ownSubmission(app, w, r)
		if !ok {
			return
		}
		if err := app.Submissions.ResolveURLs(r.Context(), sub); err != nil {
			httpx.LogInternalError(w, "storage.resolve_urls", err)
			return
		}

		render.JSON(w, r, sub)
	}
}

// PublicEditSchema returns the form schema pre-filled with the values of
// the requester's submission.
func PublicEditSchema(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := ownSubmission(app, w, r)
		if !ok {
			return
		}

		form, err := app.Queries().GetForm(r.Context(), sub.FormID)
		if err != nil {
			httpx.LogError(w, "db.get_form", err, sub.FormID)
			return
		}
		if err := app.Submissions.ResolveURLs(r.Context(), sub); err != nil {
			httpx.LogInternalError(w, "storage.resolve_urls", err)
			return
		}

		render.JSON(w, r, formView{
			ID:           form.ID,
			Name:         form.Name,
			SubmissionID: &sub.ID,
			Schema:       schema.Build(form.Fields, schema.ForEdit(sub.Values)),
		})
	}
}

func PublicEditSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

		sub, ok := ownSubmission(app, w, r)
		if !ok {
			return
		}

		form, err := app.Queries().GetForm(r.Context(), sub.FormID)
		if err != nil {
			httpx.LogError(w, "db.get_form", err, sub.FormID)
			return
		}

		in, ok := parseInput(w, r)
		if !ok {
			return
		}

		err = app.Submissions.Update(r.Context(), form, sub, in)
		var verrs schema.Errors
		switch {
		case errors.As(err, &verrs):
			httpx.LogInvalid(w, r, "submission.update.invalid", verrs)
			return
		case err != nil:
			httpx.LogError(w, "submission.update", err, sub.ID)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// requestOwner identifies the requester by user id when authenticated,
// by session key otherwise. The result is invalid for a first-time
// anonymous visitor.
func requestOwner(app app.App, r *http.Request) model.Owner {
	if uid, ok := middlewares.UserID(r); ok {
		return model.UserOwner(uid)
	}
	if key, ok := app.Sessions.Key(r); ok {
		return model.SessionOwner(key)
	}
	return model.Owner{}
}

// ownSubmission loads the submission named in the URL. Submissions of
// other owners are reported as not found.
func ownSubmission(app app.App, w http.ResponseWriter, r *http.Request) (*model.Submission, bool) {
	subID, ok := urlID(w, r)
	if !ok {
		return nil, false
	}

	sub, err := app.Queries().GetSubmission(r.Context(), subID)
	if err != nil {
		httpx.LogError(w, "db.get_submission", err, subID)
		return nil, false
	}

	owner := requestOwner(app, r)
	if !owner.Valid() || !owner.Owns(sub) {
		httpx.LogNotFound(w, "submission.not_owner", subID)
		return nil, false
	}
	return sub, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (schema.Input, bool) {
	in, err := schema.FromRequest(r, maxMemory)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.LogStatus(w, http.StatusRequestEntityTooLarge, log.DebugLevel, "request.too_large")
		} else {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_form")
		}
		return schema.Input{}, false
	}
	return in, true
}
