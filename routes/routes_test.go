package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/config"
	"github.com/mbolis/quick-forms/database"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/session"
	"github.com/mbolis/quick-forms/storage"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	db      *database.DB
	media   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Config{
		TokenSecret:   "token-secret",
		TokenTTL:      time.Minute,
		SessionSecret: "session-secret",
		MaxUploadSize: 1 << 20,
		Storage: config.StorageConfig{
			Backend:  config.StorageFS,
			MediaDir: filepath.Join(dir, "media"),
			MediaURL: "/media/",
		},
	}

	db, err := database.OpenFile(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Queries().EnsureAdmin(context.Background(), "admin", "admin-password"))

	store, err := storage.New(context.Background(), cfg.Storage)
	require.NoError(t, err)

	return &testServer{
		t:       t,
		handler: Wire(app.New(cfg, db, store)),
		db:      db,
		media:   cfg.Storage.MediaDir,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(username, password string) string {
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.SetBasicAuth(username, password)
	w := s.do(req)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	body := map[string]any{}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &body))
	token, _ := body["access_token"].(string)
	require.NotEmpty(s.t, token)
	return token
}

func (s *testServer) jsonRequest(method, target, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("content-type", "application/json")
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
	return s.do(req)
}

func (s *testServer) createForm(token string, form model.Form) int64 {
	w := s.jsonRequest(http.MethodPost, "/api/admin/forms", token, form)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeID(s.t, w)
}

func (s *testServer) countRows(table string) int {
	var n int
	require.NoError(s.t, s.db.QueryRow(`SELECT count(*) FROM `+table).Scan(&n))
	return n
}

func decodeID(t *testing.T, w *httptest.ResponseRecorder) int64 {
	t.Helper()
	body := struct {
		ID int64 `json:"id"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotZero(t, body.ID)
	return body.ID
}

// pngHeader is the PNG file signature; image fields sniff for it.
const pngHeader = "\x89PNG\r\n\x1a\n"

type filePart struct {
	field, name, contentType, body string
}

func multipartRequest(t *testing.T, method, target string, values url.Values, files ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range values {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("content-type", mw.FormDataContentType())
	return req
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func signupForm(name string) model.Form {
	return model.Form{
		Name: name,
		Fields: []model.Field{
			{Label: "Name", Type: model.FieldText, Required: true, Order: 1},
			{Label: "Color", Type: model.FieldSingleChoice, Choices: []string{"Red", "Blue"}, Order: 2},
			{Label: "Tags", Type: model.FieldMultiChoice, Choices: []string{"A", "B", "C"}, Order: 3},
			{Label: "Photos", Type: model.FieldImage, Order: 4},
			{Label: "Internal", Type: model.FieldText, Hidden: true, Order: 5},
			{Label: "Source", Type: model.FieldText, Locked: true, Order: 6, Config: map[string]any{"default": "web"}},
		},
	}
}

func TestAdminRequiresAdminRole(t *testing.T) {
	s := newTestServer(t)

	w := s.jsonRequest(http.MethodGet, "/api/admin/forms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.jsonRequest(http.MethodPost, "/api/register", "", map[string]string{"username": "ada", "password": "lovelace1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	token := s.login("ada", "lovelace1")
	w = s.jsonRequest(http.MethodGet, "/api/admin/forms", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	token = s.login("admin", "admin-password")
	w = s.jsonRequest(http.MethodGet, "/api/admin/forms", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginSetsCookies(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.SetBasicAuth("admin", "admin-password")
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var access *http.Cookie
	names := []string{}
	for _, c := range w.Result().Cookies() {
		names = append(names, c.Name)
		if c.Name == "access_token" {
			access = c
		}
	}
	assert.ElementsMatch(t, []string{"access_token", "refresh_token"}, names)

	// the cookie alone authenticates
	require.NotNil(t, access)
	req = httptest.NewRequest(http.MethodGet, "/api/admin/forms", nil)
	req.AddCookie(access)
	assert.Equal(t, http.StatusOK, s.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.SetBasicAuth("admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.jsonRequest(http.MethodPost, "/api/register", "", map[string]string{"username": "ab", "password": "short"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := struct {
		Errors map[string][]string `json:"errors"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Errors, "username")
	assert.Contains(t, body.Errors, "password")

	w = s.jsonRequest(http.MethodPost, "/api/register", "", map[string]string{"username": "admin", "password": "long-enough"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFormValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.login("admin", "admin-password")

	w := s.jsonRequest(http.MethodPost, "/api/admin/forms", token, model.Form{
		Name: "Bad",
		Fields: []model.Field{
			{Label: "Q", Type: model.FieldText},
			{Label: "Q", Type: model.FieldSingleChoice},
			{Label: "R", Type: "stars"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	body := struct {
		Errors map[string][]string `json:"errors"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Errors, "fields[1].label")
	assert.Contains(t, body.Errors, "fields[1].choices")
	assert.Contains(t, body.Errors, "fields[2].type")
	assert.Zero(t, s.countRows("form"))
}

func TestFormLabelsAreTrimmed(t *testing.T) {
	s := newTestServer(t)
	token := s.login("admin", "admin-password")

	w := s.jsonRequest(http.MethodPost, "/api/admin/forms", token, model.Form{
		Name:   "Dup",
		Fields: []model.Field{{Label: "Name", Type: model.FieldText}, {Label: " Name ", Type: model.FieldText}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "fields[1].label")

	id := s.createForm(token, model.Form{
		Name:   "  Padded ",
		Fields: []model.Field{{Label: " Name ", Type: model.FieldText, Required: true}},
	})
	w = s.jsonRequest(http.MethodGet, fmt.Sprintf("/api/admin/forms/%d", id), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	form := model.Form{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &form))
	assert.Equal(t, "Padded", form.Name)
	require.Len(t, form.Fields, 1)
	assert.Equal(t, "Name", form.Fields[0].Label)

	req := multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", id), url.Values{"Name": {"Ada"}})
	w = s.do(req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestMediaDirectoriesAreNotListed(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin-password")
	formID := s.createForm(admin, signupForm("Signup"))

	req := multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", formID),
		url.Values{"Name": {"Ada"}},
		filePart{"Photos", "one.png", "image/png", pngHeader + "1"},
	)
	w := s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	subID := decodeID(t, w)

	got, err := s.db.Queries().GetSubmission(context.Background(), subID)
	require.NoError(t, err)
	var key string
	for _, v := range got.Values {
		if len(v.Files) > 0 {
			key = v.Files[0].Key
		}
	}
	require.NotEmpty(t, key)
	day := "/media/" + path.Dir(key)

	for _, target := range []string{day, day + "/", "/media/uploads/", "/media/"} {
		w = s.do(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.NotContains(t, w.Body.String(), path.Base(key), target)
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/media/"+key, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngHeader+"1", w.Body.String())
}

func TestAdminFormLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.login("admin", "admin-password")
	id := s.createForm(token, signupForm("Signup"))

	w := s.jsonRequest(http.MethodGet, fmt.Sprintf("/api/admin/forms/%d", id), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	form := model.Form{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &form))
	require.Len(t, form.Fields, 6)
	assert.Equal(t, 0, form.Version)

	form.Name = "Signup v2"
	form.Fields = form.Fields[:2]
	w = s.jsonRequest(http.MethodPut, fmt.Sprintf("/api/admin/forms/%d", id), token, form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := model.Form{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 1, updated.Version)
	assert.Len(t, updated.Fields, 2)

	// same payload again carries the old version
	w = s.jsonRequest(http.MethodPut, fmt.Sprintf("/api/admin/forms/%d", id), token, form)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.jsonRequest(http.MethodDelete, fmt.Sprintf("/api/admin/forms/%d", id), token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.jsonRequest(http.MethodGet, fmt.Sprintf("/api/admin/forms/%d", id), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnonymousSubmissionFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin-password")
	formID := s.createForm(admin, signupForm("Signup"))
	otherID := s.createForm(admin, signupForm("Newsletter"))

	// missing required field: nothing is stored
	req := multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", formID),
		url.Values{"Color": {"Green"}})
	w := s.do(req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"Name"`)
	assert.Contains(t, w.Body.String(), `"Color"`)
	assert.Zero(t, s.countRows("submission"))
	assert.Zero(t, s.countRows("field_value"))

	req = multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", formID),
		url.Values{"Name": {"Ada"}, "Color": {"Blue"}, "Tags": {"A", "B"}, "Internal": {"x"}, "Source": {"forged"}},
		filePart{"Photos", "one.png", "image/png", pngHeader + "1"},
		filePart{"Photos", "two.png", "image/png", pngHeader + "2"},
	)
	w = s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	subID := decodeID(t, w)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie, "anonymous submit issues a session")

	// second submission in the same session to the same form
	req = multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", formID),
		url.Values{"Name": {"Ada"}})
	req.AddCookie(cookie)
	w = s.do(req)
	assert.Equal(t, http.StatusConflict, w.Code)

	// another form reuses the session
	req = multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", otherID),
		url.Values{"Name": {"Ada"}})
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Nil(t, sessionCookie(w), "existing session is reused")
	var sessions int
	require.NoError(t, s.db.QueryRow(`SELECT count(DISTINCT session_key) FROM submission`).Scan(&sessions))
	assert.Equal(t, 1, sessions)

	// the form schema points at the existing submission
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/forms/%d", formID), nil)
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	view := struct {
		SubmissionID *int64 `json:"submission_id"`
		Schema       struct {
			Fields []struct {
				Label string `json:"label"`
			} `json:"fields"`
		} `json:"schema"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotNil(t, view.SubmissionID)
	assert.Equal(t, subID, *view.SubmissionID)
	assert.Len(t, view.Schema.Fields, 5, "hidden field is not rendered")

	// only the owner sees the submission
	w = s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/submissions/%d", subID), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/submissions/%d", subID), nil)
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	sub := model.Submission{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	byLabel := map[string]model.FieldValue{}
	for _, v := range sub.Values {
		byLabel[v.Label] = v
	}
	assert.NotContains(t, byLabel, "Internal")
	assert.Equal(t, []string{"Blue"}, byLabel["Color"].Choices)
	assert.Equal(t, []string{"A", "B"}, byLabel["Tags"].Choices)
	require.NotNil(t, byLabel["Source"].Text)
	assert.Equal(t, "web", *byLabel["Source"].Text)
	require.Len(t, byLabel["Photos"].Files, 2)
	photoURL := byLabel["Photos"].Files[0].URL
	assert.True(t, strings.HasPrefix(photoURL, "/media/uploads/forms/"), photoURL)

	// uploaded files are served from the media mount
	w = s.do(httptest.NewRequest(http.MethodGet, photoURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngHeader+"1", w.Body.String())

	// edit schema is pre-filled
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/submissions/%d/edit", subID), nil)
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	edit := struct {
		Schema struct {
			Edit   bool `json:"edit"`
			Fields []struct {
				Label    string                 `json:"label"`
				Initial  any                    `json:"initial"`
				Disabled bool                   `json:"disabled"`
				Files    []model.FileAttachment `json:"files"`
			} `json:"fields"`
		} `json:"schema"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &edit))
	assert.True(t, edit.Schema.Edit)
	initial := map[string]any{}
	for _, f := range edit.Schema.Fields {
		initial[f.Label] = f.Initial
		if f.Label == "Photos" {
			assert.Len(t, f.Files, 2)
		}
	}
	assert.Equal(t, "Ada", initial["Name"])
	assert.Equal(t, "Blue", initial["Color"])
	assert.Equal(t, []any{"A", "B"}, initial["Tags"])

	// edit: one photo replaces both, color cleared, locked field ignored
	req = multipartRequest(t, http.MethodPut, fmt.Sprintf("/api/submissions/%d", subID),
		url.Values{"Name": {"Grace"}, "Tags": {"C"}, "Source": {"forged"}},
		filePart{"Photos", "three.png", "image/png", pngHeader + "3"},
	)
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	got, err := s.db.Queries().GetSubmission(context.Background(), subID)
	require.NoError(t, err)
	byLabel = map[string]model.FieldValue{}
	for _, v := range got.Values {
		byLabel[v.Label] = v
	}
	assert.Equal(t, "Grace", *byLabel["Name"].Text)
	assert.NotContains(t, byLabel, "Color")
	assert.Equal(t, []string{"C"}, byLabel["Tags"].Choices)
	assert.Equal(t, "web", *byLabel["Source"].Text)
	require.Len(t, byLabel["Photos"].Files, 1)
	assert.Equal(t, "three.png", byLabel["Photos"].Files[0].Caption)
	assert.Equal(t, 1, s.countRows("file_attachment"))

	// a stranger cannot edit
	req = multipartRequest(t, http.MethodPut, fmt.Sprintf("/api/submissions/%d", subID), url.Values{"Name": {"Eve"}})
	assert.Equal(t, http.StatusNotFound, s.do(req).Code)
}

func TestAuthenticatedSubmission(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin-password")
	formID := s.createForm(admin, signupForm("Signup"))

	w := s.jsonRequest(http.MethodPost, "/api/register", "", map[string]string{"username": "grace", "password": "hopper123"})
	require.Equal(t, http.StatusCreated, w.Code)
	token := s.login("grace", "hopper123")

	req := multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", formID), url.Values{"Name": {"Grace"}})
	req.Header.Set("authorization", "Bearer "+token)
	w = s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Nil(t, sessionCookie(w), "users need no anonymous session")
	subID := decodeID(t, w)

	got, err := s.db.Queries().GetSubmission(context.Background(), subID)
	require.NoError(t, err)
	require.NotNil(t, got.UserID)
	assert.Empty(t, got.SessionKey)

	req = multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", formID), url.Values{"Name": {"Grace"}})
	req.Header.Set("authorization", "Bearer "+token)
	assert.Equal(t, http.StatusConflict, s.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/submissions/%d", subID), nil)
	req.Header.Set("authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestAdminSubmissions(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin-password")
	formID := s.createForm(admin, signupForm("Signup"))

	req := multipartRequest(t, http.MethodPost, fmt.Sprintf("/api/forms/%d/submissions", formID),
		url.Values{"Name": {"Ada"}},
		filePart{"Photos", "one.png", "image/png", pngHeader + "1"},
	)
	w := s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	subID := decodeID(t, w)

	w = s.jsonRequest(http.MethodGet, fmt.Sprintf("/api/admin/forms/%d/submissions", formID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := struct {
		Submissions []model.Submission `json:"submissions"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Submissions, 1)
	assert.Equal(t, subID, list.Submissions[0].ID)

	var key string
	for _, v := range list.Submissions[0].Values {
		if len(v.Files) > 0 {
			key = v.Files[0].Key
		}
	}
	require.NotEmpty(t, key)
	assert.FileExists(t, filepath.Join(s.media, filepath.FromSlash(key)))

	w = s.jsonRequest(http.MethodGet, "/api/admin/forms/999/submissions", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.jsonRequest(http.MethodDelete, fmt.Sprintf("/api/admin/submissions/%d", subID), admin, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.NoFileExists(t, filepath.Join(s.media, filepath.FromSlash(key)))
	assert.Zero(t, s.countRows("field_value"))

	w = s.jsonRequest(http.MethodGet, fmt.Sprintf("/api/admin/submissions/%d", subID), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
