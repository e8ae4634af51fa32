package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
)

// Will log an error, and send an HTTP response with status 500 and default text
func LogInternalError(w http.ResponseWriter, code string, err error) {
	log.Errorf("%s: %s", code, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Will log a debug message, and send an HTTP response with status 404 and default text
func LogNotFound(w http.ResponseWriter, code string, id any) {
	log.Debugf("%s: not found (%v)", code, id)
	w.WriteHeader(http.StatusNotFound)
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, status int, level log.Level, code string) {
	log.Log(level, code)
	http.Error(w, http.StatusText(status), status)
}

// Will log an error code and message at the given level,
// and send an HTTP response with the given status and formatted message
func LogStatusMsg(w http.ResponseWriter, status int, level log.Level, code string, msg string, args ...any) {
	errMsg := fmt.Sprintf(msg, args...)
	log.Log(level, code+":", errMsg)
	http.Error(w, errMsg, status)
}

// Will log validation errors at debug level, and send an HTTP
// response with status 422 and the errors as JSON
func LogInvalid(w http.ResponseWriter, r *http.Request, code string, errs any) {
	log.WithField("errors", errs).Debug(code)
	render.Status(r, http.StatusUnprocessableEntity)
	render.JSON(w, r, map[string]any{
		"errors": errs,
	})
}

// Will map a domain error onto its HTTP status: 404 for missing
// records, 409 for conflicts and stale versions, 500 otherwise
func LogError(w http.ResponseWriter, code string, err error, id any) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		LogNotFound(w, code, id)
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrStale):
		LogStatusMsg(w, http.StatusConflict, log.DebugLevel, code, "%s", err)
	default:
		LogInternalError(w, code, err)
	}
}
