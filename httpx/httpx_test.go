package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/quick-forms/model"
)

func TestLogError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("field 3: %w", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: UNIQUE constraint failed", model.ErrConflict), http.StatusConflict},
		{model.ErrStale, http.StatusConflict},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		LogError(w, "test.op", c.err, 1)
		assert.Equal(t, c.status, w.Code, c.err.Error())
	}
}

func TestLogInvalid(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	LogInvalid(w, r, "test.invalid", map[string][]string{"Name": {"This field is required."}})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"errors":{"Name":["This field is required."]}}`, w.Body.String())
}

func TestResponseBuffer(t *testing.T) {
	buf := NewResponseBuffer()
	assert.Zero(t, buf.Status())
	assert.Nil(t, buf.Body())

	buf.Header().Set("x-test", "1")
	_, err := buf.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, buf.Status(), "implicit 200 after a write")

	buf.WriteHeader(http.StatusTeapot)
	w := httptest.NewRecorder()
	require.NoError(t, buf.Flush(w))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "1", w.Header().Get("x-test"))
	assert.Equal(t, "hello", w.Body.String())
}
