package schema

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
)

// FromRequest decodes a multipart or url-encoded form body.
func FromRequest(r *http.Request, maxMemory int64) (Input, error) {
	err := r.ParseMultipartForm(maxMemory)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		if err = r.ParseForm(); err != nil {
			return Input{}, err
		}
		return Input{Values: r.PostForm}, nil
	case err != nil:
		return Input{}, err
	}
	return FromMultipart(r.MultipartForm), nil
}

func FromMultipart(form *multipart.Form) Input {
	in := Input{
		Values: form.Value,
		Files:  make(map[string][]Upload, len(form.File)),
	}
	for label, headers := range form.File {
		for _, fh := range headers {
			in.Files[label] = append(in.Files[label], uploadOf(fh))
		}
	}
	return in
}

func uploadOf(fh *multipart.FileHeader) Upload {
	return Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
