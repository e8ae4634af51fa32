package schema

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Upload is one file received for a file or image field.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Input is the raw submitted data, keyed by field label.
type Input struct {
	Values url.Values
	Files  map[string][]Upload
}

// Value is the cleaned value of one field. Only the member matching Kind
// is meaningful.
type Value struct {
	Kind    Kind
	Text    string
	Choices []string
	Files   []Upload
}

func (v Value) IsEmpty() bool {
	switch {
	case v.Kind.IsChoice():
		return len(v.Choices) == 0
	case v.Kind.IsFile():
		return len(v.Files) == 0
	}
	return v.Text == ""
}

// Values maps field labels to cleaned values. Locked fields are never
// present.
type Values map[string]Value

// Errors collects validation messages per field label.
type Errors map[string][]string

func (e Errors) Error() string {
	labels := make([]string, 0, len(e))
	for l := range e {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var sb strings.Builder
	sb.WriteString("invalid submission:")
	for _, l := range labels {
		fmt.Fprintf(&sb, " %s: %s;", l, strings.Join(e[l], ", "))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

func (e Errors) add(label, msg string) {
	e[label] = append(e[label], msg)
}

const (
	msgRequired = "This field is required."
	msgChoice   = "Select a valid choice. %q is not one of the available choices."
	msgTooLong  = "Ensure this value has at most %d characters (it has %d)."
	msgTooMany  = "Upload at most %d files."
	msgNotImage = "Upload a valid image. %q is not an image."
)

// Clean validates in against the schema. Hidden fields never appear in the
// schema and locked fields are skipped, so their submitted content is
// dropped here. On failure the returned error is of type Errors.
func (s *Schema) Clean(in Input) (Values, error) {
	out := make(Values, len(s.Fields))
	errs := Errors{}

	for _, d := range s.Fields {
		if d.Disabled {
			continue
		}

		v := Value{Kind: d.Kind}
		switch {
		case d.Kind == Text || d.Kind == LongText:
			v.Text = strings.TrimSpace(in.Values.Get(d.Label))
			if max, ok := configInt(d.Config, "max_length"); ok && max > 0 {
				if n := len([]rune(v.Text)); n > max {
					errs.add(d.Label, fmt.Sprintf(msgTooLong, max, n))
				}
			}

		case d.Kind == SingleChoice:
			choice := strings.TrimSpace(in.Values.Get(d.Label))
			if choice != "" {
				if !contains(d.Options, choice) {
					errs.add(d.Label, fmt.Sprintf(msgChoice, choice))
				}
				v.Choices = []string{choice}
			}

		case d.Kind == MultiChoice:
			seen := map[string]bool{}
			for _, choice := range in.Values[d.Label] {
				choice = strings.TrimSpace(choice)
				if choice == "" || seen[choice] {
					continue
				}
				seen[choice] = true
				if !contains(d.Options, choice) {
					errs.add(d.Label, fmt.Sprintf(msgChoice, choice))
				}
				v.Choices = append(v.Choices, choice)
			}

		case d.Kind.IsFile():
			v.Files = in.Files[d.Label]
			if max, ok := configInt(d.Config, "max_files"); ok && max > 0 && len(v.Files) > max {
				errs.add(d.Label, fmt.Sprintf(msgTooMany, max))
			}
			if d.Kind == Image {
				for _, u := range v.Files {
					if !isImage(u) {
						errs.add(d.Label, fmt.Sprintf(msgNotImage, u.Filename))
					}
				}
			}
		}

		// on edit an empty file field clears the stored files
		if d.Required && v.IsEmpty() && !(s.Edit && d.Kind.IsFile()) {
			errs.add(d.Label, msgRequired)
		}

		out[d.Label] = v
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func contains(options []string, choice string) bool {
	for _, o := range options {
		if o == choice {
			return true
		}
	}
	return false
}

// isImage sniffs the upload content; the client's content type and file
// name are not trusted.
func isImage(u Upload) bool {
	if u.Open == nil {
		return false
	}
	r, err := u.Open()
	if err != nil {
		return false
	}
	defer r.Close()

	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mtype.String(), "image/")
}
