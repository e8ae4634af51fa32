package routes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mbolis/quick-forms/app"
	"github.com/mbolis/quick-forms/model"
)

type fieldErrors map[string][]string

func (e fieldErrors) add(key, msg string) {
	e[key] = append(e[key], msg)
}

// validateStruct checks the validate tags of v.
func validateStruct(app app.App, v any) fieldErrors {
	errs := fieldErrors{}
	addTagErrors(errs, app.Validate.Struct(v))
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func addTagErrors(errs fieldErrors, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			errs.add(fieldKey(fe), tagMessage(fe))
		}
	} else if err != nil {
		errs.add("_", err.Error())
	}
}

// validateForm checks a form definition before it is saved: struct tags,
// unique labels and a non-empty choice list for choice fields. Names and
// labels are trimmed in place, since labels double as input keys.
func validateForm(app app.App, form *model.Form) fieldErrors {
	errs := fieldErrors{}

	form.Name = strings.TrimSpace(form.Name)
	for i := range form.Fields {
		form.Fields[i].Label = strings.TrimSpace(form.Fields[i].Label)
	}

	addTagErrors(errs, app.Validate.Struct(form))

	seen := map[string]int{}
	for i, f := range form.Fields {
		key := fmt.Sprintf("fields[%d]", i)
		if prev, ok := seen[f.Label]; ok && f.Label != "" {
			errs.add(key+".label", fmt.Sprintf("duplicate label %q (also used by fields[%d])", f.Label, prev))
		}
		seen[f.Label] = i
		if f.Type.IsChoice() && len(f.Choices) == 0 {
			errs.add(key+".choices", "choice fields need at least one choice")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// fieldKey turns "Form.Fields[0].Label" into "fields[0].label".
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters long"
	case "min":
		return "must be at least " + fe.Param() + " characters long"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}
