// Package schema turns stored field definitions into a runtime form schema.
//
// A Schema is a list of Descriptors, one per visible field, each tagged
// with a Kind. The same Schema renders the form (through its JSON
// encoding), validates submitted input (Clean) and carries pre-filled
// values when editing an existing submission.
package schema

import (
	"fmt"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
)

type Kind int

const (
	Text Kind = iota
	LongText
	SingleChoice
	MultiChoice
	File
	Image
)

var kindNames = [...]string{
	Text:         "text",
	LongText:     "long_text",
	SingleChoice: "single_choice",
	MultiChoice:  "multi_choice",
	File:         "file",
	Image:        "image",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k Kind) IsChoice() bool {
	return k == SingleChoice || k == MultiChoice
}

func (k Kind) IsFile() bool {
	return k == File || k == Image
}

func (k Kind) widget() string {
	switch k {
	case LongText:
		return "textarea"
	case SingleChoice:
		return "select"
	case MultiChoice:
		return "checkbox"
	case File, Image:
		return "file"
	}
	return "text"
}

// KindOf maps a stored field type onto its descriptor kind.
func KindOf(t model.FieldType) (Kind, bool) {
	switch t {
	case model.FieldText:
		return Text, true
	case model.FieldLongText:
		return LongText, true
	case model.FieldSingleChoice:
		return SingleChoice, true
	case model.FieldMultiChoice:
		return MultiChoice, true
	case model.FieldFile:
		return File, true
	case model.FieldImage:
		return Image, true
	}
	return 0, false
}

type Descriptor struct {
	FieldID  int64           `json:"id"`
	Label    string          `json:"label"`
	Type     model.FieldType `json:"type"`
	Kind     Kind            `json:"kind"`
	Widget   string          `json:"widget"`
	Required bool            `json:"required"`
	Disabled bool            `json:"disabled"`
	Options  []string        `json:"options,omitempty"`
	// Initial is a string for text and single-choice fields and a
	// []string for multi-choice fields.
	Initial any                    `json:"initial,omitempty"`
	Files   []model.FileAttachment `json:"files,omitempty"`
	Config  map[string]any         `json:"config,omitempty"`
}

type Schema struct {
	Fields []Descriptor `json:"fields"`
	Edit   bool         `json:"edit"`

	index map[string]int
}

type Option func(*Schema)

// ForEdit switches the schema to the edit path and pre-fills every
// descriptor from the stored values.
func ForEdit(values []model.FieldValue) Option {
	return func(s *Schema) {
		s.Edit = true
		byField := make(map[int64]model.FieldValue, len(values))
		for _, v := range values {
			byField[v.FieldID] = v
		}
		for i := range s.Fields {
			d := &s.Fields[i]
			v, ok := byField[d.FieldID]
			if !ok {
				continue
			}
			d.Initial = initialOf(d.Kind, v)
			if d.Kind.IsFile() {
				d.Files = v.Files
			}
		}
	}
}

func initialOf(kind Kind, v model.FieldValue) any {
	switch {
	case kind == SingleChoice:
		if len(v.Choices) > 0 {
			return v.Choices[0]
		}
		return nil
	case kind == MultiChoice:
		if v.Choices == nil {
			return nil
		}
		return append([]string(nil), v.Choices...)
	case kind.IsFile():
		return nil
	}
	if v.Text != nil {
		return *v.Text
	}
	return nil
}

// Build synthesizes the schema of the given field definitions. Hidden
// fields and fields of unknown type produce no descriptor.
func Build(fields []model.Field, opts ...Option) *Schema {
	s := &Schema{
		Fields: make([]Descriptor, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Hidden {
			continue
		}
		kind, ok := KindOf(f.Type)
		if !ok {
			log.WithFields(log.Fields{"field": f.ID, "label": f.Label, "type": f.Type}).
				Warn("schema: skipping field of unknown type")
			continue
		}

		d := Descriptor{
			FieldID:  f.ID,
			Label:    f.Label,
			Type:     f.Type,
			Kind:     kind,
			Widget:   kind.widget(),
			Required: f.Required,
			Disabled: f.Locked,
			Config:   f.Config,
		}
		if kind.IsChoice() {
			d.Options = f.Choices
		}
		if f.Locked {
			d.Initial = defaultOf(kind, f.Config)
		}

		s.index[f.Label] = len(s.Fields)
		s.Fields = append(s.Fields, d)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup finds the descriptor of the field with the given label.
func (s *Schema) Lookup(label string) (Descriptor, bool) {
	i, ok := s.index[label]
	if !ok {
		return Descriptor{}, false
	}
	return s.Fields[i], true
}

// defaultOf reads the "default" config entry of a locked field.
func defaultOf(kind Kind, config map[string]any) any {
	raw, ok := config["default"]
	if !ok || raw == nil {
		return nil
	}
	switch kind {
	case MultiChoice:
		return stringList(raw)
	case File, Image:
		return nil
	}
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		if l := stringList(v); len(l) > 0 {
			return l[0]
		}
		return nil
	}
	return fmt.Sprint(raw)
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// configInt reads a numeric config entry. JSON numbers decode as float64.
func configInt(config map[string]any, key string) (int, bool) {
	switch v := config[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}
