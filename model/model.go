package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation, e.g. a second submission
	// to the same form from the same user or session.
	ErrConflict = errors.New("conflict")
	// ErrStale reports an optimistic lock failure on a form update.
	ErrStale = errors.New("stale version")
)

type FieldType string

const (
	FieldText         FieldType = "text"
	FieldLongText     FieldType = "textarea"
	FieldSingleChoice FieldType = "select"
	FieldMultiChoice  FieldType = "checkbox"
	FieldFile         FieldType = "file"
	FieldImage        FieldType = "image"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldLongText, FieldSingleChoice, FieldMultiChoice, FieldFile, FieldImage:
		return true
	}
	return false
}

func (t FieldType) IsChoice() bool {
	return t == FieldSingleChoice || t == FieldMultiChoice
}

func (t FieldType) IsFile() bool {
	return t == FieldFile || t == FieldImage
}

type Form struct {
	ID        int64     `json:"id,omitempty"`
	Version   int       `json:"version"`
	Name      string    `json:"name" validate:"required,max=255"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Fields    []Field   `json:"fields" validate:"dive"`
}

// Field is one administrator-defined input slot of a Form.
type Field struct {
	ID       int64          `json:"id,omitempty"`
	FormID   int64          `json:"-"`
	Label    string         `json:"label" validate:"required,max=255"`
	Type     FieldType      `json:"type" validate:"required,oneof=text textarea select checkbox file image"`
	Required bool           `json:"required"`
	Locked   bool           `json:"locked"`
	Hidden   bool           `json:"hidden"`
	Order    int            `json:"order" validate:"gte=0"`
	Choices  []string       `json:"choices,omitempty" validate:"dive,required"`
	Config   map[string]any `json:"config,omitempty"`
}

// Owner attributes a submission to either an authenticated user or an
// anonymous session. Exactly one of the two is set.
type Owner struct {
	UserID     *int64
	SessionKey string
}

func UserOwner(id int64) Owner {
	return Owner{UserID: &id}
}

func SessionOwner(key string) Owner {
	return Owner{SessionKey: key}
}

func (o Owner) Valid() bool {
	return (o.UserID == nil) != (o.SessionKey == "")
}

// Owns reports whether the submission is attributed to o.
func (o Owner) Owns(s *Submission) bool {
	if o.UserID != nil {
		return s.UserID != nil && *s.UserID == *o.UserID
	}
	return o.SessionKey != "" && s.SessionKey == o.SessionKey
}

type Submission struct {
	ID          int64        `json:"id"`
	FormID      int64        `json:"form_id"`
	UserID      *int64       `json:"user_id,omitempty"`
	SessionKey  string       `json:"-"`
	SubmittedAt time.Time    `json:"submitted_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Values      []FieldValue `json:"values,omitempty"`
}

func (s *Submission) Owner() Owner {
	if s.UserID != nil {
		return UserOwner(*s.UserID)
	}
	return SessionOwner(s.SessionKey)
}

// Value returns the stored value for the given field, if any.
func (s *Submission) Value(fieldID int64) *FieldValue {
	for i := range s.Values {
		if s.Values[i].FieldID == fieldID {
			return &s.Values[i]
		}
	}
	return nil
}

// FieldValue holds either Text or Choices. Single choices are stored as a
// one-element list so both choice types share one encoding.
type FieldValue struct {
	ID           int64            `json:"id"`
	SubmissionID int64            `json:"-"`
	FieldID      int64            `json:"field_id"`
	Label        string           `json:"label,omitempty"`
	Type         FieldType        `json:"type,omitempty"`
	Text         *string          `json:"text,omitempty"`
	Choices      []string         `json:"choices,omitempty"`
	Files        []FileAttachment `json:"files,omitempty"`
}

type FileAttachment struct {
	ID           int64     `json:"id"`
	FieldValueID int64     `json:"-"`
	Key          string    `json:"key"`
	URL          string    `json:"url,omitempty"`
	IsImage      bool      `json:"is_image"`
	Caption      string    `json:"caption,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}
