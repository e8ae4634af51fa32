// Package submission records and edits the responses to a form.
//
// Input is validated against the schema synthesized from the form's
// fields before anything is written. All rows of one submission are
// written in a single transaction; uploaded objects are stored as the
// transaction progresses and removed again if it fails.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
	"github.com/mbolis/quick-forms/schema"
	"github.com/mbolis/quick-forms/storage"
)

var ErrNoOwner = errors.New("submission: owner must be exactly one of user or session")

// Repo is the subset of the query layer the service writes through.
type Repo interface {
	CreateSubmission(ctx context.Context, s *model.Submission) error
	TouchSubmission(ctx context.Context, id int64, at time.Time) error
	CreateFieldValue(ctx context.Context, v *model.FieldValue) error
	UpdateFieldValue(ctx context.Context, v *model.FieldValue) error
	DeleteFieldValue(ctx context.Context, id int64) error
	CreateAttachment(ctx context.Context, a *model.FileAttachment) error
	ListAttachments(ctx context.Context, fieldValueID int64) ([]model.FileAttachment, error)
	DeleteAttachments(ctx context.Context, fieldValueID int64) error
}

// TxFunc runs fn inside a transaction, committing when it returns nil.
type TxFunc func(ctx context.Context, fn func(Repo) error) error

type Service struct {
	inTx    TxFunc
	storage storage.Storage
	now     func() time.Time
	newKey  func(time.Time, string) string
}

func NewService(inTx TxFunc, st storage.Storage) *Service {
	return &Service{
		inTx:    inTx,
		storage: st,
		now:     func() time.Time { return time.Now().UTC() },
		newKey:  storage.NewKey,
	}
}

// Create validates in against the form and stores it as a new submission
// owned by owner. Validation failures are returned as schema.Errors and
// leave no trace. A second submission by the same owner fails with
// model.ErrConflict.
func (s *Service) Create(ctx context.Context, form *model.Form, owner model.Owner, in schema.Input) (*model.Submission, error) {
	if !owner.Valid() {
		return nil, ErrNoOwner
	}

	sc := schema.Build(form.Fields)
	values, err := sc.Clean(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &model.Submission{
		FormID:      form.ID,
		UserID:      owner.UserID,
		SessionKey:  owner.SessionKey,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	var stored []string
	err = s.inTx(ctx, func(repo Repo) error {
		if err := repo.CreateSubmission(ctx, sub); err != nil {
			return fmt.Errorf("create submission: %w", err)
		}

		sub.Values = make([]model.FieldValue, 0, len(sc.Fields))
		for _, d := range sc.Fields {
			v := values[d.Label]
			if d.Disabled {
				v = lockedValue(d)
			}

			fv := model.FieldValue{SubmissionID: sub.ID, FieldID: d.FieldID, Label: d.Label, Type: d.Type}
			encode(&fv, v, true)
			if err := repo.CreateFieldValue(ctx, &fv); err != nil {
				return fmt.Errorf("field %q: %w", d.Label, err)
			}
			if d.Kind.IsFile() {
				fv.Files, err = s.attach(ctx, repo, fv.ID, d.Kind == schema.Image, v.Files, &stored)
				if err != nil {
					return fmt.Errorf("field %q: %w", d.Label, err)
				}
			}
			sub.Values = append(sub.Values, fv)
		}
		return nil
	})
	if err != nil {
		s.Purge(ctx, stored)
		return nil, err
	}
	return sub, nil
}

// Update applies in to an existing submission. Every editable field is
// reconciled with its stored value: empty input deletes the value, and a
// non-empty file field replaces all previous attachments. Locked fields
// are left untouched.
func (s *Service) Update(ctx context.Context, form *model.Form, sub *model.Submission, in schema.Input) error {
	sc := schema.Build(form.Fields, schema.ForEdit(sub.Values))
	values, err := sc.Clean(in)
	if err != nil {
		return err
	}

	now := s.now()
	var stored, removed []string
	err = s.inTx(ctx, func(repo Repo) error {
		for _, d := range sc.Fields {
			if d.Disabled {
				continue
			}
			v := values[d.Label]
			current := sub.Value(d.FieldID)

			if v.IsEmpty() {
				if current == nil {
					continue
				}
				if d.Kind.IsFile() {
					keys, err := detach(ctx, repo, current.ID)
					if err != nil {
						return fmt.Errorf("field %q: %w", d.Label, err)
					}
					removed = append(removed, keys...)
				}
				if err := repo.DeleteFieldValue(ctx, current.ID); err != nil {
					return fmt.Errorf("field %q: %w", d.Label, err)
				}
				continue
			}

			fv := model.FieldValue{SubmissionID: sub.ID, FieldID: d.FieldID, Label: d.Label, Type: d.Type}
			encode(&fv, v, false)
			switch {
			case current == nil:
				err = repo.CreateFieldValue(ctx, &fv)
			case d.Kind.IsFile():
				fv.ID = current.ID
				var keys []string
				keys, err = detach(ctx, repo, current.ID)
				removed = append(removed, keys...)
			default:
				fv.ID = current.ID
				err = repo.UpdateFieldValue(ctx, &fv)
			}
			if err != nil {
				return fmt.Errorf("field %q: %w", d.Label, err)
			}

			if d.Kind.IsFile() {
				if _, err := s.attach(ctx, repo, fv.ID, d.Kind == schema.Image, v.Files, &stored); err != nil {
					return fmt.Errorf("field %q: %w", d.Label, err)
				}
			}
		}
		return repo.TouchSubmission(ctx, sub.ID, now)
	})
	if err != nil {
		s.Purge(ctx, stored)
		return err
	}

	sub.UpdatedAt = now
	s.Purge(ctx, removed)
	return nil
}

// Purge removes stored objects whose rows are gone. Failures are only
// logged; the objects are left for a later sweep.
func (s *Service) Purge(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.RemoveAll(ctx, s.storage, keys); err != nil {
		log.WithError(err).WithField("keys", len(keys)).Warn("submission: could not remove stored files")
	}
}

// ResolveURLs fills in the download address of every attachment of sub.
func (s *Service) ResolveURLs(ctx context.Context, sub *model.Submission) error {
	for i := range sub.Values {
		files := sub.Values[i].Files
		for j := range files {
			url, err := s.storage.URL(ctx, files[j].Key)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", files[j].Key, err)
			}
			files[j].URL = url
		}
	}
	return nil
}

func (s *Service) attach(ctx context.Context, repo Repo, valueID int64, image bool, uploads []schema.Upload, stored *[]string) ([]model.FileAttachment, error) {
	files := make([]model.FileAttachment, 0, len(uploads))
	for _, u := range uploads {
		now := s.now()
		key := s.newKey(now, u.Filename)
		if err := s.put(ctx, key, u); err != nil {
			return nil, fmt.Errorf("store %s: %w", u.Filename, err)
		}
		*stored = append(*stored, key)

		a := model.FileAttachment{
			FieldValueID: valueID,
			Key:          key,
			IsImage:      image,
			Caption:      u.Filename,
			UploadedAt:   now,
		}
		if err := repo.CreateAttachment(ctx, &a); err != nil {
			return nil, err
		}
		files = append(files, a)
	}
	return files, nil
}

func (s *Service) put(ctx context.Context, key string, u schema.Upload) error {
	r, err := u.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	return s.storage.Put(ctx, key, r, u.Size, u.ContentType)
}

// detach deletes the attachment rows of a value, returning their keys.
func detach(ctx context.Context, repo Repo, valueID int64) ([]string, error) {
	files, err := repo.ListAttachments(ctx, valueID)
	if err != nil {
		return nil, err
	}
	if err := repo.DeleteAttachments(ctx, valueID); err != nil {
		return nil, err
	}
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.Key
	}
	return keys, nil
}

// encode copies a cleaned value into its stored columns. On create an
// empty multi-choice value is kept as an empty list.
func encode(fv *model.FieldValue, v schema.Value, create bool) {
	switch {
	case v.Kind == schema.SingleChoice:
		if len(v.Choices) > 0 {
			fv.Choices = v.Choices[:1]
		}
	case v.Kind == schema.MultiChoice:
		fv.Choices = v.Choices
		if fv.Choices == nil && create {
			fv.Choices = []string{}
		}
	case v.Kind.IsFile():
	default:
		text := v.Text
		fv.Text = &text
	}
}

// lockedValue is the value stored for a locked field on create: its
// configured default, if any.
func lockedValue(d schema.Descriptor) schema.Value {
	v := schema.Value{Kind: d.Kind}
	switch init := d.Initial.(type) {
	case string:
		if d.Kind.IsChoice() {
			v.Choices = []string{init}
		} else {
			v.Text = init
		}
	case []string:
		v.Choices = init
	}
	return v
}
