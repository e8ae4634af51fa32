package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/mbolis/quick-forms/model"
)

func (q *Queries) CreateSubmission(ctx context.Context, s *model.Submission) error {
	var sessionKey sql.NullString
	if s.UserID == nil && s.SessionKey != "" {
		sessionKey = sql.NullString{String: s.SessionKey, Valid: true}
	}
	id, err := q.insert(ctx, `
		INSERT INTO submission (form_id, user_id, session_key, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.FormID, s.UserID, sessionKey, s.SubmittedAt, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (q *Queries) TouchSubmission(ctx context.Context, id int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `UPDATE submission SET updated_at = ? WHERE id = ?`, at, id)
	return err
}

const submissionColumns = `id, form_id, user_id, session_key, submitted_at, updated_at`

func scanSubmission(scan func(...any) error) (*model.Submission, error) {
	s := &model.Submission{}
	var userID sql.NullInt64
	var sessionKey sql.NullString
	err := scan(&s.ID, &s.FormID, &userID, &sessionKey, &s.SubmittedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		s.UserID = &userID.Int64
	}
	s.SessionKey = sessionKey.String
	return s, nil
}

// GetSubmission loads a submission with its values and their attachments.
func (q *Queries) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	s, err := scanSubmission(q.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submission
		WHERE id = ?`,
		id,
	).Scan)
	if err != nil {
		return nil, notFound(err)
	}

	if err := q.loadValues(ctx, []*model.Submission{s}); err != nil {
		return nil, err
	}
	return s, nil
}

// FindSubmission returns the id of the submission owner made to the form.
func (q *Queries) FindSubmission(ctx context.Context, formID int64, owner model.Owner) (int64, error) {
	var id int64
	var err error
	if owner.UserID != nil {
		err = q.db.QueryRowContext(ctx, `
			SELECT id FROM submission
			WHERE form_id = ?
				AND user_id = ?`,
			formID, *owner.UserID,
		).Scan(&id)
	} else {
		err = q.db.QueryRowContext(ctx, `
			SELECT id FROM submission
			WHERE form_id = ?
				AND session_key = ?`,
			formID, owner.SessionKey,
		).Scan(&id)
	}
	if err != nil {
		return 0, notFound(err)
	}
	return id, nil
}

// ListSubmissions loads every submission of a form, newest first, with
// values and attachments.
func (q *Queries) ListSubmissions(ctx context.Context, formID int64) ([]*model.Submission, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submission
		WHERE form_id = ?
		ORDER BY submitted_at DESC, id DESC`,
		formID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []*model.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := q.loadValues(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// loadValues fills in the values of the given submissions, in field order.
func (q *Queries) loadValues(ctx context.Context, subs []*model.Submission) error {
	for _, s := range subs {
		rows, err := q.db.QueryContext(ctx, `
			SELECT v.id, v.submission_id, v.field_id, f.label, f.type, v.text_value, v.choice_value
			FROM field_value v
			INNER JOIN form_field f ON (f.id = v.field_id)
			WHERE v.submission_id = ?
			ORDER BY f.position, f.id`,
			s.ID,
		)
		if err != nil {
			return err
		}

		values := []model.FieldValue{}
		for rows.Next() {
			v := model.FieldValue{}
			var text, choices sql.NullString
			err := rows.Scan(&v.ID, &v.SubmissionID, &v.FieldID, &v.Label, &v.Type, &text, &choices)
			if err != nil {
				rows.Close()
				return err
			}
			if text.Valid {
				v.Text = &text.String
			}
			if err := decodeJSON(choices, &v.Choices); err != nil {
				rows.Close()
				return err
			}
			values = append(values, v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}

		for i := range values {
			if !values[i].Type.IsFile() {
				continue
			}
			values[i].Files, err = q.ListAttachments(ctx, values[i].ID)
			if err != nil {
				return err
			}
		}
		s.Values = values
	}
	return nil
}

// DeleteSubmission removes a submission with its values, returning the
// storage keys of the removed attachments.
func (q *Queries) DeleteSubmission(ctx context.Context, id int64) ([]string, error) {
	keys, err := q.attachmentKeys(ctx, `
		SELECT a.storage_key
		FROM file_attachment a
		INNER JOIN field_value v ON (v.id = a.field_value_id)
		WHERE v.submission_id = ?`,
		id,
	)
	if err != nil {
		return nil, err
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM submission WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, model.ErrNotFound
	}
	return keys, nil
}

func (q *Queries) CreateFieldValue(ctx context.Context, v *model.FieldValue) error {
	text, choices, err := valueColumns(v)
	if err != nil {
		return err
	}
	id, err := q.insert(ctx, `
		INSERT INTO field_value (submission_id, field_id, text_value, choice_value)
		VALUES (?, ?, ?, ?)`,
		v.SubmissionID, v.FieldID, text, choices,
	)
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

func (q *Queries) UpdateFieldValue(ctx context.Context, v *model.FieldValue) error {
	text, choices, err := valueColumns(v)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE field_value
		SET
			text_value = ?,
			choice_value = ?
		WHERE id = ?`,
		text, choices, v.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n < 1 {
		return model.ErrNotFound
	}
	return nil
}

func valueColumns(v *model.FieldValue) (text sql.NullString, choices sql.NullString, err error) {
	if v.Text != nil {
		text = sql.NullString{String: *v.Text, Valid: true}
	}
	choices, err = encodeJSON(v.Choices)
	return
}

func (q *Queries) DeleteFieldValue(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM field_value WHERE id = ?`, id)
	return err
}

func (q *Queries) CreateAttachment(ctx context.Context, a *model.FileAttachment) error {
	id, err := q.insert(ctx, `
		INSERT INTO file_attachment (field_value_id, storage_key, is_image, caption, uploaded_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.FieldValueID, a.Key, a.IsImage, a.Caption, a.UploadedAt,
	)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (q *Queries) ListAttachments(ctx context.Context, fieldValueID int64) ([]model.FileAttachment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, field_value_id, storage_key, is_image, caption, uploaded_at
		FROM file_attachment
		WHERE field_value_id = ?
		ORDER BY id`,
		fieldValueID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []model.FileAttachment{}
	for rows.Next() {
		a := model.FileAttachment{}
		if err := rows.Scan(&a.ID, &a.FieldValueID, &a.Key, &a.IsImage, &a.Caption, &a.UploadedAt); err != nil {
			return nil, err
		}
		files = append(files, a)
	}
	return files, rows.Err()
}

func (q *Queries) DeleteAttachments(ctx context.Context, fieldValueID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM file_attachment WHERE field_value_id = ?`, fieldValueID)
	return err
}
