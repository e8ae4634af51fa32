package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mbolis/quick-forms/model"
)

func (q *Queries) ListForms(ctx context.Context) ([]model.Form, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, version, name, created_at, updated_at
		FROM form
		ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	forms := []model.Form{}
	for rows.Next() {
		f := model.Form{}
		if err := rows.Scan(&f.ID, &f.Version, &f.Name, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// GetForm loads a form with its fields, ordered by position.
func (q *Queries) GetForm(ctx context.Context, id int64) (*model.Form, error) {
	f := &model.Form{}
	err := q.db.QueryRowContext(ctx, `
		SELECT id, version, name, created_at, updated_at
		FROM form
		WHERE id = ?`,
		id,
	).Scan(&f.ID, &f.Version, &f.Name, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	f.Fields, err = q.listFields(ctx, id)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (q *Queries) listFields(ctx context.Context, formID int64) ([]model.Field, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, form_id, label, type, required, locked, hidden, position, choices, config
		FROM form_field
		WHERE form_id = ?
		ORDER BY position, id`,
		formID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := []model.Field{}
	for rows.Next() {
		f := model.Field{}
		var choices, config sql.NullString
		err := rows.Scan(&f.ID, &f.FormID, &f.Label, &f.Type, &f.Required, &f.Locked, &f.Hidden, &f.Order, &choices, &config)
		if err != nil {
			return nil, err
		}
		if err := decodeJSON(choices, &f.Choices); err != nil {
			return nil, fmt.Errorf("field %d choices: %w", f.ID, err)
		}
		if err := decodeJSON(config, &f.Config); err != nil {
			return nil, fmt.Errorf("field %d config: %w", f.ID, err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (q *Queries) CreateForm(ctx context.Context, f *model.Form) error {
	now := time.Now().UTC()
	id, err := q.insert(ctx, `
		INSERT INTO form (version, name, created_at, updated_at)
		VALUES (0, ?, ?, ?)`,
		f.Name, now, now,
	)
	if err != nil {
		return err
	}
	f.ID, f.Version, f.CreatedAt, f.UpdatedAt = id, 0, now, now

	for i := range f.Fields {
		if err := q.insertField(ctx, f.ID, &f.Fields[i]); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) insertField(ctx context.Context, formID int64, f *model.Field) error {
	choices, config, err := fieldJSON(f)
	if err != nil {
		return err
	}
	id, err := q.insert(ctx, `
		INSERT INTO form_field (form_id, label, type, required, locked, hidden, position, choices, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formID, f.Label, string(f.Type), f.Required, f.Locked, f.Hidden, f.Order, choices, config,
	)
	if err != nil {
		return err
	}
	f.ID, f.FormID = id, formID
	return nil
}

// UpdateForm stores the new name and reconciles the field list: fields
// with an id are updated, fields without one are inserted, stored fields
// missing from f are deleted along with their values. Changing the type of
// a field drops its stored values too. The update only applies when
// f.Version matches the stored version.
//
// It returns the storage keys of every file attachment that was deleted.
func (q *Queries) UpdateForm(ctx context.Context, f *model.Form) ([]string, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
		UPDATE form
		SET
			name = ?,
			version = version+1,
			updated_at = ?
		WHERE id = ?
			AND version = ?`,
		f.Name, now, f.ID, f.Version,
	)
	if err != nil {
		return nil, err
	}
	// optimistic lock
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n < 1 {
		var exists bool
		err = q.db.QueryRowContext(ctx, `SELECT 1 FROM form WHERE id = ?`, f.ID).Scan(&exists)
		if err != nil {
			return nil, notFound(err)
		}
		return nil, model.ErrStale
	}
	f.Version++
	f.UpdatedAt = now

	stored, err := q.listFields(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Field, len(stored))
	for _, sf := range stored {
		byID[sf.ID] = sf
	}

	var keys []string
	for i := range f.Fields {
		field := &f.Fields[i]
		if field.ID == 0 {
			if err := q.insertField(ctx, f.ID, field); err != nil {
				return nil, err
			}
			continue
		}

		old, ok := byID[field.ID]
		if !ok {
			return nil, fmt.Errorf("field %d: %w", field.ID, model.ErrNotFound)
		}
		delete(byID, field.ID)

		if old.Type != field.Type {
			k, err := q.deleteValuesOfField(ctx, field.ID)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k...)
		}
		if err := q.updateField(ctx, field); err != nil {
			return nil, err
		}
		field.FormID = f.ID
	}

	for id := range byID {
		k, err := q.fieldAttachmentKeys(ctx, id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k...)
		if _, err := q.db.ExecContext(ctx, `DELETE FROM form_field WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}

	return keys, nil
}

func (q *Queries) updateField(ctx context.Context, f *model.Field) error {
	choices, config, err := fieldJSON(f)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE form_field
		SET
			label = ?,
			type = ?,
			required = ?,
			locked = ?,
			hidden = ?,
			position = ?,
			choices = ?,
			config = ?
		WHERE id = ?`,
		f.Label, string(f.Type), f.Required, f.Locked, f.Hidden, f.Order, choices, config, f.ID,
	)
	return err
}

func (q *Queries) deleteValuesOfField(ctx context.Context, fieldID int64) ([]string, error) {
	keys, err := q.fieldAttachmentKeys(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	_, err = q.db.ExecContext(ctx, `DELETE FROM field_value WHERE field_id = ?`, fieldID)
	return keys, err
}

// DeleteForm removes a form with its fields and submissions, returning
// the storage keys of the removed file attachments.
func (q *Queries) DeleteForm(ctx context.Context, id int64) ([]string, error) {
	keys, err := q.attachmentKeys(ctx, `
		SELECT a.storage_key
		FROM file_attachment a
		INNER JOIN field_value v ON (v.id = a.field_value_id)
		INNER JOIN submission s ON (s.id = v.submission_id)
		WHERE s.form_id = ?`,
		id,
	)
	if err != nil {
		return nil, err
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM form WHERE id = ?`, id)
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

func (q *Queries) fieldAttachmentKeys(ctx context.Context, fieldID int64) ([]string, error) {
	return q.attachmentKeys(ctx, `
		SELECT a.storage_key
		FROM file_attachment a
		INNER JOIN field_value v ON (v.id = a.field_value_id)
		WHERE v.field_id = ?`,
		fieldID,
	)
}

func (q *Queries) attachmentKeys(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func fieldJSON(f *model.Field) (choices, config sql.NullString, err error) {
	if choices, err = encodeJSON(f.Choices); err != nil {
		return
	}
	config, err = encodeJSON(f.Config)
	return
}

func encodeJSON(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(ns sql.NullString, v any) error {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), v)
}
