package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"crm-platform/internal/store"
)

// PostgresRepo stores leads in the leads table. It takes part in the
// transaction bound to ctx, if any.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, organizationID, id string) (Lead, error) {
	const q = `
SELECT id, organization_id, title, stage_id, value, assignee_id, contact_id, tags, custom_fields,
       version, created_at, updated_at
FROM leads
WHERE organization_id = $1 AND id = $2
`
	var (
		l            Lead
		tags, fields []byte
	)
	err := store.Conn(ctx, r.db).QueryRowContext(ctx, q, organizationID, id).Scan(
		&l.ID,
		&l.OrganizationID,
		&l.Title,
		&l.StageID,
		&l.Value,
		&l.AssigneeID,
		&l.ContactID,
		&tags,
		&fields,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, fmt.Errorf("lead %s: %w", id, store.ErrNotFound)
		}
		return Lead{}, store.MapError(err)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &l.Tags); err != nil {
			return Lead{}, fmt.Errorf("leads: decode tags of %s: %w", id, err)
		}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &l.CustomFields); err != nil {
			return Lead{}, fmt.Errorf("leads: decode custom fields of %s: %w", id, err)
		}
	}
	return l, nil
}

func (r *PostgresRepo) Create(ctx context.Context, l Lead) error {
	const q = `
INSERT INTO leads (
  id, organization_id, title, stage_id, value, assignee_id, contact_id, tags, custom_fields,
  version, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,1,$10,$10
)
`
	tags, fields, err := encodeCollections(l)
	if err != nil {
		return err
	}
	_, err = store.Conn(ctx, r.db).ExecContext(ctx, q,
		l.ID,
		l.OrganizationID,
		l.Title,
		l.StageID,
		l.Value,
		l.AssigneeID,
		l.ContactID,
		tags,
		fields,
		l.CreatedAt,
	)
	return store.MapError(err)
}

func (r *PostgresRepo) Update(ctx context.Context, l Lead) (Lead, error) {
	const q = `
UPDATE leads
SET title = $4, stage_id = $5, value = $6, assignee_id = $7, contact_id = $8,
    tags = $9, custom_fields = $10, version = version + 1, updated_at = $11
WHERE organization_id = $1 AND id = $2 AND version = $3
RETURNING version
`
	tags, fields, err := encodeCollections(l)
	if err != nil {
		return Lead{}, err
	}
	err = store.Conn(ctx, r.db).QueryRowContext(ctx, q,
		l.OrganizationID,
		l.ID,
		l.Version,
		l.Title,
		l.StageID,
		l.Value,
		l.AssigneeID,
		l.ContactID,
		tags,
		fields,
		l.UpdatedAt,
	).Scan(&l.Version)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Lead{}, store.MapError(err)
	}
	return Lead{}, r.missOrConflict(ctx, l.OrganizationID, l.ID, l.Version)
}

func (r *PostgresRepo) Delete(ctx context.Context, organizationID, id string, version int64) error {
	const q = `DELETE FROM leads WHERE organization_id = $1 AND id = $2 AND version = $3`
	res, err := store.Conn(ctx, r.db).ExecContext(ctx, q, organizationID, id, version)
	if err != nil {
		return store.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.missOrConflict(ctx, organizationID, id, version)
	}
	return nil
}

// missOrConflict explains why a version-guarded write matched no row.
func (r *PostgresRepo) missOrConflict(ctx context.Context, organizationID, id string, version int64) error {
	const q = `SELECT EXISTS (SELECT 1 FROM leads WHERE organization_id = $1 AND id = $2)`
	var exists bool
	if err := store.Conn(ctx, r.db).QueryRowContext(ctx, q, organizationID, id).Scan(&exists); err != nil {
		return store.MapError(err)
	}
	if !exists {
		return fmt.Errorf("lead %s: %w", id, store.ErrNotFound)
	}
	return fmt.Errorf("lead %s at version %d: %w", id, version, store.ErrConflict)
}

func encodeCollections(l Lead) (tags, fields []byte, err error) {
	t := l.Tags
	if t == nil {
		t = []string{}
	}
	if tags, err = json.Marshal(t); err != nil {
		return nil, nil, fmt.Errorf("leads: encode tags: %w", err)
	}
	f := l.CustomFields
	if f == nil {
		f = map[string]any{}
	}
	if fields, err = json.Marshal(f); err != nil {
		return nil, nil, fmt.Errorf("leads: encode custom fields: %w", err)
	}
	return tags, fields, nil
}

// PostgresStages reads stage names from pipeline_stages.
type PostgresStages struct {
	db *sql.DB
}

func NewPostgresStages(db *sql.DB) *PostgresStages { return &PostgresStages{db: db} }

func (s *PostgresStages) StageName(ctx context.Context, organizationID, stageID string) (string, error) {
	const q = `SELECT name FROM pipeline_stages WHERE organization_id = $1 AND id = $2`
	var name string
	if err := store.Conn(ctx, s.db).QueryRowContext(ctx, q, organizationID, stageID).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("stage %s: %w", stageID, store.ErrNotFound)
		}
		return "", store.MapError(err)
	}
	return name, nil
}
