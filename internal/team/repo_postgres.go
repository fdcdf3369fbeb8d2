package team

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-platform/internal/rbac"
	"crm-platform/internal/store"
)

// PostgresRepo stores members in team_members. It takes part in the
// transaction bound to ctx, if any.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Get(ctx context.Context, organizationID, id string) (Member, error) {
	const q = `
SELECT id, organization_id, name, email, role, type, status, permissions_override, version, created_at, updated_at
FROM team_members
WHERE organization_id = $1 AND id = $2
`
	var (
		m        Member
		override []byte
	)
	err := store.Conn(ctx, r.db).QueryRowContext(ctx, q, organizationID, id).Scan(
		&m.ID,
		&m.OrganizationID,
		&m.Name,
		&m.Email,
		&m.Role,
		&m.Type,
		&m.Status,
		&override,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, fmt.Errorf("member %s: %w", id, store.ErrNotFound)
		}
		return Member{}, store.MapError(err)
	}
	if len(override) > 0 {
		var p rbac.Permissions
		if err := json.Unmarshal(override, &p); err != nil {
			return Member{}, fmt.Errorf("%w: override of member %s: %v", rbac.ErrIntegrity, id, err)
		}
		m.Override = p
	}
	return m, nil
}

func (r *PostgresRepo) Create(ctx context.Context, m Member) error {
	const q = `
INSERT INTO team_members (
  id, organization_id, name, email, role, type, status, permissions_override, version, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,1,$9,$9
)
`
	override, err := encodeOverride(m.Override)
	if err != nil {
		return err
	}
	now := r.clock().UTC()
	_, err = store.Conn(ctx, r.db).ExecContext(ctx, q,
		m.ID,
		m.OrganizationID,
		m.Name,
		m.Email,
		string(m.Role),
		string(m.Type),
		string(m.Status),
		override,
		now,
	)
	return store.MapError(err)
}

func (r *PostgresRepo) Update(ctx context.Context, m Member) (Member, error) {
	const q = `
UPDATE team_members
SET name = $4, email = $5, role = $6, status = $7, permissions_override = $8,
    version = version + 1, updated_at = $9
WHERE organization_id = $1 AND id = $2 AND version = $3
RETURNING version, updated_at
`
	override, err := encodeOverride(m.Override)
	if err != nil {
		return Member{}, err
	}
	conn := store.Conn(ctx, r.db)
	err = conn.QueryRowContext(ctx, q,
		m.OrganizationID,
		m.ID,
		m.Version,
		m.Name,
		m.Email,
		string(m.Role),
		string(m.Status),
		override,
		r.clock().UTC(),
	).Scan(&m.Version, &m.UpdatedAt)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Member{}, store.MapError(err)
	}

	// No row matched: either the member is gone or its version moved on.
	var exists bool
	const qExists = `SELECT EXISTS (SELECT 1 FROM team_members WHERE organization_id = $1 AND id = $2)`
	if err := conn.QueryRowContext(ctx, qExists, m.OrganizationID, m.ID).Scan(&exists); err != nil {
		return Member{}, store.MapError(err)
	}
	if !exists {
		return Member{}, fmt.Errorf("member %s: %w", m.ID, store.ErrNotFound)
	}
	return Member{}, fmt.Errorf("member %s at version %d: %w", m.ID, m.Version, store.ErrConflict)
}

func encodeOverride(p rbac.Permissions) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("team: encode override: %w", err)
	}
	return b, nil
}
