package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"crm-platform/internal/diff"
	"crm-platform/internal/store"
)

// PostgresRepo stores entries in audit_logs. Writes go through the
// transaction bound to ctx, if any.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const auditColumns = `id, organization_id, entity_type, entity_id, action, actor_id, actor_type, actor_name,
  changes, metadata, description, severity, created_at, ip_address, user_agent`

func (r *PostgresRepo) Insert(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO audit_logs (` + auditColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	changes, err := marshalNullable(e.Changes)
	if err != nil {
		return fmt.Errorf("audit: encode changes: %w", err)
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
	}

	_, err = store.Conn(ctx, r.db).ExecContext(ctx, q,
		e.ID,
		e.OrganizationID,
		string(e.EntityType),
		e.EntityID,
		string(e.Action),
		e.ActorID,
		string(e.ActorType),
		e.ActorName,
		changes,
		metadata,
		e.Description,
		string(e.Severity),
		e.CreatedAt,
		nullString(e.IPAddress),
		nullString(e.UserAgent),
	)
	return store.MapError(err)
}

func (r *PostgresRepo) List(ctx context.Context, lq ListQuery) ([]Entry, error) {
	if lq.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}

	where := []string{"organization_id = $1"}
	args := []any{lq.OrganizationID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	f := lq.Filters
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.EntityType != "" {
		add("entity_type = $%d", string(f.EntityType))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.StartDate > 0 {
		add("created_at >= $%d", f.StartDate)
	}
	if f.EndDate > 0 {
		add("created_at <= $%d", f.EndDate)
	}
	if lq.After != nil {
		args = append(args, lq.After.CreatedAt, lq.After.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, lq.Limit)

	q := "SELECT " + auditColumns + "\nFROM audit_logs\nWHERE " + strings.Join(where, " AND ") +
		fmt.Sprintf("\nORDER BY created_at DESC, id DESC\nLIMIT $%d", len(args))

	rows, err := store.Conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Distinct(ctx context.Context, organizationID string) (FilterOptions, error) {
	if organizationID == "" {
		return FilterOptions{}, fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}
	conn := store.Conn(ctx, r.db)
	var out FilterOptions

	const qEntity = `SELECT DISTINCT entity_type FROM audit_logs WHERE organization_id = $1 ORDER BY entity_type`
	if err := scanStrings(ctx, conn, qEntity, organizationID, func(s string) {
		out.EntityTypes = append(out.EntityTypes, EntityType(s))
	}); err != nil {
		return FilterOptions{}, err
	}

	const qAction = `SELECT DISTINCT action FROM audit_logs WHERE organization_id = $1 ORDER BY action`
	if err := scanStrings(ctx, conn, qAction, organizationID, func(s string) {
		out.Actions = append(out.Actions, Action(s))
	}); err != nil {
		return FilterOptions{}, err
	}

	// Latest recorded name per actor. System entries without an actor id
	// are not an option.
	const qActors = `
SELECT DISTINCT ON (actor_id) actor_id, actor_name, actor_type
FROM audit_logs
WHERE organization_id = $1 AND actor_id <> ''
ORDER BY actor_id, created_at DESC
`
	rows, err := conn.QueryContext(ctx, qActors, organizationID)
	if err != nil {
		return FilterOptions{}, store.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var a ActorOption
		var t string
		if err := rows.Scan(&a.ID, &a.Name, &t); err != nil {
			return FilterOptions{}, err
		}
		a.Type = ActorType(t)
		out.Actors = append(out.Actors, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                             Entry
		entityType, action, actorType string
		severity                      string
		changes, metadata             []byte
		ip, ua                        sql.NullString
	)
	if err := row.Scan(
		&e.ID,
		&e.OrganizationID,
		&entityType,
		&e.EntityID,
		&action,
		&e.ActorID,
		&actorType,
		&e.ActorName,
		&changes,
		&metadata,
		&e.Description,
		&severity,
		&e.CreatedAt,
		&ip,
		&ua,
	); err != nil {
		return Entry{}, err
	}
	e.EntityType = EntityType(entityType)
	e.Action = Action(action)
	e.ActorType = ActorType(actorType)
	e.Severity = Severity(severity)
	e.IPAddress = ip.String
	e.UserAgent = ua.String

	if len(changes) > 0 {
		var cs diff.ChangeSet
		if err := json.Unmarshal(changes, &cs); err != nil {
			return Entry{}, fmt.Errorf("audit: decode changes of %s: %w", e.ID, err)
		}
		e.Changes = &cs
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("audit: decode metadata of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func scanStrings(ctx context.Context, conn store.Querier, q, organizationID string, fn func(string)) error {
	rows, err := conn.QueryContext(ctx, q, organizationID)
	if err != nil {
		return store.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err
		}
		fn(s)
	}
	return rows.Err()
}

func marshalNullable(cs *diff.ChangeSet) ([]byte, error) {
	if cs == nil {
		return nil, nil
	}
	return json.Marshal(cs)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
