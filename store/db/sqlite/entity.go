package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/tripsense/store"
)

// CreateEntity creates an entity record.
func (d *DB) CreateEntity(ctx context.Context, create *store.Entity) (*store.Entity, error) {
	ts := now()
	if create.CreatedTs == 0 {
		create.CreatedTs = ts
	}
	create.UpdatedTs = ts

	stmt := `INSERT INTO entity (type, title, description, address, date, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.Type,
		create.Title,
		create.Description,
		create.Address,
		create.Date,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to insert entity")
	}

	return create, nil
}

// ListEntities lists entities matching the find condition, in insertion order.
func (d *DB) ListEntities(ctx context.Context, find *store.FindEntity) ([]*store.Entity, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, *find.Type)
	}

	query := `SELECT id, type, title, description, address, date, created_ts, updated_ts
		FROM entity
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query entities")
	}
	defer rows.Close()

	list := []*store.Entity{}
	for rows.Next() {
		entity := &store.Entity{}
		if err := rows.Scan(
			&entity.ID,
			&entity.Type,
			&entity.Title,
			&entity.Description,
			&entity.Address,
			&entity.Date,
			&entity.CreatedTs,
			&entity.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity")
		}
		list = append(list, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows iteration error")
	}

	return list, nil
}
