package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/tripsense/store"
)

// CreateMemoryFact inserts a memory fact. Facts are append-only.
func (d *DB) CreateMemoryFact(ctx context.Context, create *store.MemoryFact) (*store.MemoryFact, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = now()
	}

	stmt := `INSERT INTO memory_fact (user_id, type, content, confidence, created_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UserID,
		create.Type,
		create.Content,
		create.Confidence,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to insert memory fact")
	}

	return create, nil
}

// ListMemoryFacts lists memory facts, most recent first.
func (d *DB) ListMemoryFacts(ctx context.Context, find *store.FindMemoryFact) ([]*store.MemoryFact, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, *find.Type)
	}

	query := `SELECT id, user_id, type, content, confidence, created_ts
		FROM memory_fact
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query memory facts")
	}
	defer rows.Close()

	list := []*store.MemoryFact{}
	for rows.Next() {
		fact := &store.MemoryFact{}
		if err := rows.Scan(
			&fact.ID,
			&fact.UserID,
			&fact.Type,
			&fact.Content,
			&fact.Confidence,
			&fact.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory fact")
		}
		list = append(list, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows iteration error")
	}

	return list, nil
}
