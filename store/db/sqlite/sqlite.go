package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/tripsense/internal/profile"
	"github.com/hrygo/tripsense/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database specified by the profile DSN.
//
// Connection settings:
// - No foreign key constraints: explicit to prevent surprises on SQLite upgrades.
// - busy_timeout: avoids immediate SQLITE_BUSY under concurrent access.
// - Journal mode WAL: the recommended journal mode, prevents locking issues.
//
// Note: with the `modernc.org/sqlite` driver each pragma must be prefixed
// with `_pragma=`. See https://pkg.go.dev/modernc.org/sqlite#Driver.Open.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS entity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_type ON entity (type);

CREATE TABLE IF NOT EXISTS memory_fact (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 1.0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_fact_user_id ON memory_fact (user_id, created_ts);
`

// Migrate applies the schema. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

// now returns the current unix timestamp, isolated for test overrides.
var now = func() int64 { return time.Now().Unix() }
