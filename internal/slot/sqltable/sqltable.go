// Package sqltable implements slot.Table on top of database/sql. The sqlite
// and postgres backends supply a Dialect and an opened *sql.DB.
package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/slotexec/internal/slot"
)

// maxAcquireAttempts bounds compare-and-set retries. Each retry means another
// caller took the observed slot.
const maxAcquireAttempts = 32

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// IDType is the column type of the primary key.
	IDType string
	// Bind returns the n-th (1-based) placeholder.
	Bind  func(n int) string
	True  string
	False string
}

var (
	SQLite = Dialect{
		Name:   "sqlite",
		IDType: "INTEGER",
		Bind:   func(int) string { return "?" },
		True:   "1",
		False:  "0",
	}
	Postgres = Dialect{
		Name:   "postgres",
		IDType: "SMALLINT",
		Bind:   func(n int) string { return fmt.Sprintf("$%d", n) },
		True:   "true",
		False:  "false",
	}
)

// Table is a slot table persisted in a relational database.
type Table struct {
	db      *sql.DB
	dialect Dialect
	name    string
	size    int
}

// New wraps an opened database. tableName must be a plain identifier.
func New(db *sql.DB, dialect Dialect, tableName string, size int) (*Table, error) {
	if !validIdentifier(tableName) {
		return nil, fmt.Errorf("invalid slot table name %q", tableName)
	}
	return &Table{db: db, dialect: dialect, name: tableName, size: slot.NormalizeSize(size)}, nil
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (t *Table) DB() *sql.DB { return t.db }

func (t *Table) Size() int { return t.size }

func (t *Table) Close() error { return t.db.Close() }

func (t *Table) EnsureSchema(ctx context.Context) error {
	d := t.dialect
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
		id %s PRIMARY KEY,
		busy BOOLEAN NOT NULL DEFAULT %s
	);`, t.name, d.IDType, d.False)
	if _, err := t.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create slot table: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s(id, busy) VALUES(%s, %s) ON CONFLICT(id) DO NOTHING;`,
		t.name, d.Bind(1), d.False)
	for id := 0; id < t.size; id++ {
		if _, err := t.db.ExecContext(ctx, insert, id); err != nil {
			return fmt.Errorf("insert slot %d: %w", id, err)
		}
	}
	var n int
	if err := t.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, t.name)).Scan(&n); err != nil {
		return fmt.Errorf("count slots: %w", err)
	}
	if n != t.size {
		return fmt.Errorf("%w: table %s has %d rows, configured %d", slot.ErrSizeMismatch, t.name, n, t.size)
	}
	return nil
}

// Acquire marks the lowest free slot busy using a conditional update. If the
// update loses a race the selection is retried. ErrNoFreeSlot is returned
// only when no free slot was observed; losing every race is ErrContention.
func (t *Table) Acquire(ctx context.Context) (int, error) {
	d := t.dialect
	pick := fmt.Sprintf(`SELECT MIN(id) FROM %s WHERE busy=%s;`, t.name, d.False)
	mark := fmt.Sprintf(`UPDATE %s SET busy=%s WHERE id=%s AND busy=%s;`, t.name, d.True, d.Bind(1), d.False)
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		var id sql.NullInt64
		if err := t.db.QueryRowContext(ctx, pick).Scan(&id); err != nil {
			return -1, fmt.Errorf("select free slot: %w", err)
		}
		if !id.Valid {
			return -1, slot.ErrNoFreeSlot
		}
		res, err := t.db.ExecContext(ctx, mark, id.Int64)
		if err != nil {
			return -1, fmt.Errorf("mark slot %d busy: %w", id.Int64, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return -1, err
		}
		if n == 1 {
			return int(id.Int64), nil
		}
	}
	return -1, fmt.Errorf("%w: %d attempts on %s", slot.ErrContention, maxAcquireAttempts, t.name)
}

func (t *Table) Release(ctx context.Context, id int) error {
	if id < 0 || id >= t.size {
		return slot.ErrUnknownSlot
	}
	d := t.dialect
	q := fmt.Sprintf(`UPDATE %s SET busy=%s WHERE id=%s AND busy=%s;`, t.name, d.False, d.Bind(1), d.True)
	res, err := t.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("release slot %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return slot.ErrNotBusy
	}
	return nil
}

func (t *Table) List(ctx context.Context) ([]slot.Slot, error) {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, busy FROM %s ORDER BY id;`, t.name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]slot.Slot, 0, t.size)
	for rows.Next() {
		var s slot.Slot
		if err := rows.Scan(&s.ID, &s.Busy); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *Table) Reset(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET busy=%s;`, t.name, t.dialect.False))
	return err
}

// IsMemoryDSN reports whether a sqlite DSN points to an in-memory database.
// Such databases are private per connection, so callers pin the pool to one
// connection.
func IsMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// ErrEmptyDSN is returned by backends given a blank DSN.
var ErrEmptyDSN = errors.New("empty slot table DSN")
