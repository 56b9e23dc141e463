package history

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLSink appends events to the slotexec_history table of a relational
// database. The sqlite and postgres sub-packages open the connection and pick
// the dialect; the schema is created if missing.
type SQLSink struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
}

func NewSQLSink(ctx context.Context, db *sql.DB, dialect string) (*SQLSink, error) {
	if dialect != "sqlite" && dialect != "postgres" {
		return nil, fmt.Errorf("unsupported history dialect %q", dialect)
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	var stmts []string
	if s.dialect == "sqlite" {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS slotexec_history(
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				occurred_at TIMESTAMP NOT NULL,
				event TEXT NOT NULL,
				slot INTEGER NOT NULL,
				depth INTEGER NOT NULL,
				statement TEXT NOT NULL,
				duration_ms INTEGER NOT NULL,
				error TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_slotexec_history_event ON slotexec_history(event);`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS slotexec_history(
				id BIGSERIAL PRIMARY KEY,
				occurred_at TIMESTAMPTZ NOT NULL,
				event TEXT NOT NULL,
				slot INTEGER NOT NULL,
				depth INTEGER NOT NULL,
				statement TEXT NOT NULL,
				duration_ms BIGINT NOT NULL,
				error TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_slotexec_history_event ON slotexec_history(event);`,
		}
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	var errStr sql.NullString
	if e.Error != "" {
		errStr = sql.NullString{String: e.Error, Valid: true}
	}
	q := `INSERT INTO slotexec_history(occurred_at, event, slot, depth, statement, duration_ms, error)
		VALUES(?, ?, ?, ?, ?, ?, ?);`
	if s.dialect == "postgres" {
		q = `INSERT INTO slotexec_history(occurred_at, event, slot, depth, statement, duration_ms, error)
		VALUES($1,$2,$3,$4,$5,$6,$7);`
	}
	_, err := s.db.ExecContext(ctx, q,
		e.OccurredAt.UTC(), string(e.Type), e.Slot, e.Depth, e.Statement, e.Duration.Milliseconds(), errStr)
	return err
}

// Count returns the number of stored events of the given type; empty type
// counts all events.
func (s *SQLSink) Count(ctx context.Context, t EventType) (int, error) {
	q := `SELECT COUNT(*) FROM slotexec_history`
	var args []any
	if t != "" {
		if s.dialect == "postgres" {
			q += ` WHERE event=$1`
		} else {
			q += ` WHERE event=?`
		}
		args = append(args, string(t))
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func (s *SQLSink) Close() error { return s.db.Close() }
