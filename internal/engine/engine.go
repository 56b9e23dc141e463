// Package engine runs statements against a database/sql connection pool.
// It is a transparent pass-through: driver errors are returned unchanged and
// rows are returned as scanned.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/loykin/slotexec/internal/executor"
)

// SQL executes statements through a *sql.DB.
type SQL struct {
	db     *sql.DB
	driver string
}

var _ executor.Engine = (*SQL)(nil)

// Open selects a driver based on DSN.
// Supported:
//   - postgres:   "postgres://" or "postgresql://" (pgx stdlib)
//   - clickhouse: "clickhouse://host:9000/db" (clickhouse-go database/sql driver)
//   - sqlite:     "sqlite://<path>" or bare filepath (modernc.org/sqlite)
func Open(dsn string, maxOpenConns int) (*SQL, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty engine DSN")
	}
	ld := strings.ToLower(d)
	var drv, src string
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		drv, src = "pgx", d
	case strings.HasPrefix(ld, "clickhouse://"):
		drv, src = "clickhouse", d
	case strings.HasPrefix(ld, "sqlite://"):
		drv, src = "sqlite", d[len("sqlite://"):]
	default:
		drv, src = "sqlite", d
	}
	db, err := sql.Open(drv, src)
	if err != nil {
		return nil, err
	}
	switch {
	case drv == "sqlite" && (src == ":memory:" || strings.Contains(src, "mode=memory")):
		// each connection would get its own private database
		db.SetMaxOpenConns(1)
	case maxOpenConns > 0:
		db.SetMaxOpenConns(maxOpenConns)
	}
	return &SQL{db: db, driver: drv}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *SQL { return &SQL{db: db} }

func (e *SQL) DB() *sql.DB { return e.db }

func (e *SQL) Driver() string { return e.driver }

func (e *SQL) Ping(ctx context.Context) error { return e.db.PingContext(ctx) }

func (e *SQL) Close() error { return e.db.Close() }

// Exec runs statement and collects any rows it produces. Statements without
// a result set yield a Result with no columns.
func (e *SQL) Exec(ctx context.Context, statement string) (*executor.Result, error) {
	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	text := textColumns(rows)
	out := &executor.Result{Columns: cols, Rows: make([][]any, 0)}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok && text[i] {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// textColumns marks columns whose declared type is character data. Drivers
// may hand those back as []byte; binary columns stay []byte.
func textColumns(rows *sql.Rows) []bool {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil
	}
	out := make([]bool, len(types))
	for i, ct := range types {
		name := strings.ToUpper(ct.DatabaseTypeName())
		switch {
		case strings.Contains(name, "CHAR"), strings.Contains(name, "TEXT"),
			name == "STRING", name == "JSON", name == "NAME", name == "UUID":
			out[i] = true
		}
	}
	return out
}
