package sqlite

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/slotexec/internal/slot"
	"github.com/loykin/slotexec/internal/slot/sqltable"
)

// New opens a SQLite slot table (modernc.org/sqlite driver, CGO-free).
// path is a filesystem path or ":memory:". The table is not created until
// EnsureSchema runs.
func New(path string, size int, tablePrefix string) (*sqltable.Table, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, sqltable.ErrEmptyDSN
	}
	d, err := sql.Open("sqlite", WithBusyTimeout(p))
	if err != nil {
		return nil, err
	}
	if sqltable.IsMemoryDSN(p) {
		d.SetMaxOpenConns(1)
	}
	t, err := sqltable.New(d, sqltable.SQLite, slot.TableName(tablePrefix), size)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return t, nil
}

// WithBusyTimeout appends a busy_timeout pragma so every pooled connection
// waits on short write locks instead of failing with SQLITE_BUSY.
func WithBusyTimeout(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}
