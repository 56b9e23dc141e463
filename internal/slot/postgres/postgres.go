package postgres

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/slotexec/internal/slot"
	"github.com/loykin/slotexec/internal/slot/sqltable"
)

// New opens a PostgreSQL slot table through the pgx stdlib driver.
// sql.Open does not connect; the first EnsureSchema does.
func New(dsn string, size int, tablePrefix string) (*sqltable.Table, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, sqltable.ErrEmptyDSN
	}
	db, err := sql.Open("pgx", d)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	t, err := sqltable.New(db, sqltable.Postgres, slot.TableName(tablePrefix), size)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}
