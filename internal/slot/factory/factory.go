package factory

import (
	"strings"

	"github.com/loykin/slotexec/internal/slot"
	"github.com/loykin/slotexec/internal/slot/memory"
	pg "github.com/loykin/slotexec/internal/slot/postgres"
	rd "github.com/loykin/slotexec/internal/slot/redis"
	sq "github.com/loykin/slotexec/internal/slot/sqlite"
)

// NewFromDSN selects a slot table implementation based on DSN.
// Supported:
//   - memory:   "" or "memory://" (process-local)
//   - sqlite:   "sqlite://<path>" or bare filepath
//   - postgres: "postgres://" or "postgresql://"
//   - redis:    "redis://" or "rediss://" (prefix is used as key prefix)
//
// prefix is the SQL table prefix or the redis key prefix.
func NewFromDSN(dsn string, size int, prefix string) (slot.Table, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case d == "" || ld == "memory://":
		return memory.New(size), nil
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d, size, prefix)
	case strings.HasPrefix(ld, "redis://") || strings.HasPrefix(ld, "rediss://"):
		return rd.NewFromURL(d, size, rd.WithPrefix(prefix))
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):], size, prefix)
	}
	return sq.New(d, size, prefix)
}
