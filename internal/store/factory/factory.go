package factory

import (
	"errors"
	"strings"

	"github.com/nicwh1988/respawn/internal/store"
	pg "github.com/nicwh1988/respawn/internal/store/postgres"
	sq "github.com/nicwh1988/respawn/internal/store/sqlite"
)

// NewFromDSN selects a store implementation from the DSN shape:
//   - "postgres://" or "postgresql://" prefix: PostgreSQL
//   - "sqlite://<path>" or a bare filesystem path: SQLite
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty store DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	return sq.New(d)
}
