//go:build !cgo

package taskdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

const driverLibsql = "libsql"

func init() {
	sql.Register(driverLibsql, &sqlite.Driver{})
}

// Open opens (and creates if needed) a SQLite-backed task database and
// brings its schema up to date.
//
// Remote libsql URLs require a cgo-enabled build.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, local, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.URL) != "" {
		return nil, errors.New("remote libsql URL requires a cgo-enabled build")
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}
	return finishOpen(ctx, db, dsn, local)
}
