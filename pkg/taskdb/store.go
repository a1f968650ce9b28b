// Package taskdb loads finished sessions into a SQLite database for
// downstream analysis of codeml runs across clusters and workers.
package taskdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config locates the task database. URL, when set, wins over Path.
type Config struct {
	// Path is a local database file, optionally written as a file: DSN.
	// ":memory:" opens a private in-memory database.
	Path string

	// URL is a remote libsql server, e.g. libsql://tasks.example.org.
	URL string

	// AuthToken is added to URL as authToken unless the URL already has one.
	AuthToken string
}

const memoryDSN = ":memory:"

// dsn returns the driver DSN for cfg and whether it is a local file.
// The directory of a local file is created when missing.
func (c Config) dsn() (string, bool, error) {
	if remote := strings.TrimSpace(c.URL); remote != "" {
		dsn, err := withAuthToken(remote, c.AuthToken)
		return dsn, false, err
	}

	p := strings.TrimSpace(c.Path)
	switch p {
	case "":
		return "", false, errors.New("task database path or url is required")
	case memoryDSN:
		return p, false, nil
	}

	dsn := p
	if !strings.HasPrefix(p, "file:") {
		dsn = "file:" + filepath.Clean(p)
	}
	file, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", false, fmt.Errorf("create task database directory: %w", err)
		}
	}
	return dsn, true, nil
}

func withAuthToken(remote, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return remote, nil
	}
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid task database url: %w", err)
	}
	q := u.Query()
	if q.Get("authToken") == "" {
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// finishOpen pings db, tunes local SQLite and migrates the schema. db is
// closed on any error.
func finishOpen(ctx context.Context, db *sql.DB, dsn string, local bool) (*sql.DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping task database: %w", err)
	}

	switch {
	case dsn == memoryDSN:
		// Each pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	case local:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := tuneLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func tuneLocal(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var timeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&timeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}
