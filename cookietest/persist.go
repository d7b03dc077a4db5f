// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package cookietest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ava-labs/cefcookie/cookie"
)

// DatabaseFile is the name of the database created under a storage path.
const DatabaseFile = "Cookies"

// The table follows the layout browsers use for their cookie databases, so
// existing tooling can read it.
const createTable = `CREATE TABLE IF NOT EXISTS cookies (
	creation_utc INTEGER NOT NULL,
	host_key TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '/',
	expires_utc INTEGER NOT NULL DEFAULT 0,
	is_secure INTEGER NOT NULL DEFAULT 0,
	is_httponly INTEGER NOT NULL DEFAULT 0,
	last_access_utc INTEGER NOT NULL DEFAULT 0,
	has_expires INTEGER NOT NULL DEFAULT 1,
	is_persistent INTEGER NOT NULL DEFAULT 1,
	UNIQUE (host_key, name, path)
)`

var errOpenStore = errors.New("cannot open cookie database")

// epochOffsetMicros is the distance between 1601-01-01 and the Unix epoch.
const epochOffsetMicros int64 = 11_644_473_600 * 1_000_000

func toDBTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro() + epochOffsetMicros
}

func fromDBTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v - epochOffsetMicros).UTC()
}

func openDatabase(ctx context.Context, dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenStore, err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, DatabaseFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenStore, err)
	}
	// One connection: the store is only ever used from its IO goroutine.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: creating table: %w", errOpenStore, err)
	}
	return db, nil
}

// openDatabaseReadOnly opens the database under an existing dir without
// creating or changing anything. It returns nil if dir holds no database.
func openDatabaseReadOnly(ctx context.Context, dir string) (*sql.DB, error) {
	path, err := filepath.Abs(filepath.Join(dir, DatabaseFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenStore, err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenStore, err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "mode=ro"}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenStore, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", errOpenStore, err)
	}
	return db, nil
}

// loadCookies returns the stored cookies in creation order.
func loadCookies(ctx context.Context, db *sql.DB) ([]cookie.Cookie, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, value, host_key, path, is_secure, is_httponly,
		       creation_utc, last_access_utc, has_expires, expires_utc
		FROM cookies
		ORDER BY creation_utc ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying cookies: %w", err)
	}
	defer rows.Close()

	var out []cookie.Cookie
	for rows.Next() {
		var (
			c                            cookie.Cookie
			secure, httpOnly, hasExpires int
			creation, access, expires    int64
		)
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &secure, &httpOnly,
			&creation, &access, &hasExpires, &expires); err != nil {
			return nil, fmt.Errorf("scanning cookie row: %w", err)
		}
		c.Secure = secure != 0
		c.HTTPOnly = httpOnly != 0
		c.Creation = fromDBTime(creation)
		c.LastAccess = fromDBTime(access)
		if hasExpires != 0 {
			c.Expires = fromDBTime(expires)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cookie rows: %w", err)
	}
	return out, nil
}

// saveCookies replaces the table contents in one transaction.
func saveCookies(ctx context.Context, db *sql.DB, cookies []cookie.Cookie) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cookies`); err != nil {
		return fmt.Errorf("clearing cookies: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cookies (creation_utc, host_key, name, value, path, expires_utc,
		                     is_secure, is_httponly, last_access_utc, has_expires, is_persistent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cookies {
		if _, err = stmt.ExecContext(ctx,
			toDBTime(c.Creation), c.Domain, c.Name, c.Value, c.Path, toDBTime(c.Expires),
			boolInt(c.Secure), boolInt(c.HTTPOnly), toDBTime(c.LastAccess),
			boolInt(c.HasExpires()), boolInt(c.HasExpires()),
		); err != nil {
			return fmt.Errorf("inserting cookie %q: %w", c.Name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing cookies: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
