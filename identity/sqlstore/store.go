// Package sqlstore persists identity attributes in SQLite. Each row carries a version
// that is compared and bumped on every write.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/MrEthical07/goAuthTree/identity"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed identity.AttributeStore.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// One connection: SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Values(ctx context.Context, ref identity.Ref, attr string) ([]string, error) {
	if !ref.Valid() {
		return nil, identity.ErrInvalidRef
	}
	vals, _, err := s.load(ctx, ref, attr)
	return vals, err
}

// load returns the current values and version. Version 0 means no row.
func (s *Store) load(ctx context.Context, ref identity.Ref, attr string) ([]string, int64, error) {
	var (
		raw     string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT vals, version FROM identity_attributes WHERE realm = ? AND username = ? AND attr = ?`,
		ref.Realm, ref.Username, attr,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", identity.ErrBackend, err)
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, 0, fmt.Errorf("decode attribute: %w", err)
	}
	if vals == nil {
		vals = []string{}
	}
	return vals, version, nil
}

func (s *Store) Update(ctx context.Context, ref identity.Ref, attr string, fn identity.UpdateFunc) ([]string, error) {
	if !ref.Valid() {
		return nil, identity.ErrInvalidRef
	}

	for i := 0; i < identity.MaxUpdateAttempts; i++ {
		current, version, err := s.load(ctx, ref, attr)
		if err != nil {
			return nil, err
		}
		next, err := fn(slices.Clone(current))
		if err != nil {
			return nil, err
		}

		applied, err := s.write(ctx, ref, attr, version, next)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", identity.ErrBackend, err)
		}
		if !applied {
			continue
		}
		if len(next) == 0 {
			return []string{}, nil
		}
		return slices.Clone(next), nil
	}
	return nil, identity.ErrConflict
}

// write stores next if the row is still at version. It reports false when another writer
// got there first.
func (s *Store) write(ctx context.Context, ref identity.Ref, attr string, version int64, next []string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case len(next) == 0 && version == 0:
		return true, nil
	case len(next) == 0:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM identity_attributes WHERE realm = ? AND username = ? AND attr = ? AND version = ?`,
			ref.Realm, ref.Username, attr, version)
	default:
		encoded, mErr := json.Marshal(next)
		if mErr != nil {
			return false, mErr
		}
		if version == 0 {
			res, err = s.db.ExecContext(ctx,
				`INSERT INTO identity_attributes (realm, username, attr, vals, version) VALUES (?, ?, ?, ?, 1)
				 ON CONFLICT (realm, username, attr) DO NOTHING`,
				ref.Realm, ref.Username, attr, string(encoded))
		} else {
			res, err = s.db.ExecContext(ctx,
				`UPDATE identity_attributes SET vals = ?, version = version + 1
				 WHERE realm = ? AND username = ? AND attr = ? AND version = ?`,
				string(encoded), ref.Realm, ref.Username, attr, version)
		}
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
