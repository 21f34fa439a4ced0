// Package prefs persists the small client-local state the application keeps
// between sessions: the bearer token, recent stadium searches and UI flags.
// Booking data itself is never stored here; the backend owns it.
package prefs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MaxRecentSearches bounds the recent-search list.
const MaxRecentSearches = 10

// Store wraps the local sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the preferences database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS recent_searches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query TEXT UNIQUE NOT NULL,
			searched_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const tokenKey = "auth_token"

// Token returns the stored bearer token, empty when signed out.
func (s *Store) Token(ctx context.Context) (string, error) {
	return s.get(ctx, tokenKey)
}

// SetToken stores the bearer token. An empty value signs out.
func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.set(ctx, tokenKey, token)
}

// Flag returns a boolean UI preference such as "sidebar_open".
func (s *Store) Flag(ctx context.Context, name string) (bool, error) {
	v, err := s.get(ctx, "flag:"+name)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetFlag stores a boolean UI preference.
func (s *Store) SetFlag(ctx context.Context, name string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	return s.set(ctx, "flag:"+name, v)
}

// AddRecentSearch records a search query, moving a repeated query to the top
// and trimming the list to MaxRecentSearches.
func (s *Store) AddRecentSearch(ctx context.Context, query string) error {
	if query == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recent_searches (query, searched_at)
		VALUES (?, ?)
		ON CONFLICT(query) DO UPDATE SET searched_at = excluded.searched_at`,
		query, time.Now())
	if err != nil {
		return fmt.Errorf("add recent search: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM recent_searches
		WHERE id NOT IN (
			SELECT id FROM recent_searches
			ORDER BY searched_at DESC, id DESC
			LIMIT ?
		)`, MaxRecentSearches)
	return err
}

// RecentSearches returns stored queries, most recent first.
func (s *Store) RecentSearches(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query FROM recent_searches
		ORDER BY searched_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now())
	return err
}
