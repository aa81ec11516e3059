// Package sqlite stores calendar items in a single SQLite file. Payloads
// are kept as jCal JSON text and returned in the tagged single-format form.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS containers (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	color        TEXT NOT NULL DEFAULT '',
	capabilities TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	uid          TEXT NOT NULL UNIQUE,
	container_id TEXT NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
	payload      TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_container ON items(container_id);
`

// Store is a store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	appLog.Info("sqlite store opened", "path", path)
	return s, nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateContainer(ctx context.Context, c store.Container) (store.Container, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO containers (id, name, color, capabilities, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, c.Color, strings.Join(c.Capabilities, ","), now())
	if err != nil {
		return store.Container{}, fmt.Errorf("create container: %w", err)
	}
	return c, nil
}

func (s *Store) QueryContainers(ctx context.Context, filter store.ContainerFilter) ([]store.Container, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, color, capabilities FROM containers ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query containers: %w", err)
	}
	defer rows.Close()

	var out []store.Container
	for rows.Next() {
		var c store.Container
		var caps string
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &caps); err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		if caps != "" {
			c.Capabilities = strings.Split(caps, ",")
		}
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (s *Store) QueryTasks(ctx context.Context, filter store.Filter) ([]store.Item, error) {
	query := "SELECT uid, container_id, payload FROM items"
	var args []any
	if filter.Container != "" {
		query += " WHERE container_id = ?"
		args = append(args, filter.Container)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []store.Item
	for rows.Next() {
		var it store.Item
		var payload string
		if err := rows.Scan(&it.ID, &it.Container, &payload); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var raw ics.Raw
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			appLog.Warn("sqlite: skipping unreadable payload", "uid", it.ID, "err", err)
			continue
		}
		it.Item, it.Format = &raw, store.FormatJCal
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, container string, payload *ics.Raw) (string, error) {
	if err := s.requireContainer(ctx, container); err != nil {
		return "", err
	}
	uid := uuid.NewString()
	data, err := encode(payload, uid)
	if err != nil {
		return "", err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO items (uid, container_id, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		uid, container, data, ts, ts)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return uid, nil
}

func (s *Store) UpdateTask(ctx context.Context, container, uid string, payload *ics.Raw) error {
	data, err := encode(payload, uid)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET payload = ?, updated_at = ? WHERE uid = ? AND container_id = ?",
		data, now(), uid, container)
	if err != nil {
		return fmt.Errorf("update task %s: %w", uid, err)
	}
	return affected(res, uid)
}

func (s *Store) DeleteTask(ctx context.Context, container, uid string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE uid = ? AND container_id = ?", uid, container)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", uid, err)
	}
	return affected(res, uid)
}

func (s *Store) MoveTask(ctx context.Context, from, to, uid string) error {
	if err := s.requireContainer(ctx, to); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET container_id = ?, updated_at = ? WHERE uid = ? AND container_id = ?",
		to, now(), uid, from)
	if err != nil {
		return fmt.Errorf("move task %s: %w", uid, err)
	}
	return affected(res, uid)
}

func (s *Store) requireContainer(ctx context.Context, id string) error {
	var found string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM containers WHERE id = ?", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("container %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup container %s: %w", id, err)
	}
	return nil
}

func encode(payload *ics.Raw, uid string) (string, error) {
	stamped, err := store.Stamp(payload, uid)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(stamped)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func affected(res sql.Result, uid string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", uid, store.ErrNotFound)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
