// Package postgres stores calendar items in PostgreSQL with JSONB payloads.
// Items are returned in the format-map form.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/store"
)

// Store is a store.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for dsn and makes sure the tables exist.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(pool)
	if err := s.EnsureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	appLog.Info("postgres store connected")
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureTables creates the containers and items tables if they don't exist.
func (s *Store) EnsureTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS icanban_containers (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			color        TEXT NOT NULL DEFAULT '',
			capabilities TEXT[] NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create containers table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS icanban_items (
			seq          BIGSERIAL,
			uid          TEXT PRIMARY KEY,
			container_id TEXT NOT NULL REFERENCES icanban_containers(id) ON DELETE CASCADE,
			payload      JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create items table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_icanban_items_container ON icanban_items(container_id)`)
	return err
}

func (s *Store) CreateContainer(ctx context.Context, c store.Container) (store.Container, error) {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	caps := c.Capabilities
	if caps == nil {
		caps = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO icanban_containers (id, name, color, capabilities) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Color, caps)
	if err != nil {
		return store.Container{}, fmt.Errorf("create container: %w", err)
	}
	return c, nil
}

func (s *Store) QueryContainers(ctx context.Context, filter store.ContainerFilter) ([]store.Container, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, color, capabilities FROM icanban_containers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query containers: %w", err)
	}
	defer rows.Close()

	var out []store.Container
	for rows.Next() {
		var c store.Container
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.Capabilities); err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (s *Store) QueryTasks(ctx context.Context, filter store.Filter) ([]store.Item, error) {
	query := `SELECT uid, container_id, payload FROM icanban_items`
	var args []any
	if filter.Container != "" {
		query += ` WHERE container_id = $1`
		args = append(args, filter.Container)
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []store.Item
	for rows.Next() {
		var it store.Item
		var payload []byte
		if err := rows.Scan(&it.ID, &it.Container, &payload); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var raw ics.Raw
		if err := json.Unmarshal(payload, &raw); err != nil {
			appLog.Warn("postgres: skipping unreadable payload", "uid", it.ID, "err", err)
			continue
		}
		it.Formats = map[string]*ics.Raw{store.FormatJCal: &raw}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, container string, payload *ics.Raw) (string, error) {
	if err := s.requireContainer(ctx, container); err != nil {
		return "", err
	}
	uid := uuid.Must(uuid.NewV7()).String()
	data, err := encode(payload, uid)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO icanban_items (uid, container_id, payload) VALUES ($1, $2, $3::jsonb)`,
		uid, container, data)
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE icanban_items SET payload = $1::jsonb, updated_at = $2 WHERE uid = $3 AND container_id = $4`,
		data, time.Now(), uid, container)
	if err != nil {
		return fmt.Errorf("update task %s: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", uid, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, container, uid string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM icanban_items WHERE uid = $1 AND container_id = $2`, uid, container)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", uid, store.ErrNotFound)
	}
	return nil
}

func (s *Store) MoveTask(ctx context.Context, from, to, uid string) error {
	if err := s.requireContainer(ctx, to); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE icanban_items SET container_id = $1, updated_at = $2 WHERE uid = $3 AND container_id = $4`,
		to, time.Now(), uid, from)
	if err != nil {
		return fmt.Errorf("move task %s: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", uid, store.ErrNotFound)
	}
	return nil
}

func (s *Store) requireContainer(ctx context.Context, id string) error {
	var found string
	err := s.pool.QueryRow(ctx, `SELECT id FROM icanban_containers WHERE id = $1`, id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
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
