package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"journal-api/domain"
)

// SQLite is a local task backend with the same semantics as Storage.
type SQLite struct {
	db *sql.DB
}

var _ domain.TaskStorage = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	owner       TEXT    NOT NULL,
	id          TEXT    NOT NULL,
	title       TEXT    NOT NULL,
	description TEXT    NOT NULL DEFAULT '',
	resolved    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (owner, id)
);
CREATE INDEX IF NOT EXISTS tasks_owner_created ON tasks (owner, created_at);`

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ListTasks(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, resolved, created_at
		FROM tasks
		WHERE owner = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at, id`,
		owner, r.Start.UnixNano(), r.End.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t       domain.Task
		created int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Resolved, &created); err != nil {
		return domain.Task{}, err
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	return t, nil
}

func (s *SQLite) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, resolved, created_at
		FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, err
}

func (s *SQLite) InsertTask(ctx context.Context, owner string, t domain.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (owner, id, title, description, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		owner, t.ID, t.Title, t.Description, t.Resolved, t.CreatedAt.UnixNano())
	return err
}

func (s *SQLite) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) error {
	var (
		sets []string
		args []any
	)
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Resolved != nil {
		sets = append(sets, "resolved = ?")
		args = append(args, *patch.Resolved)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, owner, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE owner = ? AND id = ?", args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) DeleteTask(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE owner = ? AND id = ?", owner, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
