package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"journal-api/domain"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteDayRangeIsHalfOpen(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	rng := domain.RangeForDay(time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), time.UTC)

	for _, task := range []domain.Task{
		{ID: "start", Title: "at start", CreatedAt: rng.Start},
		{ID: "late", Title: "last instant", CreatedAt: rng.End.Add(-time.Nanosecond)},
		{ID: "end", Title: "next midnight", CreatedAt: rng.End},
		{ID: "before", Title: "previous day", CreatedAt: rng.Start.Add(-time.Nanosecond)},
	} {
		if err := db.InsertTask(ctx, "u1", task); err != nil {
			t.Fatalf("insert %s: %v", task.ID, err)
		}
	}
	if err := db.InsertTask(ctx, "u2", domain.Task{ID: "other", Title: "other owner", CreatedAt: rng.Start}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tasks, err := db.ListTasks(ctx, "u1", rng)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "start" || tasks[1].ID != "late" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if !tasks[0].CreatedAt.Equal(rng.Start) {
		t.Fatalf("created at changed: %v", tasks[0].CreatedAt)
	}
}

func TestSQLiteUpdateAndDelete(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	created := time.Date(2024, 6, 20, 8, 0, 0, 0, time.UTC)
	if err := db.InsertTask(ctx, "u1", domain.Task{ID: "t1", Title: "draft", CreatedAt: created}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := db.UpdateTask(ctx, "u1", "t1", domain.TaskPatch{Title: domain.StringPtr("final"), Resolved: domain.BoolPtr(true)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := db.GetTask(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "final" || !got.Resolved || got.Description != "" {
		t.Fatalf("unexpected task: %+v", got)
	}

	if err := db.UpdateTask(ctx, "u2", "t1", domain.TaskPatch{Title: domain.StringPtr("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update of another owner's task must be not found, got %v", err)
	}
	if err := db.DeleteTask(ctx, "u1", "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetTask(ctx, "u1", "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := db.DeleteTask(ctx, "u1", "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete must be not found, got %v", err)
	}
}

func TestSQLiteWithTaskService(t *testing.T) {
	db := openTestSQLite(t)
	now := time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)
	svc := domain.NewTaskService(db, nil, time.UTC).WithClock(func() time.Time { return now })
	ctx := context.Background()

	a, err := svc.Create(ctx, "u1", domain.NewTask{Title: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ToggleResolved(ctx, "u1", a.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	tasks, err := svc.ListDay(ctx, "u1", now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || !tasks[0].Resolved {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}
