package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskStorage persists tasks partitioned by owner.
type TaskStorage interface {
	ListTasks(ctx context.Context, owner string, r DayRange) ([]Task, error)
	GetTask(ctx context.Context, owner, id string) (Task, error)
	InsertTask(ctx context.Context, owner string, t Task) error
	UpdateTask(ctx context.Context, owner, id string, patch TaskPatch) error
	DeleteTask(ctx context.Context, owner, id string) error
}

const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// Change tells subscribers that an owner's list for Day has changed.
type Change struct {
	Owner  string    `json:"owner"`
	TaskID string    `json:"taskId"`
	Day    string    `json:"day"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
}

// Notifier publishes changes. Failures never fail the originating operation.
type Notifier interface {
	Publish(ctx context.Context, ch Change) error
}

type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Change) error { return nil }

// TaskService implements the task operations on top of a TaskStorage.
type TaskService struct {
	st       TaskStorage
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
}

func NewTaskService(st TaskStorage, n Notifier, loc *time.Location) *TaskService {
	if st == nil {
		panic("domain.NewTaskService: storage is nil")
	}
	if n == nil {
		n = NopNotifier{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TaskService{st: st, notifier: n, loc: loc, now: time.Now}
}

// WithClock replaces the clock used for "today" and creation timestamps.
func (s *TaskService) WithClock(now func() time.Time) *TaskService {
	s.now = now
	return s
}

func (s *TaskService) Location() *time.Location { return s.loc }

// Cursor returns a cursor on day, clamped to today.
func (s *TaskService) Cursor(day time.Time) Cursor {
	return NewCursor(day, s.now(), s.loc)
}

// ListDay returns the owner's tasks created on day, oldest first.
func (s *TaskService) ListDay(ctx context.Context, owner string, day time.Time) (_ []Task, err error) {
	defer observeOp("list", time.Now(), &err)
	rng := RangeForDay(day, s.loc)
	tasks, err := s.st.ListTasks(ctx, owner, rng)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", rng.Key(), err)
	}
	SortTasks(tasks)
	return tasks, nil
}

// Create validates and inserts a task on in.Day (today when zero).
func (s *TaskService) Create(ctx context.Context, owner string, in NewTask) (_ Task, err error) {
	defer observeOp("create", time.Now(), &err)
	if err := in.Validate(); err != nil {
		return Task{}, err
	}
	created, err := s.creationTime(in.Day)
	if err != nil {
		return Task{}, err
	}
	t := Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   created.UTC(),
	}
	if err := s.st.InsertTask(ctx, owner, t); err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.publish(ctx, owner, t, ChangeCreated)
	return t, nil
}

// creationTime keeps backfilled tasks on the requested day by reusing the
// current offset into today.
func (s *TaskService) creationTime(day time.Time) (time.Time, error) {
	now := s.now().In(s.loc)
	if day.IsZero() {
		return now, nil
	}
	today := StartOfDay(now, s.loc)
	rng := RangeForDay(day, s.loc)
	switch {
	case rng.Start.After(today):
		return time.Time{}, ErrFutureDate
	case rng.Start.Equal(today):
		return now, nil
	}
	created := rng.Start.Add(now.Sub(today))
	if !rng.Contains(created) {
		created = rng.End.Add(-time.Second)
	}
	return created, nil
}

func (s *TaskService) Get(ctx context.Context, owner, id string) (Task, error) {
	return s.st.GetTask(ctx, owner, id)
}

// Edit applies a patch. Title and description of a resolved task are read-only
// unless the same patch reopens it.
func (s *TaskService) Edit(ctx context.Context, owner, id string, patch TaskPatch) (_ Task, err error) {
	defer observeOp("edit", time.Now(), &err)
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return Task{}, err
	}
	cur, err := s.st.GetTask(ctx, owner, id)
	if err != nil {
		return Task{}, err
	}
	if err := cur.CheckPatch(patch); err != nil {
		return Task{}, err
	}
	if err := s.st.UpdateTask(ctx, owner, id, patch); err != nil {
		return Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	updated := patch.Apply(cur)
	s.publish(ctx, owner, updated, ChangeUpdated)
	return updated, nil
}

// ToggleResolved flips the resolution flag of exactly one task.
func (s *TaskService) ToggleResolved(ctx context.Context, owner, id string) (_ Task, err error) {
	defer observeOp("toggle", time.Now(), &err)
	cur, err := s.st.GetTask(ctx, owner, id)
	if err != nil {
		return Task{}, err
	}
	patch := TaskPatch{Resolved: BoolPtr(!cur.Resolved)}
	if err := s.st.UpdateTask(ctx, owner, id, patch); err != nil {
		return Task{}, fmt.Errorf("toggle task %s: %w", id, err)
	}
	updated := patch.Apply(cur)
	s.publish(ctx, owner, updated, ChangeUpdated)
	return updated, nil
}

// Delete removes a task. Without confirmation nothing is touched.
func (s *TaskService) Delete(ctx context.Context, owner, id string, confirmed bool) (err error) {
	if !confirmed {
		return ErrDeleteNotConfirmed
	}
	defer observeOp("delete", time.Now(), &err)
	cur, err := s.st.GetTask(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.st.DeleteTask(ctx, owner, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	s.publish(ctx, owner, cur, ChangeDeleted)
	return nil
}

func (s *TaskService) publish(ctx context.Context, owner string, t Task, kind string) {
	ch := Change{
		Owner:  owner,
		TaskID: t.ID,
		Day:    t.CreatedAt.In(s.loc).Format(DayLayout),
		Kind:   kind,
		At:     s.now().UTC(),
	}
	if err := s.notifier.Publish(ctx, ch); err != nil {
		log.WithFields(log.Fields{"task": t.ID, "kind": kind, "day": ch.Day}).WithError(err).Error("publish change")
	}
}

// SortTasks orders tasks by creation time, then id.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
