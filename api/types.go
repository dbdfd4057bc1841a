package api

import (
	"context"
	"net/http"
	"time"

	"journal-api/domain"
)

// TaskService is the task behaviour the handlers depend on.
type TaskService interface {
	Location() *time.Location
	Cursor(day time.Time) domain.Cursor
	ListDay(ctx context.Context, owner string, day time.Time) ([]domain.Task, error)
	Create(ctx context.Context, owner string, in domain.NewTask) (domain.Task, error)
	Get(ctx context.Context, owner, id string) (domain.Task, error)
	Edit(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	ToggleResolved(ctx context.Context, owner, id string) (domain.Task, error)
	Delete(ctx context.Context, owner, id string, confirmed bool) error
}

// Drafts buffers debounced edits.
type Drafts interface {
	Submit(owner, id string, patch domain.TaskPatch) error
	Pending(owner, id string) (domain.TaskPatch, bool)
}

// Authenticator resolves the signed-in principal of a request.
type Authenticator interface {
	PrincipalFromRequest(r *http.Request) (Principal, error)
}

// Principal is the authenticated account. Subject partitions stored tasks.
type Principal struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}
