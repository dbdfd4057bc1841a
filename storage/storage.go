package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"journal-api/domain"
)

const edmDateTime = "Edm.DateTime"

// Storage keeps tasks in an Azure table partitioned by owner.
type Storage struct {
	taskTable *aztables.Client
}

var _ domain.TaskStorage = (*Storage)(nil)

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable)}, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Resolved      bool   `json:"Resolved"`
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

type taskUpdate struct {
	entityKeys
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Resolved    *bool   `json:"Resolved,omitempty"`
}

func encodeTask(owner string, t domain.Task) ([]byte, error) {
	return sonic.Marshal(taskEntity{
		entityKeys:    entityKeys{PartitionKey: owner, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Resolved:      t.Resolved,
		CreatedAt:     formatEdmTime(t.CreatedAt),
		CreatedAtType: edmDateTime,
	})
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: bad CreatedAt: %w", ent.RowKey, err)
	}
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Resolved:    ent.Resolved,
		CreatedAt:   created.UTC(),
	}, nil
}

func encodePatch(owner, id string, p domain.TaskPatch) ([]byte, error) {
	return sonic.Marshal(taskUpdate{
		entityKeys:  entityKeys{PartitionKey: owner, RowKey: id},
		Title:       p.Title,
		Description: p.Description,
		Resolved:    p.Resolved,
	})
}

func formatEdmTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.0000000Z")
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// ListTasks retrieves the owner's tasks created inside r.
func (s *Storage) ListTasks(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
	filter := DayFilter(owner, r)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	domain.SortTasks(tasks)
	return tasks, nil
}

func (s *Storage) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, err
	}
	return decodeTask(ent.Value)
}

func (s *Storage) InsertTask(ctx context.Context, owner string, t domain.Task) error {
	payload, err := encodeTask(owner, t)
	if err == nil {
		_, err = s.taskTable.AddEntity(ctx, payload, nil)
	}
	return err
}

// UpdateTask merges the patch into the stored entity.
func (s *Storage) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) error {
	payload, err := encodePatch(owner, id, patch)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isStatus(err, http.StatusNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func (s *Storage) DeleteTask(ctx context.Context, owner, id string) error {
	et := azcore.ETagAny
	_, err := s.taskTable.DeleteEntity(ctx, owner, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	if isStatus(err, http.StatusNotFound) {
		return domain.ErrNotFound
	}
	return err
}
