package store

import (
	"context"
	"errors"

	"github.com/tburke/arbiter/internal/model"
)

// ErrNotFound is returned when a task is not found.
var ErrNotFound = errors.New("task not found")

// ErrDuplicateResponse is returned when an operator has already responded
// to a task. The original response is never overwritten.
var ErrDuplicateResponse = errors.New("duplicate response for task and operator")

// ErrInvalidTransition is returned when a task status transition is not allowed,
// in particular when finalizing a task that is already in a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// TaskStats holds aggregate task and response statistics.
type TaskStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	TotalResponses int            `json:"total_responses"`
	AvgResponses   float64        `json:"avg_responses_per_task"`
}

// Store defines the persistence operations for tasks and their responses.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error)
	ListTasksByStatus(ctx context.Context, status string, limit int) ([]*model.Task, error)

	// NextReadyTask returns the oldest ready task the given operator has not
	// yet responded to, or ErrNotFound when no such task exists.
	NextReadyTask(ctx context.Context, operatorID string) (*model.Task, error)

	// InsertResponse atomically inserts a response if no response from the
	// same operator for the same task exists, returning ErrDuplicateResponse
	// otherwise.
	InsertResponse(ctx context.Context, r *model.TaskResponse) error
	ListResponses(ctx context.Context, taskID string) ([]*model.TaskResponse, error)
	CountResponses(ctx context.Context, taskID string) (int, error)

	// FinalizeTask transitions a task from ready to the given terminal status,
	// setting the winning response for completed tasks. It returns
	// ErrInvalidTransition when the task is no longer ready, so that only one
	// evaluation can ever finalize a task.
	FinalizeTask(ctx context.Context, taskID, status string, response *string) error

	GetTaskStats(ctx context.Context) (*TaskStats, error)
	Close() error
}
