// Package store defines the persistence boundary for accounts, tasks and
// daily usage counters. The gorm implementation backs production; the memory
// implementation backs tests.
package store

import (
	"context"
	"errors"

	"github.com/genstudio/backend/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	AccountID *uint
	TaskType  string
	Statuses  []string
	Limit     int
}

// AccountStore persists provider accounts.
type AccountStore interface {
	ListAccounts(ctx context.Context, activeOnly bool) ([]models.Account, error)
	GetAccount(ctx context.Context, id uint) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	UpdateAccount(ctx context.Context, account *models.Account) error
	// DeleteAccount removes the account together with its tasks and usage rows.
	DeleteAccount(ctx context.Context, id uint) error
}

// TaskStore persists generation tasks, keyed by their external task id.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, taskID string) error
}

// UsageStore persists per-account per-day counters.
type UsageStore interface {
	// GetUsage returns the row for (accountID, day) or nil if none exists yet.
	GetUsage(ctx context.Context, accountID uint, day string) (*models.DailyUsage, error)
	// SaveUsage inserts or updates the row for (usage.AccountID, usage.UsageDate).
	SaveUsage(ctx context.Context, usage *models.DailyUsage) error
	// PruneUsageBefore deletes rows older than day and returns how many went.
	PruneUsageBefore(ctx context.Context, day string) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	AccountStore
	TaskStore
	UsageStore
}
