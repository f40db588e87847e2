package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/genstudio/backend/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It returns copies, never
// internal pointers, so callers cannot mutate stored state by accident.
type MemoryStore struct {
	mu sync.RWMutex

	accounts      map[uint]models.Account
	nextAccountID uint

	tasks      map[string]models.Task
	nextTaskID uint

	usages map[usageKey]models.DailyUsage
}

type usageKey struct {
	accountID uint
	day       string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[uint]models.Account),
		nextAccountID: 1,
		tasks:         make(map[string]models.Task),
		nextTaskID:    1,
		usages:        make(map[usageKey]models.DailyUsage),
	}
}

func (s *MemoryStore) ListAccounts(ctx context.Context, activeOnly bool) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if activeOnly && !a.IsActive {
			continue
		}
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id uint) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == 0 {
		account.ID = s.nextAccountID
		s.nextAccountID++
	} else if account.ID >= s.nextAccountID {
		s.nextAccountID = account.ID + 1
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = *account
	return nil
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return ErrNotFound
	}
	account.UpdatedAt = time.Now().UTC()
	s.accounts[account.ID] = *account
	return nil
}

func (s *MemoryStore) DeleteAccount(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(s.accounts, id)
	for taskID, t := range s.tasks {
		if t.AccountID == id {
			delete(s.tasks, taskID)
		}
	}
	for key := range s.usages {
		if key.accountID == id {
			delete(s.usages, key)
		}
	}
	return nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == 0 {
		task.ID = s.nextTaskID
		s.nextTaskID++
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	stored := *task
	stored.Account = nil
	s.tasks[task.TaskID] = stored
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if a, ok := s.accounts[t.AccountID]; ok {
		account := a
		t.Account = &account
	}
	return &t, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.AccountID != nil && t.AccountID != *filter.AccountID {
			continue
		}
		if filter.TaskType != "" && t.TaskType != filter.TaskType {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, status := range filter.Statuses {
				if t.Status == status {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if a, ok := s.accounts[t.AccountID]; ok {
			account := a
			t.Account = &account
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.TaskID]; !ok {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	stored := *task
	stored.Account = nil
	s.tasks[task.TaskID] = stored
	return nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStore) GetUsage(ctx context.Context, accountID uint, day string) (*models.DailyUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usages[usageKey{accountID: accountID, day: day}]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) SaveUsage(ctx context.Context, usage *models.DailyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{accountID: usage.AccountID, day: usage.UsageDate}
	now := time.Now().UTC()
	if existing, ok := s.usages[key]; ok {
		usage.ID = existing.ID
		usage.CreatedAt = existing.CreatedAt
	} else {
		usage.ID = uint(len(s.usages) + 1)
		usage.CreatedAt = now
	}
	usage.UpdatedAt = now
	s.usages[key] = *usage
	return nil
}

func (s *MemoryStore) PruneUsageBefore(ctx context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for key := range s.usages {
		if key.day < day {
			delete(s.usages, key)
			pruned++
		}
	}
	return pruned, nil
}
