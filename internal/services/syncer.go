package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/genstudio/backend/internal/database"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/provider"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/store"
)

// Synchronizer reconciles local task state with the provider and settles the
// quota ledger on terminal transitions. All transitions for one task run
// under that task's mutex, and Delete takes the same mutex, so a late sync
// can neither double-refund nor resurrect a deleted task.
type Synchronizer struct {
	store  store.Store
	ledger *quota.Ledger
	video  provider.VideoClient

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSynchronizer(s store.Store, ledger *quota.Ledger, video provider.VideoClient) *Synchronizer {
	return &Synchronizer{
		store:  s,
		ledger: ledger,
		video:  video,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Synchronizer) taskLock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[taskID] = lock
	}
	return lock
}

func quotaKindFor(taskType string) quota.Kind {
	if taskType == models.TaskTypeVideo {
		return quota.KindVideoTokens
	}
	return quota.KindImageCount
}

// Sync refreshes a video task from the provider. Terminal tasks are returned
// unchanged; the ledger is settled exactly once, on the transition into a
// terminal state. A provider failure mutates nothing.
func (s *Synchronizer) Sync(ctx context.Context, taskID string) (*models.Task, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return task, nil
	}
	if task.TaskType != models.TaskTypeVideo {
		// image and banana tasks finish in-process, not at the provider
		return task, nil
	}
	if task.Account == nil {
		return nil, fmt.Errorf("task %s has no account", taskID)
	}

	status, err := s.video.GetVideoTask(ctx, task.Account.APIKey, task.TaskID)
	if err != nil {
		return nil, err
	}

	return s.applyVideoStatus(ctx, task, status)
}

func (s *Synchronizer) applyVideoStatus(ctx context.Context, task *models.Task, status *provider.VideoTaskStatus) (*models.Task, error) {
	if status.Status == "" || status.Status == task.Status {
		return task, nil
	}

	switch status.Status {
	case models.StatusSucceeded:
		task.Status = models.StatusSucceeded
		task.ResultURL = status.VideoURL
		task.LastFrameURL = status.LastFrameURL
		task.TokenUsage = status.TokenUsage
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return nil, err
		}
		s.settleSuccess(ctx, task, status.TokenUsage)

	case models.StatusFailed, models.StatusCancelled, models.StatusExpired:
		task.Status = status.Status
		task.ErrorMessage = status.ErrorMessage
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return nil, err
		}
		s.refund(ctx, task)

	case models.StatusQueued, models.StatusRunning:
		task.Status = status.Status
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return nil, err
		}

	default:
		log.Printf("Syncer: task %s reported unknown status %q, leaving %q", task.TaskID, status.Status, task.Status)
	}

	return task, nil
}

// settleSuccess replaces the estimated debit with provider-reported actual
// usage. With no reported usage the estimate stands.
func (s *Synchronizer) settleSuccess(ctx context.Context, task *models.Task, actual int64) {
	if actual <= 0 {
		return
	}
	delta := actual - task.EstimatedCost
	if delta == 0 {
		return
	}
	kind := quotaKindFor(task.TaskType)
	if err := s.ledger.Adjust(ctx, task.AccountID, kind, delta); err != nil {
		log.Printf("Syncer: failed to reconcile %s usage for task %s: %v", kind, task.TaskID, err)
		return
	}
	database.InvalidateAccountCache()
}

func (s *Synchronizer) refund(ctx context.Context, task *models.Task) {
	if task.EstimatedCost <= 0 {
		return
	}
	kind := quotaKindFor(task.TaskType)
	if err := s.ledger.Credit(ctx, task.AccountID, kind, task.EstimatedCost); err != nil {
		log.Printf("Syncer: failed to refund %d %s for task %s: %v", task.EstimatedCost, kind, task.TaskID, err)
		return
	}
	database.InvalidateAccountCache()
}

// CompleteLocalSuccess finishes an in-process (image or banana) task. The
// estimated debit is reconciled against how many images actually came back.
func (s *Synchronizer) CompleteLocalSuccess(ctx context.Context, taskID string, apply func(*models.Task), actualCount int64) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return nil
	}

	task.Status = models.StatusSucceeded
	task.ErrorMessage = ""
	if apply != nil {
		apply(task)
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	if delta := actualCount - task.EstimatedCost; delta != 0 {
		kind := quotaKindFor(task.TaskType)
		if err := s.ledger.Adjust(ctx, task.AccountID, kind, delta); err != nil {
			log.Printf("Syncer: failed to reconcile %s usage for task %s: %v", kind, task.TaskID, err)
		} else {
			database.InvalidateAccountCache()
		}
	}
	return nil
}

// CompleteLocalFailure fails an in-process task and refunds its estimate.
func (s *Synchronizer) CompleteLocalFailure(ctx context.Context, taskID, errorMessage string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return nil
	}

	task.Status = models.StatusFailed
	task.ErrorMessage = errorMessage
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	s.refund(ctx, task)
	return nil
}

// Delete removes a task. A task that never reached a terminal state gets its
// estimate refunded on the way out.
func (s *Synchronizer) Delete(ctx context.Context, taskID string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.IsTerminal() {
		s.refund(ctx, task)
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.locks, taskID)
	s.mu.Unlock()
	return nil
}
