package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/provider"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/store"
)

type syncerFixture struct {
	store   *store.MemoryStore
	ledger  *quota.Ledger
	syncer  *Synchronizer
	video   *fakeVideoClient
	account *models.Account
}

func newSyncerFixture(t *testing.T) *syncerFixture {
	t.Helper()

	mem := store.NewMemoryStore()
	account := &models.Account{
		Name:         "primary",
		APIKey:       "ark-key",
		VideoModelID: "seedance-pro",
		IsActive:     true,
	}
	require.NoError(t, mem.CreateAccount(context.Background(), account))

	ledger := quota.NewLedger(mem, 1_800_000, 300, "UTC")
	video := newFakeVideoClient()

	return &syncerFixture{
		store:   mem,
		ledger:  ledger,
		syncer:  NewSynchronizer(mem, ledger, video),
		video:   video,
		account: account,
	}
}

// pendingVideoTask creates a running task with its estimate already debited,
// the state a dispatched task is left in.
func (f *syncerFixture) pendingVideoTask(t *testing.T, taskID string, estimate int64) *models.Task {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.TryDebit(ctx, f.account.ID, quota.KindVideoTokens, estimate))
	task := &models.Task{
		TaskID:        taskID,
		AccountID:     f.account.ID,
		TaskType:      models.TaskTypeVideo,
		Status:        models.StatusRunning,
		EstimatedCost: estimate,
	}
	require.NoError(t, f.store.CreateTask(ctx, task))
	return task
}

func (f *syncerFixture) usedTokens(t *testing.T) int64 {
	t.Helper()
	used, err := f.ledger.Used(context.Background(), f.account.ID, quota.KindVideoTokens)
	require.NoError(t, err)
	return used
}

func TestSyncSuccessReconcilesToActualUsage(t *testing.T) {
	f := newSyncerFixture(t)
	f.pendingVideoTask(t, "ark-task-1", 108000)
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{
		Status:       models.StatusSucceeded,
		VideoURL:     "https://cdn.example.com/video.mp4",
		LastFrameURL: "https://cdn.example.com/last.png",
		TokenUsage:   110000,
	}

	task, err := f.syncer.Sync(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, task.Status)
	assert.Equal(t, "https://cdn.example.com/video.mp4", task.ResultURL)
	assert.Equal(t, "https://cdn.example.com/last.png", task.LastFrameURL)
	assert.Equal(t, int64(110000), task.TokenUsage)
	assert.Equal(t, int64(110000), f.usedTokens(t))
}

func TestSyncSuccessWithoutUsageKeepsEstimate(t *testing.T) {
	f := newSyncerFixture(t)
	f.pendingVideoTask(t, "ark-task-1", 108000)
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{
		Status:   models.StatusSucceeded,
		VideoURL: "https://cdn.example.com/video.mp4",
	}

	_, err := f.syncer.Sync(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, int64(108000), f.usedTokens(t))
}

func TestSyncFailureRefundsExactlyOnce(t *testing.T) {
	f := newSyncerFixture(t)
	f.pendingVideoTask(t, "ark-task-1", 108000)
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{
		Status:       models.StatusFailed,
		ErrorMessage: "content policy violation",
	}

	task, err := f.syncer.Sync(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, "content policy violation", task.ErrorMessage)
	assert.Zero(t, f.usedTokens(t))

	// a second sync of a terminal task changes nothing, even if the provider
	// now claims a different state
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{Status: models.StatusSucceeded}
	task, err = f.syncer.Sync(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Zero(t, f.usedTokens(t))
}

func TestSyncProviderErrorMutatesNothing(t *testing.T) {
	f := newSyncerFixture(t)
	f.pendingVideoTask(t, "ark-task-1", 108000)
	f.video.statusErr = errors.New("connection refused")

	_, err := f.syncer.Sync(context.Background(), "ark-task-1")
	require.Error(t, err)

	task, err := f.store.GetTask(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, task.Status)
	assert.Equal(t, int64(108000), f.usedTokens(t))
}

func TestSyncProgressUpdatesStatusOnly(t *testing.T) {
	f := newSyncerFixture(t)
	task := f.pendingVideoTask(t, "ark-task-1", 108000)
	task.Status = models.StatusQueued
	require.NoError(t, f.store.UpdateTask(context.Background(), task))
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{Status: models.StatusRunning}

	got, err := f.syncer.Sync(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, int64(108000), f.usedTokens(t))
}

func TestSyncUnknownTask(t *testing.T) {
	f := newSyncerFixture(t)
	_, err := f.syncer.Sync(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRefundsPendingEstimate(t *testing.T) {
	f := newSyncerFixture(t)
	f.pendingVideoTask(t, "ark-task-1", 108000)

	require.NoError(t, f.syncer.Delete(context.Background(), "ark-task-1"))
	assert.Zero(t, f.usedTokens(t))

	_, err := f.store.GetTask(context.Background(), "ark-task-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// a late sync cannot resurrect the deleted task
	_, err = f.syncer.Sync(context.Background(), "ark-task-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteTerminalTaskDoesNotRefund(t *testing.T) {
	f := newSyncerFixture(t)
	task := f.pendingVideoTask(t, "ark-task-1", 108000)
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{
		Status:     models.StatusSucceeded,
		VideoURL:   "https://cdn.example.com/video.mp4",
		TokenUsage: task.EstimatedCost,
	}
	_, err := f.syncer.Sync(context.Background(), "ark-task-1")
	require.NoError(t, err)

	require.NoError(t, f.syncer.Delete(context.Background(), "ark-task-1"))
	assert.Equal(t, int64(108000), f.usedTokens(t))
}

func TestCompleteLocalFailureIsIdempotent(t *testing.T) {
	f := newSyncerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.TryDebit(ctx, f.account.ID, quota.KindImageCount, 1))
	task := &models.Task{
		TaskID:        "img-abc123",
		AccountID:     f.account.ID,
		TaskType:      models.TaskTypeImage,
		Status:        models.StatusRunning,
		EstimatedCost: 1,
	}
	require.NoError(t, f.store.CreateTask(ctx, task))

	require.NoError(t, f.syncer.CompleteLocalFailure(ctx, "img-abc123", "boom"))
	require.NoError(t, f.syncer.CompleteLocalFailure(ctx, "img-abc123", "boom again"))

	got, err := f.store.GetTask(ctx, "img-abc123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)

	used, err := f.ledger.Used(ctx, f.account.ID, quota.KindImageCount)
	require.NoError(t, err)
	assert.Zero(t, used)
}
