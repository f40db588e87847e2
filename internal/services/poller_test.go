package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/provider"
)

func TestPollerSweepSettlesPendingVideoTasks(t *testing.T) {
	f := newSyncerFixture(t)
	f.pendingVideoTask(t, "ark-task-1", 108000)
	f.pendingVideoTask(t, "ark-task-2", 108000)
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{
		Status:     models.StatusSucceeded,
		VideoURL:   "https://cdn.example.com/1.mp4",
		TokenUsage: 108000,
	}
	f.video.statuses["ark-task-2"] = &provider.VideoTaskStatus{
		Status:       models.StatusFailed,
		ErrorMessage: "timed out",
	}

	poller := NewPoller(f.store, f.syncer, time.Minute)
	poller.sweep()

	first, err := f.store.GetTask(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, first.Status)

	second, err := f.store.GetTask(context.Background(), "ark-task-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, second.Status)

	// one estimate kept, one refunded
	assert.Equal(t, int64(108000), f.usedTokens(t))
}

func TestPollerSweepSkipsTerminalTasks(t *testing.T) {
	f := newSyncerFixture(t)
	task := &models.Task{
		TaskID:    "ark-task-1",
		AccountID: f.account.ID,
		TaskType:  models.TaskTypeVideo,
		Status:    models.StatusSucceeded,
	}
	require.NoError(t, f.store.CreateTask(context.Background(), task))
	f.video.statuses["ark-task-1"] = &provider.VideoTaskStatus{Status: models.StatusFailed}

	poller := NewPoller(f.store, f.syncer, time.Minute)
	poller.sweep()

	got, err := f.store.GetTask(context.Background(), "ark-task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
}

func TestPollerStartStop(t *testing.T) {
	f := newSyncerFixture(t)
	poller := NewPoller(f.store, f.syncer, 10*time.Millisecond)

	poller.Start()
	time.Sleep(30 * time.Millisecond)
	poller.Stop()
}
