package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/provider"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/store"
)

type fakeVideoClient struct {
	mu        sync.Mutex
	submitted int
	failAfter int // fail submissions once this many succeeded; -1 never
	statuses  map[string]*provider.VideoTaskStatus
	statusErr error
}

func newFakeVideoClient() *fakeVideoClient {
	return &fakeVideoClient{failAfter: -1, statuses: make(map[string]*provider.VideoTaskStatus)}
}

func (f *fakeVideoClient) SubmitVideoTask(ctx context.Context, apiKey string, req provider.VideoTaskRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.submitted >= f.failAfter {
		return "", &provider.Error{Op: "submit video task", StatusCode: 500, Message: "upstream unavailable"}
	}
	f.submitted++
	return fmt.Sprintf("ark-task-%d", f.submitted), nil
}

func (f *fakeVideoClient) GetVideoTask(ctx context.Context, apiKey, taskID string) (*provider.VideoTaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if status, ok := f.statuses[taskID]; ok {
		return status, nil
	}
	return &provider.VideoTaskStatus{Status: models.StatusRunning}, nil
}

type fakeImageClient struct {
	result *provider.ImageResult
	err    error
}

func (f *fakeImageClient) GenerateImages(ctx context.Context, apiKey string, req provider.ImageRequest) (*provider.ImageResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeBananaClient struct {
	parts []provider.BananaPart
	err   error
	gate  chan struct{} // when set, GenerateContent blocks until closed
}

func (f *fakeBananaClient) GenerateContent(ctx context.Context, endpoint provider.BananaEndpoint, turns []provider.BananaTurn, cfg provider.BananaConfig) ([]provider.BananaPart, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.parts, nil
}

type dispatcherFixture struct {
	store      *store.MemoryStore
	ledger     *quota.Ledger
	dispatcher *Dispatcher
	syncer     *Synchronizer
	video      *fakeVideoClient
	images     *fakeImageClient
	banana     *fakeBananaClient
	storage    *ImageStorage
	account    *models.Account
}

func newDispatcherFixture(t *testing.T, tokenLimit, imageLimit int64) *dispatcherFixture {
	t.Helper()

	mem := store.NewMemoryStore()
	account := &models.Account{
		Name:            "primary",
		APIKey:          "ark-key",
		VideoModelID:    "seedance-pro",
		ImageModelID:    "seedream",
		BananaBaseURL:   "https://generativelanguage.example.com",
		BananaAPIKey:    "banana-key",
		BananaModelName: "gemini-image",
		IsActive:        true,
	}
	require.NoError(t, mem.CreateAccount(context.Background(), account))

	ledger := quota.NewLedger(mem, tokenLimit, imageLimit, "UTC")
	selector := quota.NewSelector(mem, ledger)

	video := newFakeVideoClient()
	images := &fakeImageClient{}
	banana := &fakeBananaClient{}

	storage, err := NewImageStorage(t.TempDir())
	require.NoError(t, err)

	syncer := NewSynchronizer(mem, ledger, video)
	dispatcher := NewDispatcher(mem, ledger, selector, syncer, video, images, banana, storage)

	return &dispatcherFixture{
		store:      mem,
		ledger:     ledger,
		dispatcher: dispatcher,
		syncer:     syncer,
		video:      video,
		images:     images,
		banana:     banana,
		storage:    storage,
		account:    account,
	}
}

func (f *dispatcherFixture) usedTokens(t *testing.T) int64 {
	t.Helper()
	used, err := f.ledger.Used(context.Background(), f.account.ID, quota.KindVideoTokens)
	require.NoError(t, err)
	return used
}

func (f *dispatcherFixture) usedImages(t *testing.T) int64 {
	t.Helper()
	used, err := f.ledger.Used(context.Background(), f.account.ID, quota.KindImageCount)
	require.NoError(t, err)
	return used
}

func (f *dispatcherFixture) waitTerminal(t *testing.T, taskID string) *models.Task {
	t.Helper()
	var task *models.Task
	require.Eventually(t, func() bool {
		got, err := f.store.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		task = got
		return got.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
	return task
}

func TestCreateVideoTasksRejectsLastFrameWithoutFirst(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)

	_, err := f.dispatcher.CreateVideoTasks(context.Background(), VideoRequest{
		Prompt:    "a river at dawn",
		LastFrame: "https://example.com/last.png",
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.usedTokens(t))

	tasks, err := f.store.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateVideoTasksRejectsEmptyRequest(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)

	_, err := f.dispatcher.CreateVideoTasks(context.Background(), VideoRequest{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.usedTokens(t))

	tasks, err := f.store.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestVideoRequestSeedFlag(t *testing.T) {
	flags := func(seed *int64) string {
		req := VideoRequest{Prompt: "a river at dawn", Seed: seed}
		req.normalize()
		return req.promptWithFlags()
	}

	zero := int64(0)
	random := int64(-1)
	fixed := int64(42)

	assert.NotContains(t, flags(nil), "--seed")
	assert.NotContains(t, flags(&random), "--seed")
	assert.Contains(t, flags(&zero), "--seed 0")
	assert.Contains(t, flags(&fixed), "--seed 42")
}

func TestCreateVideoTasksDebitsWholeBatchOnce(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)

	created, err := f.dispatcher.CreateVideoTasks(context.Background(), VideoRequest{
		Prompt:     "a river at dawn",
		VideoCount: 2,
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	perVideo := CalculateTokens("720p", "16:9", 5)
	assert.Equal(t, 2*perVideo, f.usedTokens(t))
	for _, task := range created {
		assert.Equal(t, models.StatusQueued, task.Status)
		assert.Equal(t, models.GenerationTextToVideo, task.GenerationType)
		assert.Equal(t, perVideo, task.EstimatedCost)
	}
}

func TestCreateVideoTasksQuotaExceededLeavesNoTrace(t *testing.T) {
	f := newDispatcherFixture(t, 100, 300) // far below one video

	_, err := f.dispatcher.CreateVideoTasks(context.Background(), VideoRequest{Prompt: "too big"})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Zero(t, f.usedTokens(t))

	tasks, err := f.store.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateVideoTasksPartialSubmitRefundsRemainder(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	f.video.failAfter = 1 // second submission fails

	created, err := f.dispatcher.CreateVideoTasks(context.Background(), VideoRequest{
		Prompt:     "a river at dawn",
		VideoCount: 3,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	// only the submitted unit stays debited
	perVideo := CalculateTokens("720p", "16:9", 5)
	assert.Equal(t, perVideo, f.usedTokens(t))
}

func TestCreateVideoTasksTotalSubmitFailure(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	f.video.failAfter = 0

	_, err := f.dispatcher.CreateVideoTasks(context.Background(), VideoRequest{Prompt: "a river at dawn"})
	require.Error(t, err)
	assert.True(t, provider.IsProviderError(err))
	assert.Zero(t, f.usedTokens(t))
}

func TestCreateImageTasksFansOutIndependentTasks(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	f.images.result = &provider.ImageResult{
		Images:         []provider.GeneratedImage{{URL: "https://cdn.example.com/1.png"}},
		GeneratedCount: 1,
		TokenUsage:     512,
	}

	created, err := f.dispatcher.CreateImageTasks(context.Background(), ImageRequest{
		Prompt: "a red bicycle",
		Count:  3,
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, int64(3), f.usedImages(t))

	for _, task := range created {
		got := f.waitTerminal(t, task.TaskID)
		assert.Equal(t, models.StatusSucceeded, got.Status)
		assert.Equal(t, int64(1), got.ImageCount)
		assert.Equal(t, int64(512), got.TokenUsage)
	}
	assert.Equal(t, int64(3), f.usedImages(t))
}

func TestCreateImageTasksGroupedMode(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	f.images.result = &provider.ImageResult{
		Images: []provider.GeneratedImage{
			{URL: "https://cdn.example.com/1.png"},
			{URL: "https://cdn.example.com/2.png"},
			{URL: "https://cdn.example.com/3.png"},
		},
		GeneratedCount: 3,
	}

	created, err := f.dispatcher.CreateImageTasks(context.Background(), ImageRequest{
		Prompt:     "a storyboard",
		Sequential: true,
		MaxImages:  5,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(5), f.usedImages(t))

	got := f.waitTerminal(t, created[0].TaskID)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	assert.Equal(t, int64(3), got.ImageCount)

	// the unused estimate is reconciled down to actual output
	assert.Equal(t, int64(3), f.usedImages(t))
}

func TestCreateImageTasksProviderFailureRefunds(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	f.images.err = &provider.Error{Op: "generate images", StatusCode: 502, Message: "bad gateway"}

	created, err := f.dispatcher.CreateImageTasks(context.Background(), ImageRequest{Prompt: "a red bicycle"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	got := f.waitTerminal(t, created[0].TaskID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "bad gateway")
	assert.Zero(t, f.usedImages(t))
}

func TestCreateImageTasksValidation(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)

	cases := []struct {
		name string
		req  ImageRequest
	}{
		{"empty prompt", ImageRequest{Count: 1}},
		{"too many copies", ImageRequest{Prompt: "x", Count: 10}},
		{"grouped too large", ImageRequest{Prompt: "x", Sequential: true, MaxImages: 16}},
		{"refs plus grouped over cap", ImageRequest{
			Prompt:     "x",
			Sequential: true,
			MaxImages:  10,
			Images:     make([]string, 6),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.dispatcher.CreateImageTasks(context.Background(), tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
	assert.Zero(t, f.usedImages(t))
}

func TestCreateBananaTaskStoresConversation(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	png := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	f.banana.parts = []provider.BananaPart{
		{Text: "here is your image"},
		{InlineB64: png, MimeType: "image/png"},
	}

	created, err := f.dispatcher.CreateBananaTask(context.Background(), BananaRequest{Prompt: "draw a lighthouse"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.usedImages(t))

	got := f.waitTerminal(t, created.TaskID)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	assert.Equal(t, int64(1), got.ImageCount)
	assert.NotEmpty(t, got.ResultURLs)
	assert.Contains(t, got.ConversationHistory, `"role":"model"`)
	assert.Contains(t, got.ConversationHistory, "here is your image")
	assert.Equal(t, int64(1), f.usedImages(t))
}

func TestCreateBananaTaskFailureRefunds(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	f.banana.err = errors.New("model overloaded")

	created, err := f.dispatcher.CreateBananaTask(context.Background(), BananaRequest{Prompt: "draw a lighthouse"})
	require.NoError(t, err)

	got := f.waitTerminal(t, created.TaskID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Zero(t, f.usedImages(t))
}

func TestDeleteBananaTaskMidFlightRemovesStoredImages(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	png := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	f.banana.parts = []provider.BananaPart{{InlineB64: png, MimeType: "image/png"}}
	f.banana.gate = make(chan struct{})

	created, err := f.dispatcher.CreateBananaTask(context.Background(), BananaRequest{Prompt: "draw a lighthouse"})
	require.NoError(t, err)

	// delete while the generation is still in flight, then let it finish
	require.NoError(t, f.syncer.Delete(context.Background(), created.TaskID))
	f.dispatcher.RemoveBananaFiles(created.TaskID)
	close(f.banana.gate)

	// the late result must not leave orphaned files behind
	require.Eventually(t, func() bool {
		stats, err := f.storage.Stats()
		return err == nil && stats.FileCount == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.usedImages(t))

	_, err = f.store.GetTask(context.Background(), created.TaskID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestContinueBananaTaskRequiresSucceededParent(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)

	pending := &models.Task{
		TaskID:    "banana-pending123",
		AccountID: f.account.ID,
		TaskType:  models.TaskTypeBanana,
		Status:    models.StatusRunning,
	}
	require.NoError(t, f.store.CreateTask(context.Background(), pending))

	_, err := f.dispatcher.ContinueBananaTask(context.Background(), pending.TaskID, "make it taller")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.usedImages(t))
}

func TestContinueBananaTaskCreatesNewTask(t *testing.T) {
	f := newDispatcherFixture(t, 1_800_000, 300)
	png := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	f.banana.parts = []provider.BananaPart{{InlineB64: png, MimeType: "image/png"}}

	first, err := f.dispatcher.CreateBananaTask(context.Background(), BananaRequest{Prompt: "draw a lighthouse"})
	require.NoError(t, err)
	f.waitTerminal(t, first.TaskID)

	followUp, err := f.dispatcher.ContinueBananaTask(context.Background(), first.TaskID, "add a stormy sky")
	require.NoError(t, err)
	assert.NotEqual(t, first.TaskID, followUp.TaskID)
	assert.Equal(t, models.GenerationContinue, followUp.GenerationType)

	got := f.waitTerminal(t, followUp.TaskID)
	assert.Equal(t, models.StatusSucceeded, got.Status)

	// the original task and its history are left intact
	parent, err := f.store.GetTask(context.Background(), first.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, parent.Status)
}

func TestEstimateVideo(t *testing.T) {
	est := EstimateVideo("720p", "16:9", 5, 2)
	assert.Equal(t, int64(108000), est.TokensPerVideo)
	assert.Equal(t, int64(216000), est.TotalTokens)
	assert.InDelta(t, 3.456, est.PriceWithAudio, 1e-9)
	assert.InDelta(t, 1.728, est.PriceWithoutAudio, 1e-9)
}

func TestEstimateImages(t *testing.T) {
	est := EstimateImages(3, false, 0)
	assert.Equal(t, int64(3), est.Count)
	assert.InDelta(t, 0.75, est.Price, 1e-9)

	grouped := EstimateImages(1, true, 6)
	assert.Equal(t, int64(6), grouped.Count)
	assert.InDelta(t, 1.5, grouped.Price, 1e-9)
}
