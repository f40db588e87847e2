package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/genstudio/backend/internal/database"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/provider"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/store"
	"github.com/google/uuid"
)

// ValidationError marks a request the caller got wrong. Handlers map it to
// HTTP 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func errValidation(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Dispatcher validates generation requests, picks an account, debits the
// ledger and hands work to the provider. Nothing is debited or persisted
// until validation and selection have passed.
type Dispatcher struct {
	store    store.Store
	ledger   *quota.Ledger
	selector *quota.Selector
	syncer   *Synchronizer
	video    provider.VideoClient
	images   provider.ImageClient
	banana   provider.BananaClient
	storage  *ImageStorage
}

func NewDispatcher(
	s store.Store,
	ledger *quota.Ledger,
	selector *quota.Selector,
	syncer *Synchronizer,
	video provider.VideoClient,
	images provider.ImageClient,
	banana provider.BananaClient,
	storage *ImageStorage,
) *Dispatcher {
	return &Dispatcher{
		store:    s,
		ledger:   ledger,
		selector: selector,
		syncer:   syncer,
		video:    video,
		images:   images,
		banana:   banana,
		storage:  storage,
	}
}

func localTaskID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// ---------------------------------------------------------------------------
// Video

// VideoRequest is one video generation request, possibly fanned out into
// several tasks via VideoCount.
type VideoRequest struct {
	AccountID *uint `json:"account_id"`

	Prompt     string `json:"prompt"`
	FirstFrame string `json:"first_frame"` // URL or data URI
	LastFrame  string `json:"last_frame"`

	Ratio      string `json:"ratio"`
	Resolution string `json:"resolution"`
	Duration   int    `json:"duration"`
	VideoCount int    `json:"video_count"`

	GenerateAudio bool   `json:"generate_audio"`
	Seed          *int64 `json:"seed"` // -1 or omitted means random
	Watermark     bool   `json:"watermark"`
	CameraFixed   bool   `json:"camera_fixed"`
}

func (r *VideoRequest) normalize() {
	if r.Ratio == "" {
		r.Ratio = "16:9"
	}
	if r.Resolution == "" {
		r.Resolution = "720p"
	}
	if r.Duration <= 0 {
		r.Duration = 5
	}
	if r.VideoCount <= 0 {
		r.VideoCount = 1
	}
}

func (r *VideoRequest) generationType() (string, error) {
	hasFirst := r.FirstFrame != ""
	hasLast := r.LastFrame != ""
	switch {
	case hasLast && !hasFirst:
		return "", errValidation("a last frame requires a first frame")
	case hasFirst && hasLast:
		return models.GenerationFirstLastFrame, nil
	case hasFirst:
		return models.GenerationFirstFrame, nil
	default:
		if strings.TrimSpace(r.Prompt) == "" {
			return "", errValidation("text-to-video requires a prompt")
		}
		return models.GenerationTextToVideo, nil
	}
}

// promptWithFlags appends the inline generation flags the model reads from
// the prompt text.
func (r *VideoRequest) promptWithFlags() string {
	flags := fmt.Sprintf("--rs %s --rt %s --dur %d --wm %t --cf %t",
		r.Resolution, r.Ratio, r.Duration, r.Watermark, r.CameraFixed)
	if r.Seed != nil && *r.Seed != -1 {
		flags += fmt.Sprintf(" --seed %d", *r.Seed)
	}
	return strings.TrimSpace(strings.TrimSpace(r.Prompt) + " " + flags)
}

// VideoEstimate prices a video request without touching any state.
type VideoEstimate struct {
	TokensPerVideo    int64   `json:"tokens_per_video"`
	TotalTokens       int64   `json:"total_tokens"`
	PriceWithAudio    float64 `json:"price_with_audio"`
	PriceWithoutAudio float64 `json:"price_without_audio"`
}

func EstimateVideo(resolution, ratio string, duration, count int) *VideoEstimate {
	if count <= 0 {
		count = 1
	}
	per := CalculateTokens(resolution, ratio, duration)
	total := per * int64(count)
	return &VideoEstimate{
		TokensPerVideo:    per,
		TotalTokens:       total,
		PriceWithAudio:    CalculateVideoPrice(total, true),
		PriceWithoutAudio: CalculateVideoPrice(total, false),
	}
}

// CreateVideoTasks validates, debits the whole batch once, then submits one
// provider task per video. Units that fail to submit are refunded at the
// per-unit estimate; already-created tasks stand.
func (d *Dispatcher) CreateVideoTasks(ctx context.Context, req VideoRequest) ([]models.Task, error) {
	req.normalize()

	generationType, err := req.generationType()
	if err != nil {
		return nil, err
	}
	if req.VideoCount > 9 {
		return nil, errValidation("video count must be between 1 and 9")
	}

	perVideo := CalculateTokens(req.Resolution, req.Ratio, req.Duration)
	total := perVideo * int64(req.VideoCount)

	account, err := d.selector.Select(ctx, quota.CapVideo, req.AccountID, total)
	if err != nil {
		return nil, err
	}

	if err := d.ledger.TryDebit(ctx, account.ID, quota.KindVideoTokens, total); err != nil {
		return nil, err
	}
	database.InvalidateAccountCache()

	paramsJSON, _ := json.Marshal(req)
	submission := provider.VideoTaskRequest{
		Model:         account.VideoModelID,
		Prompt:        req.promptWithFlags(),
		FirstFrame:    req.FirstFrame,
		LastFrame:     req.LastFrame,
		GenerateAudio: req.GenerateAudio,
	}

	var created []models.Task
	for i := 0; i < req.VideoCount; i++ {
		taskID, err := d.video.SubmitVideoTask(ctx, account.APIKey, submission)
		if err != nil {
			d.refundUnits(ctx, account.ID, quota.KindVideoTokens, perVideo, req.VideoCount-i)
			if len(created) == 0 {
				return nil, err
			}
			log.Printf("Dispatcher: video batch stopped after %d/%d submissions: %v", len(created), req.VideoCount, err)
			return created, nil
		}

		task := models.Task{
			TaskID:         taskID,
			AccountID:      account.ID,
			Account:        account,
			TaskType:       models.TaskTypeVideo,
			GenerationType: generationType,
			Status:         models.StatusQueued,
			Params:         string(paramsJSON),
			EstimatedCost:  perVideo,
		}
		if err := d.store.CreateTask(ctx, &task); err != nil {
			// the provider task is in flight but untracked; give the quota back
			d.refundUnits(ctx, account.ID, quota.KindVideoTokens, perVideo, req.VideoCount-i)
			if len(created) == 0 {
				return nil, fmt.Errorf("create task record: %w", err)
			}
			log.Printf("Dispatcher: video batch stopped after %d/%d records: %v", len(created), req.VideoCount, err)
			return created, nil
		}
		created = append(created, task)
	}

	return created, nil
}

func (d *Dispatcher) refundUnits(ctx context.Context, accountID uint, kind quota.Kind, perUnit int64, units int) {
	if units <= 0 || perUnit <= 0 {
		return
	}
	if err := d.ledger.Credit(ctx, accountID, kind, perUnit*int64(units)); err != nil {
		log.Printf("Dispatcher: failed to refund %d x %d %s for account %d: %v", units, perUnit, kind, accountID, err)
		return
	}
	database.InvalidateAccountCache()
}

// ---------------------------------------------------------------------------
// Image

// ImageRequest is one image generation request. In grouped mode a single task
// produces up to MaxImages images; otherwise Count independent tasks of one
// image each are created.
type ImageRequest struct {
	AccountID *uint `json:"account_id"`

	Prompt string   `json:"prompt"`
	Images []string `json:"images"` // reference images

	Size  string `json:"size"`
	Count int    `json:"count"`

	Sequential bool `json:"sequential"`
	MaxImages  int  `json:"max_images"`

	Watermark      bool   `json:"watermark"`
	OptimizePrompt bool   `json:"optimize_prompt"`
	ResponseFormat string `json:"response_format"`
}

func (r *ImageRequest) normalize() {
	if r.Size == "" {
		r.Size = "2K"
	}
	if r.Count <= 0 {
		r.Count = 1
	}
	if r.MaxImages <= 0 {
		r.MaxImages = 4
	}
	if r.ResponseFormat == "" {
		r.ResponseFormat = "url"
	}
}

func (r *ImageRequest) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errValidation("prompt is required")
	}
	if len(r.Images) > 14 {
		return errValidation("at most 14 reference images are allowed")
	}
	if r.Sequential {
		if r.MaxImages < 1 || r.MaxImages > 15 {
			return errValidation("grouped image count must be between 1 and 15")
		}
		if len(r.Images)+r.MaxImages > 15 {
			return errValidation("reference images plus grouped images must not exceed 15, at most %d can be generated", 15-len(r.Images))
		}
	} else if r.Count < 1 || r.Count > 9 {
		return errValidation("image count must be between 1 and 9")
	}
	return nil
}

func (r *ImageRequest) generationType() string {
	switch {
	case len(r.Images) > 1:
		return models.GenerationMultiImage
	case len(r.Images) == 1:
		return models.GenerationImageToImage
	default:
		return models.GenerationTextToImage
	}
}

// estimatedImages is the total debited up front for the request.
func (r *ImageRequest) estimatedImages() int64 {
	if r.Sequential {
		return int64(r.MaxImages)
	}
	return int64(r.Count)
}

// ImageEstimate prices an image request without touching any state.
type ImageEstimate struct {
	Count int64   `json:"count"`
	Price float64 `json:"price"`
}

func EstimateImages(count int, sequential bool, maxImages int) *ImageEstimate {
	n := int64(count)
	if sequential {
		n = int64(maxImages)
	}
	if n <= 0 {
		n = 1
	}
	return &ImageEstimate{Count: n, Price: CalculateImagePrice(n)}
}

// CreateImageTasks validates, debits the estimate for the whole request, then
// creates tasks that are processed by background workers. Tasks start in
// running state and finish through the synchronizer.
func (d *Dispatcher) CreateImageTasks(ctx context.Context, req ImageRequest) ([]models.Task, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	total := req.estimatedImages()
	account, err := d.selector.Select(ctx, quota.CapImage, req.AccountID, total)
	if err != nil {
		return nil, err
	}

	if err := d.ledger.TryDebit(ctx, account.ID, quota.KindImageCount, total); err != nil {
		return nil, err
	}
	database.InvalidateAccountCache()

	taskCount := req.Count
	perTask := int64(1)
	expectedImages := int64(1)
	if req.Sequential {
		taskCount = 1
		perTask = int64(req.MaxImages)
		expectedImages = int64(req.MaxImages)
	}

	generation := provider.ImageRequest{
		Model:          account.ImageModelID,
		Prompt:         req.Prompt,
		Images:         req.Images,
		Size:           req.Size,
		Watermark:      req.Watermark,
		OptimizePrompt: req.OptimizePrompt,
		ResponseFormat: req.ResponseFormat,
		Sequential:     req.Sequential,
		MaxImages:      req.MaxImages,
	}
	paramsJSON, _ := json.Marshal(req)

	var created []models.Task
	for i := 0; i < taskCount; i++ {
		task := models.Task{
			TaskID:         localTaskID("img"),
			AccountID:      account.ID,
			Account:        account,
			TaskType:       models.TaskTypeImage,
			GenerationType: req.generationType(),
			Status:         models.StatusRunning,
			Params:         string(paramsJSON),
			ImageCount:     expectedImages,
			EstimatedCost:  perTask,
		}
		if err := d.store.CreateTask(ctx, &task); err != nil {
			d.refundUnits(ctx, account.ID, quota.KindImageCount, perTask, taskCount-i)
			if len(created) == 0 {
				return nil, fmt.Errorf("create task record: %w", err)
			}
			log.Printf("Dispatcher: image batch stopped after %d/%d records: %v", len(created), taskCount, err)
			return created, nil
		}
		created = append(created, task)

		go d.processImageTask(task.TaskID, account.APIKey, generation)
	}

	return created, nil
}

// processImageTask runs one synchronous generation call in the background
// and settles the task through the synchronizer.
func (d *Dispatcher) processImageTask(taskID, apiKey string, req provider.ImageRequest) {
	ctx := context.Background()

	result, err := d.images.GenerateImages(ctx, apiKey, req)
	if err != nil {
		log.Printf("Dispatcher: image task %s failed: %v", taskID, err)
		if err := d.syncer.CompleteLocalFailure(ctx, taskID, err.Error()); err != nil {
			log.Printf("Dispatcher: failed to record failure for task %s: %v", taskID, err)
		}
		return
	}

	resultURLs, _ := json.Marshal(result.Images)
	err = d.syncer.CompleteLocalSuccess(ctx, taskID, func(task *models.Task) {
		task.ResultURLs = string(resultURLs)
		task.ImageCount = result.GeneratedCount
		task.TokenUsage = result.TokenUsage
	}, result.GeneratedCount)
	if err != nil {
		log.Printf("Dispatcher: failed to record success for task %s: %v", taskID, err)
	}
}
