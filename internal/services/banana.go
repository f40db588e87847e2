package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/genstudio/backend/internal/database"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/provider"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/store"
)

// BananaRequest is one conversational image generation request.
type BananaRequest struct {
	AccountID *uint `json:"account_id"`

	Prompt string   `json:"prompt"`
	Images []string `json:"images"` // reference images, base64 or data URI

	AspectRatio string `json:"aspect_ratio"`
	Resolution  string `json:"resolution"`
}

func (r *BananaRequest) normalize() {
	if r.AspectRatio == "" {
		r.AspectRatio = "1:1"
	}
	if r.Resolution == "" {
		r.Resolution = "1K"
	}
}

// conversationPart is one stored piece of a conversation turn. Images are
// stored as local file paths and re-encoded when the conversation continues.
type conversationPart struct {
	Type    string `json:"type"` // "text", "image", "images"
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
	Count   int    `json:"count,omitempty"`
}

type conversationTurn struct {
	Role  string             `json:"role"`
	Parts []conversationPart `json:"parts"`
}

// CreateBananaTask validates, debits one image of quota and starts a
// background generation with a fresh conversation.
func (d *Dispatcher) CreateBananaTask(ctx context.Context, req BananaRequest) (*models.Task, error) {
	req.normalize()

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errValidation("prompt is required")
	}
	if len(req.Images) > 14 {
		return nil, errValidation("at most 14 reference images are allowed")
	}

	account, err := d.selector.Select(ctx, quota.CapBanana, req.AccountID, 1)
	if err != nil {
		return nil, err
	}

	if err := d.ledger.TryDebit(ctx, account.ID, quota.KindImageCount, 1); err != nil {
		return nil, err
	}
	database.InvalidateAccountCache()

	generationType := models.GenerationTextToImage
	if len(req.Images) == 1 {
		generationType = models.GenerationImageToImage
	} else if len(req.Images) > 1 {
		generationType = models.GenerationMultiImage
	}

	taskID := localTaskID("banana")

	// keep the reference images on disk so the conversation can be resumed
	var refPaths []string
	for i, img := range req.Images {
		path, err := d.storage.SaveImage(taskID, fmt.Sprintf("ref_%d", i), img)
		if err != nil {
			log.Printf("Dispatcher: failed to store reference image for task %s: %v", taskID, err)
			continue
		}
		refPaths = append(refPaths, path)
	}

	userTurn := conversationTurn{
		Role:  "user",
		Parts: []conversationPart{{Type: "text", Content: req.Prompt}},
	}
	if len(req.Images) > 0 {
		userTurn.Parts = append(userTurn.Parts, conversationPart{Type: "images", Count: len(req.Images)})
	}
	history := []conversationTurn{userTurn}
	historyJSON, _ := json.Marshal(history)

	params := map[string]interface{}{
		"prompt":       req.Prompt,
		"aspect_ratio": req.AspectRatio,
		"resolution":   req.Resolution,
		"image_count":  len(req.Images),
		"ref_paths":    refPaths,
	}
	paramsJSON, _ := json.Marshal(params)

	task := models.Task{
		TaskID:              taskID,
		AccountID:           account.ID,
		Account:             account,
		TaskType:            models.TaskTypeBanana,
		GenerationType:      generationType,
		Status:              models.StatusRunning,
		Params:              string(paramsJSON),
		ImageCount:          1,
		EstimatedCost:       1,
		ConversationHistory: string(historyJSON),
	}
	if err := d.store.CreateTask(ctx, &task); err != nil {
		d.refundUnits(ctx, account.ID, quota.KindImageCount, 1, 1)
		d.storage.RemoveTask(taskID)
		return nil, fmt.Errorf("create task record: %w", err)
	}

	turns := []provider.BananaTurn{bananaUserTurn(req.Prompt, req.Images)}
	endpoint := provider.BananaEndpoint{
		BaseURL: account.BananaBaseURL,
		APIKey:  account.BananaAPIKey,
		Model:   bananaModel(account),
	}
	cfg := provider.BananaConfig{AspectRatio: req.AspectRatio, Resolution: req.Resolution}

	go d.processBananaTask(taskID, endpoint, turns, cfg, history)

	return &task, nil
}

// ContinueBananaTask starts a new task that extends a finished banana
// conversation with one more user turn.
func (d *Dispatcher) ContinueBananaTask(ctx context.Context, parentTaskID, prompt string) (*models.Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errValidation("prompt is required")
	}

	parent, err := d.store.GetTask(ctx, parentTaskID)
	if err != nil {
		return nil, err
	}
	if parent.TaskType != models.TaskTypeBanana {
		return nil, errValidation("task %s is not a banana task", parentTaskID)
	}
	if parent.Status != models.StatusSucceeded {
		return nil, errValidation("only a succeeded task can be continued")
	}
	account := parent.Account
	if account == nil || !account.HasBanana() {
		return nil, errValidation("the task's account no longer has a banana endpoint")
	}

	var history []conversationTurn
	if parent.ConversationHistory != "" {
		if err := json.Unmarshal([]byte(parent.ConversationHistory), &history); err != nil {
			return nil, fmt.Errorf("parse conversation history: %w", err)
		}
	}

	if err := d.ledger.TryDebit(ctx, account.ID, quota.KindImageCount, 1); err != nil {
		return nil, err
	}
	database.InvalidateAccountCache()

	// rebuild provider turns from the stored history, re-encoding images
	turns, err := d.turnsFromHistory(history)
	if err != nil {
		d.refundUnits(ctx, account.ID, quota.KindImageCount, 1, 1)
		return nil, err
	}
	turns = append(turns, provider.BananaTurn{
		Role:  "user",
		Parts: []provider.BananaPart{{Text: prompt}},
	})
	history = append(history, conversationTurn{
		Role:  "user",
		Parts: []conversationPart{{Type: "text", Content: prompt}},
	})
	historyJSON, _ := json.Marshal(history)

	params := map[string]interface{}{
		"prompt":         prompt,
		"parent_task_id": parentTaskID,
	}
	paramsJSON, _ := json.Marshal(params)

	task := models.Task{
		TaskID:              localTaskID("banana"),
		AccountID:           account.ID,
		Account:             account,
		TaskType:            models.TaskTypeBanana,
		GenerationType:      models.GenerationContinue,
		Status:              models.StatusRunning,
		Params:              string(paramsJSON),
		ImageCount:          1,
		EstimatedCost:       1,
		ConversationHistory: string(historyJSON),
	}
	if err := d.store.CreateTask(ctx, &task); err != nil {
		d.refundUnits(ctx, account.ID, quota.KindImageCount, 1, 1)
		return nil, fmt.Errorf("create task record: %w", err)
	}

	endpoint := provider.BananaEndpoint{
		BaseURL: account.BananaBaseURL,
		APIKey:  account.BananaAPIKey,
		Model:   bananaModel(account),
	}

	go d.processBananaTask(task.TaskID, endpoint, turns, provider.BananaConfig{}, history)

	return &task, nil
}

func bananaModel(account *models.Account) string {
	if account.BananaModelName != "" {
		return account.BananaModelName
	}
	return "gemini-3-pro-image-preview"
}

func bananaUserTurn(prompt string, images []string) provider.BananaTurn {
	turn := provider.BananaTurn{
		Role:  "user",
		Parts: []provider.BananaPart{{Text: prompt}},
	}
	for _, img := range images {
		b64, _ := splitDataURI(img)
		mime := "image/png"
		if strings.HasPrefix(img, "data:") {
			if semi := strings.Index(img, ";"); semi > 5 {
				mime = img[5:semi]
			}
		}
		turn.Parts = append(turn.Parts, provider.BananaPart{InlineB64: b64, MimeType: mime})
	}
	return turn
}

// turnsFromHistory converts stored conversation turns back into provider
// turns, loading referenced images from disk. Missing images are skipped.
func (d *Dispatcher) turnsFromHistory(history []conversationTurn) ([]provider.BananaTurn, error) {
	var turns []provider.BananaTurn
	for _, stored := range history {
		turn := provider.BananaTurn{Role: stored.Role}
		for _, part := range stored.Parts {
			switch part.Type {
			case "text":
				if part.Content != "" {
					turn.Parts = append(turn.Parts, provider.BananaPart{Text: part.Content})
				}
			case "image":
				if part.Path == "" {
					continue
				}
				b64, err := d.storage.LoadImageBase64(part.Path)
				if err != nil {
					log.Printf("Dispatcher: skipping missing conversation image %s: %v", part.Path, err)
					continue
				}
				turn.Parts = append(turn.Parts, provider.BananaPart{InlineB64: b64, MimeType: "image/png"})
			}
		}
		if len(turn.Parts) > 0 {
			turns = append(turns, turn)
		}
	}
	return turns, nil
}

// processBananaTask runs one generateContent call in the background, stores
// resulting images locally and settles the task through the synchronizer.
func (d *Dispatcher) processBananaTask(taskID string, endpoint provider.BananaEndpoint, turns []provider.BananaTurn, cfg provider.BananaConfig, history []conversationTurn) {
	ctx := context.Background()

	parts, err := d.banana.GenerateContent(ctx, endpoint, turns, cfg)
	if err != nil {
		log.Printf("Dispatcher: banana task %s failed: %v", taskID, err)
		if err := d.syncer.CompleteLocalFailure(ctx, taskID, err.Error()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// task was deleted while the generation was in flight
				d.RemoveBananaFiles(taskID)
				return
			}
			log.Printf("Dispatcher: failed to record failure for task %s: %v", taskID, err)
		}
		return
	}

	type resultImage struct {
		Path  string `json:"path"`
		Index int    `json:"index"`
	}

	var (
		results    []resultImage
		modelParts []conversationPart
		imageCount int64
	)
	for _, part := range parts {
		if part.InlineB64 != "" {
			path, err := d.storage.SaveImage(taskID, fmt.Sprintf("image_%d", imageCount), part.InlineB64)
			if err != nil {
				log.Printf("Dispatcher: failed to store result image for task %s: %v", taskID, err)
				continue
			}
			results = append(results, resultImage{Path: path, Index: int(imageCount)})
			modelParts = append(modelParts, conversationPart{Type: "image", Path: path})
			imageCount++
			continue
		}
		if part.Text != "" {
			modelParts = append(modelParts, conversationPart{Type: "text", Content: part.Text})
		}
	}

	if len(modelParts) > 0 {
		history = append(history, conversationTurn{Role: "model", Parts: modelParts})
	}
	resultJSON, _ := json.Marshal(results)
	historyJSON, _ := json.Marshal(history)

	err = d.syncer.CompleteLocalSuccess(ctx, taskID, func(task *models.Task) {
		task.ResultURLs = string(resultJSON)
		task.ImageCount = imageCount
		task.ConversationHistory = string(historyJSON)
	}, imageCount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// the task was deleted mid-flight; the images written above
			// recreated its directory, so clean up after ourselves
			log.Printf("Dispatcher: banana task %s was deleted while generating, removing stored images", taskID)
			d.RemoveBananaFiles(taskID)
			return
		}
		log.Printf("Dispatcher: failed to record success for task %s: %v", taskID, err)
	}
}

// RemoveBananaFiles deletes a banana task's stored images. Called after the
// task record is deleted.
func (d *Dispatcher) RemoveBananaFiles(taskID string) {
	if d.storage == nil {
		return
	}
	if err := d.storage.RemoveTask(taskID); err != nil {
		log.Printf("Dispatcher: failed to remove stored images for task %s: %v", taskID, err)
	}
}
