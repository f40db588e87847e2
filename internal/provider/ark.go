package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// ArkClient talks to the Ark generative media API. It implements VideoClient
// and ImageClient.
type ArkClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewArkClient(baseURL string) *ArkClient {
	return &ArkClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

type arkContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *arkImageURL `json:"image_url,omitempty"`
	Role     string       `json:"role,omitempty"`
}

type arkImageURL struct {
	URL string `json:"url"`
}

type arkErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ArkClient) post(ctx context.Context, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode, Message: arkErrorMessage(data)}
	}
	return data, nil
}

func (c *ArkClient) get(ctx context.Context, apiKey, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode, Message: arkErrorMessage(data)}
	}
	return data, nil
}

func arkErrorMessage(body []byte) string {
	var e arkErrorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}

// SubmitVideoTask creates an asynchronous video generation task and returns
// the provider task id.
func (c *ArkClient) SubmitVideoTask(ctx context.Context, apiKey string, req VideoTaskRequest) (string, error) {
	content := make([]arkContentPart, 0, 3)
	if req.Prompt != "" {
		content = append(content, arkContentPart{Type: "text", Text: req.Prompt})
	}
	if req.FirstFrame != "" {
		part := arkContentPart{Type: "image_url", ImageURL: &arkImageURL{URL: req.FirstFrame}}
		if req.LastFrame != "" {
			part.Role = "first_frame"
		}
		content = append(content, part)
	}
	if req.LastFrame != "" {
		content = append(content, arkContentPart{
			Type:     "image_url",
			ImageURL: &arkImageURL{URL: req.LastFrame},
			Role:     "last_frame",
		})
	}

	payload := map[string]interface{}{
		"model":          req.Model,
		"content":        content,
		"generate_audio": req.GenerateAudio,
	}

	data, err := c.post(ctx, apiKey, "/contents/generations/tasks", payload)
	if err != nil {
		return "", wrapArk("submit video", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", &Error{Op: "submit video", Err: err}
	}
	if result.ID == "" {
		return "", &Error{Op: "submit video", Message: "no task id in response"}
	}
	return result.ID, nil
}

// GetVideoTask fetches the current state of a video task.
func (c *ArkClient) GetVideoTask(ctx context.Context, apiKey, taskID string) (*VideoTaskStatus, error) {
	data, err := c.get(ctx, apiKey, "/contents/generations/tasks/"+taskID)
	if err != nil {
		return nil, wrapArk("query video task", err)
	}

	var result struct {
		Status  string `json:"status"`
		Content struct {
			VideoURL     string `json:"video_url"`
			LastFrameURL string `json:"last_frame_url"`
		} `json:"content"`
		Usage struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &Error{Op: "query video task", Err: err}
	}

	status := &VideoTaskStatus{
		Status:       result.Status,
		VideoURL:     result.Content.VideoURL,
		LastFrameURL: result.Content.LastFrameURL,
		TokenUsage:   result.Usage.TotalTokens,
	}
	if result.Error != nil {
		status.ErrorMessage = result.Error.Message
	}
	return status, nil
}

// GenerateImages runs a synchronous image generation call.
func (c *ArkClient) GenerateImages(ctx context.Context, apiKey string, req ImageRequest) (*ImageResult, error) {
	payload := map[string]interface{}{
		"model":           req.Model,
		"prompt":          req.Prompt,
		"size":            req.Size,
		"watermark":       req.Watermark,
		"response_format": req.ResponseFormat,
	}
	if req.OptimizePrompt {
		payload["optimize_prompt_options"] = map[string]string{"mode": "standard"}
	}
	if len(req.Images) == 1 {
		payload["image"] = req.Images[0]
	} else if len(req.Images) > 1 {
		payload["image"] = req.Images
	}
	if req.Sequential {
		payload["sequential_image_generation"] = "auto"
		payload["sequential_image_generation_options"] = map[string]int{"max_images": req.MaxImages}
	} else {
		payload["sequential_image_generation"] = "disabled"
	}

	data, err := c.post(ctx, apiKey, "/images/generations", payload)
	if err != nil {
		return nil, wrapArk("generate images", err)
	}

	var result struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
			Size    string `json:"size"`
			Error   *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"data"`
		Usage struct {
			GeneratedImages int64 `json:"generated_images"`
			TotalTokens     int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &Error{Op: "generate images", Err: err}
	}

	out := &ImageResult{
		GeneratedCount: result.Usage.GeneratedImages,
		TokenUsage:     result.Usage.TotalTokens,
	}
	for _, img := range result.Data {
		gi := GeneratedImage{URL: img.URL, B64JSON: img.B64JSON, Size: img.Size}
		if img.Error != nil {
			gi.Error = img.Error.Message
		}
		out.Images = append(out.Images, gi)
	}
	if out.GeneratedCount == 0 {
		out.GeneratedCount = int64(len(result.Data))
	}
	return out, nil
}

func wrapArk(op string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		pe.Op = op
		return pe
	}
	return &Error{Op: op, Err: err}
}
