// Package provider holds the upstream API clients: the Ark client for
// asynchronous video tasks and synchronous image generation, and the Gemini
// client for banana image generation.
package provider

import "context"

// VideoTaskRequest is one video generation submission.
type VideoTaskRequest struct {
	Model         string
	Prompt        string // prompt with inline generation flags appended
	FirstFrame    string // URL or data URI; empty for text-to-video
	LastFrame     string // requires FirstFrame
	GenerateAudio bool
}

// VideoTaskStatus is the provider's view of a video task.
type VideoTaskStatus struct {
	Status       string
	VideoURL     string
	LastFrameURL string
	TokenUsage   int64
	ErrorMessage string
}

// VideoClient submits and queries asynchronous video tasks.
type VideoClient interface {
	SubmitVideoTask(ctx context.Context, apiKey string, req VideoTaskRequest) (string, error)
	GetVideoTask(ctx context.Context, apiKey, taskID string) (*VideoTaskStatus, error)
}

// ImageRequest is one synchronous image generation call.
type ImageRequest struct {
	Model          string
	Prompt         string
	Images         []string // reference images, URL or base64
	Size           string
	Watermark      bool
	OptimizePrompt bool
	ResponseFormat string // "url" or "b64_json"
	Sequential     bool   // grouped generation
	MaxImages      int    // grouped mode only
}

// GeneratedImage is one output of an image generation call.
type GeneratedImage struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
	Size    string `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ImageResult is the outcome of a synchronous image generation call.
type ImageResult struct {
	Images         []GeneratedImage
	GeneratedCount int64
	TokenUsage     int64
}

// ImageClient runs synchronous image generation.
type ImageClient interface {
	GenerateImages(ctx context.Context, apiKey string, req ImageRequest) (*ImageResult, error)
}

// BananaPart is one piece of a conversational turn: text or an inline image.
type BananaPart struct {
	Text      string `json:"text,omitempty"`
	InlineB64 string `json:"inline_b64,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

// BananaTurn is one turn of a banana conversation.
type BananaTurn struct {
	Role  string `json:"role"` // "user" or "model"
	Parts []BananaPart
}

// BananaConfig carries per-request image generation settings.
type BananaConfig struct {
	AspectRatio string
	Resolution  string
}

// BananaEndpoint identifies which Gemini-compatible endpoint to call.
type BananaEndpoint struct {
	BaseURL string
	APIKey  string
	Model   string
}

// BananaClient runs conversational image generation.
type BananaClient interface {
	GenerateContent(ctx context.Context, endpoint BananaEndpoint, turns []BananaTurn, cfg BananaConfig) ([]BananaPart, error)
}
