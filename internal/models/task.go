package models

import (
	"time"
)

// Task types
const (
	TaskTypeVideo  = "video"
	TaskTypeImage  = "image"
	TaskTypeBanana = "banana"
)

// Generation types
const (
	GenerationTextToVideo    = "text_to_video"
	GenerationFirstFrame     = "first_frame"
	GenerationFirstLastFrame = "first_last_frame"
	GenerationTextToImage    = "text_to_image"
	GenerationImageToImage   = "image_to_image"
	GenerationMultiImage     = "multi_image"
	GenerationContinue       = "continue"
)

// Task statuses
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// IsTerminalStatus reports whether a status can never change again.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Task represents one generation task. TaskID is the provider's id for
// asynchronous video tasks (cgt-...) and a locally generated id for image
// (img-...) and banana (banana-...) tasks that are processed in-process.
type Task struct {
	ID        uint     `gorm:"column:id;primaryKey" json:"id"`
	TaskID    string   `gorm:"column:task_id;uniqueIndex;size:128;not null" json:"task_id"`
	AccountID uint     `gorm:"column:account_id;index;not null" json:"account_id"`
	Account   *Account `gorm:"foreignKey:AccountID" json:"account,omitempty"`

	TaskType       string `gorm:"column:task_type;size:20;index;not null" json:"task_type"`
	GenerationType string `gorm:"column:generation_type;size:30" json:"generation_type"`
	Status         string `gorm:"column:status;size:20;index;not null" json:"status"`

	// Original request, serialized
	Params string `gorm:"column:params;type:text" json:"params"`

	// Video results
	ResultURL    string `gorm:"column:result_url;size:1000" json:"result_url"`
	LastFrameURL string `gorm:"column:last_frame_url;size:1000" json:"last_frame_url"`

	// Image results: JSON list of {url,size} or local file paths
	ResultURLs string `gorm:"column:result_urls;type:text" json:"result_urls"`
	ImageCount int64  `gorm:"column:image_count;default:0" json:"image_count"`

	// TokenUsage is the provider-reported actual consumption.
	// EstimatedCost is what was debited at submit time; refunds and
	// reconciliation are computed against it.
	TokenUsage    int64 `gorm:"column:token_usage;default:0" json:"token_usage"`
	EstimatedCost int64 `gorm:"column:estimated_cost;default:0" json:"estimated_cost"`

	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message"`

	// Banana multi-turn conversation, serialized
	ConversationHistory string `gorm:"column:conversation_history;type:text" json:"conversation_history,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return IsTerminalStatus(t.Status)
}
