package models

import (
	"time"
)

// Account represents one upstream provider account. An account may be
// configured for any combination of video generation, image generation and
// banana (conversational) image generation; each capability is derived from
// the endpoint fields being set.
type Account struct {
	ID   uint   `gorm:"column:id;primaryKey" json:"id"`
	Name string `gorm:"column:name;size:255;not null" json:"name"`

	// Ark endpoints
	APIKey       string `gorm:"column:api_key;size:255" json:"-"`
	VideoModelID string `gorm:"column:video_model_id;size:255" json:"video_model_id"`
	ImageModelID string `gorm:"column:image_model_id;size:255" json:"image_model_id"`

	// Banana (Gemini-compatible) endpoint
	BananaBaseURL   string `gorm:"column:banana_base_url;size:500" json:"banana_base_url"`
	BananaAPIKey    string `gorm:"column:banana_api_key;size:255" json:"-"`
	BananaModelName string `gorm:"column:banana_model_name;size:255" json:"banana_model_name"`

	IsActive  bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// HasVideo reports whether the account can submit video generation tasks.
func (a *Account) HasVideo() bool {
	return a.VideoModelID != ""
}

// HasImage reports whether the account can submit image generation requests.
func (a *Account) HasImage() bool {
	return a.ImageModelID != ""
}

// HasBanana reports whether the account has a banana endpoint configured.
func (a *Account) HasBanana() bool {
	return a.BananaBaseURL != "" && a.BananaAPIKey != ""
}
