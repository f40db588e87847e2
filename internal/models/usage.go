package models

import (
	"time"
)

// DailyUsage is one account's consumption for one accounting day. The day is
// the calendar date in the configured quota timezone, stored as "2006-01-02".
// A new day keys a fresh row, so counters reset lazily at the day boundary.
type DailyUsage struct {
	ID         uint   `gorm:"column:id;primaryKey" json:"id"`
	AccountID  uint   `gorm:"column:account_id;uniqueIndex:idx_account_date;not null" json:"account_id"`
	UsageDate  string `gorm:"column:usage_date;uniqueIndex:idx_account_date;size:10;not null" json:"usage_date"`
	UsedTokens int64  `gorm:"column:used_tokens;default:0" json:"used_tokens"`
	UsedImages int64  `gorm:"column:used_images;default:0" json:"used_images"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (DailyUsage) TableName() string {
	return "daily_usages"
}
