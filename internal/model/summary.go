package model

import "time"

// RollingSummary 对应 summaries 表，每个用户至多一条，每次分析周期整体覆盖。
type RollingSummary struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	UserID           string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"-"`
	SummaryEncrypted string    `gorm:"type:text;not null" json:"-"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
	Summary          string    `gorm:"-" json:"summary"`
}

func (RollingSummary) TableName() string {
	return "summaries"
}
