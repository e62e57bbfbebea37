package model

import "time"

// BigFive 是人格特质扫描的结构化结果，每项取值 [0,1]。
type BigFive struct {
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`
}

// AttachmentStyle 是依恋风格扫描的结构化结果。
type AttachmentStyle struct {
	AnxietyScore   float64 `json:"anxiety_score"`
	AvoidanceScore float64 `json:"avoidance_score"`
	Style          string  `json:"style"`
}

// AnalysisRecord 对应 analyses 表，创建后不可修改。
// 两项扫描结果加密存储，BigFive / Attachment 仅在内存中使用，解析失败的一项为 nil。
type AnalysisRecord struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	UserID              string           `gorm:"type:varchar(100);index;not null" json:"-"`
	BigFiveEncrypted    string           `gorm:"type:text" json:"-"`
	AttachmentEncrypted string           `gorm:"type:text" json:"-"`
	Timestamp           time.Time        `gorm:"index;not null" json:"timestamp"`
	BigFive             *BigFive         `gorm:"-" json:"big_five_personality"`
	Attachment          *AttachmentStyle `gorm:"-" json:"attachment_style"`
}

func (AnalysisRecord) TableName() string {
	return "analyses"
}
