// Package model 包含了应用的数据模型定义。
package model

import "time"

// Role 是对话消息的角色，只允许 user 与 assistant。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 判断角色是否属于允许的取值。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessage 代表对话中的单条消息。
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationContext 对应 contexts 表，每个用户至多一条。
// 消息以加密后的 JSON 存放在 MessagesEncrypted 中，Messages 仅在内存中使用。
type ConversationContext struct {
	ID                uint          `gorm:"primaryKey" json:"-"`
	UserID            string        `gorm:"type:varchar(100);uniqueIndex;not null" json:"userId"`
	MessagesEncrypted string        `gorm:"type:mediumtext;not null" json:"-"`
	TurnCount         int64         `gorm:"not null;default:0" json:"turnCount"`
	UpdatedAt         time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
	Messages          []ChatMessage `gorm:"-" json:"messages"`
}

func (ConversationContext) TableName() string {
	return "contexts"
}

// CountUserTurns 统计消息序列中用户发言的条数。
func CountUserTurns(messages []ChatMessage) int {
	n := 0
	for _, m := range messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
