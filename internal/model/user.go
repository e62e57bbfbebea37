// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Tier 是用户的订阅档位。
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Valid 判断档位是否属于封闭枚举。
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPaid
}

// User 对应于数据库中的 users 表，同时承担用量账本的角色。
// TokensAvailable 表示剩余额度，TokensUsed 表示自上次重置以来的消耗。
type User struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	UserID          string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"userId"`
	Tier            Tier      `gorm:"type:varchar(20);not null;default:free" json:"tier"`
	TokensUsed      int64     `gorm:"not null;default:0" json:"tokensUsed"`
	TokensAvailable int64     `gorm:"not null;default:0" json:"tokensAvailable"`
	ResetDate       time.Time `gorm:"type:date;not null" json:"resetDate"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// Usage 是账本计数器的快照，也是会话缓存中的影子副本。
type Usage struct {
	Tier            Tier  `json:"tier"`
	TokensUsed      int64 `json:"tokens_used"`
	TokensAvailable int64 `json:"tokens_available"`
	ResetDate       Date  `json:"reset_date"`
}

// Usage 返回用户当前计数器的快照。
func (u *User) Usage() Usage {
	return Usage{
		Tier:            u.Tier,
		TokensUsed:      u.TokensUsed,
		TokensAvailable: u.TokensAvailable,
		ResetDate:       DateOf(u.ResetDate),
	}
}
