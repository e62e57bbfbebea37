package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"persona-chat-go/internal/model"
	"persona-chat-go/pkg/crypto"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContextRepository 定义了对话上下文的持久化操作。每次保存都整体替换旧记录。
type ContextRepository interface {
	// Get 返回用户的对话上下文，不存在时返回 (nil, nil)。
	Get(ctx context.Context, userID string) (*model.ConversationContext, error)
	Save(ctx context.Context, userID string, messages []model.ChatMessage, turnCount int64) error
	Delete(ctx context.Context, userID string) error
}

type contextRepository struct {
	db     *gorm.DB
	cipher crypto.Cipher
}

// NewContextRepository 创建一个新的 ContextRepository 实例。
func NewContextRepository(db *gorm.DB, cipher crypto.Cipher) ContextRepository {
	return &contextRepository{db: db, cipher: cipher}
}

func (r *contextRepository) Get(ctx context.Context, userID string) (*model.ConversationContext, error) {
	var row model.ConversationContext
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}

	plain, err := r.cipher.Decrypt(row.MessagesEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt context: %w", err)
	}
	if err := json.Unmarshal([]byte(plain), &row.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context messages: %w", err)
	}
	return &row, nil
}

func (r *contextRepository) Save(ctx context.Context, userID string, messages []model.ChatMessage, turnCount int64) error {
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal context messages: %w", err)
	}
	enc, err := r.cipher.Encrypt(string(jsonData))
	if err != nil {
		return fmt.Errorf("failed to encrypt context: %w", err)
	}

	row := model.ConversationContext{
		UserID:            userID,
		MessagesEncrypted: enc,
		TurnCount:         turnCount,
		UpdatedAt:         time.Now().UTC(),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages_encrypted", "turn_count", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

func (r *contextRepository) Delete(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.ConversationContext{}).Error; err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	return nil
}
