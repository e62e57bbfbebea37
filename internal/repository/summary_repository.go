package repository

import (
	"context"
	"errors"
	"fmt"
	"persona-chat-go/internal/model"
	"persona-chat-go/pkg/crypto"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SummaryRepository 定义了滚动摘要的持久化操作，每个用户至多一条。
type SummaryRepository interface {
	// Get 返回用户的摘要，不存在时返回 (nil, nil)。
	Get(ctx context.Context, userID string) (*model.RollingSummary, error)
	// Upsert 整体覆盖用户的摘要。
	Upsert(ctx context.Context, userID, summary string) error
	Delete(ctx context.Context, userID string) error
}

type summaryRepository struct {
	db     *gorm.DB
	cipher crypto.Cipher
}

// NewSummaryRepository 创建一个新的 SummaryRepository 实例。
func NewSummaryRepository(db *gorm.DB, cipher crypto.Cipher) SummaryRepository {
	return &summaryRepository{db: db, cipher: cipher}
}

func (r *summaryRepository) Get(ctx context.Context, userID string) (*model.RollingSummary, error) {
	var row model.RollingSummary
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if row.Summary, err = r.cipher.Decrypt(row.SummaryEncrypted); err != nil {
		return nil, fmt.Errorf("failed to decrypt summary: %w", err)
	}
	return &row, nil
}

func (r *summaryRepository) Upsert(ctx context.Context, userID, summary string) error {
	enc, err := r.cipher.Encrypt(summary)
	if err != nil {
		return fmt.Errorf("failed to encrypt summary: %w", err)
	}
	row := model.RollingSummary{UserID: userID, SummaryEncrypted: enc, UpdatedAt: time.Now().UTC()}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary_encrypted", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (r *summaryRepository) Delete(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.RollingSummary{}).Error; err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	return nil
}
