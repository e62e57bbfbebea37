package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"persona-chat-go/internal/model"
	"persona-chat-go/pkg/crypto"

	"gorm.io/gorm"
)

// AnalysisRepository 定义了分析记录的持久化操作。记录只增不改。
type AnalysisRepository interface {
	Create(ctx context.Context, record *model.AnalysisRecord) error
	// ListRecent 按时间倒序返回最多 limit 条记录。
	ListRecent(ctx context.Context, userID string, limit int) ([]model.AnalysisRecord, error)
	DeleteByUser(ctx context.Context, userID string) error
}

type analysisRepository struct {
	db     *gorm.DB
	cipher crypto.Cipher
}

// NewAnalysisRepository 创建一个新的 AnalysisRepository 实例。
func NewAnalysisRepository(db *gorm.DB, cipher crypto.Cipher) AnalysisRepository {
	return &analysisRepository{db: db, cipher: cipher}
}

func (r *analysisRepository) Create(ctx context.Context, record *model.AnalysisRecord) error {
	var err error
	if record.BigFiveEncrypted, err = r.seal(record.BigFive); err != nil {
		return err
	}
	if record.AttachmentEncrypted, err = r.seal(record.Attachment); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}
	return nil
}

func (r *analysisRepository) ListRecent(ctx context.Context, userID string, limit int) ([]model.AnalysisRecord, error) {
	var rows []model.AnalysisRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	for i := range rows {
		if rows[i].BigFiveEncrypted != "" {
			rows[i].BigFive = &model.BigFive{}
			if err := r.open(rows[i].BigFiveEncrypted, rows[i].BigFive); err != nil {
				return nil, err
			}
		}
		if rows[i].AttachmentEncrypted != "" {
			rows[i].Attachment = &model.AttachmentStyle{}
			if err := r.open(rows[i].AttachmentEncrypted, rows[i].Attachment); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

func (r *analysisRepository) DeleteByUser(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.AnalysisRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete analyses: %w", err)
	}
	return nil
}

// seal 序列化并加密一项扫描结果，nil 指针存为空串。
func (r *analysisRepository) seal(v interface{}) (string, error) {
	switch p := v.(type) {
	case *model.BigFive:
		if p == nil {
			return "", nil
		}
	case *model.AttachmentStyle:
		if p == nil {
			return "", nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scan result: %w", err)
	}
	enc, err := r.cipher.Encrypt(string(b))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt scan result: %w", err)
	}
	return enc, nil
}

func (r *analysisRepository) open(enc string, dst interface{}) error {
	plain, err := r.cipher.Decrypt(enc)
	if err != nil {
		return fmt.Errorf("failed to decrypt scan result: %w", err)
	}
	if err := json.Unmarshal([]byte(plain), dst); err != nil {
		return fmt.Errorf("failed to unmarshal scan result: %w", err)
	}
	return nil
}
