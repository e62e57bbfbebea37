package service

import (
	"context"
	"encoding/json"
	"fmt"
	"persona-chat-go/internal/model"
	"persona-chat-go/internal/repository"
	"time"
)

// exportURLExpiry 是导出文件下载链接的有效期。
const exportURLExpiry = 15 * time.Minute

// ObjectStore 是导出文件的对象存储。
type ObjectStore interface {
	PutObject(ctx context.Context, objectName string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// ExportBundle 是导出文件的内容。
type ExportBundle struct {
	UserID     string                 `json:"user_id"`
	ExportedAt time.Time              `json:"exported_at"`
	Messages   []model.ChatMessage    `json:"messages"`
	Analyses   []model.AnalysisRecord `json:"analysis"`
	Summary    *string                `json:"summary"`
	Usage      model.Usage            `json:"usage"`
}

// ExportResult 描述一次导出。
type ExportResult struct {
	ObjectName string    `json:"object_name"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ExportService 将用户的全部数据打包上传到对象存储，并返回限时下载链接。
type ExportService interface {
	Export(ctx context.Context, userID string) (*ExportResult, error)
}

type exportService struct {
	conversations ConversationService
	analyses      repository.AnalysisRepository
	summaries     repository.SummaryRepository
	usage         UsageService
	store         ObjectStore
	now           Clock
}

// NewExportService 创建一个新的 ExportService。
func NewExportService(
	conversations ConversationService,
	analyses repository.AnalysisRepository,
	summaries repository.SummaryRepository,
	usage UsageService,
	store ObjectStore,
	now Clock,
) ExportService {
	if now == nil {
		now = systemClock
	}
	return &exportService{
		conversations: conversations,
		analyses:      analyses,
		summaries:     summaries,
		usage:         usage,
		store:         store,
		now:           now,
	}
}

func (s *exportService) Export(ctx context.Context, userID string) (*ExportResult, error) {
	now := s.now().UTC()
	bundle := ExportBundle{UserID: userID, ExportedAt: now}

	var err error
	if bundle.Messages, err = s.conversations.LoadHistory(ctx, userID); err != nil {
		return nil, err
	}
	// 导出全部记录，不受列表接口的条数限制
	if bundle.Analyses, err = s.analyses.ListRecent(ctx, userID, -1); err != nil {
		return nil, err
	}
	row, err := s.summaries.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if row != nil {
		bundle.Summary = &row.Summary
	}
	if bundle.Usage, err = s.usage.GetUsage(ctx, userID); err != nil {
		return nil, err
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	objectName := fmt.Sprintf("exports/%s/%s.json", userID, now.Format("20060102T150405Z"))
	if err := s.store.PutObject(ctx, objectName, data, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}
	url, err := s.store.PresignedURL(ctx, objectName, exportURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign export: %w", err)
	}
	return &ExportResult{ObjectName: objectName, URL: url, ExpiresAt: now.Add(exportURLExpiry)}, nil
}
