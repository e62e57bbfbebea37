package service

import (
	"context"
	"fmt"
	"persona-chat-go/internal/cache"
	"persona-chat-go/internal/config"
	"persona-chat-go/internal/model"
	"persona-chat-go/internal/repository"
	"persona-chat-go/pkg/log"
)

// UserService 接口定义了用户生命周期与数据清除相关的业务操作。
type UserService interface {
	// GetOrCreate 返回用户，首次接触时懒创建为 free 档。
	GetOrCreate(ctx context.Context, userID string) (*model.User, error)
	// DeleteData 清除对话、摘要与全部分析记录，保留用户与用量账本。
	DeleteData(ctx context.Context, userID string) error
	// DeleteUser 删除用户及其名下的全部记录。
	DeleteUser(ctx context.Context, userID string) error
}

type userService struct {
	users     repository.UserRepository
	contexts  repository.ContextRepository
	analyses  repository.AnalysisRepository
	summaries repository.SummaryRepository
	cache     *cache.SessionCache
	usageCfg  config.UsageConfig
	now       Clock
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(
	users repository.UserRepository,
	contexts repository.ContextRepository,
	analyses repository.AnalysisRepository,
	summaries repository.SummaryRepository,
	sessionCache *cache.SessionCache,
	usageCfg config.UsageConfig,
	now Clock,
) UserService {
	if now == nil {
		now = systemClock
	}
	return &userService{
		users:     users,
		contexts:  contexts,
		analyses:  analyses,
		summaries: summaries,
		cache:     sessionCache,
		usageCfg:  usageCfg,
		now:       now,
	}
}

func (s *userService) GetOrCreate(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.FindOrCreate(ctx, newUserTemplate(userID, s.usageCfg, model.DateOf(s.now())))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return u, nil
}

func (s *userService) DeleteData(ctx context.Context, userID string) error {
	unlock := s.cache.Lock(userID)
	defer unlock()

	// 先清缓存：即使后续删除失败，下次读取也会回源
	s.cache.EvictWindow(userID)
	if err := s.contexts.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if err := s.summaries.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	if err := s.analyses.DeleteByUser(ctx, userID); err != nil {
		return err
	}
	log.Infow("[UserService] user data deleted", "userID", userID)
	return nil
}

func (s *userService) DeleteUser(ctx context.Context, userID string) error {
	unlock := s.cache.Lock(userID)
	defer unlock()

	s.cache.Evict(userID)
	if err := s.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	log.Infow("[UserService] user deleted", "userID", userID)
	return nil
}
