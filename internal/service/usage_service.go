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

// UsageService 是用量记账器：调用模型前做额度检查，调用后扣减。
// 账本采用“剩余额度”口径：TokensAvailable 为剩余额度，TokensUsed 为本周期的消耗。
type UsageService interface {
	// CheckLimit 先按档位执行重置检查（幂等），再判断用户是否还有剩余额度。
	// 必须在任何付费的外部调用之前调用。
	CheckLimit(ctx context.Context, userID string) (bool, error)
	// Debit 增加 TokensUsed，并将 TokensAvailable 减少（不低于 0）。
	Debit(ctx context.Context, userID string, tokens int) error
	// Credit 增加 TokensAvailable，只由支付回调路径调用。
	Credit(ctx context.Context, userID string, tokens int) error
	// GetUsage 返回用户当前的计数器，优先使用缓存中的影子副本。
	GetUsage(ctx context.Context, userID string) (model.Usage, error)
}

type usageService struct {
	users repository.UserRepository
	cache *cache.SessionCache
	cfg   config.UsageConfig
	now   Clock
}

// NewUsageService 创建一个新的 UsageService。now 为 nil 时使用系统时钟。
func NewUsageService(users repository.UserRepository, sessionCache *cache.SessionCache, cfg config.UsageConfig, now Clock) UsageService {
	if now == nil {
		now = systemClock
	}
	if cfg.Free.ResetDays <= 0 {
		cfg.Free.ResetDays = 30
	}
	return &usageService{users: users, cache: sessionCache, cfg: cfg, now: now}
}

// newUserTemplate 返回首次接触时懒创建的免费档用户。
func newUserTemplate(userID string, cfg config.UsageConfig, today model.Date) *model.User {
	grant := int64(cfg.Free.Grant)
	if cfg.Free.Cap > 0 && grant > int64(cfg.Free.Cap) {
		grant = int64(cfg.Free.Cap)
	}
	return &model.User{
		UserID:          userID,
		Tier:            model.TierFree,
		TokensAvailable: grant,
		ResetDate:       today.Time(),
	}
}

func (s *usageService) tierConfig(t model.Tier) config.TierConfig {
	if t == model.TierFree {
		return s.cfg.Free
	}
	return s.cfg.Paid
}

// resetDue 判断是否到达重置边界：free 档按经过的天数，其余档按自然日。
func (s *usageService) resetDue(tier model.Tier, last, today model.Date) bool {
	if tier == model.TierFree {
		return last.DaysUntil(today) >= s.cfg.Free.ResetDays
	}
	return last.Before(today)
}

// applyReset 在到达重置边界时清零消耗、补发额度并推进重置日期。
// 补发后不超过档位上限；已购买的额度超过上限时保持不变。
func (s *usageService) applyReset(u *model.User, today model.Date) bool {
	if !s.resetDue(u.Tier, model.DateOf(u.ResetDate), today) {
		return false
	}
	tc := s.tierConfig(u.Tier)
	u.TokensUsed = 0
	if u.TokensAvailable < int64(tc.Cap) {
		u.TokensAvailable += int64(tc.Grant)
		if u.TokensAvailable > int64(tc.Cap) {
			u.TokensAvailable = int64(tc.Cap)
		}
	}
	u.ResetDate = today.Time()
	return true
}

func (s *usageService) CheckLimit(ctx context.Context, userID string) (bool, error) {
	unlock := s.cache.Lock(userID)
	defer unlock()

	usage, err := s.currentLocked(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check token limit: %w", err)
	}
	return usage.TokensAvailable > 0, nil
}

// currentLocked 返回已应用到期重置的账本快照。调用方须持有用户锁。
func (s *usageService) currentLocked(ctx context.Context, userID string) (model.Usage, error) {
	today := model.DateOf(s.now())
	if shadow, ok := s.cache.GetUsage(userID); ok && !s.resetDue(shadow.Tier, shadow.ResetDate, today) {
		return shadow, nil
	}

	reset := false
	u, err := s.users.MutateUsage(ctx, newUserTemplate(userID, s.cfg, today), func(u *model.User) bool {
		reset = s.applyReset(u, today)
		return reset
	})
	if err != nil {
		return model.Usage{}, err
	}
	if reset {
		log.Infow("[UsageService] quota reset", "userID", userID, "tier", string(u.Tier), "tokensAvailable", u.TokensAvailable)
	}
	usage := u.Usage()
	s.cache.PutUsage(userID, usage)
	return usage, nil
}

func (s *usageService) Debit(ctx context.Context, userID string, tokens int) error {
	if tokens < 0 {
		return ErrInvalidAmount
	}
	if tokens == 0 {
		return nil
	}

	unlock := s.cache.Lock(userID)
	defer unlock()

	today := model.DateOf(s.now())
	u, err := s.users.MutateUsage(ctx, newUserTemplate(userID, s.cfg, today), func(u *model.User) bool {
		u.TokensUsed += int64(tokens)
		u.TokensAvailable -= int64(tokens)
		if u.TokensAvailable < 0 {
			u.TokensAvailable = 0
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to debit tokens: %w", err)
	}
	s.cache.PutUsage(userID, u.Usage())
	return nil
}

func (s *usageService) Credit(ctx context.Context, userID string, tokens int) error {
	if tokens < 0 {
		return ErrInvalidAmount
	}
	if tokens == 0 {
		return nil
	}

	unlock := s.cache.Lock(userID)
	defer unlock()

	today := model.DateOf(s.now())
	u, err := s.users.MutateUsage(ctx, newUserTemplate(userID, s.cfg, today), func(u *model.User) bool {
		u.TokensAvailable += int64(tokens)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to credit tokens: %w", err)
	}
	s.cache.PutUsage(userID, u.Usage())
	log.Infow("[UsageService] tokens credited", "userID", userID, "tokens", tokens, "tokensAvailable", u.TokensAvailable)
	return nil
}

func (s *usageService) GetUsage(ctx context.Context, userID string) (model.Usage, error) {
	unlock := s.cache.Lock(userID)
	defer unlock()

	usage, err := s.currentLocked(ctx, userID)
	if err != nil {
		return model.Usage{}, fmt.Errorf("failed to get usage: %w", err)
	}
	return usage, nil
}
