package service

import (
	"context"
	"fmt"
	"persona-chat-go/internal/cache"
	"persona-chat-go/internal/model"
	"persona-chat-go/internal/repository"
)

// ConversationService 定义了对话业务逻辑的接口。
// 所有对话变更都经由 AppendAndPersist 这一条路径，先写持久层再刷新缓存。
type ConversationService interface {
	// LoadHistory 返回用户的对话窗口。缓存未命中时回源并回填；没有记录时返回空序列。
	LoadHistory(ctx context.Context, userID string) ([]model.ChatMessage, error)
	// AppendAndPersist 追加消息，截断到最近 K 条后整体写入持久层并刷新缓存。
	AppendAndPersist(ctx context.Context, userID string, messages ...model.ChatMessage) (cache.Window, error)
}

type conversationService struct {
	contexts   repository.ContextRepository
	cache      *cache.SessionCache
	maxContext int
}

// NewConversationService 创建一个新的 ConversationService。maxContext 为窗口的最大消息数。
func NewConversationService(contexts repository.ContextRepository, sessionCache *cache.SessionCache, maxContext int) ConversationService {
	if maxContext <= 0 {
		maxContext = 20
	}
	return &conversationService{contexts: contexts, cache: sessionCache, maxContext: maxContext}
}

func (s *conversationService) LoadHistory(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	unlock := s.cache.Lock(userID)
	defer unlock()

	w, err := s.windowLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return w.Messages, nil
}

func (s *conversationService) AppendAndPersist(ctx context.Context, userID string, messages ...model.ChatMessage) (cache.Window, error) {
	for _, m := range messages {
		if !m.Role.Valid() {
			return cache.Window{}, fmt.Errorf("invalid message role %q", m.Role)
		}
	}

	unlock := s.cache.Lock(userID)
	defer unlock()

	w, err := s.windowLocked(ctx, userID)
	if err != nil {
		return cache.Window{}, err
	}

	next := cache.Window{
		Messages:  truncateWindow(append(w.Messages, messages...), s.maxContext),
		TurnCount: w.TurnCount + int64(model.CountUserTurns(messages)),
	}
	// 持久层写入失败时缓存保持原样，请求整体失败
	if err := s.contexts.Save(ctx, userID, next.Messages, next.TurnCount); err != nil {
		return cache.Window{}, fmt.Errorf("failed to persist conversation: %w", err)
	}
	s.cache.PutWindow(userID, next)
	return next, nil
}

// windowLocked 必须在持有用户锁时调用。
func (s *conversationService) windowLocked(ctx context.Context, userID string) (cache.Window, error) {
	if w, ok := s.cache.GetWindow(userID); ok {
		return w, nil
	}
	row, err := s.contexts.Get(ctx, userID)
	if err != nil {
		return cache.Window{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	w := cache.Window{Messages: []model.ChatMessage{}}
	if row != nil {
		w.Messages = row.Messages
		w.TurnCount = row.TurnCount
	}
	s.cache.PutWindow(userID, w)
	return w, nil
}

// truncateWindow 丢弃最旧的消息，保留最近 k 条。
func truncateWindow(messages []model.ChatMessage, k int) []model.ChatMessage {
	if len(messages) <= k {
		return messages
	}
	out := make([]model.ChatMessage, k)
	copy(out, messages[len(messages)-k:])
	return out
}
