package service

import (
	"context"
	"persona-chat-go/internal/config"
	"persona-chat-go/internal/model"
	"persona-chat-go/pkg/llm"
	"persona-chat-go/pkg/log"
	"strings"
)

// AnalysisScheduler 把一次后台分析排入队列。
type AnalysisScheduler interface {
	ScheduleAnalysis(ctx context.Context, userID string) error
}

// ChatReply 是一轮对话的结果。Fallback 为 true 表示模型调用失败，Response 为兜底文案。
type ChatReply struct {
	Response  string
	Tokens    int
	Fallback  bool
	TurnCount int64
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Send 处理一轮用户发言：额度检查、调用模型、扣减、持久化，必要时排入后台分析。
	Send(ctx context.Context, userID, text string) (*ChatReply, error)
}

type chatService struct {
	conversations ConversationService
	usage         UsageService
	llmClient     llm.Client
	scheduler     AnalysisScheduler
	prompts       config.PromptsConfig
	chatCfg       config.ChatConfig
	maxTokens     int
}

// NewChatService 创建一个新的 ChatService 实例。scheduler 为 nil 时不触发后台分析。
func NewChatService(
	conversations ConversationService,
	usage UsageService,
	llmClient llm.Client,
	scheduler AnalysisScheduler,
	prompts config.PromptsConfig,
	chatCfg config.ChatConfig,
	maxTokens int,
) ChatService {
	if prompts.Fallback == "" {
		prompts.Fallback = "Sorry, I couldn't generate a response right now."
	}
	return &chatService{
		conversations: conversations,
		usage:         usage,
		llmClient:     llmClient,
		scheduler:     scheduler,
		prompts:       prompts,
		chatCfg:       chatCfg,
		maxTokens:     maxTokens,
	}
}

func (s *chatService) Send(ctx context.Context, userID, text string) (*ChatReply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	// 1. 额度检查必须先于任何模型调用
	allowed, err := s.usage.CheckLimit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrQuotaExceeded
	}

	// 2. 读取窗口并调用模型，调用期间不持有用户锁
	history, err := s.conversations.LoadHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	userMsg := model.ChatMessage{Role: model.RoleUser, Content: text}
	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range append(history, userMsg) {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	reply := &ChatReply{}
	reply.Response, reply.Tokens = s.llmClient.Ask(ctx, messages, s.maxTokens, s.prompts.Chat)
	if reply.Response == "" {
		reply.Response = s.prompts.Fallback
		reply.Fallback = true
		reply.Tokens = 0
	}

	// 3. 模型调用已产生费用，后续写入不随请求取消
	persistCtx := context.WithoutCancel(ctx)
	if reply.Tokens > 0 {
		if err := s.usage.Debit(persistCtx, userID, reply.Tokens); err != nil {
			return nil, err
		}
	}

	// 4. 兜底回复同样记入对话
	w, err := s.conversations.AppendAndPersist(persistCtx, userID, userMsg, model.ChatMessage{Role: model.RoleAssistant, Content: reply.Response})
	if err != nil {
		return nil, err
	}
	reply.TurnCount = w.TurnCount

	// 5. 每 N 轮用户发言排入一次后台分析
	if s.scheduler != nil && s.chatCfg.AnalysisEvery > 0 && w.TurnCount%int64(s.chatCfg.AnalysisEvery) == 0 {
		if err := s.scheduler.ScheduleAnalysis(persistCtx, userID); err != nil {
			log.Warnw("[ChatService] failed to schedule analysis", "userID", userID, "turn", w.TurnCount, "error", err)
		}
	}
	return reply, nil
}
