package service

import (
	"context"
	"errors"
	"fmt"
	"persona-chat-go/internal/config"
	"persona-chat-go/internal/model"
	"persona-chat-go/internal/repository"
	"persona-chat-go/pkg/llm"
	"persona-chat-go/pkg/log"
	"strings"

	"golang.org/x/sync/errgroup"
)

const noSummaryMarker = "None - this is the first summary."

// AnalysisOutcome 是一次分析的结果与 token 记账。
// SpentTokens 是供应方对所有已发出调用报告的消耗；BilledTokens 只包含解析成功的调用，是应向用户扣减的数量。
type AnalysisOutcome struct {
	Record       *model.AnalysisRecord
	SpentTokens  int
	BilledTokens int
}

// SummaryOutcome 是一次摘要更新的结果。
type SummaryOutcome struct {
	Summary string
	Tokens  int
}

// AnalysisRun 是带额度门禁的完整分析周期的结果。摘要失败时 Summary 为 nil。
type AnalysisRun struct {
	Analysis *model.AnalysisRecord
	Summary  *string
	Tokens   int
}

// AnalysisService 定义了人格分析与滚动摘要的业务接口。
type AnalysisService interface {
	// Analyse 发起特质扫描与依恋扫描两次调用并保存新记录。
	// 轮数不足时返回 ErrNotEnoughData 且不发起调用；解析失败时返回 ErrAnalysisFailed，outcome 仍携带记账信息。
	Analyse(ctx context.Context, userID string) (*AnalysisOutcome, error)
	// UpdateSummary 结合旧摘要与最近窗口生成新摘要并覆盖保存。
	UpdateSummary(ctx context.Context, userID string) (*SummaryOutcome, error)
	// Run 依次执行额度检查、分析、扣减、摘要、扣减。两个阶段互不回滚。
	Run(ctx context.Context, userID string) (*AnalysisRun, error)
	ListAnalyses(ctx context.Context, userID string) ([]model.AnalysisRecord, error)
	// GetSummary 返回用户的摘要，不存在时返回 nil。
	GetSummary(ctx context.Context, userID string) (*string, error)
}

type analysisService struct {
	conversations ConversationService
	analyses      repository.AnalysisRepository
	summaries     repository.SummaryRepository
	usage         UsageService
	llmClient     llm.Client
	prompts       config.PromptsConfig
	chatCfg       config.ChatConfig
	maxTokens     int
	now           Clock
}

// NewAnalysisService 创建一个新的 AnalysisService。
func NewAnalysisService(
	conversations ConversationService,
	analyses repository.AnalysisRepository,
	summaries repository.SummaryRepository,
	usage UsageService,
	llmClient llm.Client,
	prompts config.PromptsConfig,
	chatCfg config.ChatConfig,
	maxTokens int,
	now Clock,
) AnalysisService {
	if now == nil {
		now = systemClock
	}
	if chatCfg.AnalysisHistoryLimit <= 0 {
		chatCfg.AnalysisHistoryLimit = 30
	}
	return &analysisService{
		conversations: conversations,
		analyses:      analyses,
		summaries:     summaries,
		usage:         usage,
		llmClient:     llmClient,
		prompts:       prompts,
		chatCfg:       chatCfg,
		maxTokens:     maxTokens,
		now:           now,
	}
}

func (s *analysisService) Analyse(ctx context.Context, userID string) (*AnalysisOutcome, error) {
	history, err := s.conversations.LoadHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if model.CountUserTurns(history) < s.chatCfg.MinAnalysisTurns || len(history) == 0 {
		return nil, ErrNotEnoughData
	}

	prior, err := s.summaries.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	input := buildAnalysisInput(history, prior)

	var (
		bigFive          *model.BigFive
		attachment       *model.AttachmentStyle
		bigFiveTokens    int
		attachmentTokens int
		bigFiveErr       error
		attachmentErr    error
	)
	// 两次扫描互不依赖，一方失败不取消另一方，保证消耗可被完整统计
	var g errgroup.Group
	g.Go(func() error {
		text, tokens := s.llmClient.Ask(ctx, input, s.maxTokens, s.prompts.BigFive)
		bigFiveTokens = tokens
		if text == "" {
			bigFiveErr = &ScanError{Scan: ScanBigFive, Reason: "empty response"}
			return nil
		}
		bigFive, bigFiveErr = ParseBigFive(text)
		return nil
	})
	g.Go(func() error {
		text, tokens := s.llmClient.Ask(ctx, input, s.maxTokens, s.prompts.Attachment)
		attachmentTokens = tokens
		if text == "" {
			attachmentErr = &ScanError{Scan: ScanAttachment, Reason: "empty response"}
			return nil
		}
		attachment, attachmentErr = ParseAttachment(text)
		return nil
	})
	_ = g.Wait()

	out := &AnalysisOutcome{SpentTokens: bigFiveTokens + attachmentTokens}
	if bigFiveErr == nil {
		out.BilledTokens += bigFiveTokens
	}
	if attachmentErr == nil {
		out.BilledTokens += attachmentTokens
	}
	if scanErr := errors.Join(bigFiveErr, attachmentErr); scanErr != nil {
		log.Warnw("[AnalysisService] scan parse failed", "userID", userID, "spentTokens", out.SpentTokens, "billedTokens", out.BilledTokens, "error", scanErr)
		return out, fmt.Errorf("%w: %w", ErrAnalysisFailed, scanErr)
	}

	record := &model.AnalysisRecord{
		UserID:     userID,
		Timestamp:  s.now(),
		BigFive:    bigFive,
		Attachment: attachment,
	}
	if err := s.analyses.Create(context.WithoutCancel(ctx), record); err != nil {
		return out, fmt.Errorf("failed to save analysis: %w", err)
	}
	out.Record = record
	return out, nil
}

func (s *analysisService) UpdateSummary(ctx context.Context, userID string) (*SummaryOutcome, error) {
	history, err := s.conversations.LoadHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	prior, err := s.summaries.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	previous := noSummaryMarker
	if prior != nil && prior.Summary != "" {
		previous = prior.Summary
	}
	prompt := "Previous summary:\n" + previous + "\n\nRecent conversations:\n" + transcript(history)

	text, tokens := s.llmClient.Ask(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, s.maxTokens, s.prompts.Summary)
	if strings.TrimSpace(text) == "" {
		return nil, ErrSummaryFailed
	}
	if err := s.summaries.Upsert(context.WithoutCancel(ctx), userID, text); err != nil {
		return nil, fmt.Errorf("failed to save summary: %w", err)
	}
	return &SummaryOutcome{Summary: text, Tokens: tokens}, nil
}

func (s *analysisService) Run(ctx context.Context, userID string) (*AnalysisRun, error) {
	allowed, err := s.usage.CheckLimit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrQuotaExceeded
	}

	out, err := s.Analyse(ctx, userID)
	if errors.Is(err, ErrAnalysisFailed) {
		// 只对解析成功的调用计费
		s.debitSpent(ctx, userID, "analysis", out.BilledTokens)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	// 记录已落库，之后的失败不再向上返回
	s.debitSpent(ctx, userID, "analysis", out.BilledTokens)

	run := &AnalysisRun{Analysis: out.Record, Tokens: out.BilledTokens}
	sum, err := s.UpdateSummary(ctx, userID)
	if err != nil {
		log.Warnw("[AnalysisService] summary update failed", "userID", userID, "error", err)
		return run, nil
	}
	s.debitSpent(ctx, userID, "summary", sum.Tokens)
	run.Summary = &sum.Summary
	run.Tokens += sum.Tokens
	return run, nil
}

// debitSpent 扣除已经发生的模型调用费用。失败时不向上返回。
func (s *analysisService) debitSpent(ctx context.Context, userID, stage string, tokens int) {
	if err := s.usage.Debit(context.WithoutCancel(ctx), userID, tokens); err != nil {
		log.Errorw("[AnalysisService] failed to debit spent tokens", "userID", userID, "stage", stage, "tokens", tokens, "error", err)
	}
}

func (s *analysisService) ListAnalyses(ctx context.Context, userID string) ([]model.AnalysisRecord, error) {
	records, err := s.analyses.ListRecent(ctx, userID, s.chatCfg.AnalysisHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return records, nil
}

func (s *analysisService) GetSummary(ctx context.Context, userID string) (*string, error) {
	row, err := s.summaries.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return &row.Summary, nil
}

// buildAnalysisInput 把最近窗口与已有摘要拼成扫描请求的单条用户消息。
func buildAnalysisInput(history []model.ChatMessage, prior *model.RollingSummary) []llm.Message {
	var b strings.Builder
	if prior != nil && prior.Summary != "" {
		b.WriteString("Summary of earlier conversations:\n")
		b.WriteString(prior.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	b.WriteString(transcript(history))
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}

func transcript(history []model.ChatMessage) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		speaker := "User"
		if m.Role == model.RoleAssistant {
			speaker = "Assistant"
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	return strings.Join(lines, "\n\n")
}
