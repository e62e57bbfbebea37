// Package pipeline 定义了后台任务的处理流程：人格分析与支付充值。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"persona-chat-go/internal/service"
	"persona-chat-go/pkg/kafka"
	"persona-chat-go/pkg/log"
	"persona-chat-go/pkg/tasks"
	"time"

	"github.com/go-redis/redis/v8"
)

// paymentDedupTTL 是支付事件去重标记的保留时间。
const paymentDedupTTL = 7 * 24 * time.Hour

// AnalysisProcessor 消费分析任务并执行完整的分析周期。
type AnalysisProcessor struct {
	analysis service.AnalysisService
}

// NewAnalysisProcessor 创建一个新的 AnalysisProcessor 实例。
func NewAnalysisProcessor(analysis service.AnalysisService) *AnalysisProcessor {
	return &AnalysisProcessor{analysis: analysis}
}

// Handle 处理一条分析任务消息。
// 轮数不足、额度不足与解析失败都不重试：重试只会重复计费或重复失败。
func (p *AnalysisProcessor) Handle(ctx context.Context, value []byte) error {
	var task tasks.AnalysisTask
	if err := json.Unmarshal(value, &task); err != nil {
		return kafka.Permanent(fmt.Errorf("无法解析分析任务: %w", err))
	}
	if task.UserID == "" {
		return kafka.Permanent(errors.New("分析任务缺少 user_id"))
	}

	log.Infow("[AnalysisProcessor] 开始处理分析任务", "taskID", task.TaskID, "userID", task.UserID)
	run, err := p.analysis.Run(ctx, task.UserID)
	switch {
	case errors.Is(err, service.ErrNotEnoughData), errors.Is(err, service.ErrQuotaExceeded), errors.Is(err, service.ErrAnalysisFailed):
		log.Infow("[AnalysisProcessor] 分析任务跳过", "taskID", task.TaskID, "userID", task.UserID, "reason", err.Error())
		return kafka.Permanent(err)
	case err != nil:
		return err
	}
	log.Infow("[AnalysisProcessor] 分析任务完成", "taskID", task.TaskID, "userID", task.UserID, "tokens", run.Tokens, "summaryUpdated", run.Summary != nil)
	return nil
}

// PaymentProcessor 消费支付方已验签的充值事件并为用户增加额度。
type PaymentProcessor struct {
	usage service.UsageService
	rdb   *redis.Client
}

// NewPaymentProcessor 创建一个新的 PaymentProcessor 实例。
func NewPaymentProcessor(usage service.UsageService, rdb *redis.Client) *PaymentProcessor {
	return &PaymentProcessor{usage: usage, rdb: rdb}
}

// Handle 处理一条充值事件。相同 event_id 的事件只会入账一次。
func (p *PaymentProcessor) Handle(ctx context.Context, value []byte) error {
	var event tasks.PaymentEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return kafka.Permanent(fmt.Errorf("无法解析支付事件: %w", err))
	}
	if err := event.Validate(); err != nil {
		return kafka.Permanent(err)
	}

	// 1. 抢占去重标记
	dedupKey := "payment:event:" + event.EventID
	fresh, err := p.rdb.SetNX(ctx, dedupKey, event.UserID, paymentDedupTTL).Result()
	if err != nil {
		return fmt.Errorf("支付事件去重失败: %w", err)
	}
	if !fresh {
		log.Warnw("[PaymentProcessor] 重复的支付事件已忽略", "eventID", event.EventID, "userID", event.UserID)
		return nil
	}

	// 2. 入账失败时释放标记，允许重试
	if err := p.usage.Credit(ctx, event.UserID, event.Tokens); err != nil {
		_ = p.rdb.Del(context.Background(), dedupKey).Err()
		return err
	}
	log.Infow("[PaymentProcessor] 充值入账", "eventID", event.EventID, "userID", event.UserID, "tokens", event.Tokens)
	return nil
}
