// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"time"
)

var (
	// ErrQuotaExceeded 表示用户额度已用尽，不会发起任何模型调用。
	ErrQuotaExceeded = errors.New("token limit reached")
	// ErrNotEnoughData 表示对话轮数不足，分析被拒绝且没有任何模型调用。
	ErrNotEnoughData = errors.New("not enough conversation data")
	// ErrEmptyMessage 表示用户消息为空。
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrAnalysisFailed 表示扫描结果无法解析或校验失败。
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrSummaryFailed 表示摘要生成失败。
	ErrSummaryFailed = errors.New("summary generation failed")
	// ErrInvalidAmount 表示 token 数量为负。
	ErrInvalidAmount = errors.New("token amount must not be negative")
)

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
