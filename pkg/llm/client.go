// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"persona-chat-go/internal/config"
	"persona-chat-go/pkg/log"
	"strings"
	"time"
)

// Role 表示消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 表示一条角色消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Failure classifies why a call produced no text.
type Failure string

const (
	FailureNone        Failure = ""
	FailureTransport   Failure = "transport"    // 网络错误
	FailureTimeout     Failure = "timeout"      // 超过内部超时或调用方取消
	FailureRateLimited Failure = "rate_limited" // 429
	FailureOverloaded  Failure = "overloaded"   // 5xx / 529
	FailureRejected    Failure = "rejected"     // 其余 4xx，例如鉴权失败、参数错误
	FailureMalformed   Failure = "malformed"    // 响应无法解析
	FailureEmpty       Failure = "empty"        // 响应中没有文本块
)

// transient 的失败会被重试一次（取决于配置的 MaxRetries）。
func (f Failure) transient() bool {
	return f == FailureTransport || f == FailureRateLimited || f == FailureOverloaded
}

// Result 是一次调用的完整结果。失败时 Text 为空且 Tokens 为 0。
type Result struct {
	Text    string
	Tokens  int
	Failure Failure
}

// Client defines the interface for an LLM client.
type Client interface {
	// Ask 发送消息并返回生成的文本与 token 数（输入 + 输出）。
	// 任何错误都不会向上抛出：失败时返回 ("", 0)。
	Ask(ctx context.Context, messages []Message, maxTokens int, system string) (string, int)
	// AskDetailed 与 Ask 相同，但额外返回失败分类。
	AskDetailed(ctx context.Context, messages []Message, maxTokens int, system string) Result
}

type anthropicClient struct {
	cfg        config.LLMConfig
	model      string
	client     *http.Client
	timeout    time.Duration
	retryDelay time.Duration
}

// NewClient creates a new LLM client bound to one model.
func NewClient(cfg config.LLMConfig, model string) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &anthropicClient{
		cfg:        cfg,
		model:      model,
		client:     &http.Client{},
		timeout:    timeout,
		retryDelay: 500 * time.Millisecond,
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicClient) Ask(ctx context.Context, messages []Message, maxTokens int, system string) (string, int) {
	r := c.AskDetailed(ctx, messages, maxTokens, system)
	return r.Text, r.Tokens
}

func (c *anthropicClient) AskDetailed(ctx context.Context, messages []Message, maxTokens int, system string) Result {
	// 整个调用（含重试）共享一个截止时间
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBytes, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		log.Errorf("[LLM] failed to marshal messages request: %v", err)
		return Result{Failure: FailureMalformed}
	}

	var r Result
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{Failure: FailureTimeout}
			case <-time.After(c.retryDelay):
			}
		}
		var callErr error
		r, callErr = c.do(ctx, reqBytes)
		if r.Failure == FailureNone {
			return r
		}
		log.Warnw("[LLM] call failed", "model", c.model, "attempt", attempt+1, "failure", string(r.Failure), "error", callErr)
		if !r.Failure.transient() {
			break
		}
	}
	return Result{Failure: r.Failure}
}

// do 执行一次 HTTP 调用。只有成功的响应才会带上 token 数，失败的尝试不计费。
func (c *anthropicClient) do(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/messages", bytes.NewReader(body))
	if err != nil {
		return Result{Failure: FailureMalformed}, fmt.Errorf("failed to create messages request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", c.cfg.APIVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return Result{Failure: FailureTimeout}, err
		}
		return Result{Failure: FailureTransport}, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Failure: FailureTimeout}, err
		}
		return Result{Failure: FailureTransport}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Result{Failure: classifyStatus(resp.StatusCode)}, fmt.Errorf("messages api returned non-200 status: %s, body: %s", resp.Status, string(respBytes))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return Result{Failure: FailureMalformed}, fmt.Errorf("failed to unmarshal messages response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Result{Failure: FailureEmpty}, errors.New("response has no text content")
	}

	// 供应方未返回 usage 时按 0 计，属于已知的少计
	tokens := 0
	if parsed.Usage != nil {
		tokens = parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	}
	return Result{Text: text.String(), Tokens: tokens}, nil
}

func classifyStatus(status int) Failure {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status >= 500:
		return FailureOverloaded
	default:
		return FailureRejected
	}
}
