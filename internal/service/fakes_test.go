package service

import (
	"bytes"
	"context"
	"errors"
	"persona-chat-go/internal/cache"
	"persona-chat-go/internal/config"
	"persona-chat-go/internal/model"
	"persona-chat-go/internal/repository"
	"persona-chat-go/pkg/crypto"
	"persona-chat-go/pkg/database"
	"persona-chat-go/pkg/llm"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testPrompts = config.PromptsConfig{
	Chat:       "chat-preamble",
	BigFive:    "big-five-preamble",
	Attachment: "attachment-preamble",
	Summary:    "summary-preamble",
	Fallback:   "fallback reply",
}

var testUsageCfg = config.UsageConfig{
	Free: config.TierConfig{Grant: 10000, Cap: 10000, ResetDays: 30},
	Paid: config.TierConfig{Grant: 100000, Cap: 100000},
}

const (
	validBigFive    = `{"openness":0.7,"conscientiousness":0.6,"extraversion":0.4,"agreeableness":0.8,"neuroticism":0.3}`
	validAttachment = "```json\n{\"anxiety_score\":0.2,\"avoidance_score\":0.3,\"style\":\"secure\"}\n```"
)

type fakeReply struct {
	text   string
	tokens int
}

type fakeCall struct {
	system   string
	messages []llm.Message
}

// fakeLLM 按 system 前言返回预设回复。
type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]fakeReply
	calls   []fakeCall
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{replies: map[string]fakeReply{}}
}

func (f *fakeLLM) set(system, text string, tokens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[system] = fakeReply{text: text, tokens: tokens}
}

func (f *fakeLLM) Ask(ctx context.Context, messages []llm.Message, maxTokens int, system string) (string, int) {
	r := f.AskDetailed(ctx, messages, maxTokens, system)
	return r.Text, r.Tokens
}

func (f *fakeLLM) AskDetailed(_ context.Context, messages []llm.Message, _ int, system string) llm.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{system: system, messages: append([]llm.Message(nil), messages...)})
	r, ok := f.replies[system]
	if !ok || r.text == "" {
		return llm.Result{Failure: llm.FailureEmpty}
	}
	return llm.Result{Text: r.text, Tokens: r.tokens}
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) callsFor(system string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.system == system {
			out = append(out, c)
		}
	}
	return out
}

type fakeScheduler struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeScheduler) ScheduleAnalysis(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

type fakeObject struct {
	data        []byte
	contentType string
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (f *fakeStore) PutObject(_ context.Context, objectName string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]fakeObject{}
	}
	f.objects[objectName] = fakeObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (f *fakeStore) PresignedURL(_ context.Context, objectName string, expiry time.Duration) (string, error) {
	return "https://objects.test/" + objectName + "?expires=" + expiry.String(), nil
}

// failingContexts 模拟持久层写入失败。
type failingContexts struct {
	repository.ContextRepository
}

func (failingContexts) Save(context.Context, string, []model.ChatMessage, int64) error {
	return errors.New("disk full")
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	db        *gorm.DB
	clock     *testClock
	cache     *cache.SessionCache
	llm       *fakeLLM
	scheduler *fakeScheduler
	store     *fakeStore

	users     repository.UserRepository
	contexts  repository.ContextRepository
	analyses  repository.AnalysisRepository
	summaries repository.SummaryRepository

	usage         UsageService
	conversations ConversationService
	analysis      AnalysisService
	chat          ChatService
	userSvc       UserService
	export        ExportService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cipher, err := crypto.NewCipher(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	e := &testEnv{
		db:        db,
		clock:     &testClock{t: time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)},
		cache:     cache.NewSessionCache(),
		llm:       newFakeLLM(),
		scheduler: &fakeScheduler{},
		store:     &fakeStore{},
		users:     repository.NewUserRepository(db),
		contexts:  repository.NewContextRepository(db, cipher),
		analyses:  repository.NewAnalysisRepository(db, cipher),
		summaries: repository.NewSummaryRepository(db, cipher),
	}
	chatCfg := config.ChatConfig{MaxContext: 20, AnalysisEvery: 5, MinAnalysisTurns: 3, AnalysisHistoryLimit: 30}
	e.usage = NewUsageService(e.users, e.cache, testUsageCfg, e.clock.now)
	e.conversations = NewConversationService(e.contexts, e.cache, chatCfg.MaxContext)
	e.analysis = NewAnalysisService(e.conversations, e.analyses, e.summaries, e.usage, e.llm, testPrompts, chatCfg, 500, e.clock.now)
	e.chat = NewChatService(e.conversations, e.usage, e.llm, e.scheduler, testPrompts, chatCfg, 1024)
	e.userSvc = NewUserService(e.users, e.contexts, e.analyses, e.summaries, e.cache, testUsageCfg, e.clock.now)
	e.export = NewExportService(e.conversations, e.analyses, e.summaries, e.usage, e.store, e.clock.now)
	return e
}

func (e *testEnv) today() time.Time {
	return model.DateOf(e.clock.now()).Time()
}

// seedUser 直接写入一行账本记录。
func (e *testEnv) seedUser(t *testing.T, u model.User) {
	t.Helper()
	if u.Tier == "" {
		u.Tier = model.TierFree
	}
	if u.ResetDate.IsZero() {
		u.ResetDate = e.today()
	}
	if _, err := e.users.FindOrCreate(context.Background(), &u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (e *testEnv) ledger(t *testing.T, userID string) *model.User {
	t.Helper()
	u, err := e.users.FindByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("find user %s: %v", userID, err)
	}
	return u
}

// seedTurns 写入 n 轮用户/助手对话。
func (e *testEnv) seedTurns(t *testing.T, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.conversations.AppendAndPersist(context.Background(), userID,
			model.ChatMessage{Role: model.RoleUser, Content: "I worry a lot about my friends"},
			model.ChatMessage{Role: model.RoleAssistant, Content: "Tell me more about that"},
		)
		if err != nil {
			t.Fatalf("seed turns: %v", err)
		}
	}
}

// flakyUsage 让第 failOn 次 Debit 失败，其余调用透传。
type flakyUsage struct {
	UsageService
	mu     sync.Mutex
	debits int
	failOn int
}

func (f *flakyUsage) Debit(ctx context.Context, userID string, tokens int) error {
	f.mu.Lock()
	f.debits++
	n := f.debits
	f.mu.Unlock()
	if n == f.failOn {
		return errors.New("db gone")
	}
	return f.UsageService.Debit(ctx, userID, tokens)
}
