package repository

import (
	"bytes"
	"context"
	"errors"
	"persona-chat-go/internal/model"
	"persona-chat-go/pkg/crypto"
	"persona-chat-go/pkg/database"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	// 内存库按连接隔离，固定为单连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestCipher(t *testing.T) crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func freeUser(id string) *model.User {
	return &model.User{
		UserID:          id,
		Tier:            model.TierFree,
		TokensAvailable: 100,
		ResetDate:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestUserFindOrCreate(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	if _, err := repo.FindByUserID(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByUserID missing = %v, want ErrNotFound", err)
	}

	u, err := repo.FindOrCreate(ctx, freeUser("u1"))
	if err != nil {
		t.Fatalf("FindOrCreate error = %v", err)
	}
	if u.TokensAvailable != 100 || u.Tier != model.TierFree {
		t.Fatalf("created user = %+v", u)
	}

	again, err := repo.FindOrCreate(ctx, &model.User{UserID: "u1", TokensAvailable: 5, ResetDate: time.Now()})
	if err != nil {
		t.Fatalf("FindOrCreate existing error = %v", err)
	}
	if again.ID != u.ID || again.TokensAvailable != 100 {
		t.Fatalf("FindOrCreate should return the existing row, got %+v", again)
	}
}

func TestUserMutateUsage(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	u, err := repo.MutateUsage(ctx, freeUser("u1"), func(u *model.User) bool {
		u.TokensUsed += 40
		u.TokensAvailable -= 40
		return true
	})
	if err != nil {
		t.Fatalf("MutateUsage error = %v", err)
	}
	if u.TokensUsed != 40 || u.TokensAvailable != 60 {
		t.Fatalf("after mutate = %+v", u)
	}

	stored, err := repo.FindByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("FindByUserID error = %v", err)
	}
	if stored.TokensUsed != 40 || stored.TokensAvailable != 60 {
		t.Fatalf("stored = %+v", stored)
	}

	// mutate 返回 false 时不写回
	_, err = repo.MutateUsage(ctx, freeUser("u1"), func(u *model.User) bool {
		u.TokensUsed = 999
		return false
	})
	if err != nil {
		t.Fatalf("MutateUsage no-op error = %v", err)
	}
	stored, _ = repo.FindByUserID(ctx, "u1")
	if stored.TokensUsed != 40 {
		t.Fatalf("no-op mutate persisted: %+v", stored)
	}
}

func TestContextSaveReplacesAndEncrypts(t *testing.T) {
	db := newTestDB(t)
	repo := NewContextRepository(db, newTestCipher(t))
	ctx := context.Background()

	got, err := repo.Get(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("Get missing = (%v, %v), want (nil, nil)", got, err)
	}

	first := []model.ChatMessage{{Role: model.RoleUser, Content: "my secret"}}
	if err := repo.Save(ctx, "u1", first, 1); err != nil {
		t.Fatalf("Save error = %v", err)
	}
	second := []model.ChatMessage{
		{Role: model.RoleUser, Content: "a"},
		{Role: model.RoleAssistant, Content: "b"},
	}
	if err := repo.Save(ctx, "u1", second, 2); err != nil {
		t.Fatalf("Save replace error = %v", err)
	}

	got, err = repo.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "b" || got.TurnCount != 2 {
		t.Fatalf("Get = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt should be set on save")
	}

	var count int64
	db.Model(&model.ConversationContext{}).Where("user_id = ?", "u1").Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
	var raw model.ConversationContext
	db.Where("user_id = ?", "u1").First(&raw)
	if bytes.Contains([]byte(raw.MessagesEncrypted), []byte("role")) {
		t.Fatal("messages stored in plaintext")
	}

	if err := repo.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if got, _ := repo.Get(ctx, "u1"); got != nil {
		t.Fatal("context should be deleted")
	}
}

func TestAnalysisListRecentNewestFirst(t *testing.T) {
	repo := NewAnalysisRepository(newTestDB(t), newTestCipher(t))
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := &model.AnalysisRecord{
			UserID:    "u1",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			BigFive:   &model.BigFive{Openness: float64(i) / 10},
		}
		if i == 2 {
			rec.Attachment = &model.AttachmentStyle{AnxietyScore: 0.2, AvoidanceScore: 0.3, Style: "secure"}
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create error = %v", err)
		}
	}
	_ = repo.Create(ctx, &model.AnalysisRecord{UserID: "other", Timestamp: base})

	got, err := repo.ListRecent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListRecent error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].BigFive == nil || got[0].BigFive.Openness != 0.2 || got[0].Attachment == nil || got[0].Attachment.Style != "secure" {
		t.Fatalf("newest record = %+v", got[0])
	}
	if got[1].Attachment != nil {
		t.Fatalf("absent scan should stay nil, got %+v", got[1].Attachment)
	}

	if err := repo.DeleteByUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteByUser error = %v", err)
	}
	if got, _ := repo.ListRecent(ctx, "u1", 30); len(got) != 0 {
		t.Fatalf("after delete len = %d", len(got))
	}
	if got, _ := repo.ListRecent(ctx, "other", 30); len(got) != 1 {
		t.Fatal("other user's analyses must survive")
	}
}

func TestSummaryUpsertOverwrites(t *testing.T) {
	repo := NewSummaryRepository(newTestDB(t), newTestCipher(t))
	ctx := context.Background()

	if s, err := repo.Get(ctx, "u1"); err != nil || s != nil {
		t.Fatalf("Get missing = (%v, %v)", s, err)
	}
	if err := repo.Upsert(ctx, "u1", "first"); err != nil {
		t.Fatalf("Upsert error = %v", err)
	}
	if err := repo.Upsert(ctx, "u1", "second"); err != nil {
		t.Fatalf("Upsert overwrite error = %v", err)
	}
	s, err := repo.Get(ctx, "u1")
	if err != nil || s == nil || s.Summary != "second" {
		t.Fatalf("Get = (%+v, %v), want second", s, err)
	}
}

func TestUserDeleteCascades(t *testing.T) {
	db := newTestDB(t)
	cipher := newTestCipher(t)
	users := NewUserRepository(db)
	contexts := NewContextRepository(db, cipher)
	summaries := NewSummaryRepository(db, cipher)
	ctx := context.Background()

	_, _ = users.FindOrCreate(ctx, freeUser("u1"))
	_ = contexts.Save(ctx, "u1", []model.ChatMessage{{Role: model.RoleUser, Content: "x"}}, 1)
	_ = summaries.Upsert(ctx, "u1", "s")

	if err := users.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if _, err := users.FindByUserID(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user should be gone, err = %v", err)
	}
	if c, _ := contexts.Get(ctx, "u1"); c != nil {
		t.Fatal("context should be gone")
	}
	if s, _ := summaries.Get(ctx, "u1"); s != nil {
		t.Fatal("summary should be gone")
	}
}
