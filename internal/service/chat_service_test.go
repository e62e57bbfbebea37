package service

import (
	"context"
	"errors"
	"persona-chat-go/internal/model"
	"testing"
)

func TestSendDebitsAndPersists(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.llm.set(testPrompts.Chat, "That sounds hard.", 42)

	reply, err := e.chat.Send(ctx, "u1", "  I had a rough day  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Response != "That sounds hard." || reply.Tokens != 42 || reply.Fallback {
		t.Fatalf("Send = %+v", reply)
	}
	if u := e.ledger(t, "u1"); u.TokensUsed != 42 || u.TokensAvailable != 10000-42 {
		t.Fatalf("used=%d available=%d", u.TokensUsed, u.TokensAvailable)
	}

	calls := e.llm.callsFor(testPrompts.Chat)
	if len(calls) != 1 || len(calls[0].messages) != 1 || calls[0].messages[0].Content != "I had a rough day" {
		t.Fatalf("model calls = %+v", calls)
	}

	row, err := e.contexts.Get(ctx, "u1")
	if err != nil || row == nil {
		t.Fatalf("context = %v, %v", row, err)
	}
	want := []model.ChatMessage{
		{Role: model.RoleUser, Content: "I had a rough day"},
		{Role: model.RoleAssistant, Content: "That sounds hard."},
	}
	if len(row.Messages) != 2 || row.Messages[0] != want[0] || row.Messages[1] != want[1] {
		t.Fatalf("persisted messages = %+v", row.Messages)
	}
}

func TestSendFallbackDoesNotDebit(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	reply, err := e.chat.Send(ctx, "u1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !reply.Fallback || reply.Response != testPrompts.Fallback || reply.Tokens != 0 {
		t.Fatalf("Send = %+v, want fallback", reply)
	}
	if u := e.ledger(t, "u1"); u.TokensUsed != 0 {
		t.Fatalf("tokens_used = %d after failed generation", u.TokensUsed)
	}
	history, _ := e.conversations.LoadHistory(ctx, "u1")
	if len(history) != 2 || history[1].Content != testPrompts.Fallback {
		t.Fatalf("history = %+v, want fallback recorded", history)
	}
}

func TestSendRejectedWhenQuotaExhausted(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, model.User{UserID: "u1", TokensUsed: 10000, TokensAvailable: 0})
	e.llm.set(testPrompts.Chat, "unused", 5)

	_, err := e.chat.Send(context.Background(), "u1", "hello")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Send = %v, want ErrQuotaExceeded", err)
	}
	if n := e.llm.callCount(); n != 0 {
		t.Fatalf("model calls = %d, want 0", n)
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.chat.Send(context.Background(), "u1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Send = %v, want ErrEmptyMessage", err)
	}
	if n := e.llm.callCount(); n != 0 {
		t.Fatalf("model calls = %d, want 0", n)
	}
}

func TestSendSchedulesAnalysisEveryNthTurn(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.llm.set(testPrompts.Chat, "ok", 1)

	for i := 0; i < 11; i++ {
		if _, err := e.chat.Send(ctx, "u1", "message"); err != nil {
			t.Fatalf("Send #%d: %v", i+1, err)
		}
	}
	if n := e.scheduler.count(); n != 2 {
		t.Fatalf("scheduled analyses = %d, want 2 (turns 5 and 10)", n)
	}
}
