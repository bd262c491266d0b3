package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/roomtalk/internal/ai"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Chatroom{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedMessages(t *testing.T, repo *Repo, chatroomID string, n int) []Message {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		sender := SenderUser
		if i%2 == 1 {
			sender = SenderAI
		}
		m := Message{
			ChatroomID: chatroomID,
			UserID:     1,
			Sender:     sender,
			Content:    fmt.Sprintf("msg-%d", i+1),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.CreateMessage(context.Background(), &m); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
		out = append(out, m)
	}
	return out
}

func TestBuildWindowBoundedAndChronological(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	asm := NewAssembler(repo)

	seedMessages(t, repo, "room-1", 12)

	window, err := asm.BuildWindow(context.Background(), "room-1", 10)
	if err != nil {
		t.Fatalf("build window: %v", err)
	}
	if len(window) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(window))
	}
	// 12 messages, window 10: entries 3..12 oldest-first
	for i, turn := range window {
		want := fmt.Sprintf("msg-%d", i+3)
		if turn.Content != want {
			t.Fatalf("window[%d] = %q, want %q", i, turn.Content, want)
		}
	}
}

func TestBuildWindowRoleMapping(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	asm := NewAssembler(repo)

	seedMessages(t, repo, "room-2", 2)

	window, err := asm.BuildWindow(context.Background(), "room-2", 10)
	if err != nil {
		t.Fatalf("build window: %v", err)
	}
	if window[0].Role != ai.RoleUser {
		t.Fatalf("sender %q should map to role %q, got %q", SenderUser, ai.RoleUser, window[0].Role)
	}
	if window[1].Role != ai.RoleModel {
		t.Fatalf("sender %q should map to role %q, got %q", SenderAI, ai.RoleModel, window[1].Role)
	}
}

func TestBuildWindowEmptyChatroom(t *testing.T) {
	db := openTestDB(t)
	asm := NewAssembler(NewRepo(db))

	window, err := asm.BuildWindow(context.Background(), "empty-room", 10)
	if err != nil {
		t.Fatalf("empty chatroom must not error: %v", err)
	}
	if len(window) != 0 {
		t.Fatalf("expected empty window, got %d entries", len(window))
	}
}

func TestCreateAIReplyIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	origin := "origin-msg-id"
	first, err := repo.CreateAIReply(context.Background(), &Message{
		ChatroomID: "room-3",
		UserID:     1,
		Content:    "reply one",
		ReplyToID:  &origin,
	})
	if err != nil {
		t.Fatalf("first reply: %v", err)
	}

	second, err := repo.CreateAIReply(context.Background(), &Message{
		ChatroomID: "room-3",
		UserID:     1,
		Content:    "reply two",
		ReplyToID:  &origin,
	})
	if err != nil {
		t.Fatalf("second reply: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("redelivery produced a second reply: %s vs %s", second.ID, first.ID)
	}

	var n int64
	if err := db.Model(&Message{}).Where("reply_to_id = ?", origin).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one persisted reply, got %d", n)
	}
}

func TestTouchChatroom(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	room := &Chatroom{ChatroomID: "room-4", UserID: 1, Title: "t"}
	if err := repo.CreateChatroom(context.Background(), room); err != nil {
		t.Fatalf("create room: %v", err)
	}

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if err := repo.TouchChatroom(context.Background(), "room-4", at); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := repo.GetChatroom(context.Background(), "room-4")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastMessageAt.Equal(at) {
		t.Fatalf("last_message_at not bumped: %v", got.LastMessageAt)
	}
}
