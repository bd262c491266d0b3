package jobs

import (
	"context"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type fakePublisher struct {
	published []struct {
		jobID    string
		priority uint8
	}
	err error
}

func (p *fakePublisher) PublishJob(ctx context.Context, jobID string, priority uint8) error {
	_ = ctx
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, struct {
		jobID    string
		priority uint8
	}{jobID, priority})
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ReplyJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSubmitAssignsIdentityAndDefaults(t *testing.T) {
	db := openTestDB(t)
	pub := &fakePublisher{}
	svc := NewService(NewRepo(db), pub, 8, zerolog.Nop())

	job := &ReplyJob{
		ChatroomID:      "room-1",
		UserID:          1,
		OriginMessageID: "msg-1",
		Prompt:          "hello",
	}
	id, err := svc.Submit(context.Background(), job, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id == "" || len(id) != 26 {
		t.Fatalf("expected a ULID job id, got %q", id)
	}

	stored, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusQueued {
		t.Fatalf("expected queued status, got %s", stored.Status)
	}
	if stored.Priority != 8 {
		t.Fatalf("expected default priority 8, got %d", stored.Priority)
	}
	if stored.SubmittedAt.IsZero() {
		t.Fatalf("expected submission timestamp")
	}

	if len(pub.published) != 1 || pub.published[0].jobID != id {
		t.Fatalf("expected one publish for %s, got %+v", id, pub.published)
	}
}

func TestSubmitHonorsCallerPriorityAndID(t *testing.T) {
	db := openTestDB(t)
	pub := &fakePublisher{}
	svc := NewService(NewRepo(db), pub, 8, zerolog.Nop())

	job := &ReplyJob{
		ID:              "01HT00000000000000000000TEST",
		ChatroomID:      "room-1",
		UserID:          1,
		OriginMessageID: "msg-2",
		Prompt:          "bg",
	}
	id, err := svc.Submit(context.Background(), job, 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != job.ID {
		t.Fatalf("caller-supplied id replaced: %s", id)
	}
	if pub.published[0].priority != 2 {
		t.Fatalf("expected priority 2, got %d", pub.published[0].priority)
	}
}

func TestSubmitPublishFailureLeavesRowQueued(t *testing.T) {
	db := openTestDB(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewService(NewRepo(db), pub, 8, zerolog.Nop())

	job := &ReplyJob{ChatroomID: "room-1", UserID: 1, OriginMessageID: "msg-3", Prompt: "x"}
	id, err := svc.Submit(context.Background(), job, 0)
	if err == nil {
		t.Fatalf("expected publish failure to surface")
	}
	if id == "" {
		t.Fatalf("expected the job id even on publish failure")
	}

	stored, getErr := svc.Get(context.Background(), id)
	if getErr != nil {
		t.Fatalf("row should exist for inspection: %v", getErr)
	}
	if stored.Status != StatusQueued {
		t.Fatalf("expected row to stay queued, got %s", stored.Status)
	}
}

func TestRepoFailureBookkeeping(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	job := &ReplyJob{ID: "01HT00000000000000000000FAIL", ChatroomID: "r", UserID: 1, OriginMessageID: "m", Prompt: "p", Status: StatusQueued}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}

	payload := "generated text we must not lose"
	if err := repo.MarkFailed(context.Background(), job.ID, FailPersistenceLost, "insert failed", &payload); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.FailKind == nil || *got.FailKind != FailPersistenceLost {
		t.Fatalf("expected fail kind %s, got %v", FailPersistenceLost, got.FailKind)
	}
	if got.FailurePayload == nil || *got.FailurePayload != payload {
		t.Fatalf("failure payload lost: %v", got.FailurePayload)
	}
}
