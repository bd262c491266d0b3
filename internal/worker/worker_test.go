package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/roomtalk/internal/ai"
	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/usage"
)

type fakeJobStore struct {
	job *jobs.ReplyJob

	running    []int
	progress   []int
	succeeded  []string
	failedKind []jobs.FailKind
	failedMsg  []string
	payloads   []*string
	requeued   []string
}

func (s *fakeJobStore) GetByID(ctx context.Context, id string) (*jobs.ReplyJob, error) {
	if s.job == nil || s.job.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.job, nil
}

func (s *fakeJobStore) MarkRunning(ctx context.Context, id string, attempt int) error {
	s.running = append(s.running, attempt)
	return nil
}

func (s *fakeJobStore) SetProgress(ctx context.Context, id string, progress int) error {
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeJobStore) MarkSucceeded(ctx context.Context, id string, resultMessageID string) error {
	s.succeeded = append(s.succeeded, resultMessageID)
	return nil
}

func (s *fakeJobStore) MarkFailed(ctx context.Context, id string, kind jobs.FailKind, errMsg string, payload *string) error {
	s.failedKind = append(s.failedKind, kind)
	s.failedMsg = append(s.failedMsg, errMsg)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeJobStore) MarkQueuedForRetry(ctx context.Context, id string, errMsg string) error {
	s.requeued = append(s.requeued, errMsg)
	return nil
}

type fakeGate struct {
	decision usage.Decision
	calls    int
}

func (g *fakeGate) CanConsume(ctx context.Context, userID uint64) usage.Decision {
	g.calls++
	return g.decision
}

type fakeWindows struct {
	window []ai.Turn
	err    error
}

func (w *fakeWindows) BuildWindow(ctx context.Context, chatroomID string, maxMessages int) ([]ai.Turn, error) {
	return w.window, w.err
}

type fakeGen struct {
	reply *ai.Reply
	err   error
	calls int
}

func (g *fakeGen) Generate(ctx context.Context, userText string, window []ai.Turn) (*ai.Reply, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.reply, nil
}

type fakeMsgs struct {
	created []*chat.Message
	touched []string
	err     error
}

func (m *fakeMsgs) CreateAIReply(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	msg.ID = "ai-msg-1"
	msg.CreatedAt = time.Now().UTC()
	m.created = append(m.created, msg)
	return msg, nil
}

func (m *fakeMsgs) TouchChatroom(ctx context.Context, chatroomID string, at time.Time) error {
	m.touched = append(m.touched, chatroomID)
	return nil
}

type fakeCaches struct {
	calls []struct {
		chatroomID string
		userID     uint64
	}
	err error
}

func (c *fakeCaches) InvalidateChatroom(ctx context.Context, chatroomID string, ownerUserID uint64) error {
	c.calls = append(c.calls, struct {
		chatroomID string
		userID     uint64
	}{chatroomID, ownerUserID})
	return c.err
}

type fakeRetry struct {
	scheduled []struct {
		jobID   string
		attempt int
		kind    string
	}
	err error
}

func (r *fakeRetry) PublishRetry(ctx context.Context, jobID string, nextAttempt int, priority uint8, failKind string) error {
	if r.err != nil {
		return r.err
	}
	r.scheduled = append(r.scheduled, struct {
		jobID   string
		attempt int
		kind    string
	}{jobID, nextAttempt, failKind})
	return nil
}

type fixture struct {
	store   *fakeJobStore
	gate    *fakeGate
	windows *fakeWindows
	gen     *fakeGen
	msgs    *fakeMsgs
	caches  *fakeCaches
	retry   *fakeRetry
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &fakeJobStore{job: &jobs.ReplyJob{
			ID:              "job-1",
			ChatroomID:      "room-1",
			UserID:          7,
			OriginMessageID: "origin-1",
			Prompt:          "hello",
			Priority:        8,
			Status:          jobs.StatusQueued,
		}},
		gate:    &fakeGate{decision: usage.Decision{Allowed: true}},
		windows: &fakeWindows{window: []ai.Turn{{Role: ai.RoleUser, Content: "earlier"}}},
		gen:     &fakeGen{reply: &ai.Reply{Text: "generated answer"}},
		msgs:    &fakeMsgs{},
		caches:  &fakeCaches{},
		retry:   &fakeRetry{},
	}
	f.handler = NewHandler(
		f.store, f.gate, f.windows, f.gen, f.msgs, f.caches, f.retry,
		HandlerConfig{WindowSize: 10, MaxAttempts: 3},
		nil, nil, zerolog.Nop(),
	)
	return f
}

func TestHandleRoundTrip(t *testing.T) {
	f := newFixture(t)

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeAck, outcome)
	require.Len(t, f.msgs.created, 1, "exactly one persisted AI message")
	require.Equal(t, chat.SenderAI, f.msgs.created[0].Sender)
	require.Equal(t, "generated answer", f.msgs.created[0].Content)
	require.NotNil(t, f.msgs.created[0].ReplyToID)
	require.Equal(t, "origin-1", *f.msgs.created[0].ReplyToID)

	require.Len(t, f.caches.calls, 1, "exactly one invalidation call")
	require.Equal(t, "room-1", f.caches.calls[0].chatroomID)
	require.Equal(t, uint64(7), f.caches.calls[0].userID)

	require.Equal(t, []string{"ai-msg-1"}, f.store.succeeded)
	require.Equal(t, []int{10, 60, 80}, f.store.progress)
	require.Equal(t, []string{"room-1"}, f.msgs.touched)
	require.Empty(t, f.retry.scheduled)
	require.Empty(t, f.store.failedKind)
}

func TestHandleGatingDenied(t *testing.T) {
	f := newFixture(t)
	f.gate.decision = usage.Decision{Allowed: false, Reason: usage.ReasonDailyLimitExceeded}

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeAck, outcome, "policy denial is terminal, not retried")
	require.Zero(t, f.gen.calls, "no generation attempt for a denied user")
	require.Empty(t, f.msgs.created)
	require.Empty(t, f.retry.scheduled)
	require.Equal(t, []jobs.FailKind{jobs.FailPolicyDenied}, f.store.failedKind)
	require.Equal(t, string(usage.ReasonDailyLimitExceeded), f.store.failedMsg[0])
}

func TestHandleGateStoreErrorRetries(t *testing.T) {
	f := newFixture(t)
	f.gate.decision = usage.Decision{Allowed: false, Err: errors.New("store timeout")}

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeAck, outcome)
	require.Len(t, f.retry.scheduled, 1, "fail-closed gate errors are retryable")
	require.Equal(t, 2, f.retry.scheduled[0].attempt)
	require.Equal(t, string(jobs.FailTransient), f.retry.scheduled[0].kind)
	require.Zero(t, f.gen.calls)
	require.Empty(t, f.store.failedKind)
	require.Len(t, f.store.requeued, 1)
}

func TestHandleWindowErrorRetries(t *testing.T) {
	f := newFixture(t)
	f.windows.err = errors.New("db unavailable")

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeAck, outcome)
	require.Len(t, f.retry.scheduled, 1)
	require.Zero(t, f.gen.calls)
}

func TestHandlePermanentRejectionNoRetry(t *testing.T) {
	f := newFixture(t)
	f.gen.err = &ai.GenerationError{Kind: ai.KindPermanentlyRejected, Err: errors.New("unsafe content")}

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeAck, outcome)
	require.Empty(t, f.msgs.created, "zero persisted messages")
	require.Empty(t, f.retry.scheduled, "zero retry attempts")
	require.Equal(t, []jobs.FailKind{jobs.FailPermanentlyRejected}, f.store.failedKind)
}

func TestHandleQuotaExceededRetriesWithKind(t *testing.T) {
	f := newFixture(t)
	f.gen.err = &ai.GenerationError{Kind: ai.KindQuotaExceeded, Err: errors.New("429")}

	outcome := f.handler.Handle(context.Background(), "job-1", 2)

	require.Equal(t, OutcomeAck, outcome)
	require.Len(t, f.retry.scheduled, 1)
	require.Equal(t, 3, f.retry.scheduled[0].attempt)
	require.Equal(t, string(jobs.FailQuotaExceeded), f.retry.scheduled[0].kind)
}

func TestHandleTransientExhaustsBudget(t *testing.T) {
	f := newFixture(t)
	f.gen.err = &ai.GenerationError{Kind: ai.KindTransient, Err: errors.New("upstream 502")}

	// third attempt of three: no retry left
	outcome := f.handler.Handle(context.Background(), "job-1", 3)

	require.Equal(t, OutcomeDead, outcome, "exhausted jobs are dead-lettered, not dropped")
	require.Empty(t, f.retry.scheduled)
	require.Equal(t, []jobs.FailKind{jobs.FailTransient}, f.store.failedKind)
}

func TestHandleTransientRetriedUpToCap(t *testing.T) {
	f := newFixture(t)
	f.gen.err = &ai.GenerationError{Kind: ai.KindTransient, Err: errors.New("flaky")}

	require.Equal(t, OutcomeAck, f.handler.Handle(context.Background(), "job-1", 1))
	require.Equal(t, OutcomeAck, f.handler.Handle(context.Background(), "job-1", 2))
	require.Equal(t, OutcomeDead, f.handler.Handle(context.Background(), "job-1", 3))

	require.Len(t, f.retry.scheduled, 2, "3 total attempts means 2 scheduled retries")
	require.Equal(t, 3, f.gen.calls)
}

func TestHandlePersistenceLostKeepsPayload(t *testing.T) {
	f := newFixture(t)
	f.msgs.err = errors.New("insert failed")

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeAck, outcome, "no automatic re-persist")
	require.Empty(t, f.retry.scheduled)
	require.Equal(t, []jobs.FailKind{jobs.FailPersistenceLost}, f.store.failedKind)
	require.NotNil(t, f.store.payloads[0])
	require.Equal(t, "generated answer", *f.store.payloads[0], "generated text attached for recovery")
}

func TestHandleCacheFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t)
	f.caches.err = errors.New("redis down")

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeAck, outcome)
	require.Equal(t, []string{"ai-msg-1"}, f.store.succeeded, "staleness is tolerable, the job still completes")
	require.Empty(t, f.store.failedKind)
}

func TestHandleMissingJobRowDropped(t *testing.T) {
	f := newFixture(t)

	outcome := f.handler.Handle(context.Background(), "no-such-job", 1)

	require.Equal(t, OutcomeAck, outcome)
	require.Zero(t, f.gate.calls)
	require.Empty(t, f.retry.scheduled)
}

func TestHandleRetrySchedulingFailureRequeues(t *testing.T) {
	f := newFixture(t)
	f.gen.err = &ai.GenerationError{Kind: ai.KindTransient, Err: errors.New("blip")}
	f.retry.err = errors.New("broker down")

	outcome := f.handler.Handle(context.Background(), "job-1", 1)

	require.Equal(t, OutcomeRequeue, outcome)
	require.Empty(t, f.store.failedKind, "job is not terminally failed when only scheduling broke")
}
