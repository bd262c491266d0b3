// Package worker runs the reply pipeline: a pool of consumers pulls reply
// jobs off the queue and drives each one through gating, context assembly,
// generation, persistence and cache invalidation.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/roomtalk/internal/ai"
	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/metrics"
	"github.com/suPer8Hu/roomtalk/internal/usage"
)

// Collaborators are injected as interfaces so tests can substitute doubles
// and several isolated pipelines can coexist in one process.
type (
	Gate interface {
		CanConsume(ctx context.Context, userID uint64) usage.Decision
	}

	WindowBuilder interface {
		BuildWindow(ctx context.Context, chatroomID string, maxMessages int) ([]ai.Turn, error)
	}

	Generator interface {
		Generate(ctx context.Context, userText string, window []ai.Turn) (*ai.Reply, error)
	}

	JobStore interface {
		GetByID(ctx context.Context, id string) (*jobs.ReplyJob, error)
		MarkRunning(ctx context.Context, id string, attempt int) error
		SetProgress(ctx context.Context, id string, progress int) error
		MarkSucceeded(ctx context.Context, id string, resultMessageID string) error
		MarkFailed(ctx context.Context, id string, kind jobs.FailKind, errMsg string, payload *string) error
		MarkQueuedForRetry(ctx context.Context, id string, errMsg string) error
	}

	MessageStore interface {
		CreateAIReply(ctx context.Context, m *chat.Message) (*chat.Message, error)
		TouchChatroom(ctx context.Context, chatroomID string, at time.Time) error
	}

	Invalidator interface {
		InvalidateChatroom(ctx context.Context, chatroomID string, ownerUserID uint64) error
	}

	RetryScheduler interface {
		PublishRetry(ctx context.Context, jobID string, nextAttempt int, priority uint8, failKind string) error
	}
)

// Outcome tells the consumer loop what to do with the broker delivery.
type Outcome int

const (
	// OutcomeAck: terminal (success or non-retryable failure) or retry already
	// parked on the retry queue; the original delivery is done.
	OutcomeAck Outcome = iota
	// OutcomeDead: retry budget exhausted; reject so the broker dead-letters it.
	OutcomeDead
	// OutcomeRequeue: we could not even schedule a retry; hand the delivery
	// back for immediate redelivery.
	OutcomeRequeue
)

type Handler struct {
	jobStore JobStore
	gate     Gate
	windows  WindowBuilder
	gen      Generator
	msgs     MessageStore
	caches   Invalidator
	retry    RetryScheduler

	windowSize  int
	maxAttempts int

	stats StatCounter
	met   *metrics.Metrics
	log   zerolog.Logger
}

type HandlerConfig struct {
	WindowSize  int
	MaxAttempts int
}

func NewHandler(
	jobStore JobStore,
	gate Gate,
	windows WindowBuilder,
	gen Generator,
	msgs MessageStore,
	caches Invalidator,
	retry RetryScheduler,
	cfg HandlerConfig,
	stats StatCounter,
	met *metrics.Metrics,
	log zerolog.Logger,
) *Handler {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Handler{
		jobStore:    jobStore,
		gate:        gate,
		windows:     windows,
		gen:         gen,
		msgs:        msgs,
		caches:      caches,
		retry:       retry,
		windowSize:  cfg.WindowSize,
		maxAttempts: cfg.MaxAttempts,
		stats:       stats,
		met:         met,
		log:         log,
	}
}

// Handle drives one delivery through the state machine
// Received -> Gating -> ContextBuilding -> Generating -> Persisting ->
// CacheInvalidating -> Completed, with Failed reachable from every step.
// attempt is the 1-based delivery attempt from the queue header.
func (h *Handler) Handle(ctx context.Context, jobID string, attempt int) Outcome {
	start := time.Now()
	log := h.log.With().Str("job_id", jobID).Int("attempt", attempt).Logger()

	if h.stats != nil {
		h.stats.JobStarted(ctx)
	}
	defer func() {
		if h.met != nil {
			h.met.JobDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// Received
	job, err := h.jobStore.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Msg("job row missing, dropping delivery")
			if h.stats != nil {
				h.stats.JobFailed(ctx)
			}
			return OutcomeAck
		}
		return h.deferOrDie(ctx, log, jobID, attempt, 0, jobs.FailTransient, err)
	}
	priority := job.Priority

	_ = h.jobStore.MarkRunning(ctx, jobID, attempt)
	_ = h.jobStore.SetProgress(ctx, jobID, 10)

	// Gating: a denial is terminal, never retried, and never charged here —
	// usage was already recorded by the synchronous send path.
	decision := h.gate.CanConsume(ctx, job.UserID)
	if decision.Err != nil {
		return h.deferOrDie(ctx, log, jobID, attempt, priority, jobs.FailTransient, decision.Err)
	}
	if !decision.Allowed {
		h.countDenial(decision.Reason)
		h.failTerminal(ctx, log, jobID, jobs.FailPolicyDenied, string(decision.Reason), nil)
		return OutcomeAck
	}

	// ContextBuilding
	window, err := h.windows.BuildWindow(ctx, job.ChatroomID, h.windowSize)
	if err != nil {
		return h.deferOrDie(ctx, log, jobID, attempt, priority, jobs.FailTransient, err)
	}

	// Generating
	genStart := time.Now()
	reply, err := h.gen.Generate(ctx, job.Prompt, window)
	if h.met != nil {
		h.met.GenDuration.Observe(time.Since(genStart).Seconds())
	}
	if err != nil {
		switch ai.KindOf(err) {
		case ai.KindPermanentlyRejected:
			h.failTerminal(ctx, log, jobID, jobs.FailPermanentlyRejected, err.Error(), nil)
			return OutcomeAck
		case ai.KindQuotaExceeded:
			return h.deferOrDie(ctx, log, jobID, attempt, priority, jobs.FailQuotaExceeded, err)
		default:
			return h.deferOrDie(ctx, log, jobID, attempt, priority, jobs.FailTransient, err)
		}
	}
	_ = h.jobStore.SetProgress(ctx, jobID, 60)

	// Persisting. A failure here must not discard the generated text: it goes
	// into the failure payload for manual recovery, and we never re-persist
	// automatically (that is how duplicate replies happen).
	origin := job.OriginMessageID
	msg, err := h.msgs.CreateAIReply(ctx, &chat.Message{
		ChatroomID: job.ChatroomID,
		UserID:     job.UserID,
		Sender:     chat.SenderAI,
		Content:    reply.Text,
		ReplyToID:  &origin,
	})
	if err != nil {
		log.Error().Err(err).Msg("reply generated but persistence failed")
		h.failTerminal(ctx, log, jobID, jobs.FailPersistenceLost, err.Error(), &reply.Text)
		return OutcomeAck
	}
	if err := h.msgs.TouchChatroom(ctx, job.ChatroomID, msg.CreatedAt); err != nil {
		// the reply itself is durable; a stale activity timestamp is tolerable
		log.Warn().Err(err).Msg("failed to bump chatroom activity")
	}
	_ = h.jobStore.SetProgress(ctx, jobID, 80)

	// CacheInvalidating: staleness is tolerable, data loss is not.
	if err := h.caches.InvalidateChatroom(ctx, job.ChatroomID, job.UserID); err != nil {
		log.Warn().Err(err).Msg("cache invalidation failed, read views may be stale")
	}

	// Completed
	if err := h.jobStore.MarkSucceeded(ctx, jobID, msg.ID); err != nil {
		log.Warn().Err(err).Msg("reply persisted but job bookkeeping failed")
	}
	h.countOutcome("completed")
	if h.stats != nil {
		h.stats.JobCompleted(ctx)
	}
	log.Info().Str("result_message_id", msg.ID).Dur("took", time.Since(start)).Msg("reply job completed")
	return OutcomeAck
}

// deferOrDie schedules a retry while the budget lasts, then dead-letters.
func (h *Handler) deferOrDie(ctx context.Context, log zerolog.Logger, jobID string, attempt int, priority uint8, kind jobs.FailKind, cause error) Outcome {
	if attempt >= h.maxAttempts {
		h.failTerminal(ctx, log, jobID, kind, cause.Error(), nil)
		log.Error().Err(cause).Str("kind", string(kind)).Msg("retry budget exhausted, dead-lettering")
		return OutcomeDead
	}

	if err := h.retry.PublishRetry(ctx, jobID, attempt+1, priority, string(kind)); err != nil {
		log.Error().Err(err).Msg("could not schedule retry, requeueing delivery")
		if h.stats != nil {
			h.stats.JobDeferred(ctx)
		}
		return OutcomeRequeue
	}

	_ = h.jobStore.MarkQueuedForRetry(ctx, jobID, cause.Error())
	h.countOutcome("deferred")
	if h.stats != nil {
		h.stats.JobDeferred(ctx)
	}
	log.Warn().Err(cause).Str("kind", string(kind)).Int("next_attempt", attempt+1).Msg("job deferred for retry")
	return OutcomeAck
}

func (h *Handler) failTerminal(ctx context.Context, log zerolog.Logger, jobID string, kind jobs.FailKind, msg string, payload *string) {
	if err := h.jobStore.MarkFailed(ctx, jobID, kind, msg, payload); err != nil {
		log.Error().Err(err).Msg("failed to record terminal job failure")
	}
	h.countOutcome("failed")
	if h.stats != nil {
		h.stats.JobFailed(ctx)
	}
	log.Warn().Str("kind", string(kind)).Str("cause", msg).Msg("reply job failed")
}

func (h *Handler) countOutcome(outcome string) {
	if h.met != nil {
		h.met.JobsProcessed.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countDenial(reason usage.Reason) {
	if h.met != nil {
		h.met.GateDenials.WithLabelValues(string(reason)).Inc()
	}
}
