package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Publisher is the queue-side contract the submission API needs. The real
// implementation lives in internal/queue.
type Publisher interface {
	PublishJob(ctx context.Context, jobID string, priority uint8) error
}

// Service is the job submission API: assign identity, persist the row,
// enqueue, return. It never waits for processing.
type Service struct {
	repo *Repo
	pub  Publisher
	log  zerolog.Logger

	defaultPriority uint8
}

func NewService(repo *Repo, pub Publisher, defaultPriority uint8, log zerolog.Logger) *Service {
	return &Service{repo: repo, pub: pub, defaultPriority: defaultPriority, log: log}
}

// Submit enqueues a reply job and returns its id. priority 0 means "use the
// default". A publish failure is surfaced to the caller as retryable; the row
// is already persisted as queued so the job stays inspectable either way.
func (s *Service) Submit(ctx context.Context, job *ReplyJob, priority uint8) (string, error) {
	if job.ID == "" {
		id, err := NewJobID()
		if err != nil {
			return "", fmt.Errorf("assign job id: %w", err)
		}
		job.ID = id
	}
	if priority == 0 {
		priority = s.defaultPriority
	}
	job.Priority = priority
	job.Status = StatusQueued
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	if err := s.pub.PublishJob(ctx, job.ID, priority); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("submit: publish failed, job left queued")
		return job.ID, fmt.Errorf("enqueue job: %w", err)
	}

	s.log.Debug().Str("job_id", job.ID).Uint8("priority", priority).Msg("job submitted")
	return job.ID, nil
}

func (s *Service) Get(ctx context.Context, id string) (*ReplyJob, error) {
	return s.repo.GetByID(ctx, id)
}
