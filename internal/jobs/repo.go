package jobs

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, job *ReplyJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*ReplyJob, error) {
	var j ReplyJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkRunning records the delivery attempt. Attempts is 1-based and mirrors
// the queue's redelivery header so the row stays inspectable on its own.
func (r *Repo) MarkRunning(ctx context.Context, id string, attempt int) error {
	return r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   StatusRunning,
			"attempts": attempt,
		}).Error
}

func (r *Repo) SetProgress(ctx context.Context, id string, progress int) error {
	return r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ?", id).
		Update("progress", progress).Error
}

func (r *Repo) MarkSucceeded(ctx context.Context, id string, resultMessageID string) error {
	return r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            StatusSucceeded,
			"progress":          100,
			"result_message_id": resultMessageID,
			"fail_kind":         nil,
			"error":             nil,
		}).Error
}

// MarkFailed records a terminal failure. payload carries the generated text
// when the failure happened after a successful generation.
func (r *Repo) MarkFailed(ctx context.Context, id string, kind FailKind, errMsg string, payload *string) error {
	updates := map[string]any{
		"status":    StatusFailed,
		"fail_kind": string(kind),
		"error":     errMsg,
	}
	if payload != nil {
		updates["failure_payload"] = *payload
	}
	return r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkQueuedForRetry flips a running job back to queued while it sits in the
// retry queue waiting out its backoff.
func (r *Repo) MarkQueuedForRetry(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": StatusQueued,
			"error":  errMsg,
		}).Error
}

func (r *Repo) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ReplyJob{}).
		Where("status = ?", status).
		Count(&n).Error
	return n, err
}
