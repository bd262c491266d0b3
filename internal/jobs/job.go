package jobs

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// FailKind tags a terminal failure for operator triage.
type FailKind string

const (
	FailPolicyDenied        FailKind = "policy_denied"
	FailTransient           FailKind = "transient"
	FailPermanentlyRejected FailKind = "permanently_rejected"
	FailQuotaExceeded       FailKind = "quota_exceeded"
	FailPersistenceLost     FailKind = "persistence_lost"
)

// ReplyJob is one unit of "produce an AI reply for this user message".
// The queue only carries the job id; this row is the source of truth and is
// immutable after submission except for status/progress bookkeeping.
type ReplyJob struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID

	ChatroomID      string `gorm:"type:varchar(26);index;not null" json:"chatroom_id"`
	UserID          uint64 `gorm:"index;not null" json:"user_id"`
	OriginMessageID string `gorm:"type:varchar(36);index;not null" json:"origin_message_id"`
	Prompt          string `gorm:"type:text;not null" json:"prompt"`

	// optional client/session tag for synthetic or instrumented traffic
	ClientTag string `gorm:"type:varchar(64)" json:"client_tag,omitempty"`

	Priority uint8  `gorm:"not null" json:"priority"`
	Status   Status `gorm:"type:varchar(16);index;not null" json:"status"`
	Progress int    `gorm:"not null;default:0" json:"progress"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`

	FailKind *FailKind `gorm:"type:varchar(32)" json:"fail_kind,omitempty"`
	Error    *string   `gorm:"type:text" json:"error,omitempty"`
	// FailurePayload holds the generated text when persistence failed after a
	// successful generation, so the answer is recoverable by hand.
	FailurePayload *string `gorm:"type:text" json:"failure_payload,omitempty"`

	ResultMessageID *string `gorm:"type:varchar(36);index" json:"result_message_id,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ReplyJob) TableName() string { return "reply_jobs" }

func NewJobID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
