// Package usage tracks per-user daily AI-message consumption and decides
// whether a user may consume generation capacity right now.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/roomtalk/internal/models"
)

// Record is one (user, UTC day) consumption counter. Incremented atomically
// in the store; never decremented here (day rollover is an external job).
type Record struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `gorm:"not null;index:uniq_usage_user_day,unique,priority:1"`
	Day       string    `gorm:"type:varchar(10);not null;index:uniq_usage_user_day,unique,priority:2"`
	Count     int       `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Record) TableName() string { return "usage_records" }

type Reason string

const (
	ReasonNotFound             Reason = "not_found"
	ReasonInactiveSubscription Reason = "inactive_subscription"
	ReasonDailyLimitExceeded   Reason = "daily_limit_exceeded"
)

// Decision is the outcome of a gating check. Err is set when a store read
// failed: the check fails closed, but the caller should treat the job as
// retryable rather than terminally denied.
type Decision struct {
	Allowed bool
	Reason  Reason
	Err     error
}

type Limits struct {
	Basic int
	Pro   int
}

type Ledger struct {
	db     *gorm.DB
	limits Limits
	log    zerolog.Logger
}

func NewLedger(db *gorm.DB, limits Limits, log zerolog.Logger) *Ledger {
	if limits.Basic <= 0 {
		limits.Basic = 5
	}
	if limits.Pro <= 0 {
		limits.Pro = 1000
	}
	return &Ledger{db: db, limits: limits, log: log}
}

func (l *Ledger) limitFor(tier models.SubscriptionTier) int {
	if tier == models.TierPro {
		return l.limits.Pro
	}
	return l.limits.Basic
}

// CanConsume reports whether the user may consume AI capacity today. A store
// error disallows (a transient failure must not grant unlimited usage) but is
// logged and carried in the decision so the job can be retried.
func (l *Ledger) CanConsume(ctx context.Context, userID uint64) Decision {
	var user models.User
	if err := l.db.WithContext(ctx).Select("id").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Decision{Allowed: false, Reason: ReasonNotFound}
		}
		l.log.Error().Err(err).Uint64("user_id", userID).Msg("usage: user lookup failed, denying")
		return Decision{Allowed: false, Err: err}
	}

	// missing subscription defaults to an active basic tier
	tier := models.TierBasic
	var sub models.Subscription
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	switch {
	case err == nil:
		if sub.Status != models.SubscriptionActive {
			return Decision{Allowed: false, Reason: ReasonInactiveSubscription}
		}
		tier = sub.Tier
	case errors.Is(err, gorm.ErrRecordNotFound):
		// keep default
	default:
		l.log.Error().Err(err).Uint64("user_id", userID).Msg("usage: subscription lookup failed, denying")
		return Decision{Allowed: false, Err: err}
	}

	var rec Record
	err = l.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, dayKey(time.Now())).
		First(&rec).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.log.Error().Err(err).Uint64("user_id", userID).Msg("usage: record lookup failed, denying")
		return Decision{Allowed: false, Err: err}
	}

	if rec.Count >= l.limitFor(tier) {
		return Decision{Allowed: false, Reason: ReasonDailyLimitExceeded}
	}
	return Decision{Allowed: true}
}

// RecordConsumption bumps today's counter for the user and returns the new
// count. The increment is a single atomic upsert in the store; concurrent
// callers for the same user never lose updates.
func (l *Ledger) RecordConsumption(ctx context.Context, userID uint64) (int, error) {
	day := dayKey(time.Now())

	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{"count": gorm.Expr("count + 1")}),
	}).Create(&Record{UserID: userID, Day: day, Count: 1}).Error
	if err != nil {
		return 0, err
	}

	var rec Record
	if err := l.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&rec).Error; err != nil {
		return 0, err
	}
	return rec.Count, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
