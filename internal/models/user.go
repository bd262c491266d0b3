package models

import "time"

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(128);not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type SubscriptionTier string

const (
	TierBasic SubscriptionTier = "basic"
	TierPro   SubscriptionTier = "pro"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// Subscription is written by the billing webhooks and read-only for the
// reply pipeline.
type Subscription struct {
	ID        uint64             `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    uint64             `gorm:"uniqueIndex;not null" json:"-"`
	Tier      SubscriptionTier   `gorm:"type:varchar(16);not null" json:"tier"`
	Status    SubscriptionStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }
