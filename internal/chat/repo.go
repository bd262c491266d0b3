package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateChatroom(ctx context.Context, room *Chatroom) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *Repo) GetChatroom(ctx context.Context, chatroomID string) (*Chatroom, error) {
	var room Chatroom
	if err := r.db.WithContext(ctx).
		Where("chatroom_id = ?", chatroomID).
		First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repo) ListChatrooms(ctx context.Context, userID uint64) ([]Chatroom, error) {
	var rooms []Chatroom
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_message_at DESC").
		Find(&rooms).Error
	return rooms, err
}

// TouchChatroom bumps the room's last-activity timestamp.
func (r *Repo) TouchChatroom(ctx context.Context, chatroomID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Chatroom{}).
		Where("chatroom_id = ?", chatroomID).
		Update("last_message_at", at).Error
}

func (r *Repo) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// CreateAIReply inserts the AI message for a given originating user message.
// The insert is keyed on reply_to_id: a second call for the same origin is a
// no-op that returns the already-persisted reply.
func (r *Repo) CreateAIReply(ctx context.Context, m *Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Sender = SenderAI

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reply_to_id"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return m, nil
	}

	var existing Message
	if err := r.db.WithContext(ctx).
		Where("reply_to_id = ?", m.ReplyToID).
		First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessagesDesc returns the most recent messages newest-first.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, chatroomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("chatroom_id = ?", chatroomID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// ListMessages pages through history oldest-first.
func (r *Repo) ListMessages(ctx context.Context, chatroomID string, offset, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("chatroom_id = ?", chatroomID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *Repo) CountMessages(ctx context.Context, chatroomID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("chatroom_id = ?", chatroomID).
		Count(&total).Error
	return total, err
}
