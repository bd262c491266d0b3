package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	SenderUser = "user"
	SenderAI   = "ai"
)

type Chatroom struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatroomID    string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"chatroom_id"`
	UserID        uint64    `gorm:"index;not null" json:"-"`
	Title         string    `gorm:"type:varchar(128);not null" json:"title"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Chatroom) TableName() string { return "chatrooms" }

type Message struct {
	ID         string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatroomID string  `gorm:"type:varchar(26);not null;index:idx_msg_room_created,priority:1" json:"chatroom_id"`
	UserID     uint64  `gorm:"index;not null" json:"-"`
	Sender     string  `gorm:"type:varchar(16);not null" json:"sender"`
	Content    string  `gorm:"type:text;not null" json:"content"`
	// ReplyToID is set only on AI messages and points at the user message that
	// triggered them. The unique index makes redelivered jobs collapse onto the
	// reply that already exists instead of inserting a second one.
	ReplyToID *string   `gorm:"type:varchar(36);uniqueIndex" json:"reply_to_id,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_msg_room_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// NewChatroomID returns a fresh ULID. Time-sortable, safe across processes.
func NewChatroomID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
