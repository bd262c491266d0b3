package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Key families for derived read views. Everything cached about a chatroom
// lives under its chatroom prefix, everything cached about a user's listings
// under the user prefix, so invalidation is a pair of prefix deletes.
func ChatroomKey(chatroomID string, parts ...string) string {
	return "chatroom:" + chatroomID + ":" + strings.Join(parts, ":")
}

func UserKey(userID uint64, parts ...string) string {
	return fmt.Sprintf("user:%d:%s", userID, strings.Join(parts, ":"))
}

func chatroomPrefix(chatroomID string) string { return "chatroom:" + chatroomID + ":" }
func userPrefix(userID uint64) string         { return fmt.Sprintf("user:%d:", userID) }

// PrefixDeleter is what the manager needs from the cache store.
type PrefixDeleter interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// Manager drops stale derived read views after a message is persisted.
// Idempotent and safe to call redundantly or concurrently; a failed delete
// leaves stale entries behind, which the TTLs bound anyway.
type Manager struct {
	store PrefixDeleter
	log   zerolog.Logger
}

func NewManager(store PrefixDeleter, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// InvalidateChatroom removes the chatroom's derived views (detail, message
// stats) and the owner's listing views (chatroom list, search, aggregates).
func (m *Manager) InvalidateChatroom(ctx context.Context, chatroomID string, ownerUserID uint64) error {
	if _, err := m.store.DeleteByPrefix(ctx, chatroomPrefix(chatroomID)); err != nil {
		m.log.Warn().Err(err).Str("chatroom_id", chatroomID).Msg("cache: chatroom invalidation failed")
		return err
	}
	return m.InvalidateUser(ctx, ownerUserID)
}

// InvalidateUser removes every view derived from the user's id.
func (m *Manager) InvalidateUser(ctx context.Context, userID uint64) error {
	if _, err := m.store.DeleteByPrefix(ctx, userPrefix(userID)); err != nil {
		m.log.Warn().Err(err).Uint64("user_id", userID).Msg("cache: user invalidation failed")
		return err
	}
	return nil
}
