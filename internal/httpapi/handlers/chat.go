package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/roomtalk/internal/ai"
	"github.com/suPer8Hu/roomtalk/internal/cache"
	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/common"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/queue"
	"github.com/suPer8Hu/roomtalk/internal/usage"
)

const (
	maxMessageLength = 8000
	readViewTTL      = 60 * time.Second
)

// ownChatroom loads the room and hides its existence from non-owners.
func (h *Handler) ownChatroom(c *gin.Context, uid uint64) (*chat.Chatroom, bool) {
	room, err := h.Rooms.GetChatroom(c.Request.Context(), c.Param("chatroom_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "chatroom not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	if room.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40404, "chatroom not found")
		return nil, false
	}
	return room, true
}

type createChatroomReq struct {
	Title string `json:"title"`
}

func (h *Handler) CreateChatroom(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createChatroomReq
	_ = c.ShouldBindJSON(&req) // allow empty {}
	if req.Title == "" {
		req.Title = "New Chat"
	}
	if len(req.Title) > 128 {
		req.Title = req.Title[:128]
	}

	id, err := chat.NewChatroomID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20007, "failed to allocate chatroom id")
		return
	}

	room := &chat.Chatroom{
		ChatroomID:    id,
		UserID:        uid,
		Title:         req.Title,
		LastMessageAt: time.Now().UTC(),
	}
	if err := h.Rooms.CreateChatroom(c.Request.Context(), room); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create chatroom")
		return
	}

	if err := h.Caches.InvalidateUser(c.Request.Context(), uid); err != nil {
		h.Log.Warn().Err(err).Uint64("user_id", uid).Msg("chatroom list cache not invalidated")
	}

	common.OK(c, gin.H{
		"chatroom_id": room.ChatroomID,
		"title":       room.Title,
		"created_at":  room.CreatedAt,
	})
}

func (h *Handler) ListChatrooms(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	ctx := c.Request.Context()

	key := cache.UserKey(uid, "chatrooms")
	if cached, err := h.Views.Get(ctx, key); err == nil && cached != "" {
		common.OK(c, json.RawMessage(cached))
		return
	}

	rooms, err := h.Rooms.ListChatrooms(ctx, uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list chatrooms")
		return
	}

	data := gin.H{"chatrooms": rooms, "total": len(rooms)}
	if b, err := json.Marshal(data); err == nil {
		if err := h.Views.Set(ctx, key, string(b), readViewTTL); err != nil {
			h.Log.Warn().Err(err).Msg("chatroom list not cached")
		}
	}
	common.OK(c, data)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	room, okk := h.ownChatroom(c, uid)
	if !okk {
		return
	}
	ctx := c.Request.Context()

	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	key := cache.ChatroomKey(room.ChatroomID, "messages", strconv.Itoa(offset), strconv.Itoa(limit))
	if cached, err := h.Views.Get(ctx, key); err == nil && cached != "" {
		common.OK(c, json.RawMessage(cached))
		return
	}

	msgs, err := h.Rooms.ListMessages(ctx, room.ChatroomID, offset, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}
	total, err := h.Rooms.CountMessages(ctx, room.ChatroomID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to count messages")
		return
	}

	data := gin.H{"messages": msgs, "total": total, "offset": offset}
	if b, err := json.Marshal(data); err == nil {
		if err := h.Views.Set(ctx, key, string(b), readViewTTL); err != nil {
			h.Log.Warn().Err(err).Msg("message page not cached")
		}
	}
	common.OK(c, data)
}

type sendMessageReq struct {
	Content string `json:"content" binding:"required"`
}

// SendChatMessage is the synchronous half of the reply pipeline: gate, persist
// the user message, charge, enqueue a reply job and return its id. The reply
// itself arrives asynchronously; clients poll the job.
func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	room, okk := h.ownChatroom(c, uid)
	if !okk {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if len(req.Content) > maxMessageLength {
		common.Fail(c, http.StatusBadRequest, 10005, "message too long")
		return
	}

	ctx := c.Request.Context()

	decision := h.Ledger.CanConsume(ctx, uid)
	if decision.Err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "usage check unavailable, try again")
		return
	}
	if !decision.Allowed {
		switch decision.Reason {
		case usage.ReasonDailyLimitExceeded:
			common.Fail(c, http.StatusTooManyRequests, 42901, "daily message limit reached")
		case usage.ReasonInactiveSubscription:
			common.Fail(c, http.StatusForbidden, 40301, "subscription is not active")
		default:
			common.Fail(c, http.StatusForbidden, 40302, "not allowed")
		}
		return
	}

	msg := &chat.Message{
		ChatroomID: room.ChatroomID,
		UserID:     uid,
		Sender:     chat.SenderUser,
		Content:    req.Content,
	}
	if err := h.Rooms.CreateMessage(ctx, msg); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to save message")
		return
	}

	// charge after the message is durable; the worker re-checks the gate but
	// never charges again
	if _, err := h.Ledger.RecordConsumption(ctx, uid); err != nil {
		h.Log.Error().Err(err).Uint64("user_id", uid).Msg("usage not recorded for persisted message")
	}

	if err := h.Rooms.TouchChatroom(ctx, room.ChatroomID, msg.CreatedAt); err != nil {
		h.Log.Warn().Err(err).Str("chatroom_id", room.ChatroomID).Msg("failed to bump chatroom activity")
	}
	if err := h.Caches.InvalidateChatroom(ctx, room.ChatroomID, uid); err != nil {
		h.Log.Warn().Err(err).Str("chatroom_id", room.ChatroomID).Msg("read views may be stale")
	}

	jobID, err := h.Jobs.Submit(ctx, &jobs.ReplyJob{
		ChatroomID:      room.ChatroomID,
		UserID:          uid,
		OriginMessageID: msg.ID,
		Prompt:          req.Content,
	}, queue.PriorityHigh)
	if err != nil {
		// the job row is persisted as queued; accept the message and let the
		// reply arrive late rather than failing the send
		h.Log.Error().Err(err).Str("job_id", jobID).Msg("reply job not enqueued")
	}

	common.OK(c, gin.H{
		"message_id": msg.ID,
		"job_id":     jobID,
		"status":     "queued",
	})
}

func (h *Handler) GetReplyJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}
	ctx := c.Request.Context()

	j, err := h.Jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	out := gin.H{
		"id":           j.ID,
		"chatroom_id":  j.ChatroomID,
		"status":       j.Status,
		"progress":     j.Progress,
		"attempts":     j.Attempts,
		"fail_kind":    j.FailKind,
		"error":        j.Error,
		"submitted_at": j.SubmittedAt,
		"updated_at":   j.UpdatedAt,
	}

	if j.ResultMessageID != nil {
		if reply, err := h.Rooms.GetMessage(ctx, *j.ResultMessageID); err == nil {
			out["reply"] = gin.H{
				"message_id": reply.ID,
				"content":    reply.Content,
				"formatting": ai.DetectFormatting(reply.Content),
				"created_at": reply.CreatedAt,
			}
		}
	}

	common.OK(c, gin.H{"job": out})
}
