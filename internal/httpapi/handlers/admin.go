package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/common"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/queue"
)

type testJobReq struct {
	ChatroomID string `json:"chatroom_id" binding:"required"`
	Prompt     string `json:"prompt"`
}

// SubmitTestJob pushes a low-priority synthetic job through the whole
// pipeline. It runs behind real chat traffic and exercises every stage.
func (h *Handler) SubmitTestJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req testJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Prompt == "" {
		req.Prompt = "Reply with a one-line status check."
	}
	ctx := c.Request.Context()

	room, err := h.Rooms.GetChatroom(ctx, req.ChatroomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "chatroom not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if room.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40404, "chatroom not found")
		return
	}

	msg := &chat.Message{
		ChatroomID: room.ChatroomID,
		UserID:     uid,
		Sender:     chat.SenderUser,
		Content:    req.Prompt,
	}
	if err := h.Rooms.CreateMessage(ctx, msg); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to save message")
		return
	}

	jobID, err := h.Jobs.Submit(ctx, &jobs.ReplyJob{
		ChatroomID:      room.ChatroomID,
		UserID:          uid,
		OriginMessageID: msg.ID,
		Prompt:          req.Prompt,
		ClientTag:       "smoke-test",
	}, queue.PriorityLow)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}

	common.OK(c, gin.H{"job_id": jobID, "priority": queue.PriorityLow})
}

func (h *Handler) QueueStats(c *gin.Context) {
	stats, err := h.Queue.Stats(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "queue stats unavailable")
		return
	}
	common.OK(c, stats)
}

func (h *Handler) PauseQueue(c *gin.Context) {
	if err := h.Queue.Pause(c.Request.Context()); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to pause queue")
		return
	}
	h.Log.Info().Msg("reply queue paused")
	common.OK(c, gin.H{"paused": true})
}

func (h *Handler) ResumeQueue(c *gin.Context) {
	if err := h.Queue.Resume(c.Request.Context()); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to resume queue")
		return
	}
	h.Log.Info().Msg("reply queue resumed")
	common.OK(c, gin.H{"paused": false})
}

func (h *Handler) CleanQueue(c *gin.Context) {
	purged, err := h.Queue.Clean(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to clean queue")
		return
	}
	h.Log.Info().Int64("purged", purged).Msg("reply queue cleaned")
	common.OK(c, gin.H{"purged": purged})
}
