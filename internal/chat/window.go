package chat

import (
	"context"

	"github.com/suPer8Hu/roomtalk/internal/ai"
)

// Assembler builds the conversation window handed to the generation service.
type Assembler struct {
	repo *Repo
}

func NewAssembler(repo *Repo) *Assembler {
	return &Assembler{repo: repo}
}

// BuildWindow returns at most maxMessages prior messages for the chatroom,
// oldest-first. The generation service requires chronological order, so the
// newest-first fetch is reversed before returning. An empty chatroom yields an
// empty window, not an error; a store failure propagates so the caller can
// retry the job.
func (a *Assembler) BuildWindow(ctx context.Context, chatroomID string, maxMessages int) ([]ai.Turn, error) {
	recentDesc, err := a.repo.ListRecentMessagesDesc(ctx, chatroomID, maxMessages)
	if err != nil {
		return nil, err
	}

	window := make([]ai.Turn, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		window = append(window, ai.Turn{
			Role:    roleFor(m.Sender),
			Content: m.Content,
		})
	}
	return window, nil
}

func roleFor(sender string) string {
	if sender == SenderUser {
		return ai.RoleUser
	}
	return ai.RoleModel
}
