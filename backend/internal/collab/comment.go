package collab

import (
	"time"
)

type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "open"
	ThreadResolved ThreadStatus = "resolved"
	ThreadArchived ThreadStatus = "archived"
)

// Comment 评论正文不可变；可变的只有所在线程的 status
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  uint64    `json:"authorId"`
	Content   string    `json:"content"`
	Pos       int       `json:"position"`
	ElementID string    `json:"elementId,omitempty"`
	ThreadID  string    `json:"threadId"`
	Mentions  []uint64  `json:"mentions,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Thread 挂在文档位置上的讨论串
type Thread struct {
	RootCommentID string       `json:"rootCommentId"`
	Root          Comment      `json:"root"`
	Replies       []Comment    `json:"replies"`
	Participants  []uint64     `json:"participants"`
	Status        ThreadStatus `json:"status"`
}

func newThread(root Comment) *Thread {
	return &Thread{
		RootCommentID: root.ID,
		Root:          root,
		Participants:  []uint64{root.AuthorID},
		Status:        ThreadOpen,
	}
}

func (t *Thread) addReply(c Comment) {
	t.Replies = append(t.Replies, c)
	t.addParticipant(c.AuthorID)
}

func (t *Thread) addParticipant(userID uint64) {
	for _, p := range t.Participants {
		if p == userID {
			return
		}
	}
	t.Participants = append(t.Participants, userID)
}

// setStatus 幂等：重复设置同一状态是空操作，不报错
func (t *Thread) setStatus(status ThreadStatus) (changed bool) {
	if t.Status == status {
		return false
	}
	t.Status = status
	return true
}

// CommentRequest addComment 的入参
type CommentRequest struct {
	Content   string   `json:"content"`
	Pos       int      `json:"position"`
	ElementID string   `json:"elementId,omitempty"`
	ThreadID  string   `json:"threadId,omitempty"` // 非空表示回复已有线程
	Mentions  []uint64 `json:"mentions,omitempty"`
}
