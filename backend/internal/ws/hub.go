package ws

import (
	"sync"
	"time"

	"collabCore/backend/internal/collab"
)

// Channel 单个接收端的投递口。Conn 实现它；
// 测试可以用内存假实现替代真连接。
type Channel interface {
	SessionID() string
	Deliver(msg OutboundMessage)
}

// Hub 房间表：docID -> sessionID -> 连接。
// 同一用户多端各占一个 session，广播逐连接投递；
// 单个接收方投递失败（队列满被丢弃）不影响其他接收方。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Channel
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]Channel)}
}

func (h *Hub) Join(docID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[string]Channel)
	}
	h.rooms[docID][ch.SessionID()] = ch
}

func (h *Hub) Leave(docID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[docID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// fanout 逐连接投递，可选排除某个 session（通常是动作发起方）
func (h *Hub) fanout(docID, excludeSessionID string, msg OutboundMessage) {
	h.mu.RLock()
	room := h.rooms[docID]
	targets := make([]Channel, 0, len(room))
	for sid, ch := range room {
		if sid == excludeSessionID {
			continue
		}
		targets = append(targets, ch)
	}
	h.mu.RUnlock()
	for _, ch := range targets {
		ch.Deliver(msg)
	}
}

// 以下实现 collab.Broadcaster

func (h *Hub) BroadcastOperation(docID string, op collab.AcceptedOp, excludeSessionID string) {
	h.fanout(docID, excludeSessionID, OperationMessage{
		Type: "operation", DocID: docID, Op: op, Timestamp: time.Now(),
	})
}

func (h *Hub) BroadcastPresence(docID, eventType string, p collab.Participant, excludeSessionID string) {
	h.fanout(docID, excludeSessionID, PresenceMessage{
		Type: eventType, DocID: docID, Participant: p, Timestamp: time.Now(),
	})
}

func (h *Hub) BroadcastComment(docID, eventType string, t collab.Thread, excludeSessionID string) {
	h.fanout(docID, excludeSessionID, CommentMessage{
		Type: eventType, DocID: docID, Thread: t, Timestamp: time.Now(),
	})
}

// BroadcastRestore 回滚通知不排除任何人，发起方也要重新同步
func (h *Hub) BroadcastRestore(docID, versionID string, version uint64, restoredBy uint64) {
	h.fanout(docID, "", RestoreMessage{
		Type: "version-restored", DocID: docID, VersionID: versionID,
		Version: version, RestoredBy: restoredBy, Timestamp: time.Now(),
	})
}
