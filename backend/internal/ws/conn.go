package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/policy"
)

// Conn 一条 websocket 连接，对应一个协作会话
type Conn struct {
	ws        *websocket.Conn
	hub       *Hub
	svc       collab.Service
	sem       *collab.SemaphoreControl
	docID     string
	sessionID string
	userID    uint64
	username  string
	caps      policy.Policy

	mu     sync.Mutex
	closed bool
	send   chan OutboundMessage
}

func NewConn(ws *websocket.Conn, hub *Hub, sessionID string, userID uint64, username string, caps policy.Policy, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:        ws,
		hub:       hub,
		svc:       svc,
		sem:       sem,
		sessionID: sessionID,
		userID:    userID,
		username:  username,
		caps:      caps,
		send:      make(chan OutboundMessage, 64),
	}
}

func (c *Conn) SessionID() string { return c.sessionID }

// Deliver 入队即返回；队列满直接丢弃，慢连接靠 sync 补发追齐。
// hub 的扇出快照可能晚于退房落到这里，closed 之后一律丢弃
func (c *Conn) Deliver(msg OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// closeSend 关闭出站队列并让 writeLoop 退出；可重复调用
func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) sendError(docID string, err error) {
	c.Deliver(ServerMessage{Type: "error", DocID: docID, Content: err.Error(), Timestamp: time.Now()})
}

// handleOpSubmit 提交链路有背压：信号量 + 200ms 超时。
// 定序成功后给提交方回 ack，房间广播由 Service 负责。
func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.sendError(msg.DocID, err)
		return
	}
	defer c.sem.Release()

	accepted, err := c.svc.Submit(submitCtx, msg.DocID, c.sessionID, msg.ClientSeq, msg.Op)
	if err != nil {
		c.sendError(msg.DocID, err)
		return
	}
	c.Deliver(AckMessage{
		Type:        "ack",
		DocID:       msg.DocID,
		ClientSeq:   msg.ClientSeq,
		OperationID: accepted.OperationID,
		Version:     accepted.Version,
		Timestamp:   time.Now(),
	})
}

func (c *Conn) handleJoin(ctx context.Context, docID string) {
	if c.docID != "" && c.docID != docID {
		// 换房间：先退出旧的
		_ = c.svc.Leave(ctx, c.docID, c.sessionID)
		c.hub.Leave(c.docID, c.sessionID)
	}
	state, err := c.svc.Join(ctx, docID, c.userID, c.sessionID, c.caps)
	if err != nil {
		c.sendError(docID, err)
		return
	}
	c.docID = docID
	c.hub.Join(docID, c)
	c.Deliver(SyncMessage{Type: "sync", DocID: docID, State: &state, Timestamp: time.Now()})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		if c.docID != "" {
			if err := c.svc.Leave(ctx, c.docID, c.sessionID); err != nil {
				log.Printf("leave on disconnect failed doc=%s session=%s err=%v", c.docID, c.sessionID, err)
			}
			c.hub.Leave(c.docID, c.sessionID)
		}
		c.closeSend()
	}()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
			return
		}
		if msg.DocID == "" {
			msg.DocID = c.docID
		}
		switch msg.Type {
		case "joinDocument":
			c.handleJoin(ctx, msg.DocID)

		case "leave":
			if c.docID == "" {
				continue
			}
			if err := c.svc.Leave(ctx, c.docID, c.sessionID); err != nil {
				c.sendError(c.docID, err)
			}
			c.hub.Leave(c.docID, c.sessionID)
			c.docID = ""

		case "heartbeat":
			participants, err := c.svc.Heartbeat(ctx, msg.DocID, c.sessionID, msg.SyncedVersion)
			if err != nil {
				c.sendError(msg.DocID, err)
				continue
			}
			c.Deliver(RosterMessage{Type: "presence", DocID: msg.DocID, Participants: participants, Timestamp: time.Now()})

		case "op_submit":
			c.handleOpSubmit(ctx, msg)

		case "sync":
			ops, err := c.svc.OpsSince(ctx, msg.DocID, msg.FromVersion, msg.Limit)
			if err != nil {
				c.sendError(msg.DocID, err)
				continue
			}
			c.Deliver(SyncMessage{Type: "sync", DocID: msg.DocID, Ops: ops, Timestamp: time.Now()})

		case "cursor":
			visible := msg.Visible == nil || *msg.Visible
			if err := c.svc.UpdateCursor(ctx, msg.DocID, c.sessionID, msg.Cursor, visible); err != nil {
				c.sendError(msg.DocID, err)
			}

		case "selection":
			visible := msg.Visible == nil || *msg.Visible
			if err := c.svc.UpdateSelection(ctx, msg.DocID, c.sessionID, msg.Selection, visible); err != nil {
				c.sendError(msg.DocID, err)
			}

		case "createVersion":
			snap, err := c.svc.CreateVersion(ctx, msg.DocID, c.sessionID, msg.Message, msg.Tags)
			if err != nil {
				c.sendError(msg.DocID, err)
				continue
			}
			c.Deliver(VersionMessage{Type: "version-created", DocID: msg.DocID, Version: snap, Timestamp: time.Now()})

		case "restoreVersion":
			// 成功后的 version-restored 广播由 Service 发出，发起方也会收到
			if _, err := c.svc.RestoreVersion(ctx, msg.DocID, msg.VersionID, c.sessionID); err != nil {
				c.sendError(msg.DocID, err)
			}

		case "listVersions":
			versions, err := c.svc.ListVersions(ctx, msg.DocID)
			if err != nil {
				c.sendError(msg.DocID, err)
				continue
			}
			c.Deliver(VersionsMessage{Type: "versions", DocID: msg.DocID, Versions: versions, Timestamp: time.Now()})

		case "addComment":
			if msg.Comment == nil {
				c.sendError(msg.DocID, collab.ErrThreadNotFound)
				continue
			}
			comment, err := c.svc.AddComment(ctx, msg.DocID, c.sessionID, *msg.Comment)
			if err != nil {
				c.sendError(msg.DocID, err)
				continue
			}
			c.Deliver(ServerMessage{Type: "comment-ack", DocID: msg.DocID, Content: comment.ID, Timestamp: time.Now()})

		case "resolveThread":
			status := collab.ThreadStatus(msg.Status)
			if status == "" {
				status = collab.ThreadResolved
			}
			if err := c.svc.SetThreadStatus(ctx, msg.DocID, c.sessionID, msg.RootCommentID, status); err != nil {
				c.sendError(msg.DocID, err)
			}

		case "archiveDocument":
			if err := c.svc.ArchiveDocument(ctx, msg.DocID, c.sessionID); err != nil {
				c.sendError(msg.DocID, err)
				continue
			}
			c.Deliver(ServerMessage{Type: "archived", DocID: msg.DocID, Timestamp: time.Now()})

		default:
			c.Deliver(ServerMessage{Type: "ignored", Content: "Unknown message type", Timestamp: time.Now()})
		}
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
