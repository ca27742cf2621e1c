package ws

import (
	"encoding/json"
	"time"

	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/ot"
)

// ClientMessage 客户端入站消息的统一信封，按 type 取用字段
type ClientMessage struct {
	Type  string `json:"type"`
	DocID string `json:"docId,omitempty"`

	// op_submit
	ClientSeq uint64       `json:"clientSeq,omitempty"`
	Op        ot.Operation `json:"op,omitempty"`

	// cursor / selection
	Cursor    json.RawMessage `json:"cursor,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	Visible   *bool           `json:"visible,omitempty"`

	// heartbeat / sync
	SyncedVersion uint64 `json:"syncedVersion,omitempty"`
	FromVersion   uint64 `json:"fromVersion,omitempty"`
	Limit         int    `json:"limit,omitempty"`

	// createVersion / restoreVersion
	Message   string   `json:"message,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	VersionID string   `json:"versionId,omitempty"`

	// addComment / resolveThread
	Comment       *collab.CommentRequest `json:"comment,omitempty"`
	RootCommentID string                 `json:"rootCommentId,omitempty"`
	Status        string                 `json:"status,omitempty"`
}

// 出站消息接口，所有服务端推送都实现它
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string    { return m.Type }
func (m AckMessage) MessageType() string       { return m.Type }
func (m OperationMessage) MessageType() string { return m.Type }
func (m SyncMessage) MessageType() string      { return m.Type }
func (m PresenceMessage) MessageType() string  { return m.Type }
func (m CommentMessage) MessageType() string   { return m.Type }
func (m RestoreMessage) MessageType() string   { return m.Type }
func (m RosterMessage) MessageType() string    { return m.Type }
func (m VersionsMessage) MessageType() string  { return m.Type }
func (m VersionMessage) MessageType() string   { return m.Type }

// ServerMessage 通用回执/错误。Content 对 error 类型放错误码
type ServerMessage struct {
	Type      string    `json:"type"`
	DocID     string    `json:"docId,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckMessage 提交方专属：确认 clientSeq 对应的操作已定序
type AckMessage struct {
	Type        string    `json:"type"` // 固定 "ack"
	DocID       string    `json:"docId"`
	ClientSeq   uint64    `json:"clientSeq"`
	OperationID string    `json:"operationId"`
	Version     uint64    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
}

// OperationMessage 广播给房间内其他连接的已定序操作。
// 客户端收到后按 version 对齐本地副本。
type OperationMessage struct {
	Type      string           `json:"type"` // 固定 "operation"
	DocID     string           `json:"docId"`
	Op        collab.AcceptedOp `json:"op"`
	Timestamp time.Time        `json:"timestamp"`
}

// SyncMessage join / 重连时的全量状态，以及 opsSince 的增量补发
type SyncMessage struct {
	Type      string                    `json:"type"` // 固定 "sync"
	DocID     string                    `json:"docId"`
	State     *collab.CollaborationState `json:"state,omitempty"`
	Ops       []collab.AcceptedOp       `json:"ops,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// PresenceMessage 参与者加入/离开/光标/选区变化
type PresenceMessage struct {
	Type        string             `json:"type"` // participant-joined / participant-left / cursor-update / selection-update / presence
	DocID       string             `json:"docId"`
	Participant collab.Participant `json:"participant"`
	Timestamp   time.Time          `json:"timestamp"`
}

// CommentMessage 评论新增与线程状态变化
type CommentMessage struct {
	Type      string        `json:"type"` // comment-added / comment-resolved
	DocID     string        `json:"docId"`
	Thread    collab.Thread `json:"thread"`
	Timestamp time.Time     `json:"timestamp"`
}

// RestoreMessage 版本回滚通知，所有连接必须丢弃本地未确认状态并重新同步
type RestoreMessage struct {
	Type       string    `json:"type"` // 固定 "version-restored"
	DocID      string    `json:"docId"`
	VersionID  string    `json:"versionId"`
	Version    uint64    `json:"version"`
	RestoredBy uint64    `json:"restoredBy"`
	Timestamp  time.Time `json:"timestamp"`
}

// RosterMessage 心跳回包里携带的在场名单
type RosterMessage struct {
	Type         string               `json:"type"` // 固定 "presence"
	DocID        string               `json:"docId"`
	Participants []collab.Participant `json:"participants"`
	Timestamp    time.Time            `json:"timestamp"`
}

type VersionsMessage struct {
	Type      string                   `json:"type"` // 固定 "versions"
	DocID     string                   `json:"docId"`
	Versions  []collab.VersionSnapshot `json:"versions"`
	Timestamp time.Time                `json:"timestamp"`
}

type VersionMessage struct {
	Type      string                 `json:"type"` // 固定 "version-created"
	DocID     string                 `json:"docId"`
	Version   collab.VersionSnapshot `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
}
