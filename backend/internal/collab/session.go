package collab

import (
	"encoding/json"
	"time"

	"collabCore/backend/internal/policy"
)

// 会话状态机：joining -> active -> idle -> active（有新活动）-> left
type SessionStatus string

const (
	StatusJoining SessionStatus = "joining"
	StatusActive  SessionStatus = "active"
	StatusIdle    SessionStatus = "idle"
	StatusTyping  SessionStatus = "typing"
	StatusLeft    SessionStatus = "left"
)

// Session 按会话（不是按用户）跟踪的在场状态。
// 同一用户可同时持有多个会话（多标签页/多端）。
type Session struct {
	UserID       uint64          `json:"userId"`
	SessionID    string          `json:"sessionId"`
	JoinedAt     time.Time       `json:"joinedAt"`
	LastActivity time.Time       `json:"lastActivity"`
	Status       SessionStatus   `json:"status"`
	Cursor       json.RawMessage `json:"cursor,omitempty"`
	Selection    json.RawMessage `json:"selection,omitempty"`
	// 会话已同步到的文档版本（随心跳/ack 上报），restore 的阻断依据
	SyncedVersion uint64 `json:"syncedVersion"`

	caps policy.Policy
}

func (s *Session) touch(now time.Time) {
	s.LastActivity = now
	if s.Status != StatusLeft {
		s.Status = StatusActive
	}
}

// sweep 按不活跃时长推进状态机，返回是否应当移出文档。
// idleAfter 后 active -> idle，leaveAfter 后 idle -> left。
func (s *Session) sweep(now time.Time, idleAfter, leaveAfter time.Duration) bool {
	if s.Status == StatusLeft {
		return true
	}
	inactive := now.Sub(s.LastActivity)
	if inactive >= leaveAfter {
		s.Status = StatusLeft
		return true
	}
	if inactive >= idleAfter && (s.Status == StatusActive || s.Status == StatusTyping) {
		s.Status = StatusIdle
	}
	return false
}

// Participant 对外暴露的参与者视图（sync/participant-joined 消息用）
type Participant struct {
	UserID        uint64          `json:"userId"`
	SessionID     string          `json:"sessionId"`
	JoinedAt      time.Time       `json:"joinedAt"`
	LastActivity  time.Time       `json:"lastActivity"`
	Status        SessionStatus   `json:"status"`
	Cursor        json.RawMessage `json:"cursor,omitempty"`
	Selection     json.RawMessage `json:"selection,omitempty"`
	SyncedVersion uint64          `json:"syncedVersion"`
}

func (s *Session) participant() Participant {
	return Participant{
		UserID:        s.UserID,
		SessionID:     s.SessionID,
		JoinedAt:      s.JoinedAt,
		LastActivity:  s.LastActivity,
		Status:        s.Status,
		Cursor:        s.Cursor,
		Selection:     s.Selection,
		SyncedVersion: s.SyncedVersion,
	}
}
