package store

import (
	"time"
)

// 持久层形状：操作流水、快照、评论、活动日志全部 append-only，
// 在场状态是瞬态的，不落库（重连时由 joinDocument 重建）。

type DocumentRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	OwnerID   uint64 `gorm:"index"`
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DocumentRecord) TableName() string { return "documents" }

type SnapshotRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	DocumentID string `gorm:"index;size:64"`
	Version    uint64
	Content    string `gorm:"type:longtext"`
	Spans      []byte `gorm:"type:json"`
	AuthorID   uint64
	Message    string `gorm:"size:512"`
	Tags       []byte `gorm:"type:json"`
	Checksum   string `gorm:"size:64"`
	CreatedAt  time.Time
}

func (SnapshotRecord) TableName() string { return "document_snapshots" }

type CommentRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	DocumentID string `gorm:"index;size:64"`
	ThreadID   string `gorm:"index;size:36"`
	AuthorID   uint64
	Content    string `gorm:"type:text"`
	Pos        int
	ElementID  string `gorm:"size:64"`
	Mentions   []byte `gorm:"type:json"`
	// 线程状态只在根评论行上有意义
	Status    string `gorm:"size:16"`
	CreatedAt time.Time
}

func (CommentRecord) TableName() string { return "document_comments" }

type ActivityRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID  string `gorm:"index;size:64"`
	EventType   string `gorm:"size:32"`
	ActorID     uint64
	SessionID   string `gorm:"size:64"`
	OperationID string `gorm:"size:36"`
	Version     uint64
	Detail      []byte `gorm:"type:json"`
	CreatedAt   time.Time
}

func (ActivityRecord) TableName() string { return "activity_log" }
