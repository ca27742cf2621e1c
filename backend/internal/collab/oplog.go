package collab

import (
	"time"

	"collabCore/backend/internal/ot"
)

// AcceptedOp 操作日志中的一条记录。
// 一次提交占一个版本号；变换可能把原操作裂成多段，Ops 按段顺序生效。
type AcceptedOp struct {
	OperationID string         `json:"operationId"`
	Version     uint64         `json:"version"`
	AuthorID    uint64         `json:"authorId"`
	SessionID   string         `json:"sessionId"`
	Ops         []ot.Operation `json:"ops"`
	AppliedAt   time.Time      `json:"appliedAt"`
}

// OpLog 单文档的 append-only 操作日志。
// 不自带锁：所有变更都在文档定序器（docState.mu）内进行。
type OpLog struct {
	entries []AcceptedOp
	// 压缩水位：floor 及之前的版本已不可追溯
	floor uint64
	// version 恒等于已接受操作条数（含已压缩部分）
	version uint64
}

func NewOpLog() *OpLog {
	return &OpLog{}
}

func (l *OpLog) Version() uint64 { return l.version }

// Floor 可追溯的最老 baseVersion
func (l *OpLog) Floor() uint64 { return l.floor }

// Append 版本号递增的唯一入口，返回新版本
func (l *OpLog) Append(op AcceptedOp) uint64 {
	l.version++
	op.Version = l.version
	l.entries = append(l.entries, op)
	return l.version
}

// SliceSince 返回 version 之后的所有记录。
// version 已被压缩掉时返回 ErrStaleBase，调用方需从快照重新同步。
func (l *OpLog) SliceSince(version uint64) ([]AcceptedOp, error) {
	if version < l.floor {
		return nil, ErrStaleBase
	}
	if version >= l.version {
		return nil, nil
	}
	out := make([]AcceptedOp, 0, l.version-version)
	for _, e := range l.entries {
		if e.Version > version {
			out = append(out, e)
		}
	}
	return out, nil
}

// CompactBefore 丢弃 version 及之前的记录（最老保留快照之前的部分）
func (l *OpLog) CompactBefore(version uint64) {
	if version <= l.floor {
		return
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Version > version {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	l.floor = version
}

// Reset 版本回滚到快照点（restore 专用，历史不可追溯）
func (l *OpLog) Reset(version uint64) {
	l.entries = nil
	l.floor = version
	l.version = version
}

// Contains 操作 ID 是否已提交（依赖检查、重复投递去重用）
func (l *OpLog) Contains(opID string) bool {
	for _, e := range l.entries {
		if e.OperationID == opID {
			return true
		}
	}
	return false
}

// Lookup 按操作 ID 找已提交记录
func (l *OpLog) Lookup(opID string) (AcceptedOp, bool) {
	for _, e := range l.entries {
		if e.OperationID == opID {
			return e, true
		}
	}
	return AcceptedOp{}, false
}
