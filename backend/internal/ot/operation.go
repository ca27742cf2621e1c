package ot

import (
	"errors"
	"time"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
	KindRetain Kind = "retain"
	KindFormat Kind = "format"
	KindMove   Kind = "move"
)

var (
	ErrMalformedOperation     = errors.New("MALFORMED_OPERATION")
	ErrUnresolvableDependency = errors.New("UNRESOLVABLE_DEPENDENCY")
)

// 操作元数据：baseVersion 是作者提交时观察到的文档版本，变换的依据
type Metadata struct {
	UserID       uint64    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	Timestamp    time.Time `json:"timestamp"`
	BaseVersion  uint64    `json:"baseVersion"`
	Dependencies []string  `json:"dependencies,omitempty"`
}

// Operation 一次原子编辑。接受后不可变。
// 核心只解释 position/length，不解释内容的领域语义。
type Operation struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"type"`
	Pos       int            `json:"position"`
	Length    int            `json:"length,omitempty"`         // delete/retain/format/move
	Text      string         `json:"content,omitempty"`        // insert
	Attrs     map[string]any `json:"attributes,omitempty"`     // format 样式属性
	TargetPos int            `json:"targetPosition,omitempty"` // move 的目标位置
	Meta      Metadata       `json:"metadata"`
}

// 操作对文档长度的影响（insert 按 rune 计）
func (op Operation) lengthDelta() int {
	switch op.Kind {
	case KindInsert:
		return len([]rune(op.Text))
	case KindDelete:
		return -op.Length
	default:
		return 0
	}
}

// TextLen insert 文本的 rune 长度
func (op Operation) TextLen() int { return len([]rune(op.Text)) }

// IsNoop 变换后退化成的空操作（保留 ID 用于重复投递去重）
func (op Operation) IsNoop() bool {
	switch op.Kind {
	case KindRetain:
		return true
	case KindDelete:
		return op.Length == 0
	default:
		return false
	}
}

// Validate 检查操作在长度为 docLen 的文档上是否越界。
// 越界直接拒绝，不做截断。
func (op Operation) Validate(docLen int) error {
	if op.Pos < 0 {
		return ErrMalformedOperation
	}
	switch op.Kind {
	case KindInsert:
		if op.Pos > docLen {
			return ErrMalformedOperation
		}
	case KindDelete, KindFormat:
		if op.Length < 0 || op.Pos+op.Length > docLen {
			return ErrMalformedOperation
		}
	case KindRetain:
		if op.Length < 0 || op.Pos+op.Length > docLen {
			return ErrMalformedOperation
		}
	case KindMove:
		if op.Length < 0 || op.Pos+op.Length > docLen {
			return ErrMalformedOperation
		}
		// TargetPos 以源区间摘除后的坐标计
		if op.TargetPos < 0 || op.TargetPos > docLen-op.Length {
			return ErrMalformedOperation
		}
	default:
		return ErrMalformedOperation
	}
	return nil
}

// before 同位置并发 insert 的确定性定序：(timestamp, userId) 字典序。
// 所有副本据此得到一致的排列。
func (a Metadata) before(b Metadata) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.UserID < b.UserID
}
