package collab

import (
	"collabCore/backend/internal/ot"
)

// 抽象文档内容缓冲区接口
type Buffer interface {
	Len() int
	Apply(op ot.Operation) error
	String() string
	Spans() []AttrSpan
}

// AttrSpan format 操作落下的样式区间
type AttrSpan struct {
	Pos    int            `json:"position"`
	Length int            `json:"length"`
	Attrs  map[string]any `json:"attributes"`
}
