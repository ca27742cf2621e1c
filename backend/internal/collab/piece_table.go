package collab

import "collabCore/backend/internal/ot"

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	// 指针标签，表示从 original 还是 add 切片上偏移
	buf    bufferKind
	offset int
	length int
}

type PieceTable struct {
	// 原始文本切片
	original []rune
	// 新增文本切片
	add []rune
	// 分片列表
	pieces []piece
	// format 产生的样式区间，insert/delete 时同步平移
	spans []AttrSpan
}

var _ Buffer = (*PieceTable)(nil)

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	return &PieceTable{
		original: r,
		pieces:   []piece{{buf: bufOriginal, offset: 0, length: len(r)}},
	}
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var res string
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			res += string(pt.original[p.offset : p.offset+p.length])
		case bufAdd:
			res += string(pt.add[p.offset : p.offset+p.length])
		}
	}
	return res
}

func (pt *PieceTable) Spans() []AttrSpan {
	out := make([]AttrSpan, len(pt.spans))
	copy(out, pt.spans)
	return out
}

// Apply 应用一条已接受的操作。
// 调用方负责版本正确性，这里只做边界检查。
func (pt *PieceTable) Apply(op ot.Operation) error {
	if err := op.Validate(pt.Len()); err != nil {
		return err
	}
	switch op.Kind {
	case ot.KindRetain:
		// 空操作
	case ot.KindInsert:
		pt.insertAt(op.Pos, []rune(op.Text))
	case ot.KindDelete:
		pt.deleteAt(op.Pos, op.Length)
	case ot.KindFormat:
		pt.spans = append(pt.spans, AttrSpan{Pos: op.Pos, Length: op.Length, Attrs: op.Attrs})
	case ot.KindMove:
		// move = 摘出源区间再插到目标位置（目标以摘除后的坐标计）
		text := []rune(pt.String())[op.Pos : op.Pos+op.Length]
		moved := make([]rune, op.Length)
		copy(moved, text)
		pt.deleteAt(op.Pos, op.Length)
		pt.insertAt(op.TargetPos, moved)
	}
	return nil
}

func (pt *PieceTable) insertAt(pos int, text []rune) {
	start := len(pt.add)
	pt.add = append(pt.add, text...)
	length := len(text)

	idx, offset := pt.locate(pos)
	newPiece := piece{buf: bufAdd, offset: start, length: length}

	if idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		leftPiece := piece{buf: cur.buf, offset: cur.offset, length: offset}
		rightPiece := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

		newPieces := make([]piece, 0, len(pt.pieces)+1)
		newPieces = append(newPieces, pt.pieces[:idx]...)
		if leftPiece.length > 0 {
			newPieces = append(newPieces, leftPiece)
		}
		newPieces = append(newPieces, newPiece)
		if rightPiece.length > 0 {
			newPieces = append(newPieces, rightPiece)
		}
		newPieces = append(newPieces, pt.pieces[idx+1:]...)
		// 只动目标 piece，其他 piece 不动
		pt.pieces = newPieces
	} else {
		pt.pieces = append(pt.pieces, newPiece)
	}

	// 平移样式区间
	for i := range pt.spans {
		s := &pt.spans[i]
		switch {
		case pos <= s.Pos:
			s.Pos += length
		case pos < s.Pos+s.Length:
			s.Length += length
		}
	}
}

func (pt *PieceTable) deleteAt(pos, count int) {
	// 要删的剩余长度
	remain := count
	idx, offset := pt.locate(pos)

	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		// 这个 piece 里还剩多少可删
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// 整个 piece 都删掉
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
			offset = 0
		} else {
			// 只删中间一段：拆成左 / 右两段
			leftLen := offset
			rightLen := cur.length - offset - take

			newPieces := make([]piece, 0, len(pt.pieces)+1)
			newPieces = append(newPieces, pt.pieces[:idx]...)
			if leftLen > 0 {
				newPieces = append(newPieces, piece{
					buf:    cur.buf,
					offset: cur.offset,
					length: leftLen,
				})
			}
			if rightLen > 0 {
				newPieces = append(newPieces, piece{
					buf:    cur.buf,
					offset: cur.offset + offset + take,
					length: rightLen,
				})
			}
			newPieces = append(newPieces, pt.pieces[idx+1:]...)
			pt.pieces = newPieces
		}

		remain -= take
	}

	// 裁剪样式区间，空区间直接丢弃
	kept := pt.spans[:0]
	for _, s := range pt.spans {
		p, n := shrinkSpan(s.Pos, s.Length, pos, count)
		if n > 0 {
			s.Pos, s.Length = p, n
			kept = append(kept, s)
		}
	}
	pt.spans = kept
}

// 根据逻辑位置 pos，找到对应的 piece 下标 idx 和在该 piece 内的偏移 offset
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}

// 区间 [p, p+n) 被删除区间 [q, q+m) 裁剪
func shrinkSpan(p, n, q, m int) (int, int) {
	switch {
	case q >= p+n:
		return p, n
	case q+m <= p:
		return p - m, n
	default:
		hi := p + n
		if q+m < hi {
			hi = q + m
		}
		lo := p
		if q > lo {
			lo = q
		}
		ov := hi - lo
		if q < p {
			p = q
		}
		return p, n - ov
	}
}
