package ot

// 服务端单边变换：把尚未入库的操作改写到最新版本之上。
// 已提交的操作永远不动，只改写 incoming。
//
// 一次逻辑操作经过变换后可能裂成多段（例如 delete 范围内部落了
// 一个已提交的 insert），所以结果是切片；各段共享原操作的 ID。

// Transform 把 op 依次对 baseVersion 之后的已提交操作做变换。
// committed 按提交顺序排列；docLen 是已提交操作全部生效后的文档长度。
// 变换结果越界返回 ErrMalformedOperation，不截断。
func Transform(op Operation, committed []Operation, docLen int) ([]Operation, error) {
	out := []Operation{op}
	for _, com := range committed {
		next := make([]Operation, 0, len(out))
		for _, cur := range out {
			if cur.IsNoop() {
				next = append(next, cur)
				continue
			}
			next = append(next, transformPair(cur, com)...)
		}
		out = next
	}

	// 循环内所有段共享同一坐标系（已提交操作全部生效后的文档），
	// 这样后续已提交操作的位置才能和每一段直接比较。
	// 段只会由 delete 裂出，互不相交且按位置升序，
	// 这里统一折算成按序生效的坐标。
	shift := 0
	for i := range out {
		if out[i].IsNoop() {
			continue
		}
		out[i].Pos += shift
		shift += out[i].lengthDelta()
	}

	// 逐段校验边界（各段按顺序生效，长度滚动更新）
	runLen := docLen
	for _, seg := range out {
		if seg.IsNoop() {
			continue
		}
		if err := seg.Validate(runLen); err != nil {
			return nil, err
		}
		runLen += seg.lengthDelta()
	}
	return out, nil
}

// CheckDependencies 操作声明的依赖必须全部已提交
func CheckDependencies(op Operation, isCommitted func(id string) bool) error {
	for _, dep := range op.Meta.Dependencies {
		if !isCommitted(dep) {
			return ErrUnresolvableDependency
		}
	}
	return nil
}

func transformPair(in, com Operation) []Operation {
	switch com.Kind {
	case KindInsert:
		return transformAgainstInsert(in, com.Pos, com.TextLen(), com.Meta)
	case KindDelete:
		return transformAgainstDelete(in, com.Pos, com.Length)
	case KindMove:
		// move = 源区间删除 + 目标位置插入，沿用同一套偏移规则
		out := transformAgainstDelete(in, com.Pos, com.Length)
		next := make([]Operation, 0, len(out))
		for _, cur := range out {
			if cur.IsNoop() {
				next = append(next, cur)
				continue
			}
			next = append(next, transformAgainstInsert(cur, com.TargetPos, com.Length, com.Meta)...)
		}
		return next
	default:
		// retain/format 不改变任何位置
		return []Operation{in}
	}
}

// 已提交 insert（位置 q、长度 L）对 incoming 的改写
func transformAgainstInsert(in Operation, q, L int, comMeta Metadata) []Operation {
	switch in.Kind {
	case KindInsert:
		// 位置相同的并发 insert 按 (timestamp, userId) 定序，先者占左
		if q < in.Pos || (q == in.Pos && comMeta.before(in.Meta)) {
			in.Pos += L
		}
	case KindDelete:
		switch {
		case q <= in.Pos:
			in.Pos += L
		case q >= in.Pos+in.Length:
			// 插入在删除范围之后，互不影响
		default:
			// 插入落在删除范围内部：裂成两段，保住原本要删的字符，
			// 新插入的内容不动。两段仍留在同一坐标系内，
			// 按序生效的折算在 Transform 末尾统一做
			head := in
			head.Length = q - in.Pos
			tail := in
			tail.Pos = q + L
			tail.Length = in.Length - head.Length
			return []Operation{head, tail}
		}
	case KindRetain, KindFormat:
		switch {
		case q <= in.Pos:
			in.Pos += L
		case q < in.Pos+in.Length:
			in.Length += L
		}
	case KindMove:
		switch {
		case q <= in.Pos:
			in.Pos += L
		case q < in.Pos+in.Length:
			in.Length += L
		}
		if q <= in.TargetPos {
			in.TargetPos += L
		}
	}
	return []Operation{in}
}

// 已提交 delete（位置 q、长度 m）对 incoming 的改写
func transformAgainstDelete(in Operation, q, m int) []Operation {
	switch in.Kind {
	case KindInsert:
		switch {
		case in.Pos <= q:
			// 删除发生在插入点之后
		case in.Pos >= q+m:
			in.Pos -= m
		default:
			// 插入点被整段删除覆盖：钳到删除起点
			in.Pos = q
		}
	case KindDelete:
		p, n := in.Pos, in.Length
		switch {
		case q >= p+n:
			// 无交叠
		case q+m <= p:
			in.Pos = p - m
		default:
			ov := minInt(p+n, q+m) - maxInt(p, q)
			in.Length = n - ov
			if q < p {
				in.Pos = q
			}
			if in.Length == 0 {
				// 被完全覆盖：退化为 retain 而不是丢弃，
				// 保留 ID 以便重复投递仍可识别
				in.Kind = KindRetain
			}
		}
	case KindRetain, KindFormat:
		in.Pos, in.Length = shrinkRange(in.Pos, in.Length, q, m)
	case KindMove:
		in.Pos, in.Length = shrinkRange(in.Pos, in.Length, q, m)
		switch {
		case in.TargetPos <= q:
		case in.TargetPos >= q+m:
			in.TargetPos -= m
		default:
			in.TargetPos = q
		}
	}
	return []Operation{in}
}

// 区间 [p, p+n) 被已删除区间 [q, q+m) 裁剪后的新区间
func shrinkRange(p, n, q, m int) (int, int) {
	switch {
	case q >= p+n:
		return p, n
	case q+m <= p:
		return p - m, n
	default:
		ov := minInt(p+n, q+m) - maxInt(p, q)
		if q < p {
			p = q
		}
		return p, n - ov
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
