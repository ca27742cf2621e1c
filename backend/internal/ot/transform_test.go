package ot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func insertOp(id string, pos int, text string, userID uint64, ts time.Time) Operation {
	return Operation{ID: id, Kind: KindInsert, Pos: pos, Text: text, Meta: Metadata{UserID: userID, Timestamp: ts}}
}

func deleteOp(id string, pos, length int, userID uint64, ts time.Time) Operation {
	return Operation{ID: id, Kind: KindDelete, Pos: pos, Length: length, Meta: Metadata{UserID: userID, Timestamp: ts}}
}

// 按顺序把操作段应用到字符串上
func applyTo(t *testing.T, s string, ops ...Operation) string {
	t.Helper()
	for _, op := range ops {
		r := []rune(s)
		require.NoError(t, op.Validate(len(r)))
		switch op.Kind {
		case KindInsert:
			s = string(r[:op.Pos]) + op.Text + string(r[op.Pos:])
		case KindDelete:
			s = string(r[:op.Pos]) + string(r[op.Pos+op.Length:])
		case KindMove:
			moved := string(r[op.Pos : op.Pos+op.Length])
			rest := string(r[:op.Pos]) + string(r[op.Pos+op.Length:])
			rr := []rune(rest)
			s = string(rr[:op.TargetPos]) + moved + string(rr[op.TargetPos:])
		case KindRetain, KindFormat:
			// 不改文本
		}
	}
	return s
}

// 双向收敛：a、b 基于同一版本并发，两种提交顺序结果一致
func requireConverge(t *testing.T, base string, a, b Operation) string {
	t.Helper()
	docA := applyTo(t, base, a)
	bT, err := Transform(b, []Operation{a}, len([]rune(docA)))
	require.NoError(t, err)
	resultAB := applyTo(t, docA, bT...)

	docB := applyTo(t, base, b)
	aT, err := Transform(a, []Operation{b}, len([]rune(docB)))
	require.NoError(t, err)
	resultBA := applyTo(t, docB, aT...)

	require.Equal(t, resultAB, resultBA)
	return resultAB
}

func TestTransform_ConcurrentInsertsDisjoint(t *testing.T) {
	a := insertOp("a", 0, "X", 1, t0)
	b := insertOp("b", 5, "Y", 2, t0)
	got := requireConverge(t, "hello", a, b)
	require.Equal(t, "XhelloY", got)
}

func TestTransform_ConcurrentInsertsSamePosition(t *testing.T) {
	// 同位置并发 insert：时间戳早者占左
	a := insertOp("a", 2, "AA", 1, t0)
	b := insertOp("b", 2, "BB", 2, t0.Add(time.Second))
	got := requireConverge(t, "hello", a, b)
	require.Equal(t, "heAABBllo", got)
}

func TestTransform_SamePositionSameTimestampTieBreak(t *testing.T) {
	// 时间戳相同退回 userId 比较，小者占左
	a := insertOp("a", 2, "AA", 7, t0)
	b := insertOp("b", 2, "BB", 3, t0)
	got := requireConverge(t, "hello", a, b)
	require.Equal(t, "heBBAAllo", got)
}

func TestTransform_InsertShiftedByCommittedInsert(t *testing.T) {
	com := insertOp("com", 0, "abc", 1, t0)
	in := insertOp("in", 2, "X", 2, t0.Add(time.Second))
	out, err := Transform(in, []Operation{com}, 8) // "hello" + "abc"
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 5, out[0].Pos)
}

func TestTransform_InsertInsideCommittedDelete(t *testing.T) {
	// 插入点落在已删除范围内：钳到删除起点
	com := deleteOp("com", 1, 3, 1, t0)
	in := insertOp("in", 3, "X", 2, t0)
	out, err := Transform(in, []Operation{com}, 2) // "hello" 删 3 字符后长度 2
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, out[0].Pos)

	got := requireConverge(t, "hello", com, in)
	require.Equal(t, "hXo", got)
}

func TestTransform_DeleteSplitsAroundCommittedInsert(t *testing.T) {
	// 已提交 insert 落在待删范围内部：删除裂成两段，新插入的内容保留
	com := insertOp("com", 3, "XY", 1, t0)
	in := deleteOp("in", 1, 4, 2, t0)

	docAfterInsert := applyTo(t, "abcdef", com)
	require.Equal(t, "abcXYdef", docAfterInsert)

	out, err := Transform(in, []Operation{com}, 8)
	require.NoError(t, err)
	require.Len(t, out, 2)
	// 两段共享原操作 ID
	require.Equal(t, "in", out[0].ID)
	require.Equal(t, "in", out[1].ID)

	got := applyTo(t, docAfterInsert, out...)
	require.Equal(t, "aXYf", got)
}

func TestTransform_DeleteSplitThenLaterCommittedInsert(t *testing.T) {
	// 删除裂段之后还有后续已提交 insert：
	// 后续插入的内容必须保留，原本要删的字符必须删干净
	com1 := insertOp("c1", 3, "X", 1, t0)
	com2 := insertOp("c2", 4, "Y", 1, t0.Add(time.Second))
	in := deleteOp("in", 2, 3, 2, t0)

	doc := applyTo(t, "01abc", com1, com2)
	require.Equal(t, "01aXYbc", doc)

	out, err := Transform(in, []Operation{com1, com2}, 7)
	require.NoError(t, err)
	got := applyTo(t, doc, out...)
	require.Equal(t, "01XY", got)
}

func TestTransform_DeleteSplitTwice(t *testing.T) {
	// 待删范围内部先后落了两个已提交 insert：裂成三段
	com1 := insertOp("c1", 2, "X", 1, t0)
	com2 := insertOp("c2", 4, "Y", 1, t0.Add(time.Second))
	in := deleteOp("in", 1, 4, 2, t0)

	doc := applyTo(t, "abcdef", com1, com2)
	require.Equal(t, "abXcYdef", doc)

	out, err := Transform(in, []Operation{com1, com2}, 8)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, seg := range out {
		require.Equal(t, "in", seg.ID)
	}
	got := applyTo(t, doc, out...)
	require.Equal(t, "aXYf", got)
}

func TestTransform_DeleteSplitThenLaterCommittedDelete(t *testing.T) {
	// 裂段之后的已提交 delete 作用在尾段上：尾段要按共同坐标系收缩
	com1 := insertOp("c1", 3, "X", 1, t0)
	com2 := deleteOp("c2", 5, 1, 1, t0.Add(time.Second))
	in := deleteOp("in", 2, 3, 2, t0)

	doc := applyTo(t, "01abc", com1, com2) // "01aXbc" 删 pos5("c") → "01aXb"
	require.Equal(t, "01aXb", doc)

	out, err := Transform(in, []Operation{com1, com2}, 5)
	require.NoError(t, err)
	got := applyTo(t, doc, out...)
	require.Equal(t, "01X", got)
}

func TestTransform_DeleteFullyCoveredBecomesRetain(t *testing.T) {
	// 待删范围已被全部删除：退化为 retain，保留 ID
	com := deleteOp("com", 1, 4, 1, t0)
	in := deleteOp("in", 2, 2, 2, t0)
	out, err := Transform(in, []Operation{com}, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, KindRetain, out[0].Kind)
	require.Equal(t, "in", out[0].ID)
	require.True(t, out[0].IsNoop())
}

func TestTransform_DeleteDeleteOverlapConverges(t *testing.T) {
	a := deleteOp("a", 1, 3, 1, t0)
	b := deleteOp("b", 2, 4, 2, t0)
	got := requireConverge(t, "abcdef", a, b)
	require.Equal(t, "a", got)
}

func TestTransform_IdenticalDeletesConverge(t *testing.T) {
	a := deleteOp("a", 1, 3, 1, t0)
	b := deleteOp("b", 1, 3, 2, t0)
	got := requireConverge(t, "abcdef", a, b)
	require.Equal(t, "aef", got)
}

func TestTransform_FormatRangeExtendedByInsertInside(t *testing.T) {
	com := insertOp("com", 2, "XY", 1, t0)
	in := Operation{ID: "in", Kind: KindFormat, Pos: 1, Length: 3, Attrs: map[string]any{"bold": true}}
	out, err := Transform(in, []Operation{com}, 7)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, out[0].Pos)
	require.Equal(t, 5, out[0].Length)
}

func TestTransform_FormatRangeShrunkByDeleteOverlap(t *testing.T) {
	com := deleteOp("com", 0, 2, 1, t0)
	in := Operation{ID: "in", Kind: KindFormat, Pos: 1, Length: 3, Attrs: map[string]any{"bold": true}}
	out, err := Transform(in, []Operation{com}, 3) // "hello" 删 2 后长度 3
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 0, out[0].Pos)
	require.Equal(t, 2, out[0].Length)
}

func TestTransform_MoveAgainstCommittedInsert(t *testing.T) {
	// "abcdef"：把 "bc" 挪到末尾；并发 insert 在挪动源之前
	com := insertOp("com", 0, "XX", 1, t0)
	in := Operation{ID: "in", Kind: KindMove, Pos: 1, Length: 2, TargetPos: 4, Meta: Metadata{UserID: 2, Timestamp: t0}}
	out, err := Transform(in, []Operation{com}, 8)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 3, out[0].Pos)
	require.Equal(t, 6, out[0].TargetPos)

	doc := applyTo(t, "abcdef", com) // "XXabcdef"
	got := applyTo(t, doc, out...)
	require.Equal(t, "XXadefbc", got)
}

func TestTransform_MoveAsDeleteInsertComposition(t *testing.T) {
	// 已提交 move 对 incoming insert 的影响 = 源删除 + 目标插入
	com := Operation{ID: "com", Kind: KindMove, Pos: 0, Length: 2, TargetPos: 3, Meta: Metadata{UserID: 1, Timestamp: t0}}
	in := insertOp("in", 4, "Z", 2, t0.Add(time.Second))
	doc := applyTo(t, "abcde", com) // "cdeab"
	require.Equal(t, "cdeab", doc)

	out, err := Transform(in, []Operation{com}, 5)
	require.NoError(t, err)
	got := applyTo(t, doc, out...)
	// 原 insert 位于 d 和 e 之间（pos 4 基于 "abcde"），move 后仍应如此
	require.Equal(t, "cdZeab", got)
}

func TestTransform_OutOfBoundsRejected(t *testing.T) {
	in := deleteOp("in", 3, 5, 1, t0)
	_, err := Transform(in, nil, 4)
	require.ErrorIs(t, err, ErrMalformedOperation)
}

func TestCheckDependencies(t *testing.T) {
	committed := map[string]bool{"op-1": true}
	isCommitted := func(id string) bool { return committed[id] }

	ok := Operation{ID: "x", Kind: KindInsert, Meta: Metadata{Dependencies: []string{"op-1"}}}
	require.NoError(t, CheckDependencies(ok, isCommitted))

	bad := Operation{ID: "y", Kind: KindInsert, Meta: Metadata{Dependencies: []string{"op-1", "op-9"}}}
	require.ErrorIs(t, CheckDependencies(bad, isCommitted), ErrUnresolvableDependency)
}

func TestTransform_DuplicateDeliverySameResult(t *testing.T) {
	// 同一操作对同一前缀重复变换得到相同结果（幂等识别的前提）
	com := insertOp("com", 2, "XY", 1, t0)
	in := deleteOp("in", 1, 4, 2, t0)
	first, err := Transform(in, []Operation{com}, 8)
	require.NoError(t, err)
	second, err := Transform(in, []Operation{com}, 8)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
