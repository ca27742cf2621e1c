package collab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpLog_AppendMonotonic(t *testing.T) {
	l := NewOpLog()
	require.Equal(t, uint64(0), l.Version())

	v1 := l.Append(AcceptedOp{OperationID: "a"})
	v2 := l.Append(AcceptedOp{OperationID: "b"})
	require.Equal(t, uint64(1), v1)
	require.Equal(t, uint64(2), v2)
	require.Equal(t, uint64(2), l.Version())
}

func TestOpLog_SliceSince(t *testing.T) {
	l := NewOpLog()
	l.Append(AcceptedOp{OperationID: "a"})
	l.Append(AcceptedOp{OperationID: "b"})
	l.Append(AcceptedOp{OperationID: "c"})

	out, err := l.SliceSince(1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "b", out[0].OperationID)
	require.Equal(t, "c", out[1].OperationID)

	out, err = l.SliceSince(3)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestOpLog_CompactBefore(t *testing.T) {
	l := NewOpLog()
	for _, id := range []string{"a", "b", "c", "d"} {
		l.Append(AcceptedOp{OperationID: id})
	}
	l.CompactBefore(2)
	require.Equal(t, uint64(2), l.Floor())
	// 版本号不受压缩影响
	require.Equal(t, uint64(4), l.Version())

	// floor 之前的 baseVersion 不可追溯
	_, err := l.SliceSince(1)
	require.ErrorIs(t, err, ErrStaleBase)

	out, err := l.SliceSince(2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// 压缩后 Contains 查不到旧记录（去重靠 appliedIDs）
	require.False(t, l.Contains("a"))
	require.True(t, l.Contains("c"))
}

func TestOpLog_Reset(t *testing.T) {
	l := NewOpLog()
	for _, id := range []string{"a", "b", "c"} {
		l.Append(AcceptedOp{OperationID: id})
	}
	l.Reset(1)
	require.Equal(t, uint64(1), l.Version())
	require.Equal(t, uint64(1), l.Floor())
	require.False(t, l.Contains("b"))

	v := l.Append(AcceptedOp{OperationID: "d"})
	require.Equal(t, uint64(2), v)
}

func TestOpLog_Lookup(t *testing.T) {
	l := NewOpLog()
	l.Append(AcceptedOp{OperationID: "a", AuthorID: 7})
	got, ok := l.Lookup("a")
	require.True(t, ok)
	require.Equal(t, uint64(7), got.AuthorID)
	_, ok = l.Lookup("missing")
	require.False(t, ok)
}
