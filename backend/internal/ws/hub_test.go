package ws

import (
	"sync"
	"testing"
	"time"

	"collabCore/backend/internal/collab"
)

// 内存假通道，替代真连接
type fakeChannel struct {
	mu   sync.Mutex
	id   string
	msgs []OutboundMessage
}

func (f *fakeChannel) SessionID() string { return f.id }

func (f *fakeChannel) Deliver(msg OutboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeChannel) received() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutboundMessage(nil), f.msgs...)
}

func TestHub_BroadcastOperationExcludesSender(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{id: "s1"}
	b := &fakeChannel{id: "s2"}
	h.Join("doc1", a)
	h.Join("doc1", b)

	op := collab.AcceptedOp{OperationID: "op-1", Version: 1, AppliedAt: time.Now()}
	h.BroadcastOperation("doc1", op, "s1")

	if got := a.received(); len(got) != 0 {
		t.Fatalf("sender received %d messages, want 0", len(got))
	}
	got := b.received()
	if len(got) != 1 {
		t.Fatalf("receiver got %d messages, want 1", len(got))
	}
	m, ok := got[0].(OperationMessage)
	if !ok {
		t.Fatalf("message type = %T, want OperationMessage", got[0])
	}
	if m.Type != "operation" || m.DocID != "doc1" || m.Op.OperationID != "op-1" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("broadcast message missing timestamp")
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{id: "s1"}
	b := &fakeChannel{id: "s2"}
	h.Join("doc1", a)
	h.Join("doc2", b)

	h.BroadcastPresence("doc1", "participant-joined", collab.Participant{SessionID: "s9"}, "")

	if len(a.received()) != 1 {
		t.Fatalf("doc1 member did not receive broadcast")
	}
	if len(b.received()) != 0 {
		t.Fatalf("doc2 member received doc1 broadcast")
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{id: "s1"}
	h.Join("doc1", a)
	h.Leave("doc1", "s1")

	h.BroadcastComment("doc1", "comment-added", collab.Thread{}, "")
	if len(a.received()) != 0 {
		t.Fatalf("left session still received broadcast")
	}
}

func TestHub_RestoreReachesEveryone(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{id: "s1"}
	b := &fakeChannel{id: "s2"}
	h.Join("doc1", a)
	h.Join("doc1", b)

	// 回滚通知不排除发起方
	h.BroadcastRestore("doc1", "v1", 3, 42)

	for _, ch := range []*fakeChannel{a, b} {
		got := ch.received()
		if len(got) != 1 {
			t.Fatalf("session %s got %d messages, want 1", ch.id, len(got))
		}
		m, ok := got[0].(RestoreMessage)
		if !ok {
			t.Fatalf("message type = %T, want RestoreMessage", got[0])
		}
		if m.Version != 3 || m.RestoredBy != 42 || m.VersionID != "v1" {
			t.Fatalf("unexpected restore message: %+v", m)
		}
	}
}
