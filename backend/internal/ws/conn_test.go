package ws

import (
	"testing"

	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/policy"
)

func TestConn_DeliverAfterCloseIsDropped(t *testing.T) {
	c := NewConn(nil, NewHub(), "s1", 1, "alice", policy.FromRole("editor"), nil, nil)

	c.Deliver(ServerMessage{Type: "error", Content: "one"})
	c.closeSend()
	// 退房之后晚到的投递：丢弃，不 panic
	c.Deliver(ServerMessage{Type: "error", Content: "late"})
	c.closeSend()

	msg, ok := <-c.send
	if !ok {
		t.Fatalf("message enqueued before close was lost")
	}
	m, ok := msg.(ServerMessage)
	if !ok || m.Content != "one" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if _, ok := <-c.send; ok {
		t.Fatalf("queue should be closed with nothing after the close")
	}
}

func TestConn_HubFanoutDuringTeardown(t *testing.T) {
	// 扇出在锁外投递，快照里可能还留着正在退房的连接；
	// 并发退房不得触发向已关闭通道发送
	h := NewHub()
	c := NewConn(nil, h, "s1", 1, "alice", policy.FromRole("editor"), nil, nil)
	h.Join("doc1", c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			h.BroadcastPresence("doc1", "participant-left", collab.Participant{SessionID: "s2"}, "")
		}
	}()

	h.Leave("doc1", "s1")
	c.closeSend()
	<-done
}
