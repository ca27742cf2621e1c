package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() {
		_ = rdb.FlushAll(context.Background()).Err()
		_ = rdb.Close()
	})
	return rdb
}

func TestPresence_TouchAndAliveSessions(t *testing.T) {
	rdb := testClient(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	if err := p.Touch(ctx, "doc1", "s1", 11, 10*time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	if err := p.Touch(ctx, "doc1", "s2", 22, 10*time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	// 已过期的会话（TTL 为负即 expireAt 在过去）
	if err := p.Touch(ctx, "doc1", "s3", 33, -time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}

	entries, err := p.AliveSessions(ctx, "doc1")
	if err != nil {
		t.Fatalf("AliveSessions error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("AliveSessions = %d entries, want 2 (expired swept)", len(entries))
	}
	owners := map[string]uint64{}
	for _, e := range entries {
		owners[e.SessionID] = e.UserID
	}
	if owners["s1"] != 11 || owners["s2"] != 22 {
		t.Fatalf("owners = %v, want s1->11 s2->22", owners)
	}
}

func TestPresence_RemoveSession(t *testing.T) {
	rdb := testClient(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	if err := p.Touch(ctx, "doc1", "s1", 11, 10*time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	if err := p.Remove(ctx, "doc1", "s1"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	entries, err := p.AliveSessions(ctx, "doc1")
	if err != nil {
		t.Fatalf("AliveSessions error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("AliveSessions = %d entries after Remove, want 0", len(entries))
	}
}

func TestPresence_DocumentsFiltersOwnerKeys(t *testing.T) {
	rdb := testClient(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	if err := p.Touch(ctx, "doc1", "s1", 11, 10*time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	if err := p.Touch(ctx, "doc2", "s2", 22, 10*time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}

	docs, err := p.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents error: %v", err)
	}
	found := map[string]bool{}
	for _, d := range docs {
		found[d] = true
	}
	if !found["doc1"] || !found["doc2"] || len(found) != 2 {
		t.Fatalf("Documents = %v, want exactly doc1 and doc2", docs)
	}
}

func TestPresence_CursorRoundTrip(t *testing.T) {
	rdb := testClient(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	data := []byte(`{"pos":5}`)
	if err := p.SetCursor(ctx, "doc1", "s1", data, time.Minute); err != nil {
		t.Fatalf("SetCursor error: %v", err)
	}
	got, err := p.GetCursor(ctx, "doc1", "s1")
	if err != nil {
		t.Fatalf("GetCursor error: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("GetCursor = %s, want %s", got, data)
	}

	if err := p.ClearCursor(ctx, "doc1", "s1"); err != nil {
		t.Fatalf("ClearCursor error: %v", err)
	}
	if _, err := p.GetCursor(ctx, "doc1", "s1"); err != redis.Nil {
		t.Fatalf("GetCursor after clear err = %v, want redis.Nil", err)
	}
}
