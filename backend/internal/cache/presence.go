package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 在场状态的 redis 镜像。
// 进程内会话表是权威，这里只负责跨进程可见与重连恢复。
type PresenceCache interface {
	Touch(ctx context.Context, docID, sessionID string, userID uint64, ttl time.Duration) error
	Remove(ctx context.Context, docID, sessionID string) error
	AliveSessions(ctx context.Context, docID string) ([]PresenceEntry, error)
	Documents(ctx context.Context) ([]string, error)
	SetCursor(ctx context.Context, docID, sessionID string, data []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID, sessionID string) ([]byte, error)
	ClearCursor(ctx context.Context, docID, sessionID string) error
}

type PresenceEntry struct {
	SessionID string
	UserID    uint64
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// Touch 心跳即续期：刷新 TTL 也直接调用 Touch
func (p *redisPresence) Touch(ctx context.Context, docID, sessionID string, userID uint64, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: sessionID})
	tx.HSet(ctx, ownersKey(docID), sessionID, userID)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) Remove(ctx context.Context, docID, sessionID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), sessionID)
	tx.HDel(ctx, ownersKey(docID), sessionID)
	_, err := tx.Exec(ctx)
	return err
}

// AliveSessions 清理过期会话后返回仍在线的会话
func (p *redisPresence) AliveSessions(ctx context.Context, docID string) ([]PresenceEntry, error) {
	// 约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
	now := time.Now().Unix()
	luaScript := `
	-- KEYS[1] = roomKey(docID)
	-- KEYS[2] = ownersKey(docID)
	-- ARGV[1] = now (unix seconds)

	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
		redis.call("HDEL", KEYS[2], unpack(expired))
	end
	return #expired
	`

	script := redis.NewScript(luaScript)
	_, err := script.Run(ctx, p.rdb, []string{roomKey(docID), ownersKey(docID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	owners, err := p.rdb.HMGet(ctx, ownersKey(docID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	entries := make([]PresenceEntry, 0, len(aliveIDs))
	for i, sessionID := range aliveIDs {
		var uid uint64
		if owners[i] != nil {
			if s, ok := owners[i].(string); ok {
				uid, _ = strconv.ParseUint(s, 10, 64)
			}
		}
		entries = append(entries, PresenceEntry{SessionID: sessionID, UserID: uid})
	}
	return entries, nil
}

func (p *redisPresence) Documents(ctx context.Context) ([]string, error) {
	var documents []string
	iter := p.rdb.Scan(ctx, 0, "presence:room:*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		// ownersKey 也以 presence:room: 开头（presence:room:owners:{docID}），需要过滤
		if strings.Contains(k, ":owners:") {
			continue
		}
		docID := strings.TrimPrefix(k, "presence:room:")
		if docID != "" {
			documents = append(documents, docID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return documents, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, docID, sessionID string, data []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, sessionID), data, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, docID, sessionID string) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(docID, sessionID)).Bytes()
}

func (p *redisPresence) ClearCursor(ctx context.Context, docID, sessionID string) error {
	return p.rdb.Del(ctx, cursorKey(docID, sessionID)).Err()
}
