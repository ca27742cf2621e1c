package cache

import "fmt"

// 键语义：
// - roomKey(docID):              房间在线会话（ZSet<sessionId, expireAtUnix>，score=expireAt）
// - ownersKey(docID):            会话归属表（Hash<sessionId -> userId>）
// - cursorKey(docID,sessionID):  会话光标/选区 JSON（String，带 TTL）
//
// 在场状态按会话而不是按用户：同一用户多标签页是多个会话

const (
	keyRoomFmt   = "presence:room:%s"
	keyOwnersFmt = "presence:room:owners:%s"
	keyCursorFmt = "presence:cursor:%s:%s"
)

func roomKey(docID string) string                 { return fmt.Sprintf(keyRoomFmt, docID) }
func ownersKey(docID string) string               { return fmt.Sprintf(keyOwnersFmt, docID) }
func cursorKey(docID, sessionID string) string    { return fmt.Sprintf(keyCursorFmt, docID, sessionID) }
