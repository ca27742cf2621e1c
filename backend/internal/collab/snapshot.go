package collab

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// VersionSnapshot 某一版本的文档物化快照，创建后不可变。
// checksum 覆盖序列化内容，用于检测落盘损坏。
type VersionSnapshot struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"documentId"`
	Version    uint64     `json:"version"`
	Content    string     `json:"snapshot"`
	Spans      []AttrSpan `json:"spans,omitempty"`
	AuthorID   uint64     `json:"authorId"`
	Message    string     `json:"message,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	Checksum   string     `json:"checksum"`
}

func snapshotChecksum(docID string, version uint64, content string) string {
	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatUint(version, 10)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify 校验快照内容未被篡改/损坏
func (v VersionSnapshot) Verify() bool {
	return v.Checksum == snapshotChecksum(v.DocumentID, v.Version, v.Content)
}
