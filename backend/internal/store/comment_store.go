package store

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"collabCore/backend/internal/collab"
)

// CommentStore 评论持久化。评论行 append-only，
// 线程状态写在根评论那一行上。
type CommentStore struct{ db *gorm.DB }

func NewCommentStore(db *gorm.DB) *CommentStore {
	return &CommentStore{db: db}
}

func (s *CommentStore) SaveComment(ctx context.Context, docID string, c collab.Comment) error {
	mentions, err := json.Marshal(c.Mentions)
	if err != nil {
		return err
	}
	rec := CommentRecord{
		ID:         c.ID,
		DocumentID: docID,
		ThreadID:   c.ThreadID,
		AuthorID:   c.AuthorID,
		Content:    c.Content,
		Pos:        c.Pos,
		ElementID:  c.ElementID,
		Mentions:   mentions,
		CreatedAt:  c.CreatedAt,
	}
	if c.ID == c.ThreadID {
		// 根评论行承载线程状态
		rec.Status = string(collab.ThreadOpen)
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *CommentStore) UpdateThreadStatus(ctx context.Context, docID, rootCommentID string, status collab.ThreadStatus) error {
	return s.db.WithContext(ctx).
		Model(&CommentRecord{}).
		Where("document_id = ? AND id = ?", docID, rootCommentID).
		Update("status", string(status)).Error
}

// ListThreads 按线程聚合取回文档的全部评论，重启后热身用
func (s *CommentStore) ListThreads(ctx context.Context, docID string) ([]collab.Thread, error) {
	var recs []CommentRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	byThread := make(map[string]*collab.Thread)
	var order []string
	for _, rec := range recs {
		c := collab.Comment{
			ID:        rec.ID,
			AuthorID:  rec.AuthorID,
			Content:   rec.Content,
			Pos:       rec.Pos,
			ElementID: rec.ElementID,
			ThreadID:  rec.ThreadID,
			CreatedAt: rec.CreatedAt,
		}
		if len(rec.Mentions) > 0 {
			if err := json.Unmarshal(rec.Mentions, &c.Mentions); err != nil {
				return nil, err
			}
		}
		if rec.ID == rec.ThreadID {
			t := &collab.Thread{
				RootCommentID: rec.ID,
				Root:          c,
				Participants:  []uint64{c.AuthorID},
				Status:        collab.ThreadStatus(rec.Status),
			}
			if t.Status == "" {
				t.Status = collab.ThreadOpen
			}
			byThread[rec.ThreadID] = t
			order = append(order, rec.ThreadID)
			continue
		}
		if t, ok := byThread[rec.ThreadID]; ok {
			t.Replies = append(t.Replies, c)
			seen := false
			for _, p := range t.Participants {
				if p == c.AuthorID {
					seen = true
					break
				}
			}
			if !seen {
				t.Participants = append(t.Participants, c.AuthorID)
			}
		}
	}
	out := make([]collab.Thread, 0, len(order))
	for _, id := range order {
		out = append(out, *byThread[id])
	}
	return out, nil
}
