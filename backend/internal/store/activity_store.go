package store

import (
	"context"

	"gorm.io/gorm"

	"collabCore/backend/internal/collab"
)

// ActivityLog 活动日志落库，kafka 之外的第二落点
type ActivityLog struct{ db *gorm.DB }

func NewActivityLog(db *gorm.DB) *ActivityLog {
	return &ActivityLog{db: db}
}

func (s *ActivityLog) AppendActivity(ctx context.Context, evt collab.ActivityEvent) error {
	rec := ActivityRecord{
		DocumentID:  evt.DocID,
		EventType:   evt.EventType,
		ActorID:     evt.ActorID,
		SessionID:   evt.SessionID,
		OperationID: evt.OperationID,
		Version:     evt.Version,
		Detail:      evt.Detail,
		CreatedAt:   evt.At,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// RecentActivity 倒序取最近 limit 条，审计视图用
func (s *ActivityLog) RecentActivity(ctx context.Context, docID string, limit int) ([]collab.ActivityEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var recs []ActivityRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]collab.ActivityEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, collab.ActivityEvent{
			EventType:   rec.EventType,
			DocID:       rec.DocumentID,
			ActorID:     rec.ActorID,
			SessionID:   rec.SessionID,
			OperationID: rec.OperationID,
			Version:     rec.Version,
			Detail:      rec.Detail,
			At:          rec.CreatedAt,
		})
	}
	return out, nil
}
