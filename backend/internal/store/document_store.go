package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentStore 文档台账，首次加入时登记，归档时打标
type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) EnsureDocument(ctx context.Context, docID string, ownerID uint64) error {
	rec := DocumentRecord{ID: docID, OwnerID: ownerID}
	// 已存在则不动：owner 是首个加入者，后来者不抢
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (s *DocumentStore) SetArchived(ctx context.Context, docID string, archived bool) error {
	return s.db.WithContext(ctx).
		Model(&DocumentRecord{}).
		Where("id = ?", docID).
		Update("archived", archived).Error
}

func (s *DocumentStore) IsArchived(ctx context.Context, docID string) (bool, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).Select("archived").First(&rec, "id = ?", docID).Error
	if err != nil {
		return false, err
	}
	return rec.Archived, nil
}
