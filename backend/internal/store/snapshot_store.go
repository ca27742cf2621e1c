package store

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collabCore/backend/internal/collab"
)

type SnapshotStore struct{ db *gorm.DB }

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap collab.VersionSnapshot) error {
	rec, err := toSnapshotRecord(snap)
	if err != nil {
		return err
	}
	// 快照不可变：同 ID 重复写入是空操作
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (s *SnapshotStore) LatestSnapshot(ctx context.Context, docID string) (collab.VersionSnapshot, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("version DESC, created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return collab.VersionSnapshot{}, collab.ErrVersionNotFound
		}
		return collab.VersionSnapshot{}, err
	}
	return fromSnapshotRecord(rec)
}

func (s *SnapshotStore) ListSnapshots(ctx context.Context, docID string) ([]collab.VersionSnapshot, error) {
	var recs []SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("version ASC, created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]collab.VersionSnapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := fromSnapshotRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func toSnapshotRecord(snap collab.VersionSnapshot) (SnapshotRecord, error) {
	spans, err := json.Marshal(snap.Spans)
	if err != nil {
		return SnapshotRecord{}, err
	}
	tags, err := json.Marshal(snap.Tags)
	if err != nil {
		return SnapshotRecord{}, err
	}
	return SnapshotRecord{
		ID:         snap.ID,
		DocumentID: snap.DocumentID,
		Version:    snap.Version,
		Content:    snap.Content,
		Spans:      spans,
		AuthorID:   snap.AuthorID,
		Message:    snap.Message,
		Tags:       tags,
		Checksum:   snap.Checksum,
		CreatedAt:  snap.CreatedAt,
	}, nil
}

func fromSnapshotRecord(rec SnapshotRecord) (collab.VersionSnapshot, error) {
	snap := collab.VersionSnapshot{
		ID:         rec.ID,
		DocumentID: rec.DocumentID,
		Version:    rec.Version,
		Content:    rec.Content,
		AuthorID:   rec.AuthorID,
		Message:    rec.Message,
		Checksum:   rec.Checksum,
		CreatedAt:  rec.CreatedAt,
	}
	if len(rec.Spans) > 0 {
		if err := json.Unmarshal(rec.Spans, &snap.Spans); err != nil {
			return collab.VersionSnapshot{}, err
		}
	}
	if len(rec.Tags) > 0 {
		if err := json.Unmarshal(rec.Tags, &snap.Tags); err != nil {
			return collab.VersionSnapshot{}, err
		}
	}
	return snap, nil
}
