package store

import (
	"context"
	"errors"
	"fmt"

	"banglaCollab/backend/internal/collab"
	"banglaCollab/backend/internal/entity"

	"gorm.io/gorm"
)

var ErrDocumentMissing = errors.New("document row missing")

// 字段名 -> documents 表列名
var fieldColumns = map[string]string{
	collab.FieldBanglish: "banglish_content",
	collab.FieldBangla:   "bangla_content",
	collab.FieldTitle:    "title",
	collab.FieldCaption:  "caption",
	collab.FieldTags:     "tags",
	collab.FieldStatus:   "status",
}

// GormDocumentStore：MySQL 上的 collab.DocumentStore
type GormDocumentStore struct {
	db *gorm.DB
}

var _ collab.DocumentStore = (*GormDocumentStore)(nil)

func NewGormDocumentStore(db *gorm.DB) *GormDocumentStore {
	return &GormDocumentStore{db: db}
}

func (s *GormDocumentStore) Load(ctx context.Context, docID string) (map[string]string, error) {
	var doc entity.Document
	err := s.db.WithContext(ctx).Where("id = ?", docID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 没找到，返回 nil, nil
		}
		return nil, err
	}
	return documentFields(&doc), nil
}

// Save 只更新可编辑字段，owner / isPublic / pdfUrl 等不动
func (s *GormDocumentStore) Save(ctx context.Context, docID string, fields map[string]string) error {
	updates := make(map[string]any, len(fields))
	for name, v := range fields {
		if col, ok := fieldColumns[name]; ok {
			updates[col] = v
		}
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&entity.Document{}).Where("id = ?", docID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// 值没变时 MySQL 也报 0 行，确认一下行还在不在
	var n int64
	if err := s.db.WithContext(ctx).Model(&entity.Document{}).Where("id = ?", docID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentMissing, docID)
	}
	return nil
}

func documentFields(doc *entity.Document) map[string]string {
	status := doc.Status
	if status == "" {
		status = collab.StatusDraft
	}
	return map[string]string{
		collab.FieldBanglish: doc.BanglishContent,
		collab.FieldBangla:   doc.BanglaContent,
		collab.FieldTitle:    doc.Title,
		collab.FieldCaption:  doc.Caption,
		collab.FieldTags:     doc.Tags,
		collab.FieldStatus:   status,
	}
}
