package entity

import "time"

// Document 文档表。tags 以逗号分隔存一列
type Document struct {
	ID              string `gorm:"primaryKey;type:varchar(64)"`
	OwnerID         string `gorm:"type:varchar(64);index"`
	Title           string `gorm:"type:varchar(255)"`
	Caption         string `gorm:"type:text"`
	BanglishContent string `gorm:"type:longtext"`
	BanglaContent   string `gorm:"type:longtext"`
	Tags            string `gorm:"type:varchar(1024)"`
	Status          string `gorm:"type:varchar(16);default:Draft"`
	IsPublic        bool   `gorm:"default:false"`
	PDFURL          string `gorm:"column:pdf_url;type:varchar(512)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Document) TableName() string { return "documents" }

// DocumentSnapshot 每次落库之后追加一条历史。
// Revision 按文档单调递增，(document_id, revision) 唯一；SessionSeq 是落库时会话内的 seq，重新加载后从 0 计
type DocumentSnapshot struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID string `gorm:"type:varchar(64);uniqueIndex:uk_doc_rev"`
	Revision   uint64 `gorm:"uniqueIndex:uk_doc_rev"`
	SessionSeq uint64
	Content    string `gorm:"type:longtext"`
	CreatedAt  time.Time
}

func (DocumentSnapshot) TableName() string { return "document_snapshots" }
