package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"banglaCollab/backend/internal/collab"

	"github.com/go-sql-driver/mysql"
)

// 两个实例同时给同一文档追加历史时 revision 会撞唯一键，重试几次
const snapshotInsertAttempts = 3

type SnapshotRow struct {
	Revision   uint64    `json:"revision"`
	SessionSeq uint64    `json:"sessionSeq"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SnapshotStore 追加写 document_snapshots，实现 collab.SnapshotStore
type SnapshotStore struct{ db *sql.DB }

var _ collab.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveDocumentSnapshot revision 取该文档当前最大值 +1
func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, docID string, seq uint64, content string) error {
	var err error
	for i := 0; i < snapshotInsertAttempts; i++ {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO document_snapshots (document_id, revision, session_seq, content, created_at)
			SELECT ?, COALESCE(MAX(revision), 0) + 1, ?, ?, NOW(3)
			FROM document_snapshots WHERE document_id = ?`,
			docID,
			seq,
			content,
			docID,
		)
		var mysqlErr *mysql.MySQLError
		if err == nil || !errors.As(err, &mysqlErr) || mysqlErr.Number != 1062 {
			return err
		}
	}
	return err
}

// ListSnapshots 按 revision 倒序取最近 limit 条
func (s *SnapshotStore) ListSnapshots(ctx context.Context, docID string, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT revision, session_seq, content, created_at FROM document_snapshots
		WHERE document_id = ? ORDER BY revision DESC LIMIT ?`,
		docID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.Revision, &r.SessionSeq, &r.Content, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
