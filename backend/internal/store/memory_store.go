package store

import (
	"context"
	"fmt"
	"sync"

	"banglaCollab/backend/internal/collab"
)

// MemoryStore 进程内的 collab.DocumentStore，本地开发 / 测试用
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]string
}

var _ collab.DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]string)}
}

// Seed 放入（或覆盖）一个文档
func (m *MemoryStore) Seed(docID string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docID] = copyFields(fields)
}

func (m *MemoryStore) Load(ctx context.Context, docID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	if !ok {
		return nil, nil
	}
	return copyFields(doc), nil
}

func (m *MemoryStore) Save(ctx context.Context, docID string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentMissing, docID)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
