package crdtstorage

import (
	"context"
	"sort"
	"sync"
)

// MemoryAdapter는 메모리 기반 영구 저장소 어댑터입니다. 테스트와 단일
// 프로세스 데모에 씁니다.
type MemoryAdapter struct {
	documents map[string]*Record
	mutex     sync.RWMutex
}

// NewMemoryAdapter는 새 메모리 어댑터를 생성합니다.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		documents: make(map[string]*Record),
	}
}

// SaveDocument는 레코드의 복사본을 저장합니다.
func (a *MemoryAdapter) SaveDocument(ctx context.Context, record *Record) error {
	if err := validateID(record.ID); err != nil {
		return err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.documents[record.ID] = cloneRecord(record)
	return nil
}

// LoadDocument는 저장된 레코드의 복사본을 반환합니다.
func (a *MemoryAdapter) LoadDocument(ctx context.Context, documentID string) (*Record, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	record, ok := a.documents[documentID]
	if !ok {
		return nil, notFound(documentID)
	}
	return cloneRecord(record), nil
}

// ListDocuments는 문서 ID를 정렬해 반환합니다.
func (a *MemoryAdapter) ListDocuments(ctx context.Context) ([]string, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	ids := make([]string, 0, len(a.documents))
	for id := range a.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteDocument는 문서를 삭제합니다.
func (a *MemoryAdapter) DeleteDocument(ctx context.Context, documentID string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	delete(a.documents, documentID)
	return nil
}

// Close는 저장된 문서를 모두 비웁니다.
func (a *MemoryAdapter) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.documents = make(map[string]*Record)
	return nil
}
