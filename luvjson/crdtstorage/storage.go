package crdtstorage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdt"
)

// Storage는 crdt.Document 스냅샷을 어댑터에 저장하고 복원합니다.
// 문서 자체는 동시 접근에 안전하지 않으므로, 저장 중에 문서를 바꾸지
// 않도록 호출자가 직렬화해야 합니다.
type Storage struct {
	adapter PersistenceAdapter
	log     *zap.Logger
}

// NewStorage는 adapter 위에 Storage를 만듭니다.
func NewStorage(adapter PersistenceAdapter) *Storage {
	return &Storage{
		adapter: adapter,
		log:     lvlog.Named("storage"),
	}
}

// Adapter는 내부 어댑터를 반환합니다.
func (s *Storage) Adapter() PersistenceAdapter {
	return s.adapter
}

// SaveDocument는 문서의 현재 스냅샷을 저장하고 저장된 레코드를 반환합니다.
// 버전은 저장할 때마다 1씩 올라갑니다.
func (s *Storage) SaveDocument(ctx context.Context, documentID string, doc *crdt.Document, metadata map[string]string) (*Record, error) {
	snapshot, err := doc.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot document")
	}

	var version int64
	previous, err := s.adapter.LoadDocument(ctx, documentID)
	switch {
	case err == nil:
		version = previous.Version
	case !isNotFound(err):
		return nil, err
	}

	record := &Record{
		ID:           documentID,
		Snapshot:     snapshot,
		Version:      version + 1,
		LastModified: time.Now().UTC(),
		Metadata:     metadata,
	}
	if err := s.adapter.SaveDocument(ctx, record); err != nil {
		return nil, err
	}

	s.log.Debug("document saved",
		zap.String("document", documentID),
		zap.Int64("version", record.Version),
		zap.Int("bytes", len(snapshot)))
	return record, nil
}

// LoadDocument는 저장된 스냅샷으로 문서를 복원합니다. 복원된 문서는
// sessionID로 새 변경을 만듭니다.
func (s *Storage) LoadDocument(ctx context.Context, documentID string, sessionID common.SessionID) (*crdt.Document, *Record, error) {
	record, err := s.adapter.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	doc, err := crdt.NewDocumentFromSnapshot(record.Snapshot, sessionID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to restore document %s", documentID)
	}
	return doc, record, nil
}

// LoadOrCreate는 저장된 문서가 있으면 복원하고, 없으면 빈 문서를 만듭니다.
func (s *Storage) LoadOrCreate(ctx context.Context, documentID string, sessionID common.SessionID) (*crdt.Document, error) {
	doc, _, err := s.LoadDocument(ctx, documentID, sessionID)
	if isNotFound(err) {
		return crdt.NewDocument(sessionID), nil
	}
	return doc, err
}

// ListDocuments는 저장된 문서 ID 목록을 반환합니다.
func (s *Storage) ListDocuments(ctx context.Context) ([]string, error) {
	return s.adapter.ListDocuments(ctx)
}

// DeleteDocument는 문서를 삭제합니다.
func (s *Storage) DeleteDocument(ctx context.Context, documentID string) error {
	return s.adapter.DeleteDocument(ctx, documentID)
}

// Close는 어댑터를 닫습니다.
func (s *Storage) Close() error {
	return s.adapter.Close()
}

func isNotFound(err error) bool {
	var notFound common.ErrNotFound
	return errors.As(err, &notFound)
}
