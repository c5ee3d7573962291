package crdtstorage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/common"
)

// Record는 저장소에 보관되는 문서 하나입니다. Snapshot은 crdt.Document의
// JSON 스냅샷이며, 복원하면 노드 ID와 상태 벡터까지 그대로 돌아옵니다.
type Record struct {
	ID           string            `json:"id"`
	Snapshot     json.RawMessage   `json:"snapshot"`
	Version      int64             `json:"version"`
	LastModified time.Time         `json:"lastModified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PersistenceAdapter는 영구 저장소 어댑터 인터페이스입니다.
// 구현체는 Record를 통째로 저장하고 읽기만 하며, 스냅샷 내용은 해석하지 않습니다.
type PersistenceAdapter interface {
	// SaveDocument는 문서를 저장합니다. 같은 ID가 있으면 덮어씁니다.
	SaveDocument(ctx context.Context, record *Record) error

	// LoadDocument는 문서를 로드합니다. 없으면 common.ErrNotFound를 반환합니다.
	LoadDocument(ctx context.Context, documentID string) (*Record, error)

	// ListDocuments는 저장된 문서 ID 목록을 반환합니다.
	ListDocuments(ctx context.Context) ([]string, error)

	// DeleteDocument는 문서를 삭제합니다. 없는 문서는 무시합니다.
	DeleteDocument(ctx context.Context, documentID string) error

	// Close는 어댑터를 닫습니다.
	Close() error
}

// ErrInvalidDocumentID는 저장소 키로 쓸 수 없는 문서 ID에 대해 반환됩니다.
var ErrInvalidDocumentID = errors.New("invalid document id")

// validateID는 파일 경로나 키 구분자로 해석될 수 있는 ID를 거부합니다.
func validateID(documentID string) error {
	if documentID == "" || documentID == "." || documentID == ".." || strings.ContainsAny(documentID, `/\:`) {
		return errors.Wrapf(ErrInvalidDocumentID, "%q", documentID)
	}
	return nil
}

func notFound(documentID string) error {
	return common.ErrNotFound{Message: "document not found: " + documentID}
}

// encodeRecord와 decodeRecord는 키-값 저장소에 넣을 바이트 표현을 다룹니다.
func encodeRecord(record *Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode record")
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "failed to decode record")
	}
	return &record, nil
}

func cloneRecord(record *Record) *Record {
	clone := *record
	clone.Snapshot = append(json.RawMessage(nil), record.Snapshot...)
	if record.Metadata != nil {
		clone.Metadata = make(map[string]string, len(record.Metadata))
		for k, v := range record.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
