package crdtstorage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const fileExt = ".json"

// FileAdapter는 문서마다 JSON 파일 하나를 두는 영구 저장소 어댑터입니다.
type FileAdapter struct {
	// basePath는 문서 파일이 저장될 디렉터리입니다.
	basePath string

	mutex sync.RWMutex
}

// NewFileAdapter는 basePath 디렉터리를 만들고 파일 어댑터를 생성합니다.
// 빈 경로는 "documents"입니다.
func NewFileAdapter(basePath string) (*FileAdapter, error) {
	if basePath == "" {
		basePath = "documents"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create directory")
	}
	return &FileAdapter{basePath: basePath}, nil
}

func (a *FileAdapter) path(documentID string) string {
	return filepath.Join(a.basePath, documentID+fileExt)
}

// SaveDocument는 임시 파일에 쓴 뒤 이름을 바꿔 문서를 교체합니다.
func (a *FileAdapter) SaveDocument(ctx context.Context, record *Record) error {
	if err := validateID(record.ID); err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	tmp, err := os.CreateTemp(a.basePath, record.ID+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close file")
	}
	if err := os.Rename(tmp.Name(), a.path(record.ID)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to replace file")
	}
	return nil
}

// LoadDocument는 문서 파일을 읽습니다.
func (a *FileAdapter) LoadDocument(ctx context.Context, documentID string) (*Record, error) {
	if err := validateID(documentID); err != nil {
		return nil, err
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	data, err := os.ReadFile(a.path(documentID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return decodeRecord(data)
}

// ListDocuments는 디렉터리의 문서 파일 이름에서 ID 목록을 만듭니다.
func (a *FileAdapter) ListDocuments(ctx context.Context) ([]string, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	entries, err := os.ReadDir(a.basePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read directory")
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := strings.CutSuffix(entry.Name(), fileExt); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteDocument는 문서 파일을 지웁니다.
func (a *FileAdapter) DeleteDocument(ctx context.Context, documentID string) error {
	if err := validateID(documentID); err != nil {
		return err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := os.Remove(a.path(documentID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "failed to remove file")
	}
	return nil
}

// Close는 아무것도 하지 않습니다.
func (a *FileAdapter) Close() error {
	return nil
}
