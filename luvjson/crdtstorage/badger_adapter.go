package crdtstorage

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

const badgerKeyPrefix = "doc/"

// BadgerAdapter는 임베디드 Badger 데이터베이스에 문서를 보관합니다.
type BadgerAdapter struct {
	db *badger.DB
}

// NewBadgerAdapter는 path에 Badger 데이터베이스를 엽니다. path가 비어
// 있으면 메모리 모드로 엽니다.
func NewBadgerAdapter(path string) (*BadgerAdapter, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger")
	}
	return &BadgerAdapter{db: db}, nil
}

func badgerKey(documentID string) []byte {
	return []byte(badgerKeyPrefix + documentID)
}

// SaveDocument는 문서를 저장합니다.
func (a *BadgerAdapter) SaveDocument(ctx context.Context, record *Record) error {
	if err := validateID(record.ID); err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(record.ID), data)
	})
	return errors.Wrap(err, "failed to save document")
}

// LoadDocument는 문서를 읽습니다.
func (a *BadgerAdapter) LoadDocument(ctx context.Context, documentID string) (*Record, error) {
	var data []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(documentID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load document")
	}
	return decodeRecord(data)
}

// ListDocuments는 키 순서대로 문서 ID를 반환합니다.
func (a *BadgerAdapter) ListDocuments(ctx context.Context) ([]string, error) {
	var ids []string
	err := a.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerKeyPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	return ids, nil
}

// DeleteDocument는 문서를 삭제합니다.
func (a *BadgerAdapter) DeleteDocument(ctx context.Context, documentID string) error {
	err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(documentID))
	})
	return errors.Wrap(err, "failed to delete document")
}

// Close는 데이터베이스를 닫습니다.
func (a *BadgerAdapter) Close() error {
	return a.db.Close()
}
