package crdtstorage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
)

// adapterContract는 모든 어댑터가 같은 방식으로 동작하는지 확인합니다.
func adapterContract(t *testing.T, adapter PersistenceAdapter) {
	ctx := context.Background()

	_, err := adapter.LoadDocument(ctx, "missing")
	var notFoundErr common.ErrNotFound
	require.True(t, errors.As(err, &notFoundErr), "got %v", err)

	record := &Record{
		ID:           "todos",
		Snapshot:     []byte(`{"clock":1}`),
		Version:      3,
		LastModified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata:     map[string]string{"owner": "a"},
	}
	require.NoError(t, adapter.SaveDocument(ctx, record))
	require.NoError(t, adapter.SaveDocument(ctx, &Record{ID: "notes", Snapshot: []byte(`{}`), Version: 1}))

	loaded, err := adapter.LoadDocument(ctx, "todos")
	require.NoError(t, err)
	assert.Equal(t, record.ID, loaded.ID)
	assert.JSONEq(t, string(record.Snapshot), string(loaded.Snapshot))
	assert.Equal(t, record.Version, loaded.Version)
	assert.True(t, record.LastModified.Equal(loaded.LastModified))
	assert.Equal(t, record.Metadata, loaded.Metadata)

	ids, err := adapter.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "todos"}, ids)

	require.NoError(t, adapter.DeleteDocument(ctx, "notes"))
	require.NoError(t, adapter.DeleteDocument(ctx, "notes"))
	ids, err = adapter.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, ids)

	assert.ErrorIs(t, adapter.SaveDocument(ctx, &Record{ID: "../escape"}), ErrInvalidDocumentID)
}

func TestMemoryAdapter(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapterContract(t, adapter)
	require.NoError(t, adapter.Close())
}

func TestMemoryAdapter_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter()
	record := &Record{ID: "doc", Snapshot: []byte(`{}`), Metadata: map[string]string{"k": "v"}}
	require.NoError(t, adapter.SaveDocument(ctx, record))

	record.Metadata["k"] = "changed"
	loaded, err := adapter.LoadDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "v", loaded.Metadata["k"])
}

func TestFileAdapter(t *testing.T) {
	adapter, err := NewFileAdapter(t.TempDir())
	require.NoError(t, err)
	adapterContract(t, adapter)
}

func TestBadgerAdapter(t *testing.T) {
	adapter, err := NewBadgerAdapter("")
	require.NoError(t, err)
	defer adapter.Close()
	adapterContract(t, adapter)
}

func TestBadgerAdapter_OnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	adapter, err := NewBadgerAdapter(dir)
	require.NoError(t, err)
	require.NoError(t, adapter.SaveDocument(ctx, &Record{ID: "doc", Snapshot: []byte(`{}`), Version: 7}))
	require.NoError(t, adapter.Close())

	reopened, err := NewBadgerAdapter(dir)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.LoadDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.Version)
}

func TestRedisAdapter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	prefix := "test-" + common.NewSessionID().String()
	adapter, err := NewRedisAdapter(client, prefix)
	require.NoError(t, err)
	adapterContract(t, adapter)

	require.NoError(t, adapter.DeleteDocument(context.Background(), "todos"))
}

func TestNewRedisAdapter_NilClient(t *testing.T) {
	_, err := NewRedisAdapter(nil, "")
	assert.Error(t, err)
}

func TestMongoDBAdapter(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	opts := DefaultStorageOptions()
	opts.PersistenceType = PersistenceMongoDB
	opts.MongoURI = uri
	opts.MongoCollection = "test_" + common.NewSessionID().String()

	adapter, err := NewPersistenceAdapter(context.Background(), opts)
	require.NoError(t, err)
	defer adapter.Close()
	adapterContract(t, adapter)
}

func TestNewPersistenceAdapter(t *testing.T) {
	ctx := context.Background()

	adapter, err := NewPersistenceAdapter(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryAdapter{}, adapter)

	opts := DefaultStorageOptions()
	opts.PersistenceType = PersistenceFile
	opts.PersistencePath = t.TempDir()
	adapter, err = NewPersistenceAdapter(ctx, opts)
	require.NoError(t, err)
	assert.IsType(t, &FileAdapter{}, adapter)

	opts.PersistenceType = PersistenceBadger
	opts.PersistencePath = ""
	adapter, err = NewPersistenceAdapter(ctx, opts)
	require.NoError(t, err)
	assert.IsType(t, &BadgerAdapter{}, adapter)
	require.NoError(t, adapter.Close())

	opts.PersistenceType = "sql"
	_, err = NewPersistenceAdapter(ctx, opts)
	assert.Error(t, err)
}

func TestStorage_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(NewMemoryAdapter())
	defer storage.Close()

	doc := crdt.NewDocument(common.NewSessionID())
	arr, err := doc.GetArray("todos")
	require.NoError(t, err)
	require.NoError(t, arr.Push(map[string]any{"title": "write tests", "done": false}))
	text, err := doc.GetText("title")
	require.NoError(t, err)
	require.NoError(t, text.Insert(0, "list"))

	record, err := storage.SaveDocument(ctx, "doc-1", doc, map[string]string{"kind": "todo"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Version)

	record, err = storage.SaveDocument(ctx, "doc-1", doc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Version)

	sid := common.NewSessionID()
	restored, loadedRecord, err := storage.LoadDocument(ctx, "doc-1", sid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loadedRecord.Version)
	assert.Equal(t, sid, restored.SessionID())
	assert.Equal(t, doc.View(), restored.View())
	assert.Equal(t, doc.StateVector(), restored.StateVector())

	// 복원된 문서의 새 변경은 기존 카운터 뒤에 놓임
	restoredArr, err := restored.GetArray("todos")
	require.NoError(t, err)
	require.NoError(t, restoredArr.Push("next"))
	assert.Greater(t, restored.Clock(), doc.Clock())

	ids, err := storage.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)

	require.NoError(t, storage.DeleteDocument(ctx, "doc-1"))
	_, _, err = storage.LoadDocument(ctx, "doc-1", sid)
	assert.True(t, isNotFound(err))
}

func TestStorage_LoadOrCreate(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(NewMemoryAdapter())

	sid := common.NewSessionID()
	doc, err := storage.LoadOrCreate(ctx, "fresh", sid)
	require.NoError(t, err)
	assert.Equal(t, sid, doc.SessionID())
	assert.Equal(t, map[string]any{}, doc.View())
}

func TestStorage_CorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter()
	require.NoError(t, adapter.SaveDocument(ctx, &Record{ID: "bad", Snapshot: []byte(`{"root":42}`)}))

	storage := NewStorage(adapter)
	_, _, err := storage.LoadDocument(ctx, "bad", common.NewSessionID())
	assert.Error(t, err)
	_, err = storage.LoadOrCreate(ctx, "bad", common.NewSessionID())
	assert.Error(t, err)
}
