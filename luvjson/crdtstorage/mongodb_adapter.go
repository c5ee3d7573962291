package crdtstorage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoRecord는 MongoDB 컬렉션에 저장되는 형태입니다. 스냅샷은 JSON
// 문자열 그대로 둡니다.
type mongoRecord struct {
	ID           string            `bson:"_id"`
	Snapshot     string            `bson:"snapshot"`
	Version      int64             `bson:"version"`
	LastModified time.Time         `bson:"lastModified"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
}

// MongoDBAdapter는 MongoDB 기반 영구 저장소 어댑터입니다.
type MongoDBAdapter struct {
	collection *mongo.Collection
}

// NewMongoDBAdapter는 새 MongoDB 어댑터를 생성합니다. 클라이언트 연결은
// 호출자가 관리합니다.
func NewMongoDBAdapter(collection *mongo.Collection) (*MongoDBAdapter, error) {
	if collection == nil {
		return nil, errors.New("mongodb collection cannot be nil")
	}
	return &MongoDBAdapter{collection: collection}, nil
}

// SaveDocument는 문서를 upsert합니다.
func (a *MongoDBAdapter) SaveDocument(ctx context.Context, record *Record) error {
	if err := validateID(record.ID); err != nil {
		return err
	}
	doc := mongoRecord{
		ID:           record.ID,
		Snapshot:     string(record.Snapshot),
		Version:      record.Version,
		LastModified: record.LastModified,
		Metadata:     record.Metadata,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"_id": record.ID}, doc, opts); err != nil {
		return errors.Wrap(err, "failed to save document")
	}
	return nil
}

// LoadDocument는 문서를 읽습니다.
func (a *MongoDBAdapter) LoadDocument(ctx context.Context, documentID string) (*Record, error) {
	var doc mongoRecord
	err := a.collection.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load document")
	}
	return &Record{
		ID:           doc.ID,
		Snapshot:     []byte(doc.Snapshot),
		Version:      doc.Version,
		LastModified: doc.LastModified,
		Metadata:     doc.Metadata,
	}, nil
}

// ListDocuments는 문서 ID를 오름차순으로 반환합니다.
func (a *MongoDBAdapter) ListDocuments(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1})
	cursor, err := a.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find documents")
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var result struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&result); err != nil {
			return nil, errors.Wrap(err, "failed to decode document")
		}
		ids = append(ids, result.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "cursor error")
	}
	return ids, nil
}

// DeleteDocument는 문서를 삭제합니다.
func (a *MongoDBAdapter) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := a.collection.DeleteOne(ctx, bson.M{"_id": documentID}); err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	return nil
}

// Close는 아무것도 하지 않습니다. 컬렉션의 클라이언트는 호출자가 닫습니다.
func (a *MongoDBAdapter) Close() error {
	return nil
}
