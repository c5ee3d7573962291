package crdtstorage

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisAdapter는 Redis 기반 영구 저장소 어댑터입니다. 문서는 문자열 키에,
// 문서 ID 목록은 집합에 둡니다.
type RedisAdapter struct {
	client *redis.Client

	// keyPrefix는 Redis 키 접두사입니다.
	keyPrefix string
}

// NewRedisAdapter는 새 Redis 어댑터를 생성합니다. 클라이언트는 호출자가 닫습니다.
func NewRedisAdapter(client *redis.Client, keyPrefix string) (*RedisAdapter, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = "reactivecrdt"
	}
	return &RedisAdapter{client: client, keyPrefix: keyPrefix}, nil
}

func (a *RedisAdapter) documentKey(documentID string) string {
	return fmt.Sprintf("%s:doc:%s", a.keyPrefix, documentID)
}

func (a *RedisAdapter) listKey() string {
	return fmt.Sprintf("%s:docs", a.keyPrefix)
}

// SaveDocument는 문서와 목록 갱신을 한 트랜잭션으로 보냅니다.
func (a *RedisAdapter) SaveDocument(ctx context.Context, record *Record) error {
	if err := validateID(record.ID); err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, a.documentKey(record.ID), data, 0)
		pipe.SAdd(ctx, a.listKey(), record.ID)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to save document")
	}
	return nil
}

// LoadDocument는 문서를 Redis에서 읽습니다.
func (a *RedisAdapter) LoadDocument(ctx context.Context, documentID string) (*Record, error) {
	data, err := a.client.Get(ctx, a.documentKey(documentID)).Bytes()
	if err == redis.Nil {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get document")
	}
	return decodeRecord(data)
}

// ListDocuments는 문서 ID를 정렬해 반환합니다.
func (a *RedisAdapter) ListDocuments(ctx context.Context) ([]string, error) {
	members, err := a.client.SMembers(ctx, a.listKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get document list")
	}
	sort.Strings(members)
	return members, nil
}

// DeleteDocument는 문서를 지우고 목록에서 뺍니다.
func (a *RedisAdapter) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, a.documentKey(documentID))
		pipe.SRem(ctx, a.listKey(), documentID)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	return nil
}

// Close는 아무것도 하지 않습니다.
func (a *RedisAdapter) Close() error {
	return nil
}
