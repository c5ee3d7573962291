package crdtstorage

import "time"

// 지원하는 영구 저장소 유형입니다.
const (
	PersistenceMemory  = "memory"
	PersistenceFile    = "file"
	PersistenceRedis   = "redis"
	PersistenceBadger  = "badger"
	PersistenceMongoDB = "mongodb"
)

// StorageOptions는 영구 저장소 설정입니다.
type StorageOptions struct {
	// PersistenceType은 영구 저장소 유형입니다.
	// 지원되는 값: "memory", "file", "redis", "badger", "mongodb"
	PersistenceType string

	// PersistencePath는 파일 저장소의 디렉터리이거나 Badger 데이터베이스
	// 경로입니다. Badger에서 비어 있으면 메모리 모드입니다.
	PersistencePath string

	// RedisAddr은 Redis 서버 주소입니다.
	RedisAddr string

	// RedisPassword는 Redis 서버 비밀번호입니다.
	RedisPassword string

	// RedisDB는 Redis 데이터베이스 번호입니다.
	RedisDB int

	// KeyPrefix는 Redis 키 접두사입니다.
	KeyPrefix string

	// MongoURI는 MongoDB 연결 문자열입니다.
	MongoURI string

	// MongoDatabase와 MongoCollection은 문서를 둘 위치입니다.
	MongoDatabase   string
	MongoCollection string

	// ConnectTimeout은 원격 저장소 연결 확인에 쓰는 시간 제한입니다.
	ConnectTimeout time.Duration
}

// DefaultStorageOptions는 메모리 저장소 기본 설정을 반환합니다.
func DefaultStorageOptions() *StorageOptions {
	return &StorageOptions{
		PersistenceType: PersistenceMemory,
		RedisAddr:       "localhost:6379",
		KeyPrefix:       "reactivecrdt",
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "reactivecrdt",
		MongoCollection: "documents",
		ConnectTimeout:  5 * time.Second,
	}
}
