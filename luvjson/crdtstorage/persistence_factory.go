package crdtstorage

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewPersistenceAdapter는 설정에 맞는 어댑터를 만듭니다. 원격 저장소는
// 연결을 확인한 뒤 반환하며, 반환된 어댑터의 Close가 연결도 닫습니다.
func NewPersistenceAdapter(ctx context.Context, opts *StorageOptions) (PersistenceAdapter, error) {
	if opts == nil {
		opts = DefaultStorageOptions()
	}

	switch opts.PersistenceType {
	case PersistenceMemory, "":
		return NewMemoryAdapter(), nil

	case PersistenceFile:
		return NewFileAdapter(opts.PersistencePath)

	case PersistenceBadger:
		return NewBadgerAdapter(opts.PersistencePath)

	case PersistenceRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		pingCtx, cancel := withTimeout(ctx, opts)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrap(err, "failed to connect to redis")
		}
		adapter, err := NewRedisAdapter(client, opts.KeyPrefix)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &closingAdapter{PersistenceAdapter: adapter, close: client.Close}, nil

	case PersistenceMongoDB:
		connectCtx, cancel := withTimeout(ctx, opts)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.MongoURI))
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to mongodb")
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			client.Disconnect(context.Background())
			return nil, errors.Wrap(err, "failed to ping mongodb")
		}
		adapter, err := NewMongoDBAdapter(client.Database(opts.MongoDatabase).Collection(opts.MongoCollection))
		if err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		return &closingAdapter{
			PersistenceAdapter: adapter,
			close:              func() error { return client.Disconnect(context.Background()) },
		}, nil

	default:
		return nil, errors.Errorf("unsupported persistence type: %s", opts.PersistenceType)
	}
}

func withTimeout(ctx context.Context, opts *StorageOptions) (context.Context, context.CancelFunc) {
	if opts.ConnectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.ConnectTimeout)
}

// closingAdapter는 어댑터가 만든 클라이언트 연결을 함께 닫습니다.
type closingAdapter struct {
	PersistenceAdapter
	close func() error
}

func (a *closingAdapter) Close() error {
	if err := a.PersistenceAdapter.Close(); err != nil {
		return err
	}
	return a.close()
}
