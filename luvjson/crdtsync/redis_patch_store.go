package crdtsync

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdtpatch"
	"reactivecrdt/luvjson/crdtpubsub"
)

// RedisStreamsPatchStore는 Redis Streams에 패치를 보관하는 저장소입니다.
// 스트림 항목 하나가 패치 하나이고, 중복 저장은 패치 ID 집합으로 막습니다.
type RedisStreamsPatchStore struct {
	client *redis.Client

	// streamKey는 패치를 쌓는 스트림 키입니다.
	streamKey string

	// format은 패치 인코딩 형식입니다.
	format crdtpubsub.EncodingFormat

	// maxLen이 0보다 크면 스트림 길이를 제한합니다.
	maxLen int64
}

// NewRedisStreamsPatchStore는 새 Redis Streams 패치 저장소를 생성합니다.
// 클라이언트의 수명은 호출자가 관리합니다.
func NewRedisStreamsPatchStore(client *redis.Client, streamKey string, format crdtpubsub.EncodingFormat, maxLen int64) (*RedisStreamsPatchStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if streamKey == "" {
		return nil, errors.New("stream key cannot be empty")
	}
	if format == "" {
		format = crdtpubsub.EncodingFormatJSON
	}
	if _, err := crdtpubsub.GetEncoderDecoder(format); err != nil {
		return nil, err
	}
	return &RedisStreamsPatchStore{
		client:    client,
		streamKey: streamKey,
		format:    format,
		maxLen:    maxLen,
	}, nil
}

func (s *RedisStreamsPatchStore) idsKey() string {
	return s.streamKey + ":ids"
}

// StorePatch는 처음 보는 패치만 스트림에 추가합니다.
func (s *RedisStreamsPatchStore) StorePatch(ctx context.Context, patch *crdtpatch.Patch) error {
	patchID := patch.ID().String()

	added, err := s.client.SAdd(ctx, s.idsKey(), patchID).Result()
	if err != nil {
		return errors.Wrap(err, "failed to record patch id")
	}
	if added == 0 {
		return nil
	}

	encoder, _ := crdtpubsub.GetEncoderDecoder(s.format)
	data, err := encoder.Encode(patch)
	if err != nil {
		return errors.Wrap(err, "failed to encode patch")
	}

	args := &redis.XAddArgs{
		Stream: s.streamKey,
		ID:     "*",
		Values: map[string]interface{}{
			"id":     patchID,
			"sid":    patch.SessionID().String(),
			"seq":    strconv.FormatUint(patch.ID().Counter, 10),
			"format": string(s.format),
			"data":   data,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.client.SRem(ctx, s.idsKey(), patchID)
		return errors.Wrap(err, "failed to add patch to stream")
	}
	return nil
}

// GetPatches는 상태 벡터 이후의 패치를 Lamport 순서로 반환합니다.
func (s *RedisStreamsPatchStore) GetPatches(ctx context.Context, stateVector map[string]uint64) ([]*crdtpatch.Patch, error) {
	messages, err := s.client.XRange(ctx, s.streamKey, "-", "+").Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read patch stream")
	}

	var patches []*crdtpatch.Patch
	for _, message := range messages {
		id, ok := messageID(message)
		if !ok || !missing(id, stateVector) {
			continue
		}
		patch, err := decodeMessage(message)
		if err != nil {
			return nil, errors.Wrapf(err, "stream entry %s", message.ID)
		}
		patches = append(patches, patch)
	}
	sortPatches(patches)
	return patches, nil
}

// GetPatch는 특정 ID의 패치를 반환합니다.
func (s *RedisStreamsPatchStore) GetPatch(ctx context.Context, id common.LogicalTimestamp) (*crdtpatch.Patch, error) {
	messages, err := s.client.XRange(ctx, s.streamKey, "-", "+").Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read patch stream")
	}
	for _, message := range messages {
		if msgID, ok := messageID(message); ok && msgID == id {
			return decodeMessage(message)
		}
	}
	return nil, common.ErrNotFound{Message: "patch " + id.String()}
}

// Close는 아무것도 하지 않습니다. 클라이언트는 호출자가 닫습니다.
func (s *RedisStreamsPatchStore) Close() error {
	return nil
}

func messageID(message redis.XMessage) (common.LogicalTimestamp, bool) {
	sidStr, ok := message.Values["sid"].(string)
	if !ok {
		return common.LogicalTimestamp{}, false
	}
	seqStr, ok := message.Values["seq"].(string)
	if !ok {
		return common.LogicalTimestamp{}, false
	}
	sid, err := common.ParseSessionID(sidStr)
	if err != nil {
		return common.LogicalTimestamp{}, false
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return common.LogicalTimestamp{}, false
	}
	return common.LogicalTimestamp{SID: sid, Counter: seq}, true
}

func decodeMessage(message redis.XMessage) (*crdtpatch.Patch, error) {
	data, ok := message.Values["data"].(string)
	if !ok {
		return nil, errors.New("missing patch data")
	}
	format, _ := message.Values["format"].(string)
	return crdtpubsub.DecodePatch([]byte(data), crdtpubsub.EncodingFormat(format))
}
