package metadata

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "avatar:comment:"

// RedisStore keeps one JSON document per comment, without expiry.
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisStore constructs a RedisStore over an existing client.
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, newStoreError("metadata.redis_store.new", "missing_client", errMissingClient)
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) key(commentID profiles.CommentID) string {
	return redisKeyPrefix + commentID.String()
}

// Get loads the record for a comment, reporting false when none exists.
func (s *RedisStore) Get(ctx context.Context, commentID profiles.CommentID) (profiles.ProfileRecord, bool, error) {
	payload, err := s.client.Get(ctx, s.key(commentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return profiles.ProfileRecord{}, false, nil
	}
	if err != nil {
		logError(s.logger, opGet, "query_failed", err, zap.String("comment_id", commentID.String()))
		return profiles.ProfileRecord{}, false, newStoreError(opGet, "query_failed", err)
	}
	var record profiles.ProfileRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		logError(s.logger, opGet, "decode_failed", err, zap.String("comment_id", commentID.String()))
		return profiles.ProfileRecord{}, false, newStoreError(opGet, "decode_failed", err)
	}
	return record, true, nil
}

// Set replaces the record stored for a comment.
func (s *RedisStore) Set(ctx context.Context, commentID profiles.CommentID, record profiles.ProfileRecord) error {
	if err := record.Validate(); err != nil {
		return newStoreError(opSet, "invalid_record", err)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return newStoreError(opSet, "encode_failed", err)
	}
	if err := s.client.Set(ctx, s.key(commentID), payload, 0).Err(); err != nil {
		logError(s.logger, opSet, "write_failed", err, zap.String("comment_id", commentID.String()))
		return newStoreError(opSet, "write_failed", err)
	}
	return nil
}
