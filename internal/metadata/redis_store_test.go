package metadata

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"github.com/redis/go-redis/v9"
)

// newTestRedisStore connects to AVATAR_MIRROR_TEST_REDIS_ADDRESS and skips when unset.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	address := os.Getenv("AVATAR_MIRROR_TEST_REDIS_ADDRESS")
	if address == "" {
		t.Skip("AVATAR_MIRROR_TEST_REDIS_ADDRESS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: address})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	store, err := NewRedisStore(client, nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil, nil); err == nil {
		t.Fatalf("expected error without client")
	}
}

func TestRedisStoreRejectsInvalidRecordWithoutNetwork(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	store, err := NewRedisStore(client, nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	err = store.Set(context.Background(), mustCommentID(t, "1"), profiles.ProfileRecord{Source: profiles.SourceSocial})
	if !errors.Is(err, profiles.ErrInvalidRecord) {
		t.Fatalf("expected invalid record error, got %v", err)
	}
}

func TestRedisStoreKey(t *testing.T) {
	store := &RedisStore{}
	if key := store.key(mustCommentID(t, "42")); key != "avatar:comment:42" {
		t.Fatalf("unexpected key %s", key)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	commentID := mustCommentID(t, "redis-roundtrip")
	t.Cleanup(func() { _ = store.client.Del(ctx, store.key(commentID)).Err() })

	record := profiles.ProfileRecord{
		Source:            profiles.SourceFederatedFallback,
		IdentityHash:      testHash,
		ImageReferenceURL: "https://seccdn.libravatar.org/avatar/" + testHash,
	}
	if err := store.Set(ctx, commentID, record); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	loaded, found, err := store.Get(ctx, commentID)
	if err != nil || !found {
		t.Fatalf("expected record, found=%v err=%v", found, err)
	}
	if loaded.Source != record.Source || loaded.IdentityHash != record.IdentityHash {
		t.Fatalf("unexpected record %+v", loaded)
	}

	ttl, err := store.client.TTL(ctx, store.key(commentID)).Result()
	if err != nil {
		t.Fatalf("ttl failed: %v", err)
	}
	if ttl != -1 {
		t.Fatalf("expected no expiry, got %v", ttl)
	}
}
