package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ops-console/domain"
)

// DefaultImportTokenTTL bounds how long an import preview can be confirmed.
const DefaultImportTokenTTL = 10 * time.Minute

// ErrImportNotFound is returned for unknown, expired or already used tokens.
var ErrImportNotFound = errors.New("import token not found")

// RedisImports stores filtered import previews in Redis so any instance can
// confirm them. Tokens are scoped to the user that created them and can be
// used once.
type RedisImports struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisImports creates a pending import store with the given token TTL.
func NewRedisImports(client *redis.Client, ttl time.Duration) *RedisImports {
	if ttl <= 0 {
		ttl = DefaultImportTokenTTL
	}
	return &RedisImports{client: client, ttl: ttl}
}

func (r *RedisImports) key(userID, token string) string {
	return fmt.Sprintf("import:%s:%s", userID, token)
}

// Put parks items and returns the confirmation token.
func (r *RedisImports) Put(ctx context.Context, userID string, items []domain.Item) (string, error) {
	data, err := sonic.ConfigStd.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode pending import: %w", err)
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(userID, token), data, r.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("import token collision")
	}
	return token, nil
}

// Take returns the parked items and removes the token.
func (r *RedisImports) Take(ctx context.Context, userID, token string) ([]domain.Item, error) {
	data, err := r.client.GetDel(ctx, r.key(userID, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrImportNotFound
	}
	if err != nil {
		return nil, err
	}
	var items []domain.Item
	if err := sonic.ConfigStd.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode pending import: %w", err)
	}
	return items, nil
}
