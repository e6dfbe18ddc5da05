package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedSetKey = "auth:revoked"

// RevocationStore tracks revoked token ids. Entries expire with the longest
// possible token lifetime; a token past its exp is rejected by the validator
// anyway.
type RevocationStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRevocationStore(client *Client, ttl time.Duration) *RevocationStore {
	return &RevocationStore{rdb: client.Underlying(), ttl: ttl}
}

// Revoke marks a token id as revoked.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string) error {
	key := revokedSetKey + ":" + tokenID
	if err := s.rdb.Set(ctx, key, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token id has been revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	key := revokedSetKey + ":" + tokenID
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}
