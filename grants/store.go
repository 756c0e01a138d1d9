// Package grants persists each owner's cached access list in Redis and
// publishes access and anchoring events to a Redis stream.
package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"jtrace-service/models"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "access:grants:"

// Store is the persisted side of the access grant registry.
type Store interface {
	// Load returns the owner's entries; an owner never seen returns none.
	Load(ctx context.Context, owner string) ([]models.Grant, error)
	// Save replaces the owner's entries as a whole.
	Save(ctx context.Context, owner string, entries []models.Grant) error
	// Owners lists every owner with persisted entries.
	Owners(ctx context.Context) ([]string, error)
}

type RedisStore struct {
	c *redis.Client
}

func NewRedisStore(c *redis.Client) *RedisStore { return &RedisStore{c: c} }

func ownerKey(owner string) string { return keyPrefix + owner }

func (s *RedisStore) Load(ctx context.Context, owner string) ([]models.Grant, error) {
	raw, err := s.c.Get(ctx, ownerKey(owner)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []models.Grant{}, nil
		}
		return nil, fmt.Errorf("load grants for %s: %w", owner, err)
	}
	var entries []models.Grant
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode grants for %s: %w", owner, err)
	}
	return entries, nil
}

func (s *RedisStore) Save(ctx context.Context, owner string, entries []models.Grant) error {
	sorted := append([]models.Grant(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Delegate < sorted[j].Delegate })

	raw, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode grants for %s: %w", owner, err)
	}
	if err := s.c.Set(ctx, ownerKey(owner), raw, 0).Err(); err != nil {
		return fmt.Errorf("save grants for %s: %w", owner, err)
	}
	return nil
}

func (s *RedisStore) Owners(ctx context.Context) ([]string, error) {
	var owners []string
	var cursor uint64
	for {
		keys, next, err := s.c.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan grant owners: %w", err)
		}
		for _, k := range keys {
			owners = append(owners, strings.TrimPrefix(k, keyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(owners)
	return owners, nil
}
