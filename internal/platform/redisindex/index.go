// Package redisindex keeps pending reminders in per-user Redis sorted sets,
// scored by due time in epoch milliseconds. Members are notification ids.
package redisindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the prefix of every per-user reminder key.
const KeyPrefix = "reminders:user:"

const scanBatch = 200

// Index is a time-ordered reminder index backed by Redis ZSETs.
type Index struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns an Index using the default key prefix.
func New(rdb redis.UniversalClient) *Index {
	return &Index{rdb: rdb, prefix: KeyPrefix}
}

// NewClient parses a redis:// URL and connects.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key returns the index key holding userID's reminders.
func (ix *Index) Key(userID int64) string {
	return ix.prefix + strconv.FormatInt(userID, 10)
}

// UserFromKey extracts the user id from a key produced by Key.
func (ix *Index) UserFromKey(key string) (int64, error) {
	raw, ok := strings.CutPrefix(key, ix.prefix)
	if !ok {
		return 0, fmt.Errorf("key %q does not carry prefix %q", key, ix.prefix)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("key %q: invalid user id: %w", key, err)
	}
	return id, nil
}

// Add schedules notificationID for userID at due. Re-adding the same id
// only moves its score.
func (ix *Index) Add(ctx context.Context, userID, notificationID int64, due time.Time) error {
	err := ix.rdb.ZAdd(ctx, ix.Key(userID), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: strconv.FormatInt(notificationID, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd %s: %w", ix.Key(userID), err)
	}
	return nil
}

// Due returns the raw members of key whose score is at or before now, in
// ascending score order.
func (ix *Index) Due(ctx context.Context, key string, now time.Time) ([]string, error) {
	members, err := ix.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	return members, nil
}

// Remove deletes a raw member from key. Removing a missing member is not an error.
func (ix *Index) Remove(ctx context.Context, key, member string) error {
	if err := ix.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("zrem %s %s: %w", key, member, err)
	}
	return nil
}

// RemoveNotification deletes notificationID from userID's key.
func (ix *Index) RemoveNotification(ctx context.Context, userID, notificationID int64) error {
	return ix.Remove(ctx, ix.Key(userID), strconv.FormatInt(notificationID, 10))
}

// Keys lists every per-user key that currently holds entries. It walks the
// keyspace with SCAN so large keyspaces do not block Redis.
func (ix *Index) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64
	for {
		batch, next, err := ix.rdb.Scan(ctx, cursor, ix.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s*: %w", ix.prefix, err)
		}
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Ping checks the connection.
func (ix *Index) Ping(ctx context.Context) error {
	return ix.rdb.Ping(ctx).Err()
}
