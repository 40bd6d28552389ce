package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRoomDirectory はルームの概要を Redis のハッシュに保存します
type RedisRoomDirectory struct{ rdb *redis.Client }

func NewRedisRoomDirectory(rdb *redis.Client) *RedisRoomDirectory {
	return &RedisRoomDirectory{rdb: rdb}
}

// Connect は Redis に接続し、疎通を確認します
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func roomKey(code string) string {
	return fmt.Sprintf("rooms:%s", code)
}

const roomsIndexKey = "rooms:active"

func summaryFields(room RoomSummary) map[string]any {
	return map[string]any{
		"code":             room.Code,
		"participantCount": strconv.Itoa(room.ParticipantCount),
		"messageCount":     strconv.Itoa(room.MessageCount),
		"lastActivityAt":   room.LastActivityAt.UTC().Format(time.RFC3339Nano),
	}
}

func (rr *RedisRoomDirectory) UpsertRoom(ctx context.Context, room RoomSummary, ttl time.Duration) error {
	pipe := rr.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(room.Code), summaryFields(room))
	pipe.Expire(ctx, roomKey(room.Code), ttl)
	pipe.ZAdd(ctx, roomsIndexKey, redis.Z{
		Score:  float64(room.LastActivityAt.UnixNano()),
		Member: room.Code,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert room %s: %w", room.Code, err)
	}
	return nil
}

func (rr *RedisRoomDirectory) RemoveRoom(ctx context.Context, code string) error {
	pipe := rr.rdb.TxPipeline()
	pipe.Del(ctx, roomKey(code))
	pipe.ZRem(ctx, roomsIndexKey, code)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove room %s: %w", code, err)
	}
	return nil
}
