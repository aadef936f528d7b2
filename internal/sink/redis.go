package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tanav.me/pong/internal/roster"
)

// RedisLeaderboard mirrors the leaderboard into a sorted set at key and an
// ordered JSON snapshot at key + ":snapshot". Both are replaced atomically.
// Set members are "name#rank" since display names are not unique.
type RedisLeaderboard struct {
	client redis.Cmdable
	key    string
}

func NewRedisLeaderboard(client redis.Cmdable, key string) *RedisLeaderboard {
	return &RedisLeaderboard{client: client, key: key}
}

func (r *RedisLeaderboard) SnapshotKey() string { return r.key + ":snapshot" }

func (r *RedisLeaderboard) SaveLeaderboard(ctx context.Context, entries []roster.Entry) error {
	if entries == nil {
		entries = []roster.Entry{}
	}
	snapshot, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}

	members := make([]redis.Z, 0, len(entries))
	for i, e := range entries {
		members = append(members, redis.Z{Score: float64(e.Score), Member: Member(e.Name, i+1)})
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, r.key, members...)
		}
		pipe.Set(ctx, r.SnapshotKey(), snapshot, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write leaderboard to redis: %w", err)
	}
	return nil
}

// LoadLeaderboard reads the ordered snapshot back.
func (r *RedisLeaderboard) LoadLeaderboard(ctx context.Context) ([]roster.Entry, error) {
	raw, err := r.client.Get(ctx, r.SnapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return []roster.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read leaderboard from redis: %w", err)
	}
	var entries []roster.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode leaderboard snapshot: %w", err)
	}
	return entries, nil
}

// Member is the sorted-set member for the entry at 1-based rank.
func Member(name string, rank int) string {
	return fmt.Sprintf("%s#%d", name, rank)
}
