package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

const (
	keyPrefix  = "battle:"
	keyAllIDs  = "battle:ids"
	keyUserIdx = "battle:index:user:"
)

// Redis is the local-durable KV backend. Redis has no query capability,
// so a secondary index of known ids is maintained alongside every record,
// plus per-user index sets for participant-membership lookups.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(redisURL string) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedisWithClient wires an existing client. 테스트(miniredis) 연결용.
func NewRedisWithClient(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func battleKey(id string) string   { return keyPrefix + strings.TrimSpace(id) }
func userIdxKey(uid string) string { return keyUserIdx + strings.TrimSpace(uid) }

func (r *Redis) Save(ctx context.Context, b *domain.Battle) error {
	if b == nil || b.ID == "" {
		return backendErr("redis", "save", "", errf("nil or unidentified battle"))
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return backendErr("redis", "save", b.ID, err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, battleKey(b.ID), raw, 0)
	pipe.SAdd(ctx, keyAllIDs, b.ID)
	for i := range b.Participants {
		pipe.SAdd(ctx, userIdxKey(b.Participants[i].UserID), b.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return backendErr("redis", "save", b.ID, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, id string) (*domain.Battle, error) {
	raw, err := r.rdb.Get(ctx, battleKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr("redis", "load", id, err)
	}
	var b domain.Battle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, backendErr("redis", "load", id, err)
	}
	return &b, nil
}

func (r *Redis) LoadMany(ctx context.Context, f Filter) ([]*domain.Battle, error) {
	// Narrow via the per-user index when the filter names a participant,
	// otherwise scan the full id index.
	idxKey := keyAllIDs
	if f.UserID != "" {
		idxKey = userIdxKey(f.UserID)
	}
	ids, err := r.rdb.SMembers(ctx, idxKey).Result()
	if err != nil {
		return nil, backendErr("redis", "load_many", "", err)
	}
	out := []*domain.Battle{}
	for _, id := range ids {
		b, berr := r.Load(ctx, id)
		if berr != nil {
			return nil, berr
		}
		if b == nil {
			// 인덱스에 남은 죽은 항목 정리
			_ = r.rdb.SRem(ctx, idxKey, id).Err()
			continue
		}
		if f.Matches(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *Redis) Update(ctx context.Context, id string, p Patch) (*domain.Battle, error) {
	b, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	p.Apply(b)
	if err := r.Save(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	b, err := r.Load(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return ErrNotFound
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, battleKey(id))
	pipe.SRem(ctx, keyAllIDs, id)
	for i := range b.Participants {
		pipe.SRem(ctx, userIdxKey(b.Participants[i].UserID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return backendErr("redis", "delete", id, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
