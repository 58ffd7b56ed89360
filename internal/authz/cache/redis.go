package authzcache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	epochSubjectPrefix = "authz:epoch:s:"
	epochScopePrefix   = "authz:epoch:r:"
	scanBatch          = 256
)

// Redis is the distributed backend shared by an instance fleet. Decision
// entries expire server-side; epoch counters are plain INCR keys without
// expiry so they can only move forward.
type Redis struct {
	client *redis.Client
	ns     string
}

// NewRedis constructs the backend. namespace bounds Purge scans and must
// prefix every key handed to Put, e.g. "authz:dec:".
func NewRedis(client *redis.Client, namespace string) *Redis {
	return &Redis{client: client, ns: namespace}
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Put implements Store.
func (r *Redis) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, payload, ttl).Err()
}

// Purge implements Store. It scans the namespace and deletes matches in
// batches.
func (r *Redis) Purge(ctx context.Context, match func(key string) bool) (int, error) {
	if match == nil {
		return 0, nil
	}
	iter := r.client.Scan(ctx, 0, r.ns+"*", scanBatch).Iterator()
	removed := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		key := iter.Val()
		if !match(key) {
			continue
		}
		batch = append(batch, key)
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Keys implements Store. Entries that vanish between the scan and the TTL
// probe are skipped.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]KeyInfo, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	var infos []KeyInfo
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := r.client.PTTL(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if ttl <= 0 {
			continue
		}
		infos = append(infos, KeyInfo{Key: key, TTL: ttl})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PrincipalEpoch implements Epochs.
func (r *Redis) PrincipalEpoch(ctx context.Context, subjectID string) (int64, error) {
	epoch, err := r.client.Get(ctx, epochSubjectPrefix+subjectID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return epoch, err
}

// ScopeEpochs implements Epochs.
func (r *Redis) ScopeEpochs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = epochScopePrefix + strconv.FormatInt(id, 10)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	epochs := make([]int64, len(ids))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		epoch, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		epochs[i] = epoch
	}
	return epochs, nil
}

// BumpPrincipal implements Epochs.
func (r *Redis) BumpPrincipal(ctx context.Context, subjectID string) (int64, error) {
	return r.client.Incr(ctx, epochSubjectPrefix+subjectID).Result()
}

// BumpScope implements Epochs.
func (r *Redis) BumpScope(ctx context.Context, id int64) (int64, error) {
	return r.client.Incr(ctx, epochScopePrefix+strconv.FormatInt(id, 10)).Result()
}
