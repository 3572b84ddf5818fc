package counterstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/variantopt/weightopt/pkg/log"
)

// RedisConfig is the subset of internal/config.Config this store needs.
type RedisConfig struct {
	Host     string
	Port     string
	DB       int
	Password string
}

type redisStore struct {
	rdb *redis.Client
}

// unlockScript deletes lockKey only if its current value still matches the
// token presented, so a process never releases a lock some other process
// has since acquired after this one's TTL expired.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Connect dials Redis, retrying with bounded backoff so a slow-starting
// Redis container (common in compose/k8s startup races) does not cause the
// service to exit immediately. Returns an error only once the retry budget
// is exhausted, which the caller should treat as a fatal, unrecoverable
// startup condition.
func Connect(ctx context.Context, cfg RedisConfig, maxAttempts int, backoff time.Duration) (Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = rdb.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return &redisStore{rdb: rdb}, nil
		}
		log.Warnf("counterstore: redis ping attempt %d/%d failed: %s", attempt, maxAttempts, lastErr)
		if attempt < maxAttempts {
			time.Sleep(backoff)
		}
	}
	return nil, fmt.Errorf("counterstore: could not reach redis after %d attempts: %w", maxAttempts, lastErr)
}

// New wraps an already-constructed redis client, used by tests against a
// miniredis instance and by callers that manage their own client lifecycle.
func New(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) IncrExposure(ctx context.Context, k Key) error {
	return s.rdb.HIncrBy(ctx, formatKey(k), "exposures", 1).Err()
}

func (s *redisStore) IncrConversion(ctx context.Context, k Key) error {
	return s.rdb.HIncrBy(ctx, formatKey(k), "conversions", 1).Err()
}

func (s *redisStore) GetCounters(ctx context.Context, k Key) (Counters, error) {
	fields, err := s.rdb.HGetAll(ctx, formatKey(k)).Result()
	if err != nil {
		return Counters{}, err
	}
	if len(fields) == 0 {
		return Counters{}, nil
	}

	c := Counters{}
	if v, ok := fields["exposures"]; ok {
		c.Exposures, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := fields["conversions"]; ok {
		c.Conversions, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := fields["weight"]; ok {
		w, err := strconv.ParseFloat(v, 64)
		if err == nil {
			c.Weight = &w
		}
	}
	if v, ok := fields["last_updated"]; ok {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			t := time.Unix(sec, 0).UTC()
			c.LastUpdated = &t
		}
	}
	return c, nil
}

// SetWeight writes weight and last_updated with a single HSET, so a reader
// never observes one field updated without the other. Exposure/conversion
// fields are untouched.
func (s *redisStore) SetWeight(ctx context.Context, k Key, weight float64, at time.Time) error {
	return s.rdb.HSet(ctx, formatKey(k),
		"weight", strconv.FormatFloat(weight, 'f', -1, 64),
		"last_updated", at.Unix(),
	).Err()
}

func (s *redisStore) ListKeys(ctx context.Context) ([]Key, error) {
	var keys []Key
	var cursor uint64
	for {
		raw, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 500).Result()
		if err != nil {
			return nil, err
		}
		for _, r := range raw {
			if k, ok := ParseKey(r); ok {
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// orphanedSinceField holds the unix timestamp k was first observed with no
// matching loaded datafile/feature. It lives on the same hash as the
// counters so a pruned key's whole record disappears in one DEL.
const orphanedSinceField = "orphaned_since"

func (s *redisStore) MarkOrphaned(ctx context.Context, k Key, at time.Time) (time.Time, error) {
	key := formatKey(k)
	set, err := s.rdb.HSetNX(ctx, key, orphanedSinceField, at.Unix()).Result()
	if err != nil {
		return time.Time{}, err
	}
	if set {
		return at, nil
	}
	v, err := s.rdb.HGet(ctx, key, orphanedSinceField).Result()
	if err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("counterstore: malformed %s for %s: %w", orphanedSinceField, key, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func (s *redisStore) ClearOrphaned(ctx context.Context, k Key) error {
	return s.rdb.HDel(ctx, formatKey(k), orphanedSinceField).Err()
}

func (s *redisStore) DeleteKey(ctx context.Context, k Key) error {
	return s.rdb.Del(ctx, formatKey(k)).Err()
}

func (s *redisStore) TryLock(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token, err := randomToken()
	if err != nil {
		return "", false, err
	}
	ok, err := s.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (s *redisStore) Unlock(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return unlockScript.Run(ctx, s.rdb, []string{lockKey}, token).Err()
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("counterstore: could not generate lock token: " + err.Error())
	}
	return hex.EncodeToString(buf), nil
}
