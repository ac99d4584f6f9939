package progress

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	answerPrefix = "a:"
	flagPrefix   = "f:"
	seedField    = "_seed"
)

// patchScript applies one delta to an existing progress hash and refreshes its TTL.
// It returns -1 when the hash does not exist so the caller can rebuild it first.
//
//	KEYS[1] progress hash
//	ARGV[1] ttl seconds
//	ARGV[2] answer field, ARGV[3] answer op (set|del|""), ARGV[4] answer JSON
//	ARGV[5] flag field,   ARGV[6] flag op (set|del|"")
var patchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if ARGV[3] == 'set' then
	redis.call('HSET', KEYS[1], ARGV[2], ARGV[4])
elseif ARGV[3] == 'del' then
	redis.call('HDEL', KEYS[1], ARGV[2])
end
if ARGV[6] == 'set' then
	redis.call('HSET', KEYS[1], ARGV[5], '1')
elseif ARGV[6] == 'del' then
	redis.call('HDEL', KEYS[1], ARGV[5])
end
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
local answered = 0
for _, field in ipairs(redis.call('HKEYS', KEYS[1])) do
	if string.sub(field, 1, 2) == 'a:' then
		answered = answered + 1
	end
end
return answered
`)

// RedisStore is the fast tier: one hash per key with a sliding TTL.
type RedisStore struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisStore creates the fast tier. Every call is bounded by timeout.
func NewRedisStore(rdb *redis.Client, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &RedisStore{rdb: rdb, timeout: timeout}
}

func redisKey(key Key) string {
	return config.CacheKey.ProgressKey(key.UserID, key.ScheduleID)
}

// Get returns ErrMiss for an absent or expired hash and ErrStaleOrMissingProgress
// for a hash whose fields cannot be decoded.
func (s *RedisStore) Get(ctx context.Context, key Key) (*model.Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.rdb.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall: %w", ErrProgressUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}
	return decodeHash(fields)
}

// Put replaces the whole hash.
func (s *RedisStore) Put(ctx context.Context, key Key, p *model.Progress, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	values, err := encodeHash(p)
	if err != nil {
		return err
	}

	k := redisKey(key)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, values)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put: %w", ErrProgressUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: del: %w", ErrProgressUnavailable, err)
	}
	return nil
}

// Patch returns ErrMiss when the hash is gone; the caller rebuilds it and retries.
func (s *RedisStore) Patch(ctx context.Context, key Key, patch model.ProgressPatch, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pos := strconv.Itoa(patch.Position)
	var answerOp, answerJSON, flagOp string
	if patch.Answer != nil {
		if patch.Answer.IsEmpty() {
			answerOp = "del"
		} else {
			raw, err := sonic.MarshalString(patch.Answer)
			if err != nil {
				return 0, fmt.Errorf("encode answer: %w", err)
			}
			answerOp, answerJSON = "set", raw
		}
	}
	if patch.Flagged != nil {
		flagOp = "del"
		if *patch.Flagged {
			flagOp = "set"
		}
	}

	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	n, err := patchScript.Run(ctx, s.rdb, []string{redisKey(key)},
		seconds, answerPrefix+pos, answerOp, answerJSON, flagPrefix+pos, flagOp,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: patch: %w", ErrProgressUnavailable, err)
	}
	if n < 0 {
		return 0, ErrMiss
	}
	return n, nil
}

func encodeHash(p *model.Progress) (map[string]interface{}, error) {
	values := map[string]interface{}{seedField: "1"}
	if p == nil {
		return values, nil
	}
	for pos, a := range p.Answers {
		if a.IsEmpty() {
			continue
		}
		raw, err := sonic.MarshalString(a)
		if err != nil {
			return nil, fmt.Errorf("encode answer %d: %w", pos, err)
		}
		values[answerPrefix+strconv.Itoa(pos)] = raw
	}
	for pos, flagged := range p.Flags {
		if flagged {
			values[flagPrefix+strconv.Itoa(pos)] = "1"
		}
	}
	return values, nil
}

func decodeHash(fields map[string]string) (*model.Progress, error) {
	p := model.NewProgress()
	for field, raw := range fields {
		switch {
		case field == seedField:
		case strings.HasPrefix(field, answerPrefix):
			pos, err := strconv.Atoi(strings.TrimPrefix(field, answerPrefix))
			if err != nil {
				return nil, fmt.Errorf("%w: field %q", ErrStaleOrMissingProgress, field)
			}
			var a model.Answer
			if err := sonic.UnmarshalString(raw, &a); err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrStaleOrMissingProgress, field, err)
			}
			p.Answers[pos] = a
		case strings.HasPrefix(field, flagPrefix):
			pos, err := strconv.Atoi(strings.TrimPrefix(field, flagPrefix))
			if err != nil {
				return nil, fmt.Errorf("%w: field %q", ErrStaleOrMissingProgress, field)
			}
			p.Flags[pos] = raw == "1"
		}
	}
	return p, nil
}
