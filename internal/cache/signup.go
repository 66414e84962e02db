package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/model"
)

// Signup key suffixes. The hash maps email to its creation time in Unix
// milliseconds; the sorted set orders emails by insertion sequence.
const (
	signupTimesKey = "signups:ts"
	signupOrderKey = "signups:order"
	signupSeqKey   = "signups:seq"
	signupLastKey  = "signups:last_ms"
)

// appendSignupScript checks and inserts in one step so concurrent appends
// of the same email resolve to exactly one winner, across processes too.
// The creation time never goes backwards relative to the previous insert.
var appendSignupScript = redis.NewScript(`
	local times_key = KEYS[1]
	local order_key = KEYS[2]
	local seq_key = KEYS[3]
	local last_key = KEYS[4]
	local email = ARGV[1]
	local now = ARGV[2]

	if redis.call('HEXISTS', times_key, email) == 1 then
		return {0, 0, 0}
	end

	local last = redis.call('GET', last_key)
	if last and tonumber(last) > tonumber(now) then
		now = last
	end

	local seq = redis.call('INCR', seq_key)
	redis.call('HSET', times_key, email, now)
	redis.call('ZADD', order_key, seq, email)
	redis.call('SET', last_key, now)

	return {1, seq, tonumber(now)}
`)

func (c *Cache) key(suffix string) string {
	return c.prefix + suffix
}

// Exists reports whether email is already on the waitlist.
func (c *Cache) Exists(ctx context.Context, email string) (bool, error) {
	ok, err := c.client.HExists(ctx, c.key(signupTimesKey), email).Result()
	if err != nil {
		return false, ledger.Unavailable(ledger.BackendRedis, ledger.OpExists, err)
	}
	return ok, nil
}

// Append records email with the current time.
func (c *Cache) Append(ctx context.Context, email string) (*model.SignupRecord, error) {
	keys := []string{
		c.key(signupTimesKey),
		c.key(signupOrderKey),
		c.key(signupSeqKey),
		c.key(signupLastKey),
	}
	nowMs := strconv.FormatInt(c.now().UnixMilli(), 10)

	result, err := appendSignupScript.Run(ctx, c.client, keys, email, nowMs).Int64Slice()
	if err != nil {
		return nil, ledger.Unavailable(ledger.BackendRedis, ledger.OpAppend, err)
	}
	if len(result) != 3 {
		return nil, ledger.Unavailable(ledger.BackendRedis, ledger.OpAppend,
			fmt.Errorf("unexpected script reply of length %d", len(result)))
	}
	if result[0] == 0 {
		return nil, ledger.ErrDuplicateKey
	}

	return &model.SignupRecord{
		ID:        strconv.FormatInt(result[1], 10),
		Email:     email,
		CreatedAt: time.UnixMilli(result[2]).UTC(),
	}, nil
}

// Count returns the number of signups.
func (c *Cache) Count(ctx context.Context) (int, error) {
	n, err := c.client.HLen(ctx, c.key(signupTimesKey)).Result()
	if err != nil {
		return 0, ledger.Unavailable(ledger.BackendRedis, ledger.OpCount, err)
	}
	return int(n), nil
}

// List returns every signup, newest first.
//
// An entry whose stored time cannot be parsed is reported as corrupt. In
// strict mode that fails the call; otherwise the entry is served with the
// Unix epoch as its time so Count and List stay consistent.
func (c *Cache) List(ctx context.Context) ([]*model.SignupRecord, error) {
	members, err := c.client.ZRevRangeWithScores(ctx, c.key(signupOrderKey), 0, -1).Result()
	if err != nil {
		return nil, ledger.Unavailable(ledger.BackendRedis, ledger.OpList, err)
	}
	if len(members) == 0 {
		return []*model.SignupRecord{}, nil
	}

	emails := make([]string, len(members))
	for i, m := range members {
		emails[i], _ = m.Member.(string)
	}

	values, err := c.client.HMGet(ctx, c.key(signupTimesKey), emails...).Result()
	if err != nil {
		return nil, ledger.Unavailable(ledger.BackendRedis, ledger.OpList, err)
	}

	records := make([]*model.SignupRecord, 0, len(members))
	for i, m := range members {
		createdAt, parseErr := parseMillis(values[i])
		if parseErr != nil {
			c.metrics.IncLedgerCorrupt()
			c.logger.Error("ledger_corrupt_state",
				slog.String("backend", ledger.BackendRedis),
				slog.String("op", ledger.OpList),
				slog.String("key", c.key(signupTimesKey)),
				slog.Bool("strict", c.strict),
				slog.String("error", parseErr.Error()),
			)
			if c.strict {
				return nil, fmt.Errorf("%w: %s: %v", ledger.ErrCorruptState, c.key(signupTimesKey), parseErr)
			}
			createdAt = time.UnixMilli(0).UTC()
		}

		records = append(records, &model.SignupRecord{
			ID:        strconv.FormatInt(int64(m.Score), 10),
			Email:     emails[i],
			CreatedAt: createdAt,
		})
	}

	return records, nil
}

// parseMillis converts an HMGET reply value into a UTC time.
func parseMillis(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}
