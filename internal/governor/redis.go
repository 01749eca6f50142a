package governor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a Redis hash per project:
//
//	<prefix>gov:<projectID> => HASH{enabled, limit, remaining}
//
// Check-and-decrement runs as a single server-side Lua script so that
// concurrent callers across processes cannot double-spend the last unit
// of budget.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	defaults Defaults
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "maestro:").
func NewRedisStore(client *redis.Client, prefix string, defaults Defaults) *RedisStore {
	if prefix == "" {
		prefix = "maestro:"
	}
	if defaults.Limit <= 0 {
		defaults.Limit = DefaultLimit
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		defaults: defaults,
	}
}

func (s *RedisStore) key(projectID string) string {
	return s.prefix + "gov:" + projectID
}

var (
	// Initializes defaults on first access, then atomically checks and
	// decrements the remaining budget. Returns {allowed, justReached}.
	redisCheckDecrLua = `
local key = KEYS[1]
local defEnabled = ARGV[1]
local defLimit = tonumber(ARGV[2])

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'enabled', defEnabled, 'limit', defLimit, 'remaining', defLimit)
end

if redis.call('HGET', key, 'enabled') ~= '1' then
	return {1, 0}
end

local remaining = tonumber(redis.call('HGET', key, 'remaining'))
if remaining <= 0 then
	return {0, 0}
end

remaining = remaining - 1
redis.call('HSET', key, 'remaining', remaining)
if remaining == 0 then
	return {1, 1}
end
return {1, 0}
`

	// Applies settings updates; a limit update resets remaining.
	// ARGV: defEnabled, defLimit, setLimit flag, limit, setEnabled flag, enabled.
	redisUpdateLua = `
local key = KEYS[1]
local defEnabled = ARGV[1]
local defLimit = tonumber(ARGV[2])

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'enabled', defEnabled, 'limit', defLimit, 'remaining', defLimit)
end

if ARGV[3] == '1' then
	local limit = tonumber(ARGV[4])
	redis.call('HSET', key, 'limit', limit, 'remaining', limit)
end
if ARGV[5] == '1' then
	redis.call('HSET', key, 'enabled', ARGV[6])
end

return redis.call('HMGET', key, 'enabled', 'limit', 'remaining')
`

	// Reads settings, initializing defaults on first access.
	redisGetLua = `
local key = KEYS[1]
local defEnabled = ARGV[1]
local defLimit = tonumber(ARGV[2])

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'enabled', defEnabled, 'limit', defLimit, 'remaining', defLimit)
end

return redis.call('HMGET', key, 'enabled', 'limit', 'remaining')
`
)

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *RedisStore) CheckAndDecrement(ctx context.Context, projectID string) (bool, bool, error) {
	res, err := s.client.Eval(ctx, redisCheckDecrLua,
		[]string{s.key(projectID)},
		boolArg(s.defaults.Enabled), s.defaults.Limit,
	).Result()
	if err != nil {
		return false, false, err
	}

	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return false, false, fmt.Errorf("governor: unexpected script reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	justReached, _ := vals[1].(int64)
	return allowed == 1, justReached == 1, nil
}

func (s *RedisStore) GetSettings(ctx context.Context, projectID string) (Settings, error) {
	res, err := s.client.Eval(ctx, redisGetLua,
		[]string{s.key(projectID)},
		boolArg(s.defaults.Enabled), s.defaults.Limit,
	).Result()
	if err != nil {
		return Settings{}, err
	}
	return parseSettingsReply(res)
}

func (s *RedisStore) UpdateSettings(ctx context.Context, projectID string, limit *int, enabled *bool) (Settings, error) {
	if limit != nil && *limit < 0 {
		return Settings{}, fmt.Errorf("governor: limit must be >= 0, got %d", *limit)
	}

	setLimit, limitVal := "0", 0
	if limit != nil {
		setLimit, limitVal = "1", *limit
	}
	setEnabled, enabledVal := "0", "0"
	if enabled != nil {
		setEnabled, enabledVal = "1", boolArg(*enabled)
	}

	res, err := s.client.Eval(ctx, redisUpdateLua,
		[]string{s.key(projectID)},
		boolArg(s.defaults.Enabled), s.defaults.Limit,
		setLimit, limitVal,
		setEnabled, enabledVal,
	).Result()
	if err != nil {
		return Settings{}, err
	}
	return parseSettingsReply(res)
}

func parseSettingsReply(res any) (Settings, error) {
	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return Settings{}, fmt.Errorf("governor: unexpected script reply %v", res)
	}

	asInt := func(v any) (int, error) {
		switch t := v.(type) {
		case int64:
			return int(t), nil
		case string:
			return strconv.Atoi(t)
		default:
			return 0, fmt.Errorf("governor: unexpected field type %T", v)
		}
	}

	enabledStr, _ := vals[0].(string)
	limit, err := asInt(vals[1])
	if err != nil {
		return Settings{}, err
	}
	remaining, err := asInt(vals[2])
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Enabled:   enabledStr == "1",
		Limit:     limit,
		Remaining: remaining,
	}, nil
}
