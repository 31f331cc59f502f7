package store

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the verification engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrTokenNotFound is returned when the requested token record does not exist.
var ErrTokenNotFound = errors.New("token not found")

// ErrTokenRecordCorrupt is returned when a stored token blob is invalid.
var ErrTokenRecordCorrupt = errors.New("token record corrupt")

const saveRefreshScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[2]))
redis.call("ZADD", KEYS[2], tonumber(ARGV[4]), ARGV[3])

local evicted = {}
local max = tonumber(ARGV[5])
if max > 0 then
  local count = redis.call("ZCARD", KEYS[2])
  if count > max then
    local excess = count - max
    local oldest = redis.call("ZRANGE", KEYS[2], 0, excess - 1)
    for _, member in ipairs(oldest) do
      redis.call("DEL", ARGV[6] .. member)
      redis.call("ZREM", KEYS[2], member)
      table.insert(evicted, member)
    end
  end
end

return evicted
`

var saveRefreshLua = redis.NewScript(saveRefreshScript)

const deleteIndexedScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return existed
`

var deleteIndexedLua = redis.NewScript(deleteIndexedScript)

const purgeUserScript = `
local removed = 0

local access = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, member in ipairs(access) do
  removed = removed + redis.call("DEL", ARGV[1] .. member)
end

local refresh = redis.call("ZRANGE", KEYS[2], 0, -1)
for _, member in ipairs(refresh) do
  removed = removed + redis.call("DEL", ARGV[2] .. member)
end

redis.call("DEL", KEYS[1], KEYS[2])
return removed
`

var purgeUserLua = redis.NewScript(purgeUserScript)

// Store is a Redis-backed token store that handles persistence,
// expiration, per-user quota eviction, and atomic bulk revocation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a token [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ak"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) accessKey(userID, tokenID string) string {
	return s.accessKeyPrefix(userID) + tokenID
}

func (s *Store) accessKeyPrefix(userID string) string {
	return s.prefix + ":at:" + userID + ":"
}

func (s *Store) accessIndexKey(userID string) string {
	return s.prefix + ":ai:" + userID
}

func (s *Store) refreshKey(userID string, hash [32]byte) string {
	return s.refreshKeyPrefix(userID) + hex.EncodeToString(hash[:])
}

func (s *Store) refreshKeyPrefix(userID string) string {
	return s.prefix + ":rt:" + userID + ":"
}

func (s *Store) refreshIndexKey(userID string) string {
	return s.prefix + ":ri:" + userID
}

// SaveAccess persists an [AccessRecord] with a TTL derived from its
// expiry and tracks the token ID in the user's access index.
//
//	Performance: 2 Redis commands in one transaction (SET + ZADD).
func (s *Store) SaveAccess(ctx context.Context, record *AccessRecord, ttl time.Duration) error {
	data, err := EncodeAccess(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accessKey(record.UserID, record.TokenID), data, ttl)
		pipe.ZAdd(ctx, s.accessIndexKey(record.UserID), redis.Z{
			Score:  float64(record.IssuedAt),
			Member: record.TokenID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// GetAccess retrieves an access record by user and token ID. Returns
// ErrTokenNotFound when the record is absent or already expired.
//
//	Performance: 1 Redis GET.
func (s *Store) GetAccess(ctx context.Context, userID, tokenID string) (*AccessRecord, error) {
	data, err := s.redis.Get(ctx, s.accessKey(userID, tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	record, err := DecodeAccess(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRecordCorrupt, err)
	}
	return record, nil
}

// VerifyAccess fetches the access record and compares the provided hash
// in constant time. Returns false with a nil error for absent records and
// hash mismatches; the two outcomes are indistinguishable to callers.
func (s *Store) VerifyAccess(ctx context.Context, userID, tokenID string, providedHash [32]byte) (bool, error) {
	record, err := s.GetAccess(ctx, userID, tokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}

	if subtle.ConstantTimeCompare(record.TokenHash[:], providedHash[:]) != 1 {
		return false, nil
	}
	return true, nil
}

// DeleteAccess removes an access record and its index entry. Returns
// whether the record existed; deleting an absent token is not an error.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) DeleteAccess(ctx context.Context, userID, tokenID string) (bool, error) {
	result, err := deleteIndexedLua.Run(
		ctx,
		s.redis,
		[]string{s.accessKey(userID, tokenID), s.accessIndexKey(userID)},
		tokenID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return result == 1, nil
}

// SaveRefresh persists a [RefreshRecord], appends it to the user's
// refresh index, and enforces the per-user quota by evicting the oldest
// records. The whole sequence runs as one Lua script so concurrent
// issuance can never leave the index above quota.
//
// Returns the hex-encoded hashes of records evicted to make room.
//
//	Performance: 1 Lua EVALSHA (SET + ZADD + conditional trim).
func (s *Store) SaveRefresh(ctx context.Context, record *RefreshRecord, ttl time.Duration, maxPerUser int) ([]string, error) {
	data, err := EncodeRefresh(record)
	if err != nil {
		return nil, err
	}

	result, err := saveRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.refreshKey(record.UserID, record.TokenHash), s.refreshIndexKey(record.UserID)},
		data,
		ttl.Milliseconds(),
		hex.EncodeToString(record.TokenHash[:]),
		record.IssuedAt,
		maxPerUser,
		s.refreshKeyPrefix(record.UserID),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid save script response", ErrRedisUnavailable)
	}

	evicted := make([]string, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case string:
			evicted = append(evicted, v)
		case []byte:
			evicted = append(evicted, string(v))
		default:
			return nil, fmt.Errorf("%w: invalid save script member", ErrRedisUnavailable)
		}
	}

	return evicted, nil
}

// GetRefresh retrieves a refresh record by its token hash. Returns
// ErrTokenNotFound when the record is absent or already expired.
//
//	Performance: 1 Redis GET.
func (s *Store) GetRefresh(ctx context.Context, userID string, hash [32]byte) (*RefreshRecord, error) {
	data, err := s.redis.Get(ctx, s.refreshKey(userID, hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	record, err := DecodeRefresh(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRecordCorrupt, err)
	}
	return record, nil
}

// DeleteRefresh removes a refresh record and its index entry. Returns
// whether the record existed; deleting an absent token is not an error.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) DeleteRefresh(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	result, err := deleteIndexedLua.Run(
		ctx,
		s.redis,
		[]string{s.refreshKey(userID, hash), s.refreshIndexKey(userID)},
		hex.EncodeToString(hash[:]),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return result == 1, nil
}

// DeleteAllForUser removes every access and refresh record for a user in
// one atomic script, along with both index sets. Returns the number of
// records that still existed at deletion time; index entries whose record
// already expired via TTL are cleaned up but not counted.
//
//	Performance: 1 Lua EVALSHA, O(tokens per user).
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	result, err := purgeUserLua.Run(
		ctx,
		s.redis,
		[]string{s.accessIndexKey(userID), s.refreshIndexKey(userID)},
		s.accessKeyPrefix(userID),
		s.refreshKeyPrefix(userID),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(result), nil
}

// CountActiveRefresh returns the number of refresh records for the user
// whose backing keys still exist. Index entries for TTL-expired records
// are excluded from the count and removed as a side effect.
func (s *Store) CountActiveRefresh(ctx context.Context, userID string) (int, error) {
	live, err := s.liveIndexMembers(ctx, s.refreshIndexKey(userID), s.refreshKeyPrefix(userID))
	if err != nil {
		return 0, err
	}
	return len(live), nil
}

// CountActiveAccess returns the number of access records for the user
// whose backing keys still exist.
func (s *Store) CountActiveAccess(ctx context.Context, userID string) (int, error) {
	live, err := s.liveIndexMembers(ctx, s.accessIndexKey(userID), s.accessKeyPrefix(userID))
	if err != nil {
		return 0, err
	}
	return len(live), nil
}

// ActiveRefresh returns the decoded refresh records still live for a
// user, ordered oldest first.
func (s *Store) ActiveRefresh(ctx context.Context, userID string) ([]*RefreshRecord, error) {
	members, err := s.redis.ZRange(ctx, s.refreshIndexKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*RefreshRecord{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(members) == 0 {
		return []*RefreshRecord{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.Get(ctx, s.refreshKeyPrefix(userID)+member)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*RefreshRecord, 0, len(members))
	for _, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		record, decErr := DecodeRefresh(data)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenRecordCorrupt, decErr)
		}
		records = append(records, record)
	}

	return records, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) liveIndexMembers(ctx context.Context, indexKey, keyPrefix string) ([]string, error) {
	members, err := s.redis.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.Exists(ctx, keyPrefix+member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(members))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		v, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		if v == 1 {
			live = append(live, members[i])
		} else {
			stale = append(stale, members[i])
		}
	}

	// Opportunistic cleanup of index entries whose records expired via TTL.
	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return live, nil
}
