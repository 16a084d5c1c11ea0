package quiz

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// cursorTTL keeps per-date keys from leaking; a day's cursor is only
// meaningful until results are published, 48h is generous.
const cursorTTL = 48 * time.Hour

// advanceScript advances the cursor only if it still holds the value the
// caller observed. Read-then-write is not enough here: two scheduler
// processes racing on the same date must never double-advance.
var advanceScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
	local next = tonumber(ARGV[1]) + 1
	redis.call("SET", KEYS[1], next, "KEEPTTL")
	redis.call("SET", KEYS[2], ARGV[2], "KEEPTTL")
	return next
end
return -1
`)

// CursorStore holds the Shared Advancement Cursor and the settlement fence
// in Redis. The cursor is the single authoritative "current question index"
// all live participants are synchronized to; it is not per-connection state.
type CursorStore struct {
	redis *redis.Client
}

// NewCursorStore builds a cursor store over the given Redis client.
func NewCursorStore(rdb *redis.Client) *CursorStore {
	return &CursorStore{redis: rdb}
}

func cursorKey(date string) string {
	return fmt.Sprintf("quiz:%s:cursor", date)
}

func startTimeKey(date string) string {
	return fmt.Sprintf("quiz:%s:question_start", date)
}

func fenceKey(date string) string {
	return fmt.Sprintf("quiz:%s:settle", date)
}

// Init seeds the cursor at index 0 with the current time as question start.
// Idempotent: if the cursor already exists (process restart mid-quiz) the
// persisted value is kept, never reset.
func (c *CursorStore) Init(ctx context.Context, date string, now time.Time) error {
	ok, err := c.redis.SetNX(ctx, cursorKey(date), 0, cursorTTL).Result()
	if err != nil {
		return fmt.Errorf("init cursor: %w", err)
	}
	if ok {
		if err := c.redis.Set(ctx, startTimeKey(date), now.UnixMilli(), cursorTTL).Err(); err != nil {
			return fmt.Errorf("init question start: %w", err)
		}
	}
	return nil
}

// Current returns the cursor for date, or (0, false) when no cursor exists.
func (c *CursorStore) Current(ctx context.Context, date string) (int, bool, error) {
	val, err := c.redis.Get(ctx, cursorKey(date)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cursor: %w", err)
	}
	idx, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor value %q: %w", val, err)
	}
	return idx, true, nil
}

// Advance atomically moves the cursor from observed to observed+1 and stamps
// the new question start time. Returns the new index and whether this caller
// won the advance; a lost race is not an error.
func (c *CursorStore) Advance(ctx context.Context, date string, observed int, now time.Time) (int, bool, error) {
	keys := []string{cursorKey(date), startTimeKey(date)}
	res, err := advanceScript.Run(ctx, c.redis, keys,
		strconv.Itoa(observed), now.UnixMilli()).Int()
	if err != nil {
		return 0, false, fmt.Errorf("advance cursor: %w", err)
	}
	if res < 0 {
		return 0, false, nil
	}
	return res, true, nil
}

// QuestionStartTime returns when the currently live question was started.
func (c *CursorStore) QuestionStartTime(ctx context.Context, date string) (time.Time, error) {
	val, err := c.redis.Get(ctx, startTimeKey(date)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read question start: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt question start %q: %w", val, err)
	}
	return time.UnixMilli(ms), nil
}

// AcquireFence atomically increments the per-date settlement counter and
// returns the observed token. Exactly one caller sees 1; everyone else must
// treat the settlement as already owned and abort.
func (c *CursorStore) AcquireFence(ctx context.Context, date string) (int64, error) {
	token, err := c.redis.Incr(ctx, fenceKey(date)).Result()
	if err != nil {
		return 0, fmt.Errorf("acquire settlement fence: %w", err)
	}
	// First acquirer owns the key lifecycle.
	if token == 1 {
		c.redis.Expire(ctx, fenceKey(date), cursorTTL)
	}
	return token, nil
}

// ResetFence clears the settlement fence. Operator-only: used to re-trigger
// settlement after a diagnosed failure. Never called automatically.
func (c *CursorStore) ResetFence(ctx context.Context, date string) error {
	if err := c.redis.Del(ctx, fenceKey(date)).Err(); err != nil {
		return fmt.Errorf("reset settlement fence: %w", err)
	}
	return nil
}
