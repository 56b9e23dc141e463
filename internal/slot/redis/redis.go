// Package redis keeps the slot table in a Redis hash so that several
// processes can share one pool. Allocation runs as a Lua script, which Redis
// executes atomically.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/loykin/slotexec/internal/slot"
)

const DefaultPrefix = "slotexec"

var acquireScript = redis.NewScript(`
local n = tonumber(ARGV[1])
for i = 0, n - 1 do
	local f = tostring(i)
	if redis.call('HGET', KEYS[1], f) == '0' then
		redis.call('HSET', KEYS[1], f, '1')
		return i
	end
end
return -1
`)

var releaseScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if v == '1' then
	redis.call('HSET', KEYS[1], ARGV[1], '0')
	return 1
end
return 0
`)

type Table struct {
	rdb  redis.UniversalClient
	key  string
	size int
}

type Option func(*Table)

// WithPrefix sets the key prefix; the hash lives at <prefix>:slots.
func WithPrefix(prefix string) Option {
	return func(t *Table) {
		if p := strings.Trim(prefix, ":"); p != "" {
			t.key = p + ":slots"
		}
	}
}

func New(rdb redis.UniversalClient, size int, opts ...Option) *Table {
	t := &Table{rdb: rdb, key: DefaultPrefix + ":slots", size: slot.NormalizeSize(size)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewFromURL parses a redis:// or rediss:// URL and opens a client.
func NewFromURL(url string, size int, opts ...Option) (*Table, error) {
	o, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(redis.NewClient(o), size, opts...), nil
}

func (t *Table) Key() string { return t.key }

func (t *Table) Size() int { return t.size }

func (t *Table) Close() error { return t.rdb.Close() }

func (t *Table) EnsureSchema(ctx context.Context) error {
	pipe := t.rdb.Pipeline()
	for id := 0; id < t.size; id++ {
		pipe.HSetNX(ctx, t.key, strconv.Itoa(id), "0")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init slot hash: %w", err)
	}
	n, err := t.rdb.HLen(ctx, t.key).Result()
	if err != nil {
		return fmt.Errorf("count slots: %w", err)
	}
	if int(n) != t.size {
		return fmt.Errorf("%w: hash %s has %d fields, configured %d", slot.ErrSizeMismatch, t.key, n, t.size)
	}
	return nil
}

func (t *Table) Acquire(ctx context.Context) (int, error) {
	id, err := acquireScript.Run(ctx, t.rdb, []string{t.key}, t.size).Int()
	if err != nil {
		return -1, fmt.Errorf("acquire slot: %w", err)
	}
	if id < 0 {
		return -1, slot.ErrNoFreeSlot
	}
	return id, nil
}

func (t *Table) Release(ctx context.Context, id int) error {
	if id < 0 || id >= t.size {
		return slot.ErrUnknownSlot
	}
	n, err := releaseScript.Run(ctx, t.rdb, []string{t.key}, strconv.Itoa(id)).Int()
	if err != nil {
		return fmt.Errorf("release slot %d: %w", id, err)
	}
	if n == 0 {
		return slot.ErrNotBusy
	}
	return nil
}

func (t *Table) List(ctx context.Context) ([]slot.Slot, error) {
	m, err := t.rdb.HGetAll(ctx, t.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]slot.Slot, 0, t.size)
	for id := 0; id < t.size; id++ {
		out = append(out, slot.Slot{ID: id, Busy: m[strconv.Itoa(id)] == "1"})
	}
	return out, nil
}

func (t *Table) Reset(ctx context.Context) error {
	vals := make(map[string]any, t.size)
	for id := 0; id < t.size; id++ {
		vals[strconv.Itoa(id)] = "0"
	}
	return t.rdb.HSet(ctx, t.key, vals).Err()
}
