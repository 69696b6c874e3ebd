package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/redis/go-redis/v9"
)

type cachedStatus struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
	// Version is UpdatedAt in microseconds, small enough for Lua numbers.
	Version int64 `json:"version"`
}

// setIfNewer writes ARGV[1] unless the cached entry carries a newer version.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, v = pcall(cjson.decode, cur)
	if ok and type(v) == 'table' and tonumber(v.version) and tonumber(v.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// StatusCache keeps the last known status of each order for TTLStatusCache.
// Writes are ordered by the order's updated_at: a write carrying an older
// timestamp than the cached entry is dropped, so a late refill or a delayed
// transition cannot resurrect a previous status.
type StatusCache struct {
	Client *redis.Client
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID int64, s orders.Status, at time.Time) error {
	_, err := c.setStatus(ctx, orderID, s, at)
	return err
}

func (c *StatusCache) setStatus(ctx context.Context, orderID int64, s orders.Status, at time.Time) (bool, error) {
	version := at.UnixMicro()
	b, err := json.Marshal(cachedStatus{Status: s, UpdatedAt: at, Version: version})
	if err != nil {
		return false, err
	}
	n, err := setIfNewer.Run(ctx, c.Client, []string{fmt.Sprintf(KeyOrderStatus, orderID)},
		b, version, TTLStatusCache.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache status of order %d: %w", orderID, err)
	}
	return n == 1, nil
}

// Status returns the cached status. ok is false on a miss.
func (c *StatusCache) Status(ctx context.Context, orderID int64) (s orders.Status, at time.Time, ok bool, err error) {
	b, err := c.Client.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	var cs cachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return cs.Status, cs.UpdatedAt, true, nil
}
