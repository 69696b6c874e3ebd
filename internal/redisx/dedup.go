package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per service for TTL.
type Dedup struct {
	Client  *redis.Client
	Service string
	TTL     time.Duration
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Service, id) }

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.Client, d.key(id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.Client.Set(ctx, d.key(id), 1, d.ttl()).Err()
}

func (d *Dedup) ttl() time.Duration {
	if d.TTL > 0 {
		return d.TTL
	}
	return TTLDedup
}
