package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"helpmate/geo"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL    = 30 * 24 * time.Hour
	DefaultNegativeTTL = time.Hour
)

type cachedPoint struct {
	Point    *geo.Point `json:"point,omitempty"`
	NotFound bool       `json:"not_found,omitempty"`
}

// Cached is a cache-aside decorator over a Geocoder. Cache failures fall back
// to the wrapped geocoder.
type Cached struct {
	next        Geocoder
	client      *redis.Client
	prefix      string
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

func NewCached(next Geocoder, client *redis.Client, prefix string, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:        next,
		client:      client,
		prefix:      prefix,
		ttl:         ttl,
		negativeTTL: DefaultNegativeTTL,
		logger:      slog.Default(),
	}
}

// WithNegativeTTL sets how long a not-found address stays cached.
func (c *Cached) WithNegativeTTL(ttl time.Duration) *Cached {
	if ttl > 0 {
		c.negativeTTL = ttl
	}
	return c
}

func (c *Cached) WithLogger(logger *slog.Logger) *Cached {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *Cached) Geocode(ctx context.Context, address string) (geo.Point, error) {
	key := c.key(address)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var hit cachedPoint
		if uerr := json.Unmarshal(data, &hit); uerr == nil {
			if hit.NotFound {
				return geo.Point{}, ErrNotFound
			}
			if hit.Point != nil {
				return *hit.Point, nil
			}
		}
		c.logger.Warn("geocode cache entry unreadable", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("geocode cache get failed", "error", err)
	}

	p, err := c.next.Geocode(ctx, address)
	switch {
	case err == nil:
		c.store(ctx, key, cachedPoint{Point: &p}, c.ttl)
	case errors.Is(err, ErrNotFound):
		c.store(ctx, key, cachedPoint{NotFound: true}, c.negativeTTL)
	}
	return p, err
}

func (c *Cached) store(ctx context.Context, key string, v cachedPoint, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("geocode cache set failed", "error", fmt.Errorf("set %s: %w", key, err))
	}
}

func (c *Cached) key(address string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(address), " "))
	sum := sha256.Sum256([]byte(normalized))
	return c.prefix + hex.EncodeToString(sum[:])
}
