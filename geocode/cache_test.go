package geocode

import (
	"context"
	"fmt"
	"testing"
	"time"

	"helpmate/geo"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedisAddr = "localhost:6379"

type countingGeocoder struct {
	calls int
	point geo.Point
	err   error
}

func (c *countingGeocoder) Geocode(context.Context, string) (geo.Point, error) {
	c.calls++
	return c.point, c.err
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCachedServesRepeatLookupsFromRedis(t *testing.T) {
	client := setupRedis(t)
	inner := &countingGeocoder{point: geo.Point{Lat: 34.05, Lng: -118.25}}
	prefix := fmt.Sprintf("helpmate-test:%d:", time.Now().UnixNano())
	c := NewCached(inner, client, prefix, time.Minute)
	ctx := context.Background()

	first, err := c.Geocode(ctx, "200 N Spring St")
	require.NoError(t, err)
	second, err := c.Geocode(ctx, "  200 n spring   st ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedRemembersNotFound(t *testing.T) {
	client := setupRedis(t)
	inner := &countingGeocoder{err: ErrNotFound}
	prefix := fmt.Sprintf("helpmate-test:%d:", time.Now().UnixNano())
	c := NewCached(inner, client, prefix, time.Minute)
	ctx := context.Background()

	_, err := c.Geocode(ctx, "atlantis")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.Geocode(ctx, "atlantis")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	inner := &countingGeocoder{point: geo.Point{Lat: 1, Lng: 2}}
	c := NewCached(inner, client, "x:", time.Minute)

	p, err := c.Geocode(context.Background(), "somewhere")
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lat: 1, Lng: 2}, p)
	assert.Equal(t, 1, inner.calls)
}
