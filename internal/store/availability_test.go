package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *AvailabilityCache) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewAvailabilityCache(NewRedisKV(rdb), time.Minute)
}

func TestAvailabilityCache_PutGet(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Get(ctx, "room-1")
	assert.True(t, errors.Is(err, ErrMiss))

	stored, err := cache.Put(ctx, "room-1", domain.RoomReserved, 1)
	require.NoError(t, err)
	assert.True(t, stored)
	got, err := cache.Get(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomReserved, got)

	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "room-1")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestAvailabilityCache_NormalizesAndDropsGarbage(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(availabilityKey("room-2"), "7:OCCUPIED"))
	got, err := cache.Get(ctx, "room-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOccupied, got)

	for _, garbage := range []string{"7:on-fire", "occupied", "x:occupied"} {
		require.NoError(t, mr.Set(availabilityKey("room-3"), garbage))
		_, err = cache.Get(ctx, "room-3")
		assert.True(t, errors.Is(err, ErrMiss), garbage)
		assert.False(t, mr.Exists(availabilityKey("room-3")), garbage)
	}
}

func TestAvailabilityCache_Invalidate(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Put(ctx, "room-1", domain.RoomAvailable, 1)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "room-1"))
	assert.False(t, mr.Exists(availabilityKey("room-1")))
}

func TestAvailabilityCache_OlderVersionNeverWins(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	stored, err := cache.Put(ctx, "room-1", domain.RoomReserved, 20)
	require.NoError(t, err)
	assert.True(t, stored)

	// a release that committed earlier but lands later
	stored, err = cache.Put(ctx, "room-1", domain.RoomAvailable, 10)
	require.NoError(t, err)
	assert.False(t, stored)
	stored, err = cache.Put(ctx, "room-1", domain.RoomAvailable, 20)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := cache.Get(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomReserved, got)

	stored, err = cache.Put(ctx, "room-1", domain.RoomOccupied, 21)
	require.NoError(t, err)
	assert.True(t, stored)
	got, err = cache.Get(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOccupied, got)
	assert.True(t, mr.TTL(availabilityKey("room-1")) > 0)
}

func TestAvailabilityCache_PutRoomUsesStatusVersion(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	room := &domain.Room{RoomID: "room-1", Status: domain.RoomAvailable}
	stale := *room
	require.NoError(t, room.Reserve(now))

	stored, err := cache.PutRoom(ctx, room)
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = cache.PutRoom(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := cache.Get(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomReserved, got)
}
