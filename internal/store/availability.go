package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
)

const availabilityKeyPrefix = "roombox:room:"

// AvailabilityCache room status snapshot for listing pages; the ledger stays the source of
// truth. Entries carry the room's status version and an older snapshot never replaces a newer
// one, so writers racing after commit (or a reader refilling from a stale read) cannot leave a
// superseded status behind.
type AvailabilityCache struct {
	kv  KV
	ttl time.Duration
}

func NewAvailabilityCache(kv KV, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{kv: kv, ttl: ttl}
}

func availabilityKey(roomID string) string {
	return availabilityKeyPrefix + roomID + ":status"
}

// Put stores status at version; false means a newer (or the same) version is already cached.
func (c *AvailabilityCache) Put(ctx context.Context, roomID string, status domain.RoomStatus, version int64) (bool, error) {
	return c.kv.SetIfNewer(ctx, availabilityKey(roomID), status.String(), version, c.ttl)
}

// PutRoom caches the room's current status at its status version.
func (c *AvailabilityCache) PutRoom(ctx context.Context, room *domain.Room) (bool, error) {
	return c.Put(ctx, room.RoomID, room.Status, room.StatusVersion())
}

// Get returns ErrMiss when nothing (or something unparseable) is cached.
func (c *AvailabilityCache) Get(ctx context.Context, roomID string) (domain.RoomStatus, error) {
	v, err := c.kv.Get(ctx, availabilityKey(roomID))
	if err != nil {
		return "", err
	}
	status, err := parseEntry(v)
	if err != nil {
		_ = c.kv.Del(ctx, availabilityKey(roomID))
		return "", fmt.Errorf("%w: %v", ErrMiss, err)
	}
	return status, nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, roomID string) error {
	return c.kv.Del(ctx, availabilityKey(roomID))
}

// parseEntry "<version>:<status>"
func parseEntry(v string) (domain.RoomStatus, error) {
	version, raw, ok := strings.Cut(v, ":")
	if !ok {
		return "", fmt.Errorf("unversioned availability entry %q", v)
	}
	if _, err := strconv.ParseInt(version, 10, 64); err != nil {
		return "", fmt.Errorf("bad availability version %q", version)
	}
	return domain.ParseRoomStatus(raw)
}
