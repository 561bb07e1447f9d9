package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "github.com/H51976/roombox-fyp/common/redis"
	"github.com/H51976/roombox-fyp/internal/domain"

	"github.com/go-redis/redis/v8"
)

// Type lifecycle event name
type Type string

const (
	BookingRequested  Type = "booking.requested"
	BookingApproved   Type = "booking.approved"
	BookingRejected   Type = "booking.rejected"
	BookingCancelled  Type = "booking.cancelled"
	TenancyActivated  Type = "tenancy.activated"
	TenancyTerminated Type = "tenancy.terminated"
	TenancyCompleted  Type = "tenancy.completed"
	PaymentInitiated  Type = "payment.initiated"
	PaymentCompleted  Type = "payment.completed"
	PaymentFailed     Type = "payment.failed"
)

// LifecycleEvent what the engine announces after a committed transition.
type LifecycleEvent struct {
	Type          Type                 `json:"type"`
	BookingID     string               `json:"booking_id"`
	RoomID        string               `json:"room_id"`
	PaymentID     string               `json:"payment_id,omitempty"`
	TenantID      string               `json:"tenant_id"`
	LandlordID    string               `json:"landlord_id"`
	BookingStatus domain.BookingStatus `json:"booking_status,omitempty"`
	TenancyStatus domain.TenancyStatus `json:"tenancy_status,omitempty"`
	RoomStatus    domain.RoomStatus    `json:"room_status,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"payment_status,omitempty"`
	At            time.Time            `json:"at"`
}

// Snapshot fills the event from the entities as they were committed; room and payment may be nil.
func Snapshot(t Type, b *domain.Booking, room *domain.Room, p *domain.Payment, at time.Time) LifecycleEvent {
	ev := LifecycleEvent{
		Type:          t,
		BookingID:     b.BookingID,
		RoomID:        b.RoomID,
		TenantID:      b.TenantID,
		LandlordID:    b.LandlordID,
		BookingStatus: b.Status,
		TenancyStatus: b.Tenancy(),
		At:            at.UTC(),
	}
	if room != nil {
		ev.RoomStatus = room.Status
	}
	if p != nil {
		ev.PaymentID = p.PaymentID
		ev.PaymentStatus = p.Status
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, events ...LifecycleEvent) error
}

// NopPublisher used when Redis is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...LifecycleEvent) error { return nil }

// RedisStreamPublisher XADDs each event as JSON in the "data" field.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, events ...LifecycleEvent) error {
	for _, ev := range events {
		if _, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, ev); err != nil {
			return fmt.Errorf("publish %s for booking %s: %w", ev.Type, ev.BookingID, err)
		}
	}
	return nil
}

// Decode parses a stream entry written by RedisStreamPublisher.
func Decode(msg rediscommon.StreamMessage) (LifecycleEvent, error) {
	var ev LifecycleEvent
	data, ok := msg.Data()
	if !ok {
		return ev, fmt.Errorf("message %s has no data field", msg.ID)
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	if ev.Type == "" || ev.BookingID == "" {
		return ev, fmt.Errorf("message %s is not a lifecycle event", msg.ID)
	}
	return ev, nil
}
