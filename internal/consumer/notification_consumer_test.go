package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rediscommon "github.com/H51976/roombox-fyp/common/redis"
	"github.com/H51976/roombox-fyp/internal/domain"
	"github.com/H51976/roombox-fyp/internal/events"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	topics []string
	fail   error
}

func (s *recordingSink) Publish(topic string, _ byte, _ bool, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.topics = append(s.topics, topic)
	return nil
}

const testStream = "roombox:lifecycle"

func setup(t *testing.T, sink Sink) (*redis.Client, *NotificationConsumer) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewNotificationConsumer(rdb, sink, zap.NewNop(), Options{
		Stream:       testStream,
		GroupName:    "notifier",
		ConsumerName: "n1",
		TopicPrefix:  "roombox",
		Block:        -1,
	})
	require.NoError(t, rediscommon.CreateConsumerGroup(context.Background(), rdb, testStream, "notifier"))
	return rdb, c
}

func publish(t *testing.T, rdb *redis.Client) {
	b := &domain.Booking{BookingID: "b1", RoomID: "r1", TenantID: "t1", LandlordID: "l1", Status: domain.BookingApproved}
	pub := events.NewRedisStreamPublisher(rdb, testStream, 0)
	require.NoError(t, pub.Publish(context.Background(), events.Snapshot(events.BookingApproved, b, nil, nil, time.Now())))
}

func pendingCount(t *testing.T, rdb *redis.Client) int64 {
	res, err := rdb.XPending(context.Background(), testStream, "notifier").Result()
	require.NoError(t, err)
	return res.Count
}

func TestConsumeEvents_ForwardsToBothPartiesAndAcks(t *testing.T) {
	sink := &recordingSink{}
	rdb, c := setup(t, sink)
	publish(t, rdb)

	_, err := rdb.XAdd(context.Background(), &redis.XAddArgs{Stream: testStream, Values: map[string]interface{}{"data": "not json"}}).Result()
	require.NoError(t, err)

	n, err := c.consumeEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"roombox/users/t1", "roombox/users/l1"}, sink.topics)
	assert.Equal(t, int64(0), pendingCount(t, rdb))
}

func TestConsumeEvents_SinkFailureLeavesMessagePending(t *testing.T) {
	sink := &recordingSink{fail: errors.New("broker down")}
	rdb, c := setup(t, sink)
	publish(t, rdb)

	_, err := c.consumeEvents(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), pendingCount(t, rdb))
}

func TestStart_StopsOnCancel(t *testing.T) {
	_, c := setup(t, &recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
