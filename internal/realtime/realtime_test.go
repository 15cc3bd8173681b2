package realtime_test

import (
	"bufio"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/logger"
	"sitepulse/internal/realtime"
)

const waitFor = 2 * time.Second

func startBroker(t *testing.T, opts ...realtime.BrokerOption) realtime.Broker {
	t.Helper()
	b := realtime.NewBroker(logger.NewNop(), opts...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func inserted(projectID, eventID uint, typ string) realtime.Message {
	pid := projectID
	return realtime.Message{
		Type:      realtime.TypeEventInserted,
		ProjectID: projectID,
		Event:     &realtime.EventRow{ID: eventID, ProjectID: &pid, EventType: typ},
	}
}

func receive(t *testing.T, ch <-chan realtime.Message) realtime.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
		return realtime.Message{}
	}
}

func TestBrokerFiltersByProject(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	one, cleanupOne := b.Subscribe(ctx, realtime.ForProject(1))
	defer cleanupOne()
	two, cleanupTwo := b.Subscribe(ctx, realtime.ForProject(2))
	defer cleanupTwo()
	all, cleanupAll := b.Subscribe(ctx)
	defer cleanupAll()

	require.NoError(t, b.Publish(ctx, inserted(2, 10, "click")))
	require.NoError(t, b.Publish(ctx, inserted(1, 11, "view")))

	assert.EqualValues(t, 11, receive(t, one).Event.ID)
	assert.EqualValues(t, 10, receive(t, two).Event.ID)
	assert.EqualValues(t, 10, receive(t, all).Event.ID)
	assert.EqualValues(t, 11, receive(t, all).Event.ID)
	assert.Equal(t, 3, b.SubscriberCount())
}

func TestBrokerCleanupAndContextCancel(t *testing.T) {
	b := startBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	_, cleanup := b.Subscribe(context.Background())
	require.Equal(t, 2, b.SubscriberCount())

	cancel()
	cleanup()

	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, waitFor, 10*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBrokerEvictsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t, realtime.WithSubscriberBuffer(1))

	slow, cleanup := b.Subscribe(ctx)
	defer cleanup()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, inserted(1, uint(i+1), "click")))
	}

	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, waitFor, 10*time.Millisecond)
	first := <-slow
	assert.EqualValues(t, 1, first.Event.ID)
	_, ok := <-slow
	assert.False(t, ok)
}

func TestBrokerRejectsBeyondMax(t *testing.T) {
	b := startBroker(t, realtime.WithMaxSubscribers(1))

	_, cleanup := b.Subscribe(context.Background())
	defer cleanup()

	rejected, _ := b.Subscribe(context.Background())
	_, ok := <-rejected
	assert.False(t, ok)
}

func TestFeedPrependsWhileSubscribed(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	seed := []realtime.EventRow{{ID: 2, EventType: "click"}, {ID: 1, EventType: "page_view"}}
	feed := realtime.WatchProject(ctx, b, 7, seed, 10)
	defer feed.Close()

	require.NoError(t, b.Publish(ctx, inserted(8, 99, "click")))
	require.NoError(t, b.Publish(ctx, inserted(7, 3, "scroll")))

	select {
	case row := <-feed.Inserted():
		assert.EqualValues(t, 3, row.ID)
	case <-time.After(waitFor):
		t.Fatal("no insert notification")
	}

	rows := feed.Rows()
	require.Len(t, rows, 3)
	assert.EqualValues(t, 3, rows[0].ID)
	assert.EqualValues(t, 2, rows[1].ID)
}

func TestFeedCapsAtLimit(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	feed := realtime.WatchProject(ctx, b, 1, []realtime.EventRow{{ID: 3}, {ID: 2}, {ID: 1}}, 2)
	defer feed.Close()
	assert.Len(t, feed.Rows(), 2)

	require.NoError(t, b.Publish(ctx, inserted(1, 4, "click")))
	<-feed.Inserted()

	rows := feed.Rows()
	require.Len(t, rows, 2)
	assert.EqualValues(t, 4, rows[0].ID)
	assert.EqualValues(t, 3, rows[1].ID)
}

func TestFeedDoesNotChangeAfterClose(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	feed := realtime.WatchProject(ctx, b, 1, []realtime.EventRow{{ID: 1}}, 10)
	feed.Close()

	_ = b.Publish(ctx, inserted(1, 2, "click"))
	time.Sleep(50 * time.Millisecond)

	rows := feed.Rows()
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0].ID)

	select {
	case <-feed.Done():
	default:
		t.Fatal("feed not done after Close")
	}
	_, ok := <-feed.Inserted()
	assert.False(t, ok)

	feed.Close()
}

func TestRedisRelayFansOutAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	newRelay := func() (*realtime.RedisRelay, realtime.Broker) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		local := startBroker(t)
		relay := realtime.NewRedisRelay(client, local, "", logger.NewNop())
		require.NoError(t, relay.Start(ctx))
		t.Cleanup(func() { _ = relay.Stop() })
		return relay, local
	}

	relayA, _ := newRelay()
	relayB, _ := newRelay()

	onB, cleanup := relayB.Subscribe(ctx, realtime.ForProject(5))
	defer cleanup()
	onA, cleanupA := relayA.Subscribe(ctx, realtime.ForProject(5))
	defer cleanupA()

	require.NoError(t, relayA.Publish(ctx, inserted(5, 42, "conversion")))

	msgB := receive(t, onB)
	assert.Equal(t, realtime.TypeEventInserted, msgB.Type)
	assert.EqualValues(t, 42, msgB.Event.ID)
	assert.Equal(t, "conversion", msgB.Event.EventType)

	msgA := receive(t, onA)
	assert.EqualValues(t, 42, msgA.Event.ID)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := realtime.NewRedisClient("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = realtime.NewRedisClient("not a url")
	assert.Error(t, err)
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, realtime.WriteSSE(w, realtime.TypeEventInserted, map[string]int{"id": 1}))
	require.NoError(t, realtime.WriteSSEComment(w, "ping"))

	assert.Equal(t, "event: event:inserted\ndata: {\"id\":1}\n\n: ping\n\n", buf.String())
}

func TestFeedSignalsLagWhenReaderFallsBehind(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	feed := realtime.WatchProject(ctx, b, 1, nil, realtime.DefaultFeedLimit)
	defer feed.Close()

	for i := 1; i <= realtime.DefaultSubscriberBuffer+1; i++ {
		require.NoError(t, b.Publish(ctx, inserted(1, uint(i), "click")))
		require.Eventually(t, func() bool { return len(feed.Rows()) == i }, waitFor, time.Millisecond)
	}

	select {
	case <-feed.Lagged():
	case <-time.After(waitFor):
		t.Fatal("no lag signal after the buffer overflowed")
	}
	rows := feed.Rows()
	assert.EqualValues(t, realtime.DefaultSubscriberBuffer+1, rows[0].ID)
	assert.Len(t, feed.Inserted(), realtime.DefaultSubscriberBuffer)
}
