package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversToTopicSubscribers(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("/topic/a")
	b := h.Subscribe("/topic/b")
	defer a.Close()
	defer b.Close()

	require.NoError(t, h.Publish(context.Background(), "/topic/a", 1))

	msg := <-a.C()
	assert.Equal(t, "/topic/a", msg.Topic)
	assert.Equal(t, 1, msg.Payload)
	assert.Empty(t, b.C())
}

func TestHub_FullBufferKeepsNewest(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe("t")
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Publish(context.Background(), "t", i))
	}

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, 4, first.Payload)
	assert.Equal(t, 5, second.Payload)
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe("/topic/boards/x")
	assert.Equal(t, 1, h.Subscribers("/topic/boards/"))

	sub.Close()
	sub.Close()

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Zero(t, h.Subscribers("/topic/boards/"))
	require.NoError(t, h.Publish(context.Background(), "/topic/boards/x", "ignored"))
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(1)
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	h.Close()

	_, openA := <-a.C()
	_, openB := <-b.C()
	assert.False(t, openA)
	assert.False(t, openB)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, string, any) error { return f.err }

func TestMulti_PublishesToAllSinks(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe("t")
	defer sub.Close()

	boom := errors.New("boom")
	m := NewMulti(
		Sink{Name: "broken", Publisher: failingPublisher{err: boom}},
		Sink{Name: "hub", Publisher: h},
		Sink{Name: "none"},
	)

	err := m.Publish(context.Background(), "t", "payload")
	assert.ErrorIs(t, err, boom)

	msg := <-sub.C()
	assert.Equal(t, "payload", msg.Payload)
}

func TestNewRedis_RejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{})
	assert.Error(t, err)

	_, err = NewRedis(context.Background(), RedisOptions{URL: "http://not-redis"})
	assert.ErrorContains(t, err, "parse url")
}

func TestRedis_PublishReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisFromClient(client, "boardsheet")
	defer r.Close()

	err := r.Publish(context.Background(), "/topic/boards/b1", map[string]int{"processedRows": 1})
	assert.ErrorContains(t, err, "redis: publish /topic/boards/b1")
	assert.Error(t, r.Ping(context.Background()))

	err = r.Publish(context.Background(), "/topic/boards/b1", func() {})
	assert.ErrorContains(t, err, "encode")
}
