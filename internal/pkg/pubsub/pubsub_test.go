package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSON(t *testing.T) {
	pid := int64(12)
	ev := &Event{Type: EventJobStatus, JobID: 3, AccountID: 1, Status: 1, StatusName: "running", Pid: &pid}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "job_id")
	assert.Contains(t, raw, "account_id")
	assert.NotContains(t, raw, "message")
	assert.NotContains(t, raw, "path")
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	require.NoError(t, b.Publish(context.Background(), &Event{Type: EventJobStatus, JobID: 1}))

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.JobID)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = b.Publish(context.Background(), &Event{JobID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBroker_Cancel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, b.Publish(context.Background(), &Event{JobID: 1}))
}

func TestRedisPublisherSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *Event, 1)
	go func() {
		_ = NewRedisSubscriber(client).Subscribe(ctx, func(ev *Event) {
			received <- ev
		})
	}()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, NewRedisPublisher(client).Publish(ctx, &Event{Type: EventJobStatus, JobID: 9, Status: 3}))

	select {
	case ev := <-received:
		assert.Equal(t, int64(9), ev.JobID)
		assert.Equal(t, 3, ev.Status)
		assert.NotEmpty(t, ev.ID)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *Event) error { return errors.New("down") }

func TestFanout(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	err := Fanout{failingPublisher{}, b}.Publish(context.Background(), &Event{JobID: 5})
	assert.Error(t, err)

	ev := <-ch
	assert.Equal(t, int64(5), ev.JobID)
}

func TestTagged(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(2)
	defer cancel()

	pub := Tagged{Origin: "server-1", Publisher: b}
	require.NoError(t, pub.Publish(context.Background(), &Event{JobID: 1}))
	require.NoError(t, pub.Publish(context.Background(), &Event{JobID: 2, Origin: "worker-7"}))

	assert.Equal(t, "server-1", (<-ch).Origin)
	assert.Equal(t, "worker-7", (<-ch).Origin)
}
