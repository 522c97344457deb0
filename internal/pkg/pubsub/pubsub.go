package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	ChannelJobEvents = "hpc_job_events"
)

// 事件类型
const (
	EventJobStatus      = "job_status"
	EventJobNote        = "job_note"
	EventUploadProgress = "upload_progress"
	EventJobDeleted     = "job_deleted"
)

// Event 作业状态变化通知
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	JobID      int64     `json:"job_id"`
	AccountID  int64     `json:"account_id"`
	Status     int       `json:"status"`
	StatusName string    `json:"status_name,omitempty"`
	Pid        *int64    `json:"pid,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Path       string    `json:"path,omitempty"`
	Message    string    `json:"message,omitempty"`
	Origin     string    `json:"origin,omitempty"` // 发布事件的进程
	Time       time.Time `json:"time"`
}

// Publisher is the write side of the change-notification stream.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

func stamp(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
}

// Broker 进程内发布订阅；慢订阅者会丢消息而不是阻塞发布方
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan *Event
	nextID int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan *Event)}
}

func (b *Broker) Publish(ctx context.Context, ev *Event) error {
	stamp(ev)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe returns a buffered channel of events and a cancel function
// that closes it.
func (b *Broker) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// RedisPublisher Redis 发布者，供多进程部署（cmd/worker）使用
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev *Event) error {
	stamp(ev)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.Publish(ctx, ChannelJobEvents, data).Err()
}

// RedisSubscriber Redis 订阅者
type RedisSubscriber struct {
	client *redis.Client
}

func NewRedisSubscriber(client *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{client: client}
}

// Subscribe 订阅事件直到 ctx 结束
func (s *RedisSubscriber) Subscribe(ctx context.Context, handler func(*Event)) error {
	sub := s.client.Subscribe(ctx, ChannelJobEvents)
	defer sub.Close()

	// 确认订阅已建立
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue // 忽略解析错误
			}
			handler(&ev)
		}
	}
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev *Event) error {
	stamp(ev)
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tagged marks events with the publishing process so a subscriber can
// skip its own events coming back from redis.
type Tagged struct {
	Origin    string
	Publisher Publisher
}

func (t Tagged) Publish(ctx context.Context, ev *Event) error {
	if ev.Origin == "" {
		ev.Origin = t.Origin
	}
	return t.Publisher.Publish(ctx, ev)
}
