package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// JobMessage 预处理任务
type JobMessage struct {
	JobID       int64  `json:"job_id"`
	AccountID   int64  `json:"account_id"`
	DatasetPath string `json:"dataset_path"`
}

// Queue feeds preprocessing tasks to the worker pool.
// Pop returns (nil, nil) when timeout elapses with nothing queued.
type Queue interface {
	Push(ctx context.Context, msg *JobMessage) error
	Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error)
	Length(ctx context.Context) (int64, error)
}

// RedisQueue 多进程共享的队列
type RedisQueue struct {
	client    *redis.Client
	queueName string
}

func NewRedisQueue(client *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将任务加入队列
func (q *RedisQueue) Push(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

// MemoryQueue 单进程部署使用的无界队列；并发由预处理池大小限制
type MemoryQueue struct {
	mu     sync.Mutex
	items  []*JobMessage
	notify chan struct{}
}

// NewMemoryQueue creates an empty queue; size only presizes the buffer.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		items:  make([]*JobMessage, 0, size),
		notify: make(chan struct{}, 1),
	}
}

// Push never blocks and never drops a message.
func (q *MemoryQueue) Push(ctx context.Context, msg *JobMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msg := q.take(); msg != nil {
			return msg, nil
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Length(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) take() *JobMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// 唤醒下一个等待者
		q.signal()
	}
	return msg
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
