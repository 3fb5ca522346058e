// Package queue provides keyed FIFO mailboxes used as the RPC substrate.
// Requests for a service and replies to a single call each live under their
// own key.
package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmpty is returned by Pop when nothing arrived within the wait.
	ErrEmpty = errors.New("queue: empty")
	// ErrClosed is returned once an in-memory queue has been closed.
	ErrClosed = errors.New("queue: closed")
)

// Queue is the abstraction over different backends.
type Queue interface {
	// Push appends body to key. A positive ttl bounds how long an unread key
	// may linger.
	Push(ctx context.Context, key string, body []byte, ttl time.Duration) error
	// Pop removes the oldest body under key, waiting up to wait.
	Pop(ctx context.Context, key string, wait time.Duration) ([]byte, error)
	// Delete drops key and anything queued under it.
	Delete(ctx context.Context, key string) error
}

// Presence tracks which services are currently consuming.
type Presence interface {
	Announce(ctx context.Context, name string, ttl time.Duration) error
	Withdraw(ctx context.Context, name string) error
	Alive(ctx context.Context, name string) (bool, error)
}

// InMemory is a channel-backed queue for dev/testing and single-process mode.
type InMemory struct {
	size int

	mu     sync.Mutex
	boxes  map[string]chan []byte
	alive  map[string]time.Time
	closed bool
	done   chan struct{}
}

// NewInMemory creates a queue whose mailboxes each buffer size messages.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{
		size:  size,
		boxes: make(map[string]chan []byte),
		alive: make(map[string]time.Time),
		done:  make(chan struct{}),
	}
}

func (q *InMemory) box(key string) (chan []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	ch, ok := q.boxes[key]
	if !ok {
		ch = make(chan []byte, q.size)
		q.boxes[key] = ch
	}
	return ch, nil
}

// Push enqueues a message.
func (q *InMemory) Push(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	ch, err := q.box(key)
	if err != nil {
		return err
	}
	select {
	case ch <- body:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
	if ttl > 0 {
		time.AfterFunc(ttl, func() { q.expire(key, ch) })
	}
	return nil
}

// expire drops key if it still refers to ch and nobody drained it.
func (q *InMemory) expire(key string, ch chan []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.boxes[key]; ok && cur == ch && len(ch) > 0 {
		delete(q.boxes, key)
	}
}

// Pop dequeues a message.
func (q *InMemory) Pop(ctx context.Context, key string, wait time.Duration) ([]byte, error) {
	ch, err := q.box(key)
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case body := <-ch:
		return body, nil
	case <-timer.C:
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrClosed
	}
}

// Delete drops key.
func (q *InMemory) Delete(_ context.Context, key string) error {
	q.mu.Lock()
	delete(q.boxes, key)
	q.mu.Unlock()
	return nil
}

// Announce marks name alive for ttl.
func (q *InMemory) Announce(_ context.Context, name string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.alive[name] = time.Now().Add(ttl)
	return nil
}

// Withdraw marks name gone.
func (q *InMemory) Withdraw(_ context.Context, name string) error {
	q.mu.Lock()
	delete(q.alive, name)
	q.mu.Unlock()
	return nil
}

// Alive reports whether name announced itself and has not expired.
func (q *InMemory) Alive(_ context.Context, name string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	exp, ok := q.alive[name]
	return ok && time.Now().Before(exp), nil
}

// Close wakes all waiters and refuses further use.
func (q *InMemory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// RedisQueue implements the queue over Redis lists.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics. All keys are
// namespaced under prefix.
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "attendance:"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) key(k string) string { return q.prefix + k }

// Push enqueues a message.
func (q *RedisQueue) Push(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	k := q.key(key)
	if ttl <= 0 {
		return q.client.LPush(ctx, k, body).Err()
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, body)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

// Pop dequeues a message using BRPOP. Redis blocks in whole seconds; the
// context deadline still bounds the call.
func (q *RedisQueue) Pop(ctx context.Context, key string, wait time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, wait, q.key(key)).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The socket deadline is the context deadline; it can fire a hair
		// before the context reports it.
		if dl, ok := ctx.Deadline(); ok && isTimeout(err) && time.Until(dl) < 50*time.Millisecond {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	if len(res) != 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

// Delete drops key.
func (q *RedisQueue) Delete(ctx context.Context, key string) error {
	return q.client.Del(ctx, q.key(key)).Err()
}

func (q *RedisQueue) presenceKey(name string) string { return q.prefix + "alive:" + name }

// Announce marks name alive for ttl.
func (q *RedisQueue) Announce(ctx context.Context, name string, ttl time.Duration) error {
	return q.client.Set(ctx, q.presenceKey(name), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// Withdraw marks name gone.
func (q *RedisQueue) Withdraw(ctx context.Context, name string) error {
	return q.client.Del(ctx, q.presenceKey(name)).Err()
}

// Alive reports whether name's presence key exists.
func (q *RedisQueue) Alive(ctx context.Context, name string) (bool, error) {
	n, err := q.client.Exists(ctx, q.presenceKey(name)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
