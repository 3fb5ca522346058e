package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attendancesvc/internal/queue"
)

// ErrConnRefused means nothing is serving the target service.
var ErrConnRefused = errors.New("rpc: connection refused")

// Transport moves one request to its service and returns the reply.
type Transport interface {
	RoundTrip(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

func (f TransportFunc) RoundTrip(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// QueueTransport delivers requests through a queue mailbox and waits on a
// per-call reply mailbox.
type QueueTransport struct {
	queue    queue.Queue
	presence queue.Presence
	service  string
}

// NewQueueTransport targets service. presence may be nil, in which case an
// absent service shows up as a timeout rather than a refusal.
func NewQueueTransport(q queue.Queue, presence queue.Presence, service string) *QueueTransport {
	return &QueueTransport{queue: q, presence: presence, service: service}
}

// RoundTrip implements Transport.
func (t *QueueTransport) RoundTrip(ctx context.Context, req Request) (Response, error) {
	if t.presence != nil {
		alive, err := t.presence.Alive(ctx, t.service)
		if err != nil {
			return Response{}, transportErr(err)
		}
		if !alive {
			return Response{}, fmt.Errorf("%w: no listener for %s", ErrConnRefused, t.service)
		}
	}

	req.ReplyTo = ReplyKey(req.ID)
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("rpc: encode request: %w", err)
	}
	if err := t.queue.Push(ctx, RequestKey(t.service), body, 0); err != nil {
		return Response{}, transportErr(err)
	}
	defer t.discard(req.ReplyTo)

	for {
		data, err := t.queue.Pop(ctx, req.ReplyTo, popWait(ctx))
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			return Response{}, transportErr(err)
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return Response{}, fmt.Errorf("rpc: decode reply: %w", err)
		}
		if resp.ID != req.ID {
			continue
		}
		return resp, nil
	}
}

func (t *QueueTransport) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = t.queue.Delete(ctx, key)
}

// popWait picks a blocking window: at least a second (the Redis
// granularity), at most five. The context deadline still cuts a pop short.
func popWait(ctx context.Context) time.Duration {
	const floor, ceil = time.Second, 5 * time.Second
	dl, ok := ctx.Deadline()
	if !ok {
		return ceil
	}
	d := time.Until(dl)
	switch {
	case d < floor:
		return floor
	case d > ceil:
		return ceil
	}
	return d
}

func transportErr(err error) error {
	if errors.Is(err, queue.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnRefused, err)
	}
	return err
}
