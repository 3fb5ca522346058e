package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/metrics"
)

// DefaultTimeout bounds a call when no other timeout is configured.
const DefaultTimeout = 30 * time.Second

// Client sends named operations to a remote service. It applies a timeout to
// every call, never retries, and reports failures as *apperr.Error except for
// unclassified ones, which are returned unchanged.
type Client struct {
	transport Transport
	timeout   time.Duration
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for unexpected failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient returns a client over t.
func NewClient(t Transport, opts ...Option) *Client {
	c := &Client{transport: t, timeout: DefaultTimeout, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Call sends op with payload in and decodes the result into out (which may be
// nil).
func (c *Client) Call(ctx context.Context, op string, in, out any) error {
	start := time.Now()
	err := c.call(ctx, op, in, out)
	metrics.RPCDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.RPCCalls.WithLabelValues(op, outcome(err)).Inc()
	return err
}

// Send is Call with a typed result.
func Send[T any](ctx context.Context, c *Client, op string, in any) (T, error) {
	var out T
	err := c.Call(ctx, op, in, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, op string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("rpc: encode %s payload: %w", op, err)
	}

	budget := c.budget(ctx)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := Request{ID: uuid.NewString(), Op: op, Payload: payload}
	if dl, ok := ctx.Deadline(); ok {
		req.Deadline = dl
	}

	resp, err := c.transport.RoundTrip(ctx, req)
	if err != nil {
		return c.classify(ctx, op, budget, err)
	}
	// A reply that lands after the deadline does not count.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return c.classify(ctx, op, budget, ctx.Err())
	}
	if resp.Error != nil {
		return apperr.Remote(op, resp.Error.Message, resp.Error.StatusCode)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("rpc: decode %s result: %w", op, err)
		}
	}
	return nil
}

// budget is the time a call started now may take: the client timeout, or
// the caller's deadline when that comes first.
func (c *Client) budget(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl).Round(time.Millisecond); d < c.timeout {
			return max(d, 0)
		}
	}
	return c.timeout
}

// classify is the only place transport failures are mapped.
func (c *Client) classify(ctx context.Context, op string, budget time.Duration, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &apperr.Error{
			Kind:    apperr.KindTimeout,
			Op:      op,
			Message: fmt.Sprintf("Service timeout after %dms", budget.Milliseconds()),
			Err:     err,
		}
	case errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, ErrConnRefused):
		return &apperr.Error{
			Kind:    apperr.KindUnavailable,
			Op:      op,
			Message: "Service is unavailable",
			Err:     err,
		}
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		return apperr.Remote(op, remote.Message, remote.StatusCode)
	}

	c.log.Error("rpc call failed unexpectedly", zap.String("op", op), zap.Error(err))
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
