package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/metrics"
	"attendancesvc/internal/queue"
)

// HandlerFunc serves one operation.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Typed adapts a function over concrete request and result types.
func Typed[In, Out any](fn func(context.Context, In) (Out, error)) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in In
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, apperr.InvalidArgument("malformed payload: " + err.Error())
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// ServerOptions tunes a Server. Zero values pick defaults.
type ServerOptions struct {
	Workers   int
	Heartbeat time.Duration
	ReplyTTL  time.Duration
	PopWait   time.Duration
}

// Server consumes a service's request mailbox with a pool of workers.
type Server struct {
	service  string
	queue    queue.Queue
	presence queue.Presence
	log      *zap.Logger
	opts     ServerOptions

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer returns a server for service.
func NewServer(service string, q queue.Queue, presence queue.Presence, log *zap.Logger, opts ServerOptions) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	if opts.ReplyTTL <= 0 {
		opts.ReplyTTL = 2 * time.Minute
	}
	if opts.PopWait <= 0 {
		opts.PopWait = 5 * time.Second
	}
	return &Server{
		service:  service,
		queue:    q,
		presence: presence,
		log:      log.With(zap.String("service", service)),
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		ready:    make(chan struct{}),
	}
}

// Handle registers h for op, replacing any earlier registration.
func (s *Server) Handle(op string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[op] = h
	s.mu.Unlock()
}

// Ready is closed once the server has announced itself.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve runs until ctx is cancelled. In-flight requests finish before it
// returns.
func (s *Server) Serve(ctx context.Context) error {
	if s.presence != nil {
		if err := s.presence.Announce(ctx, s.service, 3*s.opts.Heartbeat); err != nil {
			return fmt.Errorf("rpc: announce %s: %w", s.service, err)
		}
	}
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("rpc server listening", zap.Int("workers", s.opts.Workers))

	g, gctx := errgroup.WithContext(ctx)
	if s.presence != nil {
		g.Go(func() error { return s.heartbeat(gctx) })
	}
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error { return s.work(gctx) })
	}
	err := g.Wait()

	if s.presence != nil {
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if werr := s.presence.Withdraw(wctx, s.service); werr != nil {
			s.log.Warn("rpc: withdraw presence", zap.Error(werr))
		}
	}
	s.log.Info("rpc server stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) heartbeat(ctx context.Context) error {
	t := time.NewTicker(s.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.presence.Announce(ctx, s.service, 3*s.opts.Heartbeat); err != nil && ctx.Err() == nil {
				s.log.Warn("rpc: refresh presence", zap.Error(err))
			}
		}
	}
}

func (s *Server) work(ctx context.Context) error {
	key := RequestKey(s.service)
	for {
		body, err := s.queue.Pop(ctx, key, s.opts.PopWait)
		switch {
		case err == nil:
			s.serveOne(ctx, body)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, queue.ErrEmpty):
		case errors.Is(err, queue.ErrClosed):
			return err
		default:
			s.log.Warn("rpc: pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *Server) serveOne(parent context.Context, body []byte) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.log.Warn("rpc: dropping malformed request", zap.Error(err))
		return
	}
	if req.ReplyTo == "" {
		s.log.Warn("rpc: dropping request without reply address", zap.String("op", req.Op))
		return
	}
	if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
		metrics.RPCExpired.Inc()
		s.log.Debug("rpc: request expired before dispatch", zap.String("op", req.Op), zap.String("id", req.ID))
		return
	}

	// Shutdown must not abort a request that has already been accepted.
	ctx := context.WithoutCancel(parent)
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	resp := s.dispatch(ctx, req)
	status := http.StatusOK
	if resp.Error != nil {
		status = resp.Error.StatusCode
	}
	metrics.RPCHandled.WithLabelValues(req.Op, strconv.Itoa(status)).Inc()

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("rpc: encode reply", zap.String("op", req.Op), zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()
	if err := s.queue.Push(pctx, req.ReplyTo, data, s.opts.ReplyTTL); err != nil {
		s.log.Warn("rpc: push reply", zap.String("op", req.Op), zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) (resp Response) {
	resp.ID = req.ID

	s.mu.RLock()
	h, ok := s.handlers[req.Op]
	s.mu.RUnlock()
	if !ok {
		resp.Error = &RemoteError{Message: fmt.Sprintf("No handler for operation %q", req.Op), StatusCode: http.StatusNotFound}
		return resp
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("rpc: handler panic", zap.String("op", req.Op), zap.Any("panic", r), zap.Stack("stack"))
			resp.Result = nil
			resp.Error = &RemoteError{Message: "Internal server error", StatusCode: http.StatusInternalServerError}
		}
	}()

	out, err := h(ctx, req.Payload)
	if err != nil {
		status, msg := apperr.Public(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("rpc: handler failed", zap.String("op", req.Op), zap.Error(err))
		}
		resp.Error = &RemoteError{Message: msg, StatusCode: status}
		return resp
	}
	result, err := json.Marshal(out)
	if err != nil {
		s.log.Error("rpc: encode result", zap.String("op", req.Op), zap.Error(err))
		resp.Error = &RemoteError{Message: "Internal server error", StatusCode: http.StatusInternalServerError}
		return resp
	}
	resp.Result = result
	return resp
}
