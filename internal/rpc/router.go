// Package rpc serves the wallet's message port: a WebSocket connection per UI
// client, a one-shot HTTP endpoint for non-streaming requests, and metrics.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/klingon-exchange/walletd/internal/subscription"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

var (
	// ErrPortRequired is returned by streaming handlers called over one-shot HTTP.
	ErrPortRequired = errors.New("request type needs a port connection")
	// ErrUnknownType is returned for message types without a handler.
	ErrUnknownType = errors.New("unknown request type")
)

// Message is an inbound port frame.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Request json.RawMessage `json:"request,omitempty"`
}

// Frame is an outbound port frame. Exactly one of Response, Subscription and
// Error is set.
type Frame struct {
	ID           string `json:"id"`
	Response     any    `json:"response,omitempty"`
	Subscription any    `json:"subscription,omitempty"`
	Error        string `json:"error,omitempty"`
	Final        bool   `json:"final,omitempty"`
}

// Call is one request being handled.
type Call struct {
	ID   string
	Type string
	Data json.RawMessage

	// Port is nil for one-shot HTTP requests.
	Port *Port

	router  *Router
	replied chan struct{}

	mu     sync.Mutex
	cancel func() bool
}

// Emit sends a subscription frame for this call. Frames wait until the
// call's response has been queued so they never overtake it.
func (c *Call) Emit(v any, final bool) {
	if c.Port == nil {
		return
	}
	<-c.replied
	c.Port.Send(Frame{ID: c.ID, Subscription: v, Final: final})
}

// Track registers teardown as this call's subscription. It runs once, on
// subscription.cancel, port disconnect or when the stream ends.
func (c *Call) Track(teardown func()) error {
	if c.Port == nil {
		return ErrPortRequired
	}
	cancel := c.router.subs.Add(c.Port.ID, c.ID, teardown)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return nil
}

// Done ends this call's subscription. A later subscription that reused the
// id is left alone.
func (c *Call) Done() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Handler serves one message type.
type Handler func(ctx context.Context, c *Call) (any, error)

// Typed adapts a handler with a decoded request type.
func Typed[Req, Resp any](fn func(ctx context.Context, c *Call, req Req) (Resp, error)) Handler {
	return func(ctx context.Context, c *Call) (any, error) {
		var req Req
		if len(c.Data) > 0 && string(c.Data) != "null" {
			if err := json.Unmarshal(c.Data, &req); err != nil {
				return nil, fmt.Errorf("invalid request: %w", err)
			}
		}
		return fn(ctx, c, req)
	}
}

// Router dispatches messages to handlers by type.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	subs     *subscription.Registry
	metrics  *Metrics
	log      *logging.Logger
}

// NewRouter creates an empty router. metrics may be nil.
func NewRouter(subs *subscription.Registry, metrics *Metrics) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		subs:     subs,
		metrics:  metrics,
		log:      logging.GetDefault().Component("rpc"),
	}
}

// Handle registers h for msgType, replacing any previous handler.
func (r *Router) Handle(msgType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// Types returns the registered message types, sorted.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Subscriptions returns the registry of live subscriptions.
func (r *Router) Subscriptions() *subscription.Registry {
	return r.subs
}

// Dispatch handles msg and returns the reply frame. Frames emitted by the
// call are held back until release is called.
func (r *Router) Dispatch(ctx context.Context, port *Port, msg Message) (reply Frame, release func()) {
	call := &Call{
		ID:      msg.ID,
		Type:    msg.Type,
		Data:    msg.Request,
		Port:    port,
		router:  r,
		replied: make(chan struct{}),
	}
	var once sync.Once
	release = func() { once.Do(func() { close(call.replied) }) }

	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("Unknown request type", "id", msg.ID, "type", msg.Type)
		r.observe("unknown", "unknown_type", 0)
		return Frame{ID: msg.ID, Error: fmt.Sprintf("%s: %s", ErrUnknownType, msg.Type)}, release
	}

	start := time.Now()
	result, err := r.invoke(ctx, h, call)
	if err != nil {
		r.log.Debug("Request failed", "id", msg.ID, "type", msg.Type, "error", err)
		r.observe(msg.Type, "error", time.Since(start))
		return Frame{ID: msg.ID, Error: err.Error()}, release
	}
	r.observe(msg.Type, "ok", time.Since(start))
	return Frame{ID: msg.ID, Response: result}, release
}

func (r *Router) invoke(ctx context.Context, h Handler, call *Call) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Handler panicked", "id", call.ID, "type", call.Type, "panic", rec)
			result, err = nil, errors.New("internal error")
		}
	}()
	return h(ctx, call)
}

func (r *Router) observe(msgType, outcome string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.observeRequest(msgType, outcome, d)
	}
}
