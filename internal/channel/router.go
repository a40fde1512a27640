package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/shortshider/kit"
)

// Handler answers one action for a target.
type Handler func(ctx context.Context, t Target, req Request) (Response, error)

// Router maps actions to handlers. It is safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter returns a router with the built-in actions registered.
func NewRouter(opts ...Option) *Router {
	r := &Router{handlers: make(map[string]Handler), logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.Register(ActionToggle, handleToggle)
	r.Register(ActionStats, handleStats)
	r.Register(ActionRefresh, handleRefresh)
	return r
}

// Register adds or replaces the handler for action.
func (r *Router) Register(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions lists the registered actions in order.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Handle applies req to t. Failures come back as a Response with success
// false; Handle itself never fails.
func (r *Router) Handle(ctx context.Context, t Target, req Request) Response {
	r.mu.RLock()
	h, ok := r.handlers[req.Action]
	r.mu.RUnlock()

	if !ok {
		err := &ProtocolError{Action: req.Action, Err: ErrUnknownAction}
		r.logger.Debug("channel: rejected", "action", req.Action, "error", err)
		return Fail(ErrUnknownAction.Error())
	}

	resp, err := h(ctx, t, req)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			r.logger.Debug("channel: rejected", "action", req.Action, "error", err)
			return Fail(pe.Err.Error())
		}
		r.logger.Warn("channel: action failed", "action", req.Action, "page_id", kit.GetPageID(ctx), "transport", kit.GetTransport(ctx), "error", err)
		return Fail(err.Error())
	}
	return resp
}

// Dispatch decodes a JSON request, handles it and encodes the response.
func (r *Router) Dispatch(ctx context.Context, t Target, payload []byte) []byte {
	var req Request
	var resp Response
	if err := json.Unmarshal(payload, &req); err != nil {
		pe := &ProtocolError{Err: fmt.Errorf("malformed message: %w", err)}
		r.logger.Debug("channel: rejected", "error", pe)
		resp = Fail(pe.Err.Error())
	} else {
		resp = r.Handle(ctx, t, req)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"success":false,"error":"encode response"}`)
	}
	return out
}

// Bind returns a function dispatching payloads to a fixed target.
func (r *Router) Bind(t Target) func(ctx context.Context, payload []byte) []byte {
	return func(ctx context.Context, payload []byte) []byte {
		return r.Dispatch(ctx, t, payload)
	}
}

func handleToggle(ctx context.Context, t Target, req Request) (Response, error) {
	if req.Hidden == nil {
		return Response{}, &ProtocolError{Action: req.Action, Err: errors.New("missing field: hidden")}
	}
	if err := t.SetHiding(ctx, *req.Hidden); err != nil {
		return Response{}, err
	}
	return OK(), nil
}

func handleStats(ctx context.Context, t Target, _ Request) (Response, error) {
	s, err := t.Stats(ctx)
	if err != nil {
		return Response{}, err
	}
	return StatsResponse(s), nil
}

func handleRefresh(ctx context.Context, t Target, _ Request) (Response, error) {
	if err := t.Refresh(ctx); err != nil {
		return Response{}, err
	}
	return OK(), nil
}
