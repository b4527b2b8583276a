// Package connectivity routes named service calls either to an in-process
// handler or to a remote endpoint, without the caller knowing which.
//
// The theme adaptation services (inference, adapter lookup, mapping) are
// registered as local handlers. A route list from configuration can move any
// of them to a remote worker:
//
//	router := connectivity.New(connectivity.WithLogger(logger))
//	router.RegisterTransport("http", connectivity.HTTPFactory())
//	svc.RegisterConnectivity(router)
//	router.Apply([]connectivity.Route{{Service: "themeadapt_infer", Strategy: "http", Endpoint: url}})
//
//	resp, err := router.Call(ctx, "themeadapt_infer", payload)
package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint. The returned close
// function may be nil.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

// Route sends one service to a transport. Strategy "local" uses the
// registered local handler, "noop" swallows calls.
type Route struct {
	Service  string          `json:"service" yaml:"service"`
	Strategy string          `json:"strategy" yaml:"strategy"`
	Endpoint string          `json:"endpoint,omitempty" yaml:"endpoint"`
	Config   json.RawMessage `json:"config,omitempty" yaml:"-"`
}

func (rt Route) key() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remoteEntry struct {
	handler Handler
	close   func()
}

// Router dispatches service calls. Safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	local     map[string]Handler
	remote    map[string]remoteEntry
	routes    map[string]Route
	factories map[string]TransportFactory
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		local:     make(map[string]Handler),
		remote:    make(map[string]remoteEntry),
		routes:    make(map[string]Route),
		factories: make(map[string]TransportFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-process handler for a service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.local[service] = h
	r.mu.Unlock()
}

// RegisterTransport registers a factory for a remote strategy ("http", ...).
func (r *Router) RegisterTransport(strategy string, f TransportFactory) {
	r.mu.Lock()
	r.factories[strategy] = f
	r.mu.Unlock()
}

// Call dispatches a call: noop route, then remote route, then local handler.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	entry, hasRemote := r.remote[service]
	local := r.local[service]
	rt, hasRoute := r.routes[service]
	r.mu.RUnlock()

	if hasRoute && rt.Strategy == "noop" {
		r.logger.DebugContext(ctx, "connectivity: noop", "service", service)
		return nil, nil
	}
	if hasRemote {
		r.logger.DebugContext(ctx, "connectivity: remote",
			"service", service, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
		return entry.handler(ctx, payload)
	}
	if local != nil {
		return local(ctx, payload)
	}
	return nil, &ErrServiceNotFound{Service: service}
}

// Apply replaces the route set. Remote handlers whose route is unchanged are
// kept; removed or changed ones are closed after their replacement is built.
// A route whose factory is missing or fails is skipped and reported in the
// returned error; the other routes are still applied.
func (r *Router) Apply(routes []Route) error {
	next := make(map[string]Route, len(routes))
	for _, rt := range routes {
		next[rt.Service] = rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]remoteEntry, len(next))
	reused := make(map[string]bool)
	var failed []error
	for name, rt := range next {
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if old, ok := r.routes[name]; ok && old.key() == rt.key() {
			if existing, ok := r.remote[name]; ok {
				entries[name] = existing
				reused[name] = true
				continue
			}
		}
		factory, ok := r.factories[rt.Strategy]
		if !ok {
			failed = append(failed, &ErrNoFactory{Service: name, Strategy: rt.Strategy})
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			failed = append(failed, &ErrFactoryFailed{Service: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		entries[name] = remoteEntry{handler: h, close: closeFn}
		r.logger.Info("connectivity: route built", "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remote {
		if old.close != nil && !reused[name] {
			old.close()
		}
	}

	r.remote = entries
	r.routes = next

	if len(failed) > 0 {
		return fmt.Errorf("connectivity: %d route(s) not applied: %w", len(failed), errors.Join(failed...))
	}
	return nil
}

// Services lists every service with a local handler or a route, sorted.
func (r *Router) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.local)+len(r.routes))
	for s := range r.local {
		seen[s] = true
	}
	for s := range r.routes {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Close closes every remote handler.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.remote {
		if e.close != nil {
			e.close()
		}
	}
	r.remote = make(map[string]remoteEntry)
	r.routes = make(map[string]Route)
	return nil
}
