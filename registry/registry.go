// Package registry coordinates every endpoint of the process: it allocates
// ids, enforces one active listener per port, fans queries and status
// requests across endpoints and stops them all on shutdown.
package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/pkg/retry"
	"github.com/c360/oscbridge/store"
)

// Deps holds the dependencies of a Registry.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	// EventBuffer and RetryConfig are passed to every endpoint.
	EventBuffer int
	RetryConfig *retry.Config
}

// CreateResult describes the outcome of Create. Err is nil on success.
type CreateResult struct {
	EndpointID string
	Port       int
	State      endpoint.State
	Message    string
	Err        error
}

// StopResult describes the outcome of Stop.
type StopResult struct {
	EndpointID string
	Found      bool
	Message    string
	Err        error
}

// QueryResult is the outcome of Query.
type QueryResult struct {
	Messages      []*osc.Message `json:"messages"`
	TotalCount    int            `json:"totalCount"`
	FilteredCount int            `json:"filteredCount"`
}

type entry struct {
	ep       *endpoint.Endpoint
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

// Registry exclusively owns all endpoints of a process.
type Registry struct {
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	core    *metric.Metrics
	deps    Deps

	// createMu serializes Create so the port check and the bind are atomic
	// with respect to other creates.
	createMu sync.Mutex

	mu        sync.RWMutex
	endpoints map[string]*entry
	order     []string
	nextID    atomic.Uint64

	subMu       sync.RWMutex
	subscribers map[uint64]Subscriber
	nextSubID   uint64
}

// New creates an empty registry. Ids start at endpoint-1 for every new registry.
func New(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:      logger.With("component", "registry"),
		metrics:     deps.MetricsRegistry,
		core:        deps.MetricsRegistry.CoreMetrics(),
		deps:        deps,
		endpoints:   make(map[string]*entry),
		subscribers: make(map[uint64]Subscriber),
	}
}

// Create validates cfg, starts a new endpoint and registers it. Failures are
// reported in the result rather than returned; an id is consumed even when
// the start fails.
func (r *Registry) Create(ctx context.Context, cfg endpoint.Config) CreateResult {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return CreateResult{Port: cfg.Port, State: endpoint.StateStopped, Message: err.Error(), Err: err}
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if owner := r.activeOwner(cfg.Port); owner != "" {
		err := errors.NewCoded(errors.CodePortConflict,
			fmt.Sprintf("port %d is already used by active endpoint %s", cfg.Port, owner), nil).
			WithRemediation(errors.Remediation{
				SuggestedPorts: r.freeSuggestions(cfg.Port),
				Hint:           fmt.Sprintf("stop %s first or choose another port", owner),
			})
		return CreateResult{Port: cfg.Port, State: endpoint.StateStopped, Message: err.Message, Err: err}
	}

	id := fmt.Sprintf("endpoint-%d", r.nextID.Add(1))

	ep, err := endpoint.New(endpoint.Deps{
		ID:              id,
		Config:          cfg,
		Logger:          r.deps.Logger,
		MetricsRegistry: r.metrics,
		EventBuffer:     r.deps.EventBuffer,
		RetryConfig:     r.deps.RetryConfig,
	})
	if err != nil {
		return CreateResult{EndpointID: id, Port: cfg.Port, State: endpoint.StateError, Message: err.Error(), Err: err}
	}

	if err := startSafely(ctx, ep); err != nil {
		_ = ep.Close(ctx)
		message := err.Error()
		var coded *errors.CodedError
		if stderrors.As(err, &coded) {
			message = coded.Message
		}
		r.logger.Warn("Endpoint failed to start", "endpoint_id", id, "port", cfg.Port, "error", err)
		return CreateResult{EndpointID: id, Port: cfg.Port, State: endpoint.StateError, Message: message, Err: err}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	e := &entry{ep: ep, cancel: cancel, pumpDone: make(chan struct{})}

	r.mu.Lock()
	r.endpoints[id] = e
	r.order = append(r.order, id)
	r.mu.Unlock()

	go r.pump(pumpCtx, ep, e.pumpDone)
	r.core.SetActiveEndpoints(r.countActive())

	r.logger.Info("Endpoint created", "endpoint_id", id, "port", cfg.Port, "capacity", cfg.Capacity)
	return CreateResult{
		EndpointID: id,
		Port:       cfg.Port,
		State:      endpoint.StateActive,
		Message:    fmt.Sprintf("OSC endpoint listening on port %d", cfg.Port),
	}
}

// startSafely converts a panic raised by the transport into INTERNAL_ERROR.
func startSafely(ctx context.Context, ep *endpoint.Endpoint) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.NewCoded(errors.CodeInternalError, fmt.Sprintf("start endpoint %s: panic: %v", ep.ID(), p), nil)
		}
	}()
	return ep.Start(ctx)
}

// activeOwner returns the id of the active endpoint bound to port, if any.
func (r *Registry) activeOwner(port int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		e := r.endpoints[id]
		if e.ep.Port() == port && e.ep.State() == endpoint.StateActive {
			return id
		}
	}
	return ""
}

// freeSuggestions filters the standard suggestions down to ports not owned by
// another registered endpoint.
func (r *Registry) freeSuggestions(port int) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	used := make(map[int]bool, len(r.endpoints))
	for _, e := range r.endpoints {
		used[e.ep.Port()] = true
	}
	var ports []int
	for _, p := range endpoint.SuggestPorts(port) {
		if !used[p] {
			ports = append(ports, p)
		}
	}
	return ports
}

func (r *Registry) countActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.endpoints {
		if e.ep.State() == endpoint.StateActive {
			n++
		}
	}
	return n
}

// Stop stops the endpoint and removes it. A removed endpoint cannot be queried
// again and its port becomes available.
func (r *Registry) Stop(ctx context.Context, id string) StopResult {
	r.mu.Lock()
	e, ok := r.endpoints[id]
	if !ok {
		r.mu.Unlock()
		return StopResult{
			EndpointID: id,
			Message:    fmt.Sprintf("endpoint %s not found", id),
			Err:        notFound(id),
		}
	}
	delete(r.endpoints, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	r.mu.Unlock()

	err := r.release(ctx, e)
	r.core.SetActiveEndpoints(r.countActive())

	if err != nil {
		r.logger.Warn("Endpoint stop did not complete cleanly", "endpoint_id", id, "error", err)
		return StopResult{EndpointID: id, Found: true, Message: fmt.Sprintf("endpoint %s removed with error: %v", id, err), Err: err}
	}
	r.logger.Info("Endpoint stopped", "endpoint_id", id)
	return StopResult{EndpointID: id, Found: true, Message: fmt.Sprintf("endpoint %s stopped", id)}
}

// release closes an endpoint that is no longer registered and ends its pump.
func (r *Registry) release(ctx context.Context, e *entry) error {
	err := e.ep.Close(ctx)
	e.cancel()
	select {
	case <-e.pumpDone:
	case <-ctx.Done():
	}
	return err
}

func notFound(id string) error {
	return errors.NewCoded(errors.CodeEndpointNotFound, fmt.Sprintf("endpoint %s not found", id), errors.ErrNotFound)
}

// Status returns the snapshot of one endpoint, or of all endpoints in
// registration order when id is empty.
func (r *Registry) Status(id string) ([]endpoint.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		e, ok := r.endpoints[id]
		if !ok {
			return nil, notFound(id)
		}
		return []endpoint.Info{e.ep.Info()}, nil
	}

	infos := make([]endpoint.Info, 0, len(r.order))
	for _, eid := range r.order {
		infos = append(infos, r.endpoints[eid].ep.Info())
	}
	return infos, nil
}

// Query runs q against one endpoint, or against every endpoint when id is
// empty. Aggregated queries apply the limit to the merged result, and
// TotalCount is the sum of the stored message counts.
func (r *Registry) Query(id string, q store.Query) (QueryResult, error) {
	if id != "" {
		r.mu.RLock()
		e, ok := r.endpoints[id]
		r.mu.RUnlock()
		if !ok {
			return QueryResult{Messages: []*osc.Message{}}, notFound(id)
		}
		st := e.ep.Store()
		msgs := st.Query(q)
		return QueryResult{Messages: msgs, TotalCount: st.Count(), FilteredCount: len(msgs)}, nil
	}

	r.mu.RLock()
	eps := make([]*endpoint.Endpoint, 0, len(r.order))
	for _, eid := range r.order {
		eps = append(eps, r.endpoints[eid].ep)
	}
	r.mu.RUnlock()

	perStore := q
	perStore.Limit = nil

	merged := []*osc.Message{}
	total := 0
	for _, ep := range eps {
		msgs, count := r.queryOne(ep, perStore)
		merged = append(merged, msgs...)
		total += count
	}

	store.SortNewestFirst(merged)
	if q.Limit != nil {
		switch {
		case *q.Limit == 0:
			merged = []*osc.Message{}
		case *q.Limit > 0 && len(merged) > *q.Limit:
			merged = merged[:*q.Limit]
		}
	}

	return QueryResult{Messages: merged, TotalCount: total, FilteredCount: len(merged)}, nil
}

// queryOne isolates a failing store so it cannot abort the aggregate query.
func (r *Registry) queryOne(ep *endpoint.Endpoint, q store.Query) (msgs []*osc.Message, count int) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Store query panicked", "endpoint_id", ep.ID(), "panic", p)
			msgs, count = nil, 0
		}
	}()
	st := ep.Store()
	return st.Query(q), st.Count()
}

// Shutdown stops every endpoint concurrently. Individual failures are logged
// and joined into the returned error; the registry is empty afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.endpoints[id])
	}
	r.endpoints = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
		g     errgroup.Group
	)
	for _, e := range entries {
		g.Go(func() error {
			if err := r.release(ctx, e); err != nil {
				r.logger.Error("Failed to stop endpoint during shutdown", "endpoint_id", e.ep.ID(), "error", err)
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", e.ep.ID(), err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.core.SetActiveEndpoints(0)
	r.logger.Info("Registry shut down", "endpoints", len(entries), "failures", len(errs))
	return stderrors.Join(errs...)
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Subscribe registers s for the events of every endpoint and returns a
// function that removes it.
func (r *Registry) Subscribe(s Subscriber) (unsubscribe func()) {
	r.subMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subscribers[id] = s
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subscribers, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Registry) snapshotSubscribers() []Subscriber {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	subs := make([]Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	return subs
}
