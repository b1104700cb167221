// Package store holds the decoded messages of one endpoint in a bounded ring.
//
// Insertion beyond capacity evicts the oldest-inserted message. Shrinking the
// capacity with Resize instead keeps the most recent messages by ReceivedAt,
// which differs from insertion order when timestamps arrive out of order.
// Queries always return messages newest first.
package store

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/pattern"
	"github.com/c360/oscbridge/pkg/buffer"
)

// Capacity limits.
const (
	DefaultCapacity = 1000
	MaxCapacity     = 10000
)

// Query selects messages. Nil fields are not applied.
type Query struct {
	// Pattern keeps messages whose address matches. An empty pattern selects nothing.
	Pattern *string
	// Since and Until are inclusive bounds on ReceivedAt.
	Since *time.Time
	Until *time.Time
	// Limit truncates the result: 0 returns nothing, negative values are ignored.
	Limit *int
}

// Store is a thread-safe, filterable ring of OSC messages.
type Store struct {
	mu      sync.Mutex
	buf     buffer.Buffer[*osc.Message]
	filters []string
	matcher *pattern.Matcher
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	matcher  *pattern.Matcher
	registry *metric.MetricsRegistry
	prefix   string
}

// WithMatcher uses m for filter and query matching instead of the shared matcher.
func WithMatcher(m *pattern.Matcher) Option {
	return func(o *storeOptions) {
		o.matcher = m
	}
}

// WithMetrics exports ring buffer metrics under prefix.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(o *storeOptions) {
		o.registry = registry
		o.prefix = prefix
	}
}

// New creates a store. capacity must be within 1..MaxCapacity. An empty filter
// list accepts every message.
func New(capacity int, filters []string, opts ...Option) (*Store, error) {
	if err := ValidateCapacity(capacity); err != nil {
		return nil, err
	}

	o := &storeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	bufOpts := []buffer.Option[*osc.Message]{buffer.WithOverflowPolicy[*osc.Message](buffer.DropOldest)}
	if o.registry != nil && o.prefix != "" {
		bufOpts = append(bufOpts, buffer.WithMetrics[*osc.Message](o.registry, o.prefix))
	}
	buf, err := buffer.NewCircularBuffer[*osc.Message](capacity, bufOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Store", "New", "create ring buffer")
	}

	return &Store{
		buf:     buf,
		filters: slices.Clone(filters),
		matcher: o.matcher,
	}, nil
}

// ValidateCapacity checks that capacity is within 1..MaxCapacity.
func ValidateCapacity(capacity int) error {
	if capacity < 1 || capacity > MaxCapacity {
		return errors.WrapInvalid(
			fmt.Errorf("%w: capacity %d outside 1..%d", errors.ErrInvalidConfig, capacity, MaxCapacity),
			"Store", "ValidateCapacity", "capacity validation")
	}
	return nil
}

func (s *Store) matchAny(address string, patterns []string) bool {
	if s.matcher != nil {
		return s.matcher.MatchAny(address, patterns)
	}
	return pattern.MatchAny(address, patterns)
}

func (s *Store) compile(p string) *pattern.Pattern {
	if s.matcher != nil {
		return s.matcher.Compile(p)
	}
	return pattern.Compile(p)
}

// Add stores msg unless the address filters reject it. It reports whether the
// message was stored. A full store evicts its oldest-inserted message first.
func (s *Store) Add(msg *osc.Message) bool {
	return s.AddFunc(msg, nil)
}

// AddFunc is Add with a hook that runs after msg is stored, before the store
// lock is released. Count never observes the message before onStored has run.
func (s *Store) AddFunc(msg *osc.Message, onStored func()) bool {
	if msg == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.filters) > 0 && !s.matchAny(msg.Address, s.filters) {
		return false
	}
	if s.buf.Write(msg) != nil {
		return false
	}
	if onStored != nil {
		onStored()
	}
	return true
}

// Query returns the messages selected by q, newest first. Messages with equal
// ReceivedAt keep their insertion order. The result is never nil.
func (s *Store) Query(q Query) []*osc.Message {
	if q.Pattern != nil && *q.Pattern == "" {
		return []*osc.Message{}
	}
	if q.Limit != nil && *q.Limit == 0 {
		return []*osc.Message{}
	}

	s.mu.Lock()
	all := s.buf.Snapshot()
	s.mu.Unlock()

	var p *pattern.Pattern
	if q.Pattern != nil {
		p = s.compile(*q.Pattern)
	}

	result := make([]*osc.Message, 0, len(all))
	for _, msg := range all {
		if p != nil && !p.Match(msg.Address) {
			continue
		}
		if q.Since != nil && msg.ReceivedAt.Before(*q.Since) {
			continue
		}
		if q.Until != nil && msg.ReceivedAt.After(*q.Until) {
			continue
		}
		result = append(result, msg)
	}

	SortNewestFirst(result)

	if q.Limit != nil && *q.Limit > 0 && len(result) > *q.Limit {
		result = result[:*q.Limit]
	}
	return result
}

// SortNewestFirst stable-sorts messages by ReceivedAt descending.
func SortNewestFirst(msgs []*osc.Message) {
	slices.SortStableFunc(msgs, func(a, b *osc.Message) int {
		return cmp.Compare(b.ReceivedAt.UnixNano(), a.ReceivedAt.UnixNano())
	})
}

// Resize changes the capacity. Growing keeps every message. Shrinking keeps the
// capacity most recent messages by ReceivedAt; survivors stay in their
// original insertion order so later evictions remain insertion-ordered.
func (s *Store) Resize(capacity int) error {
	if err := ValidateCapacity(capacity); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.buf.Snapshot()
	if len(current) <= capacity {
		return s.buf.Resize(capacity)
	}

	order := make([]int, len(current))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(current[b].ReceivedAt.UnixNano(), current[a].ReceivedAt.UnixNano())
	})
	keep := order[:capacity]
	slices.Sort(keep)

	s.buf.Clear()
	if err := s.buf.Resize(capacity); err != nil {
		return err
	}
	for _, i := range keep {
		if err := s.buf.Write(current[i]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateFilters replaces the address filters. Stored messages are not re-checked.
func (s *Store) UpdateFilters(filters []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = slices.Clone(filters)
}

// Filters returns a copy of the address filters.
func (s *Store) Filters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filters == nil {
		return []string{}
	}
	return slices.Clone(s.filters)
}

// Count returns the number of stored messages.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Size()
}

// Capacity returns the maximum number of stored messages.
func (s *Store) Capacity() int {
	return s.buf.Capacity()
}

// Clear removes every stored message.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Clear()
}

// Stats returns the ring buffer statistics.
func (s *Store) Stats() *buffer.Statistics {
	return s.buf.Stats()
}
