// Package pattern matches OSC addresses against wildcard patterns.
//
// A pattern is matched against the whole address. '*' matches any run of
// characters including the empty run and crosses '/' boundaries, '?' matches
// exactly one character, and every other character matches itself
// case-sensitively. The empty pattern matches nothing.
//
// Compiled patterns are kept in a bounded LRU cache so that store filters and
// repeated queries do not recompile the same expression.
package pattern

import (
	"regexp"
	"strings"

	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/pkg/cache"
)

// DefaultCacheSize is the number of compiled patterns kept by a Matcher.
const DefaultCacheSize = 256

// Pattern is a compiled wildcard pattern.
type Pattern struct {
	source string
	re     *regexp.Regexp // nil for the empty pattern
}

// Match reports whether address satisfies the pattern.
func (p *Pattern) Match(address string) bool {
	if p == nil || p.re == nil {
		return false
	}
	return p.re.MatchString(address)
}

// String returns the source pattern.
func (p *Pattern) String() string {
	return p.source
}

// Matcher compiles patterns and caches the result.
type Matcher struct {
	cache cache.Cache[*Pattern]
}

// Option configures a Matcher.
type Option func(*options)

type options struct {
	cacheSize int
	registry  *metric.MetricsRegistry
	prefix    string
}

// WithCacheSize sets the number of compiled patterns kept. Values <= 0 keep the default.
func WithCacheSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// WithMetrics exports cache hit/miss metrics under the given prefix.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(o *options) {
		o.registry = registry
		o.prefix = prefix
	}
}

// New creates a Matcher with a private cache.
func New(opts ...Option) (*Matcher, error) {
	o := &options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(o)
	}

	c, err := cache.NewLRU[*Pattern](o.cacheSize, cache.WithMetrics[*Pattern](o.registry, o.prefix))
	if err != nil {
		return nil, err
	}
	return &Matcher{cache: c}, nil
}

// Compile returns the compiled form of pattern, from the cache when possible.
func (m *Matcher) Compile(pattern string) *Pattern {
	if pattern == "" {
		return &Pattern{}
	}
	if p, ok := m.cache.Get(pattern); ok {
		return p
	}

	p := compile(pattern)
	_, _ = m.cache.Set(pattern, p)
	return p
}

// Match reports whether address satisfies pattern.
func (m *Matcher) Match(address, pattern string) bool {
	return m.Compile(pattern).Match(address)
}

// MatchAny reports whether address satisfies at least one of patterns.
func (m *Matcher) MatchAny(address string, patterns []string) bool {
	for _, p := range patterns {
		if m.Match(address, p) {
			return true
		}
	}
	return false
}

// CacheStats returns statistics of the compiled pattern cache.
func (m *Matcher) CacheStats() *cache.Statistics {
	return m.cache.Stats()
}

// compile translates a wildcard pattern into an anchored regular expression.
// Literal runs are quoted, so the result always compiles.
func compile(pattern string) *Pattern {
	var sb strings.Builder
	sb.WriteString(`^(?s:`)

	literal := 0
	flush := func(i int) {
		if i > literal {
			sb.WriteString(regexp.QuoteMeta(pattern[literal:i]))
		}
	}
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			flush(i)
			sb.WriteString(`.*`)
			literal = i + 1
		case '?':
			flush(i)
			sb.WriteString(`.`)
			literal = i + 1
		}
	}
	flush(len(pattern))
	sb.WriteString(`)$`)

	return &Pattern{source: pattern, re: regexp.MustCompile(sb.String())}
}

var defaultMatcher = func() *Matcher {
	m, err := New()
	if err != nil {
		panic(err)
	}
	return m
}()

// Match reports whether address satisfies pattern using the shared Matcher.
func Match(address, pattern string) bool {
	return defaultMatcher.Match(address, pattern)
}

// MatchAny reports whether address satisfies any of patterns using the shared Matcher.
func MatchAny(address string, patterns []string) bool {
	return defaultMatcher.MatchAny(address, patterns)
}

// Compile compiles pattern using the shared Matcher.
func Compile(pattern string) *Pattern {
	return defaultMatcher.Compile(pattern)
}
