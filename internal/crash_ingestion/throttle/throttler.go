package throttle

import (
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
)

// Result is the outcome of throttling a crash.
type Result int

const (
	// Accept means save and process.
	Accept Result = 0
	// Defer means save but don't process.
	Defer Result = 1
	// Reject means throw the crash away.
	Reject Result = 2
)

func (r Result) String() string {
	switch r {
	case Accept:
		return "ACCEPT"
	case Defer:
		return "DEFER"
	case Reject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// NoMatch is the rule name reported when no rule matched a crash.
const NoMatch = "NO_MATCH"

// Condition decides whether a rule applies to a value. For rules keyed on
// "*" the value is the whole domain.RawCrash.
type Condition func(t *Throttler, value interface{}) bool

// Rule is one throttling rule. A nil Percentage rejects matching crashes.
type Rule struct {
	Name       string
	Key        string
	Condition  Condition
	Percentage *int
}

// Match reports whether the rule applies to crash.
func (r Rule) Match(t *Throttler, crash domain.RawCrash) bool {
	if r.Key == "*" {
		return r.Condition(t, crash)
	}
	value, ok := crash[r.Key]
	if !ok {
		return false
	}
	return r.Condition(t, value)
}

type Throttler struct {
	rules    []Rule
	products map[string]struct{}
	random   func() float64
}

type Option func(*Throttler)

// WithRandom replaces the source of uniform [0, 1) values used for
// percentage sampling.
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) { t.random = fn }
}

// WithRules replaces the named rule set with an explicit list.
func WithRules(rules []Rule) Option {
	return func(t *Throttler) { t.rules = rules }
}

// New builds a throttler for the named rule set. products limits which
// ProductName values are supported; empty means all.
func New(ruleSet string, products []string, opts ...Option) (*Throttler, error) {
	t := &Throttler{
		products: make(map[string]struct{}, len(products)),
		random:   rand.Float64,
	}
	for _, p := range products {
		t.products[p] = struct{}{}
	}

	switch ruleSet {
	case "accept_all":
		t.rules = AcceptAllRules()
	case "mozilla":
		t.rules = MozillaRules(len(products) > 0)
	default:
		return nil, errors.Newf("unknown throttle rule set %q", ruleSet)
	}

	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Rules returns the active rule list.
func (t *Throttler) Rules() []Rule {
	return t.rules
}

// IsSupportedProduct reports whether product is in the configured product
// list. Without a list every product is supported.
func (t *Throttler) IsSupportedProduct(product string) bool {
	if len(t.products) == 0 {
		return true
	}
	_, ok := t.products[product]
	return ok
}

// Throttle runs crash through the rules and returns the result, the name of
// the rule that decided, and the percentage that rule accepts.
func (t *Throttler) Throttle(crash domain.RawCrash) (Result, string, int) {
	for _, rule := range t.rules {
		if !rule.Match(t, crash) {
			continue
		}

		if rule.Percentage == nil {
			return Reject, rule.Name, 0
		}

		pct := *rule.Percentage
		if pct >= 100 || t.random()*100 <= float64(pct) {
			return Accept, rule.Name, pct
		}
		return Defer, rule.Name, pct
	}

	return Reject, NoMatch, 0
}
