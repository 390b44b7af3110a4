// Package scenario holds the named, weighted units of work exercised by virtual users.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ExecFunc runs one iteration of a scenario. A nil return is a success.
//
// Implementations should honor ctx; the caller bounds every call with the
// configured request timeout.
type ExecFunc func(ctx context.Context) error

// Scenario is a registered unit of work. It is immutable once registered.
type Scenario struct {
	Name                   string
	Weight                 float64
	WarmupIterations       int
	ExpectedResponseTime   time.Duration
	ExpectedSuccessRatePct float64
	Tags                   []string
	Exec                   ExecFunc
}

// Options configures a scenario at registration time.
type Options struct {
	// Weight is the relative selection weight; it must be > 0
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`

	// WarmupIterations is the number of untimed executions before ramp-up
	WarmupIterations int `json:"warmupIterations,omitempty" yaml:"warmupIterations,omitempty"`

	// ExpectedResponseTimeMs is the mean latency this scenario should stay under
	ExpectedResponseTimeMs float64 `json:"expectedResponseTimeMs,omitempty" yaml:"expectedResponseTimeMs,omitempty"`

	// ExpectedSuccessRatePct is the minimum success rate in percent
	ExpectedSuccessRatePct float64 `json:"expectedSuccessRatePct,omitempty" yaml:"expectedSuccessRatePct,omitempty"`

	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

var (
	// ErrEmptyRegistry is returned when selecting from a registry with no weight.
	ErrEmptyRegistry = errors.New("scenario registry is empty")

	// ErrNilExec is returned when registering a scenario without a function.
	ErrNilExec = errors.New("scenario exec function is nil")
)

// DuplicateScenarioError is returned when a name is registered twice.
type DuplicateScenarioError struct {
	Name string
}

func (e *DuplicateScenarioError) Error() string {
	return fmt.Sprintf("scenario %q is already registered", e.Name)
}

// InvalidWeightError is returned for a weight that is not a finite number > 0.
type InvalidWeightError struct {
	Name   string
	Weight float64
}

func (e *InvalidWeightError) Error() string {
	return fmt.Sprintf("scenario %q has invalid weight %v: must be > 0", e.Name, e.Weight)
}

// Registry stores scenarios in registration order and draws them by weight.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	scenarios   []*Scenario
	byName      map[string]*Scenario
	totalWeight float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRegistry creates an empty registry seeded from the clock.
func NewRegistry() *Registry {
	return NewRegistryWithSeed(time.Now().UnixNano())
}

// NewRegistryWithSeed creates an empty registry with a deterministic random source.
func NewRegistryWithSeed(seed int64) *Registry {
	return &Registry{
		byName: make(map[string]*Scenario),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Register adds a scenario. Names must be unique.
func (r *Registry) Register(name string, exec ExecFunc, opts Options) (*Scenario, error) {
	if name == "" {
		return nil, errors.New("scenario name is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("scenario %q: %w", name, ErrNilExec)
	}

	weight := opts.Weight
	if !(weight > 0) || math.IsInf(weight, 0) {
		return nil, &InvalidWeightError{Name: name, Weight: weight}
	}
	if opts.WarmupIterations < 0 {
		return nil, fmt.Errorf("scenario %q: warmup iterations must be >= 0", name)
	}

	s := &Scenario{
		Name:                   name,
		Weight:                 weight,
		WarmupIterations:       opts.WarmupIterations,
		ExpectedResponseTime:   time.Duration(opts.ExpectedResponseTimeMs * float64(time.Millisecond)),
		ExpectedSuccessRatePct: opts.ExpectedSuccessRatePct,
		Tags:                   append([]string(nil), opts.Tags...),
		Exec:                   exec,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, &DuplicateScenarioError{Name: name}
	}
	r.scenarios = append(r.scenarios, s)
	r.byName[name] = s
	r.totalWeight += weight

	return s, nil
}

// SelectWeighted draws one scenario with probability proportional to its weight.
//
// A uniform value in [0, totalWeight) is located on the cumulative weight line;
// scenarios are walked in registration order so boundaries resolve to the
// earlier registration.
func (r *Registry) SelectWeighted() (*Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.scenarios) == 0 || r.totalWeight <= 0 {
		return nil, ErrEmptyRegistry
	}

	r.rngMu.Lock()
	target := r.rng.Float64() * r.totalWeight
	r.rngMu.Unlock()

	return pick(r.scenarios, target), nil
}

func pick(scenarios []*Scenario, target float64) *Scenario {
	var cumulative float64
	for _, s := range scenarios {
		cumulative += s.Weight
		if target < cumulative {
			return s
		}
	}
	// Floating point slack at the upper edge
	return scenarios[len(scenarios)-1]
}

// Get returns a scenario by name.
func (r *Registry) Get(name string) (*Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// List returns all scenarios in registration order.
func (r *Registry) List() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Scenario, len(r.scenarios))
	copy(out, r.scenarios)
	return out
}

// Len returns the number of registered scenarios.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scenarios)
}

// TotalWeight returns the sum of all weights.
func (r *Registry) TotalWeight() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalWeight
}
