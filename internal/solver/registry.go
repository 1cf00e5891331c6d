package solver

import (
	"context"
	"fmt"

	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
)

// Env carries the build and configuration facts applicability depends on.
type Env struct {
	HasBLAS          bool
	EnableDeprecated bool
}

// Registry keeps solvers in registration order. Registration happens at
// start-up; lookups afterwards are read-only and safe for concurrent use.
type Registry struct {
	solvers []Solver
	byName  map[string]int
}

func NewRegistry(solvers ...Solver) *Registry {
	r := &Registry{byName: make(map[string]int)}
	for _, s := range solvers {
		r.Register(s)
	}
	return r
}

// Register appends s. Duplicate names panic.
func (r *Registry) Register(s Solver) {
	if _, dup := r.byName[s.Name()]; dup {
		panic(fmt.Sprintf("solver: %s registered twice", s.Name()))
	}
	r.byName[s.Name()] = len(r.solvers)
	r.solvers = append(r.solvers, s)
}

func (r *Registry) Lookup(name string) (Solver, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.solvers[i], true
}

// All returns every solver in registration order.
func (r *Registry) All() []Solver { return append([]Solver(nil), r.solvers...) }

// Index returns the registration position of name, or -1.
func (r *Registry) Index(name string) int {
	if i, ok := r.byName[name]; ok {
		return i
	}
	return -1
}

// ForKind returns the solvers registered for k in registration order.
func (r *Registry) ForKind(k problem.Kind) []Solver {
	var out []Solver
	for _, s := range r.solvers {
		if Handles(s, k) {
			out = append(out, s)
		}
	}
	return out
}

// Applicable filters the registry for p. The result keeps registration order.
// An empty result is status.ErrNoSolver; if some candidate was dropped only
// because no GEMM provider is present the error also matches
// status.ErrBackendUnavailable.
func (r *Registry) Applicable(ctx context.Context, env Env, p problem.Problem) ([]Solver, error) {
	log := logger.FromContext(ctx)
	var (
		out       []Solver
		needsBLAS bool
	)
	for _, s := range r.ForKind(p.Kind()) {
		switch {
		case s.Deprecated() && !env.EnableDeprecated:
			log.Debug("solver skipped", "solver", s.Name(), "reason", "deprecated")
		case !s.IsApplicable(p):
			log.Debug("solver skipped", "solver", s.Name(), "reason", "not applicable")
		case s.RequiresBLAS() && !env.HasBLAS:
			needsBLAS = true
			log.Debug("solver skipped", "solver", s.Name(), "reason", "no gemm provider")
		default:
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	if needsBLAS {
		return nil, fmt.Errorf("%w for %s: %w", status.ErrNoSolver, p.Kind(), status.ErrBackendUnavailable)
	}
	return nil, fmt.Errorf("%w for %s (%s)", status.ErrNoSolver, p.Kind(), p.Key())
}
