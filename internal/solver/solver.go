// Package solver holds the solver contract and the ordered registry that
// filters solvers down to the ones applicable to a problem.
package solver

import (
	"slices"

	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
)

// PerfConfig is a solver-specific tuning parameter set in textual form.
// The empty config selects the solver's default.
type PerfConfig string

// Solver is one algorithmic implementation of one or more problem kinds.
type Solver interface {
	Name() string
	Kinds() []problem.Kind
	// RequiresBLAS reports whether the plans issue GEMM ops.
	RequiresBLAS() bool
	// Deprecated solvers are only considered when explicitly enabled.
	Deprecated() bool
	// IsApplicable checks data type, rank and layout support. It is only
	// called with problems of one of the solver's kinds.
	IsApplicable(p problem.Problem) bool
	// Workspace is the workspace element count the plans need.
	Workspace(p problem.Problem) int
	Plan(p problem.Problem, cfg PerfConfig) (*plan.Plan, error)
}

// Tunable solvers expose a set of performance configs to search.
type Tunable interface {
	Solver
	Configs(p problem.Problem) []PerfConfig
}

// Configs returns the configs to search for s, at least the default.
func Configs(s Solver, p problem.Problem) []PerfConfig {
	if t, ok := s.(Tunable); ok {
		if cfgs := t.Configs(p); len(cfgs) > 0 {
			return cfgs
		}
	}
	return []PerfConfig{""}
}

// Info implements the descriptive half of Solver for embedding.
type Info struct {
	ID        string
	For       []problem.Kind
	NeedsBLAS bool
	Legacy    bool
}

func (i Info) Name() string          { return i.ID }
func (i Info) Kinds() []problem.Kind { return i.For }
func (i Info) RequiresBLAS() bool    { return i.NeedsBLAS }
func (i Info) Deprecated() bool      { return i.Legacy }

// Handles reports whether s is registered for kind k.
func Handles(s Solver, k problem.Kind) bool {
	return slices.Contains(s.Kinds(), k)
}
