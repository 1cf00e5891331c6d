package rnn

import (
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// Solver plans one RNN pass as GEMM and elementwise sub-operations.
type Solver struct{ solver.Info }

// Solvers returns the GEMM-based solver of every RNN pass.
func Solvers() []solver.Solver {
	return []solver.Solver{
		newSolver("RNNForwardTrainingGemm", problem.RNNForwardTraining),
		newSolver("RNNForwardInferenceGemm", problem.RNNForwardInference),
		newSolver("RNNBackwardDataGemm", problem.RNNBackwardData),
		newSolver("RNNBackwardWeightsGemm", problem.RNNBackwardWeights),
	}
}

func newSolver(name string, kind problem.Kind) *Solver {
	return &Solver{solver.Info{ID: name, For: []problem.Kind{kind}, NeedsBLAS: true}}
}

// IsApplicable accepts linear-input networks in Float32 or Half. Gated
// backward passes are accepted so planning can report them as not
// implemented instead of leaving the caller without a solver.
func (s *Solver) IsApplicable(p problem.Problem) bool {
	r, ok := p.(*problem.RNN)
	if !ok {
		return false
	}
	dt := r.DataType()
	return (dt == tensor.Float32 || dt == tensor.Half) && r.Config.Input == problem.LinearInput
}

func (s *Solver) Workspace(p problem.Problem) int {
	if r, ok := p.(*problem.RNN); ok {
		return WorkspaceSize(r)
	}
	return 0
}

func (s *Solver) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	r, ok := p.(*problem.RNN)
	if !ok || !solver.Handles(s, p.Kind()) {
		return nil, status.BadParmf("%s cannot plan %s", s.Name(), p.Kind())
	}
	return Build(r, s.Name())
}

// Build plans p as a pass of p's kind. The plan is labelled with name.
func Build(p *problem.RNN, name string) (*plan.Plan, error) {
	if p.Config.Input != problem.LinearInput {
		return nil, status.NotImplementedf("rnn skip input mode")
	}
	b := newBuilder(p, name)
	for _, l := range []*plan.Layout{b.ws, b.states} {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}
	var err error
	switch p.Kind() {
	case problem.RNNForwardTraining, problem.RNNForwardInference:
		forward(b)
	case problem.RNNBackwardData:
		err = b.cell.backwardData(b)
	case problem.RNNBackwardWeights:
		err = b.cell.backwardWeights(b)
	default:
		err = status.BadParmf("kind %s is not recurrent", p.Kind())
	}
	if err != nil {
		return nil, err
	}
	return b.finish()
}
