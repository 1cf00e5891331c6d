package repeat

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// Kernel names understood by device handles.
const (
	KernelForward  = "RepeatForward"
	KernelBackward = "RepeatBackward"
)

// EncodeParams packs input and output lengths as kernel parameters.
func EncodeParams(in, out []int) []int {
	p := make([]int, 0, 2+len(in)+len(out))
	p = append(p, len(in))
	p = append(p, in...)
	p = append(p, len(out))
	return append(p, out...)
}

// DecodeParams is the inverse of EncodeParams.
func DecodeParams(p []int) (in, out []int, err error) {
	if len(p) < 1 || p[0] < 0 || len(p) < p[0]+2 {
		return nil, nil, fmt.Errorf("repeat: malformed kernel params %v", p)
	}
	n := p[0]
	in = p[1 : 1+n]
	rest := p[1+n:]
	if len(rest) != 1+rest[0] {
		return nil, nil, fmt.Errorf("repeat: malformed kernel params %v", p)
	}
	return in, rest[1:], nil
}

func supported(dt tensor.DataType) bool {
	return dt == tensor.Float32 || dt == tensor.Half || dt == tensor.BFloat16
}

// ForwardSolver plans y = repeat(x) as one kernel launch.
type ForwardSolver struct{ solver.Info }

func NewForward() *ForwardSolver {
	return &ForwardSolver{solver.Info{ID: "RepeatForward", For: []problem.Kind{problem.RepeatForward}}}
}

func (s *ForwardSolver) IsApplicable(p problem.Problem) bool {
	_, ok := p.(*problem.Repeat)
	return ok && supported(p.DataType())
}

func (s *ForwardSolver) Workspace(problem.Problem) int { return 0 }

func (s *ForwardSolver) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	r, ok := p.(*problem.Repeat)
	if !ok {
		return nil, status.BadParmf("%s cannot plan %T", s.Name(), p)
	}
	pl := plan.New(s.Name())
	pl.Add(&plan.Kernel{
		Name: KernelForward,
		Args: []plan.KernelArg{
			{Operand: plan.Operand{Buf: plan.BufX}, Len: r.InputSize()},
			{Operand: plan.Operand{Buf: plan.BufY}, Len: r.OutputSize()},
		},
		Params: EncodeParams(r.In, r.Out),
	})
	return pl, nil
}

// BackwardSolver plans dx = sum over repeats of dy. The destination is
// cleared first because the kernel accumulates.
type BackwardSolver struct{ solver.Info }

func NewBackward() *BackwardSolver {
	return &BackwardSolver{solver.Info{ID: "RepeatBackward", For: []problem.Kind{problem.RepeatBackward}}}
}

func (s *BackwardSolver) IsApplicable(p problem.Problem) bool {
	_, ok := p.(*problem.Repeat)
	return ok && supported(p.DataType())
}

func (s *BackwardSolver) Workspace(problem.Problem) int { return 0 }

func (s *BackwardSolver) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	r, ok := p.(*problem.Repeat)
	if !ok {
		return nil, status.BadParmf("%s cannot plan %T", s.Name(), p)
	}
	pl := plan.New(s.Name())
	pl.Add(
		&plan.Accumulate{Mode: plan.Fill, Rows: 1, Cols: r.InputSize(), Dst: plan.Operand{Buf: plan.BufDX}},
		&plan.Kernel{
			Name: KernelBackward,
			Args: []plan.KernelArg{
				{Operand: plan.Operand{Buf: plan.BufDY}, Len: r.OutputSize()},
				{Operand: plan.Operand{Buf: plan.BufDX}, Len: r.InputSize()},
			},
			Params: EncodeParams(r.In, r.Out),
		},
	)
	return pl, nil
}
