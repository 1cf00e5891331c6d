// Package logsumexp implements y = log(sum(exp(x))) over a set of
// dimensions and its gradient.
package logsumexp

import (
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

const (
	KernelForward  = "LogsumexpForward"
	KernelBackward = "LogsumexpBackward"
)

// Reduction maps flat input indices to flat indices of the reduced output.
type Reduction struct {
	lens    []int
	reduced []bool
	outLen  int
	// outStride[i] is the output stride of input dimension i, 0 if reduced.
	outStride []int
}

func NewReduction(lens, dims []int) (*Reduction, error) {
	r := &Reduction{
		lens:      append([]int(nil), lens...),
		reduced:   make([]bool, len(lens)),
		outStride: make([]int, len(lens)),
	}
	for _, d := range dims {
		if d < 0 || d >= len(lens) {
			return nil, status.BadParmf("dimension %d out of range for rank %d", d, len(lens))
		}
		r.reduced[d] = true
	}
	stride := 1
	for i := len(lens) - 1; i >= 0; i-- {
		if r.reduced[i] {
			continue
		}
		r.outStride[i] = stride
		stride *= lens[i]
	}
	r.outLen = stride
	return r, nil
}

func (r *Reduction) InputLen() int {
	n := 1
	for _, l := range r.lens {
		n *= l
	}
	return n
}

func (r *Reduction) OutputLen() int { return r.outLen }

// Target returns the output index input element i reduces into.
func (r *Reduction) Target(i int) int {
	o := 0
	for d := len(r.lens) - 1; d >= 0; d-- {
		idx := i % r.lens[d]
		i /= r.lens[d]
		o += idx * r.outStride[d]
	}
	return o
}

// Forward computes y from x with a max shift for stability.
func Forward(y, x []float32, r *Reduction) {
	n := r.InputLen()
	peak := make([]float64, r.outLen)
	for i := range peak {
		peak[i] = math.Inf(-1)
	}
	for i := 0; i < n; i++ {
		o := r.Target(i)
		peak[o] = math.Max(peak[o], float64(x[i]))
	}
	sum := make([]float64, r.outLen)
	for i := 0; i < n; i++ {
		o := r.Target(i)
		if !math.IsInf(peak[o], 0) {
			sum[o] += math.Exp(float64(x[i]) - peak[o])
		}
	}
	for o := range sum {
		// an infinite peak is the result: -Inf only when every input is -Inf
		if math.IsInf(peak[o], 0) {
			y[o] = float32(peak[o])
			continue
		}
		y[o] = float32(peak[o] + math.Log(sum[o]))
	}
}

// Backward computes dx = dy * exp(x - y), broadcasting y and dy over the
// reduced dimensions. Where y is infinite the gradient is split evenly over
// the inputs equal to y and is zero elsewhere.
func Backward(dx, x, y, dy []float32, r *Reduction) {
	n := r.InputLen()
	var ties []int
	for o := range r.outLen {
		if math.IsInf(float64(y[o]), 0) {
			ties = make([]int, r.outLen)
			break
		}
	}
	if ties != nil {
		for i := 0; i < n; i++ {
			if o := r.Target(i); math.IsInf(float64(y[o]), 0) && x[i] == y[o] {
				ties[o]++
			}
		}
	}
	for i := 0; i < n; i++ {
		o := r.Target(i)
		if math.IsInf(float64(y[o]), 0) {
			dx[i] = 0
			if x[i] == y[o] {
				dx[i] = dy[o] / float32(ties[o])
			}
			continue
		}
		dx[i] = dy[o] * float32(math.Exp(float64(x[i])-float64(y[o])))
	}
}

func EncodeParams(lens, dims []int) []int {
	p := []int{len(lens)}
	p = append(p, lens...)
	p = append(p, len(dims))
	return append(p, dims...)
}

func DecodeParams(p []int) (lens, dims []int, err error) {
	if len(p) < 1 || p[0] < 0 || len(p) < p[0]+2 {
		return nil, nil, fmt.Errorf("logsumexp: malformed kernel params %v", p)
	}
	lens = p[1 : 1+p[0]]
	rest := p[1+p[0]:]
	if len(rest) != 1+rest[0] {
		return nil, nil, fmt.Errorf("logsumexp: malformed kernel params %v", p)
	}
	return lens, rest[1:], nil
}

// Solver plans either direction as one kernel launch.
type Solver struct{ solver.Info }

func NewForward() *Solver {
	return &Solver{solver.Info{ID: "LogsumexpForward", For: []problem.Kind{problem.LogsumexpForward}}}
}

func NewBackward() *Solver {
	return &Solver{solver.Info{ID: "LogsumexpBackward", For: []problem.Kind{problem.LogsumexpBackward}}}
}

func (s *Solver) IsApplicable(p problem.Problem) bool {
	l, ok := p.(*problem.Logsumexp)
	if !ok {
		return false
	}
	dt := l.DataType()
	return (dt == tensor.Float32 || dt == tensor.Half || dt == tensor.BFloat16) && len(l.In) <= 5
}

func (s *Solver) Workspace(problem.Problem) int { return 0 }

func (s *Solver) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	l, ok := p.(*problem.Logsumexp)
	if !ok || !slices.Contains(s.Kinds(), p.Kind()) {
		return nil, status.BadParmf("%s cannot plan %s", s.Name(), p.Kind())
	}
	in, out := l.InputSize(), l.OutputSize()
	k := &plan.Kernel{Params: EncodeParams(l.In, l.Dims)}
	arg := func(b plan.BufferID, n int) plan.KernelArg {
		return plan.KernelArg{Operand: plan.Operand{Buf: b}, Len: n}
	}
	if p.Kind() == problem.LogsumexpForward {
		k.Name = KernelForward
		k.Args = []plan.KernelArg{arg(plan.BufX, in), arg(plan.BufY, out)}
	} else {
		k.Name = KernelBackward
		k.Args = []plan.KernelArg{arg(plan.BufX, in), arg(plan.BufY, out), arg(plan.BufDY, out), arg(plan.BufDX, in)}
	}
	pl := plan.New(s.Name())
	pl.Add(k)
	return pl, nil
}
