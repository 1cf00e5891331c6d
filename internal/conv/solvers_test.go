package conv_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/samcharles93/kforge/internal/conv"
	"github.com/samcharles93/kforge/internal/device/host"
	"github.com/samcharles93/kforge/internal/dispatch"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type geometry struct {
	name          string
	n, c, h, w, k int
	r, s          int
	params        problem.ConvParams
}

func (g geometry) problem(t *testing.T, kind problem.Kind) *problem.Conv {
	t.Helper()
	p := g.params
	ho := (g.h+2*p.PadH-p.DilationH*(g.r-1)-1)/p.StrideH + 1
	wo := (g.w+2*p.PadW-p.DilationW*(g.s-1)-1)/p.StrideW + 1
	c, err := problem.NewConv(kind,
		tensor.MustNew(tensor.Float32, g.n, g.c, g.h, g.w),
		tensor.MustNew(tensor.Float32, g.k, g.c, g.r, g.s),
		tensor.MustNew(tensor.Float32, g.n, g.k, ho, wo),
		p)
	require.NoError(t, err)
	return c
}

var geometries = []geometry{
	{name: "1x1", n: 2, c: 3, h: 4, w: 5, k: 4, r: 1, s: 1, params: problem.DefaultConvParams()},
	{name: "3x3 pad", n: 2, c: 2, h: 5, w: 5, k: 3, r: 3, s: 3,
		params: problem.ConvParams{PadH: 1, PadW: 1, StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1}},
	{name: "strided dilated", n: 4, c: 2, h: 7, w: 6, k: 2, r: 2, s: 3,
		params: problem.ConvParams{PadH: 1, PadW: 0, StrideH: 2, StrideW: 1, DilationH: 2, DilationW: 1}},
}

func random(r *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = r.Float32()*2 - 1
	}
	return out
}

// run plans p with s and cfg and dispatches it against a fresh workspace.
func run(t *testing.T, s solver.Solver, cfg solver.PerfConfig, p *problem.Conv, bufs map[plan.BufferID][]float32) {
	t.Helper()
	pl, err := s.Plan(p, cfg)
	require.NoError(t, err)
	bind := dispatch.Bindings{}
	for id, data := range bufs {
		bind[id] = host.NewBuffer(tensor.Float32, data)
	}
	if ws := s.Workspace(p); ws > 0 {
		bind[plan.BufWorkspace] = host.NewBuffer(tensor.Float32, make([]float32, ws))
	}
	require.NoError(t, dispatch.Run(context.Background(), host.New(host.Options{Workers: 3}), pl, bind))
}

func TestSolversAgreeWithDirect(t *testing.T) {
	for _, g := range geometries {
		t.Run(g.name, func(t *testing.T) {
			r := rand.New(rand.NewPCG(3, uint64(g.n*g.h)))
			fwd := g.problem(t, problem.ConvForward)
			shape := conv.ShapeOf(fwd)
			x := random(r, fwd.InputSize())
			w := random(r, fwd.FilterSize())
			dy := random(r, fwd.OutputSize())

			wantY := make([]float32, fwd.OutputSize())
			conv.DirectForward(wantY, x, w, shape)
			wantDX := make([]float32, fwd.InputSize())
			conv.DirectBackwardData(wantDX, dy, w, shape)
			wantDW := make([]float32, fwd.FilterSize())
			conv.DirectBackwardWeights(wantDW, x, dy, shape)

			for _, s := range conv.Solvers() {
				kind := s.Kinds()[0]
				p := fwd.WithKind(kind)
				if !s.IsApplicable(p) {
					continue
				}
				for _, cfg := range solver.Configs(s, p) {
					switch kind {
					case problem.ConvForward:
						y := make([]float32, fwd.OutputSize())
						run(t, s, cfg, p, map[plan.BufferID][]float32{plan.BufX: x, plan.BufW: w, plan.BufY: y})
						assert.InDeltaSlice(t, wantY, y, 1e-4, "%s %s", s.Name(), cfg)
					case problem.ConvBackwardData:
						dx := random(r, fwd.InputSize())
						run(t, s, cfg, p, map[plan.BufferID][]float32{plan.BufDY: dy, plan.BufW: w, plan.BufDX: dx})
						assert.InDeltaSlice(t, wantDX, dx, 1e-4, "%s %s", s.Name(), cfg)
					case problem.ConvBackwardWeights:
						dw := random(r, fwd.FilterSize())
						run(t, s, cfg, p, map[plan.BufferID][]float32{plan.BufX: x, plan.BufDY: dy, plan.BufDW: dw})
						assert.InDeltaSlice(t, wantDW, dw, 1e-4, "%s %s", s.Name(), cfg)
					}
				}
			}
		})
	}
}

func TestApplicability(t *testing.T) {
	byName := map[string]solver.Solver{}
	for _, s := range conv.Solvers() {
		byName[s.Name()] = s
	}
	one := geometries[0].problem(t, problem.ConvForward)
	three := geometries[1].problem(t, problem.ConvForward)
	assert.True(t, byName["GemmFwd1x1"].IsApplicable(one))
	assert.False(t, byName["GemmFwd1x1"].IsApplicable(three))
	assert.True(t, byName["GemmFwdIm2Col"].IsApplicable(three))
	assert.Equal(t, three.ColumnSize(), byName["GemmFwdIm2Col"].Workspace(three))

	// n=4 splits into groups of 1, 2 and 4 only
	wrw := geometries[2].problem(t, problem.ConvBackwardWeights)
	for _, n := range []int{1, 2, 4} {
		assert.True(t, conv.NewBwdWrW2(n).IsApplicable(wrw), "batch loops %d", n)
	}
	assert.False(t, conv.NewBwdWrW2(8).IsApplicable(wrw))
	assert.True(t, conv.NewBwdWrW2(1).Deprecated())
	assert.Equal(t, "ConvOclBwdWrW2<16>", conv.NewBwdWrW2(16).Name())

	bf := tensor.MustNew(tensor.BFloat16, 1, 1, 2, 2)
	p, err := problem.NewConv(problem.ConvForward, bf, tensor.MustNew(tensor.BFloat16, 1, 1, 1, 1), bf, problem.DefaultConvParams())
	require.NoError(t, err)
	assert.False(t, byName["GemmFwdIm2Col"].IsApplicable(p))
	assert.True(t, byName["ConvDirectNaiveFwd"].IsApplicable(p))
}

func TestBwdWrW2Configs(t *testing.T) {
	p := geometries[1].problem(t, problem.ConvBackwardWeights)
	s := conv.NewBwdWrW2(2)
	assert.Equal(t, []solver.PerfConfig{"k_tile=1", "k_tile=2"}, s.Configs(p))

	for _, bad := range []solver.PerfConfig{"tile=2", "k_tile=0", "k_tile=x"} {
		_, err := s.Plan(p, bad)
		assert.ErrorIs(t, err, status.ErrBadParm, string(bad))
	}
	_, err := s.Plan(p.WithKind(problem.ConvForward), "")
	assert.ErrorIs(t, err, status.ErrBadParm)
}
