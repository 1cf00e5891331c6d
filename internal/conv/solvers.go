package conv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// Solvers returns every convolution solver in registration order.
func Solvers() []solver.Solver {
	out := []solver.Solver{
		NewDirect(problem.ConvForward),
		NewDirect(problem.ConvBackwardData),
		NewDirect(problem.ConvBackwardWeights),
		&GemmFwd1x1{solver.Info{ID: "GemmFwd1x1", For: []problem.Kind{problem.ConvForward}, NeedsBLAS: true}},
		&GemmFwdIm2Col{solver.Info{ID: "GemmFwdIm2Col", For: []problem.Kind{problem.ConvForward}, NeedsBLAS: true}},
		&GemmBwdCol2Im{solver.Info{ID: "GemmBwdCol2Im", For: []problem.Kind{problem.ConvBackwardData}, NeedsBLAS: true}},
		&GemmWrwIm2Col{solver.Info{ID: "GemmWrwIm2Col", For: []problem.Kind{problem.ConvBackwardWeights}, NeedsBLAS: true}},
	}
	for _, n := range []int{1, 2, 4, 8, 16} {
		out = append(out, NewBwdWrW2(n))
	}
	return out
}

func asConv(s solver.Solver, p problem.Problem) (*problem.Conv, error) {
	c, ok := p.(*problem.Conv)
	if !ok || !solver.Handles(s, p.Kind()) {
		return nil, status.BadParmf("%s cannot plan %s", s.Name(), p.Kind())
	}
	return c, nil
}

func anyFloat(dt tensor.DataType) bool {
	return dt == tensor.Float32 || dt == tensor.Half || dt == tensor.BFloat16
}

func gemmFloat(dt tensor.DataType) bool {
	return dt == tensor.Float32 || dt == tensor.Half
}

func vec(b plan.BufferID, off, n int) plan.KernelArg {
	return plan.KernelArg{Operand: plan.Operand{Buf: b, Offset: off}, Len: n}
}

// Direct is the naive direct convolution for one direction. It needs neither
// GEMM nor workspace and accepts every float type.
type Direct struct{ solver.Info }

func NewDirect(kind problem.Kind) *Direct {
	name := map[problem.Kind]string{
		problem.ConvForward:         "ConvDirectNaiveFwd",
		problem.ConvBackwardData:    "ConvDirectNaiveBwd",
		problem.ConvBackwardWeights: "ConvDirectNaiveWrw",
	}[kind]
	return &Direct{solver.Info{ID: name, For: []problem.Kind{kind}}}
}

func (d *Direct) IsApplicable(p problem.Problem) bool { return anyFloat(p.DataType()) }

func (d *Direct) Workspace(problem.Problem) int { return 0 }

func (d *Direct) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	c, err := asConv(d, p)
	if err != nil {
		return nil, err
	}
	s := ShapeOf(c)
	k := &plan.Kernel{Params: s.Params()}
	switch c.Kind() {
	case problem.ConvForward:
		k.Name = KernelDirectFwd
		k.Args = []plan.KernelArg{vec(plan.BufX, 0, c.InputSize()), vec(plan.BufW, 0, c.FilterSize()), vec(plan.BufY, 0, c.OutputSize())}
	case problem.ConvBackwardData:
		k.Name = KernelDirectBwd
		k.Args = []plan.KernelArg{vec(plan.BufDY, 0, c.OutputSize()), vec(plan.BufW, 0, c.FilterSize()), vec(plan.BufDX, 0, c.InputSize())}
	default:
		k.Name = KernelDirectWrw
		k.Args = []plan.KernelArg{vec(plan.BufX, 0, c.InputSize()), vec(plan.BufDY, 0, c.OutputSize()), vec(plan.BufDW, 0, c.FilterSize())}
	}
	pl := plan.New(d.Name())
	pl.Add(k)
	return pl, nil
}

// GemmFwd1x1 treats an unpadded unit-stride 1x1 convolution as one GEMM per
// image: y[n] (K x HW) = w (K x C) * x[n] (C x HW).
type GemmFwd1x1 struct{ solver.Info }

func (g *GemmFwd1x1) IsApplicable(p problem.Problem) bool {
	c, ok := p.(*problem.Conv)
	return ok && gemmFloat(c.DataType()) && c.Is1x1() && c.IsUnitStride() && c.IsUnpadded()
}

func (g *GemmFwd1x1) Workspace(problem.Problem) int { return 0 }

func (g *GemmFwd1x1) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	c, err := asConv(g, p)
	if err != nil {
		return nil, err
	}
	hw := c.H * c.W
	pl := plan.New(g.Name())
	for n := 0; n < c.N; n++ {
		pl.Add(&plan.MatMul{
			M: c.K, N: hw, K: c.C, Alpha: 1, Beta: 0,
			A: plan.Operand{Buf: plan.BufW, LD: c.C},
			B: plan.Operand{Buf: plan.BufX, Offset: n * c.C * hw, LD: hw},
			C: plan.Operand{Buf: plan.BufY, Offset: n * c.K * hw, LD: hw},
		})
	}
	return pl, nil
}

// GemmFwdIm2Col unfolds each image into the workspace and multiplies it by
// the filter matrix.
type GemmFwdIm2Col struct{ solver.Info }

func (g *GemmFwdIm2Col) IsApplicable(p problem.Problem) bool {
	c, ok := p.(*problem.Conv)
	return ok && gemmFloat(c.DataType())
}

func (g *GemmFwdIm2Col) Workspace(p problem.Problem) int {
	if c, ok := p.(*problem.Conv); ok {
		return c.ColumnSize()
	}
	return 0
}

func (g *GemmFwdIm2Col) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	c, err := asConv(g, p)
	if err != nil {
		return nil, err
	}
	s := ShapeOf(c)
	crs, howo := c.C*c.R*c.S, c.Ho*c.Wo
	pl := plan.New(g.Name())
	for n := 0; n < c.N; n++ {
		pl.Add(
			&plan.Kernel{
				Name:   KernelIm2Col,
				Args:   []plan.KernelArg{vec(plan.BufX, n*s.imageLen(), s.imageLen()), vec(plan.BufWorkspace, 0, c.ColumnSize())},
				Params: s.Params(),
			},
			&plan.MatMul{
				M: c.K, N: howo, K: crs, Alpha: 1, Beta: 0,
				A: plan.Operand{Buf: plan.BufW, LD: crs},
				B: plan.Operand{Buf: plan.BufWorkspace, LD: howo},
				C: plan.Operand{Buf: plan.BufY, Offset: n * s.outputLen(), LD: howo},
			},
		)
	}
	return pl, nil
}

// GemmBwdCol2Im computes col = w^T * dy[n] into the workspace and folds it
// into dx.
type GemmBwdCol2Im struct{ solver.Info }

func (g *GemmBwdCol2Im) IsApplicable(p problem.Problem) bool {
	c, ok := p.(*problem.Conv)
	return ok && gemmFloat(c.DataType())
}

func (g *GemmBwdCol2Im) Workspace(p problem.Problem) int {
	if c, ok := p.(*problem.Conv); ok {
		return c.ColumnSize()
	}
	return 0
}

func (g *GemmBwdCol2Im) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	c, err := asConv(g, p)
	if err != nil {
		return nil, err
	}
	s := ShapeOf(c)
	crs, howo := c.C*c.R*c.S, c.Ho*c.Wo
	pl := plan.New(g.Name())
	pl.Add(&plan.Accumulate{Mode: plan.Fill, Rows: 1, Cols: c.InputSize(), Dst: plan.Operand{Buf: plan.BufDX}})
	for n := 0; n < c.N; n++ {
		pl.Add(
			&plan.MatMul{
				M: crs, N: howo, K: c.K, TransA: true, Alpha: 1, Beta: 0,
				A: plan.Operand{Buf: plan.BufW, LD: crs},
				B: plan.Operand{Buf: plan.BufDY, Offset: n * s.outputLen(), LD: howo},
				C: plan.Operand{Buf: plan.BufWorkspace, LD: howo},
			},
			&plan.Kernel{
				Name:   KernelCol2Im,
				Args:   []plan.KernelArg{vec(plan.BufWorkspace, 0, c.ColumnSize()), vec(plan.BufDX, n*s.imageLen(), s.imageLen())},
				Params: s.Params(),
			},
		)
	}
	return pl, nil
}

// GemmWrwIm2Col accumulates dw += dy[n] * col[n]^T over the images.
type GemmWrwIm2Col struct{ solver.Info }

func (g *GemmWrwIm2Col) IsApplicable(p problem.Problem) bool {
	c, ok := p.(*problem.Conv)
	return ok && gemmFloat(c.DataType())
}

func (g *GemmWrwIm2Col) Workspace(p problem.Problem) int {
	if c, ok := p.(*problem.Conv); ok {
		return c.ColumnSize()
	}
	return 0
}

func (g *GemmWrwIm2Col) Plan(p problem.Problem, _ solver.PerfConfig) (*plan.Plan, error) {
	c, err := asConv(g, p)
	if err != nil {
		return nil, err
	}
	s := ShapeOf(c)
	crs, howo := c.C*c.R*c.S, c.Ho*c.Wo
	pl := plan.New(g.Name())
	pl.Add(&plan.Accumulate{Mode: plan.Fill, Rows: 1, Cols: c.FilterSize(), Dst: plan.Operand{Buf: plan.BufDW}})
	for n := 0; n < c.N; n++ {
		pl.Add(
			&plan.Kernel{
				Name:   KernelIm2Col,
				Args:   []plan.KernelArg{vec(plan.BufX, n*s.imageLen(), s.imageLen()), vec(plan.BufWorkspace, 0, c.ColumnSize())},
				Params: s.Params(),
			},
			&plan.MatMul{
				M: c.K, N: crs, K: howo, TransB: true, Alpha: 1, Beta: 1,
				A: plan.Operand{Buf: plan.BufDY, Offset: n * s.outputLen(), LD: howo},
				B: plan.Operand{Buf: plan.BufWorkspace, LD: howo},
				C: plan.Operand{Buf: plan.BufDW, LD: crs},
			},
		)
	}
	return pl, nil
}

// BwdWrW2 is the legacy backward-weights kernel that walks the batch in
// groups of BatchLoops images. It is deprecated and tunable over the
// output-channel tile.
type BwdWrW2 struct {
	solver.Info
	BatchLoops int
}

func NewBwdWrW2(n int) *BwdWrW2 {
	return &BwdWrW2{
		Info:       solver.Info{ID: fmt.Sprintf("ConvOclBwdWrW2<%d>", n), For: []problem.Kind{problem.ConvBackwardWeights}, Legacy: true},
		BatchLoops: n,
	}
}

func (b *BwdWrW2) IsApplicable(p problem.Problem) bool {
	c, ok := p.(*problem.Conv)
	return ok && anyFloat(c.DataType()) && c.N%b.BatchLoops == 0
}

func (b *BwdWrW2) Workspace(problem.Problem) int { return 0 }

// Configs lists output-channel tiles up to K.
func (b *BwdWrW2) Configs(p problem.Problem) []solver.PerfConfig {
	c, ok := p.(*problem.Conv)
	if !ok {
		return nil
	}
	var out []solver.PerfConfig
	for _, t := range []int{1, 2, 4, 8, 16} {
		if t <= c.K {
			out = append(out, solver.PerfConfig("k_tile="+strconv.Itoa(t)))
		}
	}
	return out
}

func parseTile(cfg solver.PerfConfig) (int, error) {
	if cfg == "" {
		return 1, nil
	}
	v, ok := strings.CutPrefix(string(cfg), "k_tile=")
	if !ok {
		return 0, status.BadParmf("performance config %q", cfg)
	}
	t, err := strconv.Atoi(v)
	if err != nil || t <= 0 {
		return 0, status.BadParmf("performance config %q", cfg)
	}
	return t, nil
}

func (b *BwdWrW2) Plan(p problem.Problem, cfg solver.PerfConfig) (*plan.Plan, error) {
	c, err := asConv(b, p)
	if err != nil {
		return nil, err
	}
	tile, err := parseTile(cfg)
	if err != nil {
		return nil, err
	}
	s := ShapeOf(c)
	pl := plan.New(b.Name())
	pl.Add(&plan.Kernel{
		Name:   KernelBwdWrW2,
		Args:   []plan.KernelArg{vec(plan.BufX, 0, c.InputSize()), vec(plan.BufDY, 0, c.OutputSize()), vec(plan.BufDW, 0, c.FilterSize())},
		Params: s.Params(b.BatchLoops, tile),
	})
	return pl, nil
}
