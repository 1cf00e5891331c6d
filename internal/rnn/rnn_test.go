package rnn

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/samcharles93/kforge/internal/device/host"
	"github.com/samcharles93/kforge/internal/dispatch"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProblem(t *testing.T, kind problem.Kind, cfg problem.RNNConfig, batches []int, in, out int) *problem.RNN {
	t.Helper()
	xs := make([]tensor.Desc, len(batches))
	ys := make([]tensor.Desc, len(batches))
	for i, n := range batches {
		xs[i] = tensor.MustNew(tensor.Float32, n, in)
		ys[i] = tensor.MustNew(tensor.Float32, n, out)
	}
	hx := tensor.MustNew(tensor.Float32, cfg.Layers*cfg.Bi(), batches[0], cfg.HiddenSize)
	p, err := problem.NewRNN(kind, cfg, xs, hx, ys)
	require.NoError(t, err)
	return p
}

// buffers holds the host buffers of a sequence of passes.
type buffers map[plan.BufferID]*host.Buffer

func (b buffers) set(id plan.BufferID, data []float32) {
	b[id] = host.NewBuffer(tensor.Float32, append([]float32(nil), data...))
}

func (b buffers) zeros(id plan.BufferID, n int) {
	b[id] = host.NewBuffer(tensor.Float32, make([]float32, n))
}

func (b buffers) run(t *testing.T, p *problem.RNN) {
	t.Helper()
	pl, err := Build(p, "test")
	require.NoError(t, err)
	bind := dispatch.Bindings{}
	for id, buf := range b {
		bind[id] = buf
	}
	require.NoError(t, dispatch.Run(context.Background(), host.New(host.Options{Workers: 2}), pl, bind))
}

func (b buffers) data(id plan.BufferID) []float32 { return b[id].Data() }

type refResult struct {
	y, hy, cy []float64
}

func f64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func sigm(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

// reference runs the network directly, one row at a time, in float64.
func reference(p *problem.RNN, x, hx, cx, w []float64) refResult {
	g := newGeometry(p)
	W := g.w
	h, hs, gh := W.Hidden, W.HiddenStride(), W.G*W.Hidden
	stateLen := W.Layers * W.Bi * g.hyN * h
	res := refResult{hy: make([]float64, stateLen), cy: make([]float64, stateLen)}
	stateAt := func(layer, row, d int) int { return layer*W.Bi*g.hyN*h + row*hs + d*h }
	bias := func(off int) float64 {
		if !W.Bias {
			return 0
		}
		return w[off]
	}

	in, inWidth := x, W.In
	var out []float64
	for layer := 0; layer < W.Layers; layer++ {
		out = make([]float64, g.rows*hs)
		cell := make([]float64, g.rows*hs)
		for d := 0; d < W.Bi; d++ {
			for _, t := range g.orderRef(d) {
				for j := 0; j < g.batch(t); j++ {
					row := g.offs[t] + j
					prevH := make([]float64, h)
					prevC := make([]float64, h)
					first := (d == 0 && t == 0) || (d == 1 && (t == g.seq()-1 || j >= g.batch(t+1)))
					if first {
						copy(prevH, hx[stateAt(layer, j, d):])
						if cx != nil {
							copy(prevC, cx[stateAt(layer, j, d):])
						}
					} else {
						tp := t - 1
						if d == 1 {
							tp = t + 1
						}
						prow := g.offs[tp] + j
						copy(prevH, out[prow*hs+d*h:prow*hs+d*h+h])
						copy(prevC, cell[prow*hs+d*h:prow*hs+d*h+h])
					}
					xs := make([]float64, gh)
					rs := make([]float64, gh)
					for c := 0; c < gh; c++ {
						col := d*gh + c
						xs[c] = bias(W.InputBiasOffset(layer) + col)
						for i := 0; i < inWidth; i++ {
							xs[c] += in[row*inWidth+i] * w[W.InputOffset(layer)+i*W.Stride()+col]
						}
						rs[c] = bias(W.HiddenBiasOffset(layer) + col)
						for k := 0; k < h; k++ {
							rs[c] += prevH[k] * w[W.HiddenOffset(layer)+k*W.Stride()+col]
						}
					}
					o := out[row*hs+d*h : row*hs+d*h+h]
					switch p.Config.Mode {
					case problem.RNNRelu:
						for k := range o {
							o[k] = math.Max(xs[k]+rs[k], 0)
						}
					case problem.RNNTanh:
						for k := range o {
							o[k] = math.Tanh(xs[k] + rs[k])
						}
					case problem.LSTM:
						c := cell[row*hs+d*h : row*hs+d*h+h]
						for k := range o {
							ig := sigm(xs[k] + rs[k])
							fg := sigm(xs[h+k] + rs[h+k])
							og := sigm(xs[2*h+k] + rs[2*h+k])
							cg := math.Tanh(xs[3*h+k] + rs[3*h+k])
							c[k] = fg*prevC[k] + ig*cg
							o[k] = og * math.Tanh(c[k])
						}
					case problem.GRU:
						for k := range o {
							z := sigm(xs[k] + rs[k])
							r := sigm(xs[h+k] + rs[h+k])
							n := math.Tanh(xs[2*h+k] + r*rs[2*h+k])
							o[k] = (1-z)*n + z*prevH[k]
						}
					}
					last := (d == 0 && j >= g.batch(t+1)) || (d == 1 && t == 0)
					if last {
						copy(res.hy[stateAt(layer, j, d):], o)
						copy(res.cy[stateAt(layer, j, d):], cell[row*hs+d*h:row*hs+d*h+h])
					}
				}
			}
		}
		in, inWidth = out, hs
	}

	res.y = make([]float64, g.rows*W.Out)
	for row := 0; row < g.rows; row++ {
		for o := 0; o < W.Out; o++ {
			v := bias(W.OutputBiasOffset() + o)
			for c := 0; c < hs; c++ {
				v += out[row*hs+c] * w[W.OutputOffset()+o*hs+c]
			}
			res.y[row*W.Out+o] = v
		}
	}
	return res
}

func (g *geometry) orderRef(d int) []int {
	ts := make([]int, g.seq())
	for i := range ts {
		ts[i] = i
		if d == 1 {
			ts[i] = g.seq() - 1 - i
		}
	}
	return ts
}

func random(r *rand.Rand, n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = (r.Float32()*2 - 1) * scale
	}
	return out
}

func stateLen(p *problem.RNN) int {
	return p.Config.Layers * p.Config.Bi() * p.MaxBatch() * p.Config.HiddenSize
}

func TestSingleLayerReluByHand(t *testing.T) {
	cfg := problem.RNNConfig{HiddenSize: 2, Layers: 1, Mode: problem.RNNRelu}
	p := newProblem(t, problem.RNNForwardTraining, cfg, []int{1}, 2, 2)
	w := WeightsOf(p)
	require.Equal(t, 12, w.Len())

	identity := []float32{1, 0, 0, 1}
	weights := make([]float32, 0, 12)
	for range 3 {
		weights = append(weights, identity...)
	}

	b := buffers{}
	b.set(plan.BufX, []float32{0.5, -1.5})
	b.set(plan.BufW, weights)
	b.zeros(plan.BufHX, 2)
	b.zeros(plan.BufHY, 2)
	b.zeros(plan.BufY, 2)
	b.zeros(plan.BufWorkspace, WorkspaceSize(p))
	b.zeros(plan.BufReserve, ReserveSize(p))
	b.run(t, p)

	assert.Equal(t, []float32{0.5, 0}, b.data(plan.BufY))
	assert.Equal(t, []float32{0.5, 0}, b.data(plan.BufHY))

	// x*Wih = [2.5, 4] with Wih = [[1 2] [3 4]], output projection swaps columns
	weights = []float32{1, 2, 3, 4, 1, 0, 0, 1, 0, 1, 1, 0}
	b.set(plan.BufW, weights)
	b.set(plan.BufX, []float32{1, 0.5})
	b.run(t, p)
	assert.Equal(t, []float32{4, 2.5}, b.data(plan.BufY))
}

func TestForwardMatchesReference(t *testing.T) {
	cases := []struct {
		name    string
		cfg     problem.RNNConfig
		batches []int
	}{
		{"relu uni", problem.RNNConfig{HiddenSize: 3, Layers: 1, Mode: problem.RNNRelu}, []int{2, 2, 1}},
		{"tanh bi bias", problem.RNNConfig{HiddenSize: 3, Layers: 2, Mode: problem.RNNTanh, Direction: problem.Bidirectional, Bias: problem.WithBias}, []int{4, 3, 3, 1}},
		{"relu three layers", problem.RNNConfig{HiddenSize: 2, Layers: 3, Mode: problem.RNNRelu, Direction: problem.Bidirectional}, []int{3, 1}},
		{"lstm bi bias", problem.RNNConfig{HiddenSize: 2, Layers: 3, Mode: problem.LSTM, Direction: problem.Bidirectional, Bias: problem.WithBias}, []int{3, 2, 1}},
		{"gru uni bias", problem.RNNConfig{HiddenSize: 3, Layers: 2, Mode: problem.GRU, Bias: problem.WithBias}, []int{2, 2, 2}},
		{"gru bi", problem.RNNConfig{HiddenSize: 2, Layers: 1, Mode: problem.GRU, Direction: problem.Bidirectional}, []int{3, 3, 2, 1}},
	}
	const in, out = 3, 2
	for _, tc := range cases {
		for _, kind := range []problem.Kind{problem.RNNForwardTraining, problem.RNNForwardInference} {
			t.Run(tc.name+"/"+kind.String(), func(t *testing.T) {
				r := rand.New(rand.NewPCG(7, uint64(len(tc.name))))
				p := newProblem(t, kind, tc.cfg, tc.batches, in, out)
				x := random(r, p.BatchSum()*in, 1)
				hx := random(r, stateLen(p), 0.5)
				cx := random(r, stateLen(p), 0.5)
				w := random(r, WeightsOf(p).Len(), 0.6)

				b := buffers{}
				b.set(plan.BufX, x)
				b.set(plan.BufHX, hx)
				b.set(plan.BufCX, cx)
				b.set(plan.BufW, w)
				b.zeros(plan.BufY, p.BatchSum()*out)
				b.zeros(plan.BufHY, stateLen(p))
				b.zeros(plan.BufCY, stateLen(p))
				b.zeros(plan.BufWorkspace, WorkspaceSize(p))
				if kind == problem.RNNForwardTraining {
					b.zeros(plan.BufReserve, ReserveSize(p))
				}
				b.run(t, p)

				var refCx []float64
				if tc.cfg.Mode == problem.LSTM {
					refCx = f64(cx)
				}
				want := reference(p, f64(x), f64(hx), refCx, f64(w))
				assert.InDeltaSlice(t, want.y, b.data(plan.BufY), 1e-4)
				assert.InDeltaSlice(t, want.hy, b.data(plan.BufHY), 1e-4)
				if tc.cfg.Mode == problem.LSTM {
					assert.InDeltaSlice(t, want.cy, b.data(plan.BufCY), 1e-4)
				}
			})
		}
	}
}

// TestBackwardMatchesFiniteDifferences checks dx, dhx and dw for the loss
// sum(y*gy) + sum(hy*ghy) against central differences of the reference.
func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	cfgs := []problem.RNNConfig{
		{HiddenSize: 2, Layers: 2, Mode: problem.RNNTanh, Direction: problem.Bidirectional, Bias: problem.WithBias},
		{HiddenSize: 3, Layers: 1, Mode: problem.RNNTanh},
	}
	const in, out = 3, 2
	for _, cfg := range cfgs {
		r := rand.New(rand.NewPCG(11, uint64(cfg.Layers)))
		p := newProblem(t, problem.RNNForwardTraining, cfg, []int{3, 2, 2, 1}, in, out)
		wl := WeightsOf(p)
		x := random(r, p.BatchSum()*in, 1)
		hx := random(r, stateLen(p), 0.5)
		w := random(r, wl.Len(), 0.5)
		gy := random(r, p.BatchSum()*out, 1)
		ghy := random(r, stateLen(p), 1)

		b := buffers{}
		b.set(plan.BufX, x)
		b.set(plan.BufHX, hx)
		b.set(plan.BufW, w)
		b.zeros(plan.BufY, p.BatchSum()*out)
		b.zeros(plan.BufHY, stateLen(p))
		b.zeros(plan.BufWorkspace, WorkspaceSize(p))
		b.zeros(plan.BufReserve, ReserveSize(p))
		b.run(t, p)

		b.set(plan.BufDY, gy)
		b.set(plan.BufDHY, ghy)
		b.zeros(plan.BufDX, len(x))
		b.zeros(plan.BufDHX, len(hx))
		b.run(t, p.WithKind(problem.RNNBackwardData))

		b.zeros(plan.BufDW, len(w))
		b.run(t, p.WithKind(problem.RNNBackwardWeights))

		loss := func(x, hx, w []float64) float64 {
			res := reference(p, x, hx, nil, w)
			var l float64
			for i, v := range res.y {
				l += v * float64(gy[i])
			}
			for i, v := range res.hy {
				l += v * float64(ghy[i])
			}
			return l
		}
		xs, hs, ws := f64(x), f64(hx), f64(w)
		numeric := func(v []float64, i int) float64 {
			const eps = 1e-5
			old := v[i]
			v[i] = old + eps
			hi := loss(xs, hs, ws)
			v[i] = old - eps
			lo := loss(xs, hs, ws)
			v[i] = old
			return (hi - lo) / (2 * eps)
		}
		check := func(name string, v []float64, got []float32) {
			for i := range v {
				want := numeric(v, i)
				assert.InDelta(t, want, got[i], 2e-3*max(1, math.Abs(want)), "%s[%d] layers=%d", name, i, cfg.Layers)
			}
		}
		check("dx", xs, b.data(plan.BufDX))
		check("dhx", hs, b.data(plan.BufDHX))
		check("dw", ws, b.data(plan.BufDW))
	}
}

func TestGatedBackwardNotImplemented(t *testing.T) {
	for _, mode := range []problem.CellMode{problem.LSTM, problem.GRU} {
		cfg := problem.RNNConfig{HiddenSize: 2, Layers: 1, Mode: mode}
		for _, kind := range []problem.Kind{problem.RNNBackwardData, problem.RNNBackwardWeights} {
			p := newProblem(t, kind, cfg, []int{1}, 2, 2)
			_, err := Build(p, "test")
			require.ErrorIs(t, err, status.ErrNotImplemented)
			assert.Equal(t, status.NotImplemented, status.Of(err))
		}
	}
}

func TestSolversOnePerPass(t *testing.T) {
	cfg := problem.RNNConfig{HiddenSize: 2, Layers: 1, Mode: problem.RNNRelu}
	for _, s := range Solvers() {
		require.Len(t, s.Kinds(), 1)
		assert.True(t, s.RequiresBLAS())
		p := newProblem(t, s.Kinds()[0], cfg, []int{2, 1}, 2, 2)
		assert.True(t, s.IsApplicable(p))
		assert.Equal(t, WorkspaceSize(p), s.Workspace(p))
		pl, err := s.Plan(p, "")
		require.NoError(t, err)
		assert.Equal(t, s.Name(), pl.Solver)
		assert.NotZero(t, pl.Len())
	}

	skip := cfg
	skip.Input = problem.SkipInput
	p := newProblem(t, problem.RNNForwardTraining, skip, []int{1}, 2, 2)
	assert.False(t, Solvers()[0].IsApplicable(p))
	_, err := Build(p, "test")
	assert.ErrorIs(t, err, status.ErrNotImplemented)

	wrong := newProblem(t, problem.RNNBackwardData, cfg, []int{1}, 2, 2)
	_, err = Solvers()[0].Plan(wrong, "")
	assert.ErrorIs(t, err, status.ErrBadParm)
}

func TestPlanTouchesOnlyDeclaredRegions(t *testing.T) {
	cfg := problem.RNNConfig{HiddenSize: 4, Layers: 2, Mode: problem.LSTM, Direction: problem.Bidirectional, Bias: problem.WithBias}
	p := newProblem(t, problem.RNNForwardTraining, cfg, []int{5, 4, 2}, 3, 6)
	pl, err := Build(p, "test")
	require.NoError(t, err)
	req := pl.Requirements()
	assert.LessOrEqual(t, req[plan.BufWorkspace], WorkspaceSize(p))
	assert.LessOrEqual(t, req[plan.BufReserve], ReserveSize(p))
	// output bias slots are bi*out wide but only the first out are read
	w := WeightsOf(p)
	assert.Equal(t, w.OutputBiasOffset()+w.Out, req[plan.BufW])
	assert.LessOrEqual(t, req[plan.BufW], w.Len())
	assert.Equal(t, p.BatchSum()*6, req[plan.BufY])
	assert.Equal(t, stateLen(p), req[plan.BufHY])
	assert.Equal(t, stateLen(p), req[plan.BufCY])
}
