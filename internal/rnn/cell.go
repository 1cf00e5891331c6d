package rnn

import (
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
)

// Cell is the per-mode part of the planner.
type Cell interface {
	Mode() problem.CellMode
	// inputTarget is the region the input projection of layer lands in.
	inputTarget(b *builder, layer int) plan.Operand
	// step plans timestep t of direction d at layer.
	step(b *builder, layer, d, t int)
	backwardData(b *builder) error
	backwardWeights(b *builder) error
}

func cellFor(mode problem.CellMode) Cell {
	switch mode {
	case problem.RNNTanh:
		return vanillaCell{mode: mode, act: plan.Tanh}
	case problem.LSTM:
		return gatedCell{mode: mode, kind: plan.LSTMCell}
	case problem.GRU:
		return gatedCell{mode: mode, kind: plan.GRUCell}
	default:
		return vanillaCell{mode: problem.RNNRelu, act: plan.Relu}
	}
}

// vanillaCell computes h_t = act(x_t W_ih + b_ih + h_{t-1} W_hh + b_hh).
type vanillaCell struct {
	mode problem.CellMode
	act  plan.ActivationMode
}

func (c vanillaCell) Mode() problem.CellMode { return c.mode }

func (c vanillaCell) inputTarget(b *builder, layer int) plan.Operand { return b.hidAll(layer) }

func (c vanillaCell) step(b *builder, layer, d, t int) {
	h, n, row := b.hidden(), b.batch(t), b.offs[t]
	whh := weight(plan.BufW, b.w.HiddenOffset(layer)+d*h, b.w.Stride())
	for _, s := range b.segments(layer, d, t) {
		b.add(&plan.MatMul{
			M: s.rows(), N: h, K: h, Alpha: 1, Beta: 1,
			A: s.prevH,
			B: whh,
			C: b.hid(layer, row+s.lo, d, s.rows()),
		})
	}
	out := b.hid(layer, row, d, n)
	if b.w.Bias {
		b.add(&plan.Accumulate{
			Mode: plan.AddRowBroadcast, Rows: n, Cols: h,
			Src: weight(plan.BufW, b.w.HiddenBiasOffset(layer)+d*h, 0),
			Dst: out,
		})
	}
	b.add(&plan.Activation{Mode: c.act, Rows: n, Cols: h, X: out, Y: out})
}

// backwardData walks the layers top down. Each layer's gradient region first
// receives dH from the layer above (or the output projection) and is then
// turned into the pre-activation gradient dA in place, one timestep at a time
// in reverse processing order.
func (c vanillaCell) backwardData(b *builder) error {
	w := b.w
	h, hs := b.hidden(), w.HiddenStride()
	for layer := w.Layers - 1; layer >= 0; layer-- {
		if layer == w.Layers-1 {
			b.add(&plan.MatMul{
				M: b.rows, N: hs, K: w.Out, Alpha: 1,
				A: weight(plan.BufDY, 0, w.Out),
				B: weight(plan.BufW, w.OutputOffset(), hs),
				C: b.gradAll(layer),
			})
		} else {
			b.add(&plan.MatMul{
				M: b.rows, N: hs, K: w.Stride(), TransB: true, Alpha: 1,
				A: b.gradAll(layer + 1),
				B: weight(plan.BufW, w.InputOffset(layer+1), w.Stride()),
				C: b.gradAll(layer),
			})
		}

		for d := 0; d < w.Bi; d++ {
			whh := weight(plan.BufW, w.HiddenOffset(layer)+d*h, w.Stride())
			ts := b.order(d)
			for i := len(ts) - 1; i >= 0; i-- {
				t := ts[i]
				n, row := b.batch(t), b.offs[t]
				if lo, hi := b.ending(d, t); hi > lo {
					b.add(&plan.Accumulate{
						Mode: plan.Add, Rows: hi - lo, Cols: h,
						Src: b.state(plan.BufDHY, layer, lo, d),
						Dst: b.grad(layer, row+lo, d, hi-lo),
					})
				}
				if i+1 < len(ts) {
					next := ts[i+1]
					m := min(n, b.batch(next))
					b.add(&plan.MatMul{
						M: m, N: h, K: h, TransB: true, Alpha: 1, Beta: 1,
						A: b.grad(layer, b.offs[next], d, m),
						B: whh,
						C: b.grad(layer, row, d, m),
					})
				}
				da := b.grad(layer, row, d, n)
				b.add(&plan.ActivationGrad{Mode: c.act, Rows: n, Cols: h, Y: b.hid(layer, row, d, n), DY: da, DX: da})
				for _, s := range b.segments(layer, d, t) {
					if !s.initial {
						continue
					}
					b.add(&plan.MatMul{
						M: s.rows(), N: h, K: h, TransB: true, Alpha: 1,
						A: b.grad(layer, row+s.lo, d, s.rows()),
						B: whh,
						C: b.state(plan.BufDHX, layer, s.lo, d),
					})
				}
			}
		}
	}
	b.add(&plan.MatMul{
		M: b.rows, N: w.In, K: w.Stride(), TransB: true, Alpha: 1,
		A: b.gradAll(0),
		B: weight(plan.BufW, w.InputOffset(0), w.Stride()),
		C: weight(plan.BufDX, 0, w.In),
	})
	return nil
}

// backwardWeights accumulates into dw from the gradients backwardData left
// in the workspace and the states kept in the reserve.
func (c vanillaCell) backwardWeights(b *builder) error {
	w := b.w
	h, hs := b.hidden(), w.HiddenStride()
	for layer := 0; layer < w.Layers; layer++ {
		dA := b.gradAll(layer)
		if layer == 0 {
			b.add(&plan.MatMul{
				M: w.In, N: w.Stride(), K: b.rows, TransA: true, Alpha: 1, Beta: 1,
				A: weight(plan.BufX, 0, w.In),
				B: dA,
				C: weight(plan.BufDW, w.InputOffset(0), w.Stride()),
			})
		} else {
			b.add(&plan.MatMul{
				M: hs, N: w.Stride(), K: b.rows, TransA: true, Alpha: 1, Beta: 1,
				A: b.hidAll(layer - 1),
				B: dA,
				C: weight(plan.BufDW, w.InputOffset(layer), w.Stride()),
			})
		}
		for d := 0; d < w.Bi; d++ {
			dwhh := weight(plan.BufDW, w.HiddenOffset(layer)+d*h, w.Stride())
			for _, t := range b.order(d) {
				for _, s := range b.segments(layer, d, t) {
					b.add(&plan.MatMul{
						M: h, N: h, K: s.rows(), TransA: true, Alpha: 1, Beta: 1,
						A: s.prevH,
						B: b.grad(layer, b.offs[t]+s.lo, d, s.rows()),
						C: dwhh,
					})
				}
			}
		}
		if w.Bias {
			b.add(
				&plan.Accumulate{Mode: plan.ReduceRows, Rows: b.rows, Cols: w.Stride(), Src: dA,
					Dst: weight(plan.BufDW, w.InputBiasOffset(layer), 0)},
				&plan.Accumulate{Mode: plan.ReduceRows, Rows: b.rows, Cols: w.Stride(), Src: dA,
					Dst: weight(plan.BufDW, w.HiddenBiasOffset(layer), 0)},
			)
		}
	}
	b.add(&plan.MatMul{
		M: w.Out, N: hs, K: b.rows, TransA: true, Alpha: 1, Beta: 1,
		A: weight(plan.BufDY, 0, w.Out),
		B: b.hidAll(w.Layers - 1),
		C: weight(plan.BufDW, w.OutputOffset(), hs),
	})
	if w.Bias {
		b.add(&plan.Accumulate{
			Mode: plan.ReduceRows, Rows: b.rows, Cols: w.Out,
			Src: weight(plan.BufDY, 0, w.Out),
			Dst: weight(plan.BufDW, w.OutputBiasOffset(), 0),
		})
	}
	return nil
}

// gatedCell plans LSTM and GRU forward passes. The input projection lands in
// the gates region, the recurrent projection in a per-direction scratch, and
// one Cell op per segment combines them.
type gatedCell struct {
	mode problem.CellMode
	kind plan.CellKind
}

func (c gatedCell) Mode() problem.CellMode { return c.mode }

func (c gatedCell) inputTarget(b *builder, layer int) plan.Operand { return b.gatesAll(layer) }

func (c gatedCell) step(b *builder, layer, d, t int) {
	h, n, row := b.hidden(), b.batch(t), b.offs[t]
	gh := b.w.G * h
	whh := weight(plan.BufW, b.w.HiddenOffset(layer)+d*gh, b.w.Stride())
	segs := b.segments(layer, d, t)
	for _, s := range segs {
		b.add(&plan.MatMul{
			M: s.rows(), N: gh, K: h, Alpha: 1,
			A: s.prevH,
			B: whh,
			C: b.recur(d, s.lo, s.rows()),
		})
	}
	if b.w.Bias {
		b.add(&plan.Accumulate{
			Mode: plan.AddRowBroadcast, Rows: n, Cols: gh,
			Src: weight(plan.BufW, b.w.HiddenBiasOffset(layer)+d*gh, 0),
			Dst: b.recur(d, 0, n),
		})
	}
	for _, s := range segs {
		op := &plan.Cell{
			Cell:   c.kind,
			Rows:   s.rows(),
			Hidden: h,
			Gates:  b.gates(layer, row+s.lo, d, s.rows()),
			Recur:  b.recur(d, s.lo, s.rows()),
			PrevH:  s.prevH,
			H:      b.hid(layer, row+s.lo, d, s.rows()),
		}
		if c.kind == plan.LSTMCell {
			op.PrevC = s.prevC
			op.C = b.cellState(layer, row+s.lo, d, s.rows())
		}
		b.add(op)
	}
}

func (c gatedCell) backwardData(*builder) error {
	return status.NotImplementedf("%s backward data", c.mode)
}

func (c gatedCell) backwardWeights(*builder) error {
	return status.NotImplementedf("%s backward weights", c.mode)
}
