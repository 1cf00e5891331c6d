package rnn

import (
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
)

// forward plans a training or inference pass. Layer by layer: the input
// projection of all timesteps as one GEMM, then the recurrence per direction
// and timestep, then the output projection of the last layer.
func forward(b *builder) {
	w := b.w
	for layer := 0; layer < w.Layers; layer++ {
		a, k := weight(plan.BufX, 0, w.In), w.In
		if layer > 0 {
			a, k = b.hidAll(layer-1), w.HiddenStride()
		}
		dst := b.cell.inputTarget(b, layer)
		b.add(&plan.MatMul{
			M: b.rows, N: w.Stride(), K: k, Alpha: 1,
			A: a,
			B: weight(plan.BufW, w.InputOffset(layer), w.Stride()),
			C: dst,
		})
		if w.Bias {
			b.add(&plan.Accumulate{
				Mode: plan.AddRowBroadcast, Rows: b.rows, Cols: w.Stride(),
				Src: weight(plan.BufW, w.InputBiasOffset(layer), 0),
				Dst: dst,
			})
		}
		for d := 0; d < w.Bi; d++ {
			for _, t := range b.order(d) {
				b.cell.step(b, layer, d, t)
				b.saveFinal(layer, d, t)
			}
		}
	}

	y := weight(plan.BufY, 0, w.Out)
	b.add(&plan.MatMul{
		M: b.rows, N: w.Out, K: w.HiddenStride(), TransB: true, Alpha: 1,
		A: b.hidAll(w.Layers - 1),
		B: weight(plan.BufW, w.OutputOffset(), w.HiddenStride()),
		C: y,
	})
	if w.Bias {
		b.add(&plan.Accumulate{
			Mode: plan.AddRowBroadcast, Rows: b.rows, Cols: w.Out,
			Src: weight(plan.BufW, w.OutputBiasOffset(), 0),
			Dst: y,
		})
	}
}

// saveFinal copies the states of sequences that finish at t into hy and cy.
func (b *builder) saveFinal(layer, d, t int) {
	lo, hi := b.ending(d, t)
	if hi <= lo {
		return
	}
	row, h := b.offs[t]+lo, b.hidden()
	b.add(&plan.Accumulate{
		Mode: plan.Copy, Rows: hi - lo, Cols: h,
		Src: b.hid(layer, row, d, hi-lo),
		Dst: b.state(plan.BufHY, layer, lo, d),
	})
	if b.mode == problem.LSTM {
		b.add(&plan.Accumulate{
			Mode: plan.Copy, Rows: hi - lo, Cols: h,
			Src: b.cellState(layer, row, d, hi-lo),
			Dst: b.state(plan.BufCY, layer, lo, d),
		})
	}
}
