package rnn

import (
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
)

// builder appends ops to a plan and resolves region operands. The first
// layout error sticks and is returned by finish.
type builder struct {
	*geometry
	cell Cell
	pl   *plan.Plan
	// states is the layout holding hidden, gates and cell regions.
	states *plan.Layout
	ws     *plan.Layout
	err    error
}

func newBuilder(p *problem.RNN, solver string) *builder {
	g := newGeometry(p)
	b := &builder{
		geometry: g,
		cell:     cellFor(g.mode),
		pl:       plan.New(solver),
		ws:       WorkspaceLayout(p),
	}
	b.states = b.ws
	if p.Kind() != problem.RNNForwardInference {
		b.states = ReserveLayout(p)
	}
	return b
}

func (b *builder) add(ops ...plan.Op) { b.pl.Add(ops...) }

func (b *builder) finish() (*plan.Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.pl, nil
}

func (b *builder) region(l *plan.Layout, name string, row, col, rows, cols, ld int) plan.Operand {
	if b.err != nil {
		return plan.Operand{}
	}
	o, err := l.Operand(name, row, col, rows, cols, ld)
	if err != nil {
		b.err = err
	}
	return o
}

// hid addresses the direction-d columns of rows packed rows of a layer's
// hidden outputs, starting at packed row row.
func (b *builder) hid(layer, row, d, rows int) plan.Operand {
	h := b.hidden()
	return b.region(b.states, hiddenRegion(layer), row, d*h, rows, h, b.w.HiddenStride())
}

// hidAll addresses every packed row and both directions of a layer's output.
func (b *builder) hidAll(layer int) plan.Operand {
	hs := b.w.HiddenStride()
	return b.region(b.states, hiddenRegion(layer), 0, 0, b.rows, hs, hs)
}

func (b *builder) gates(layer, row, d, rows int) plan.Operand {
	gh := b.w.G * b.hidden()
	return b.region(b.states, gatesRegion(layer), row, d*gh, rows, gh, b.w.Stride())
}

func (b *builder) gatesAll(layer int) plan.Operand {
	return b.region(b.states, gatesRegion(layer), 0, 0, b.rows, b.w.Stride(), b.w.Stride())
}

func (b *builder) cellState(layer, row, d, rows int) plan.Operand {
	h := b.hidden()
	return b.region(b.states, cellRegion(layer), row, d*h, rows, h, b.w.HiddenStride())
}

func (b *builder) grad(layer, row, d, rows int) plan.Operand {
	h := b.hidden()
	return b.region(b.ws, gradRegion(layer), row, d*h, rows, h, b.w.HiddenStride())
}

func (b *builder) gradAll(layer int) plan.Operand {
	hs := b.w.HiddenStride()
	return b.region(b.ws, gradRegion(layer), 0, 0, b.rows, hs, hs)
}

func (b *builder) recur(d, row, rows int) plan.Operand {
	gh := b.w.G * b.hidden()
	return b.region(b.ws, recurRegion(d), row, 0, rows, gh, gh)
}

// state addresses batch row row, direction d of layer's block in one of the
// hx/cx/hy/cy style buffers: blocks of bi*hy_n*hidden per layer, rows of
// bi*hidden, the backward direction shifted by hidden.
func (b *builder) state(buf plan.BufferID, layer, row, d int) plan.Operand {
	h := b.hidden()
	hs := b.w.HiddenStride()
	return plan.Operand{Buf: buf, Offset: layer*b.w.Bi*b.hyN*h + row*hs + d*h, LD: hs}
}

func weight(buf plan.BufferID, off, ld int) plan.Operand {
	return plan.Operand{Buf: buf, Offset: off, LD: ld}
}

// segment is a run of batch rows [lo, hi) of one timestep whose previous
// state comes from the same place.
type segment struct {
	lo, hi       int
	prevH, prevC plan.Operand
	// initial is set when the previous state is the caller's hx/cx.
	initial bool
}

func (s segment) rows() int { return s.hi - s.lo }

// segments splits timestep t of direction d at layer into runs by where the
// previous state lives. The forward direction only ever shrinks, so its rows
// all continue from t-1. The backward direction walks time in reverse: rows
// that were not live at t+1 start from the initial state at t.
func (b *builder) segments(layer, d, t int) []segment {
	n := b.batch(t)
	withCell := b.mode == problem.LSTM
	initial := func(lo, hi int) segment {
		s := segment{lo: lo, hi: hi, initial: true, prevH: b.state(plan.BufHX, layer, lo, d)}
		if withCell {
			s.prevC = b.state(plan.BufCX, layer, lo, d)
		}
		return s
	}
	carried := func(from, hi int) segment {
		s := segment{lo: 0, hi: hi, prevH: b.hid(layer, b.offs[from], d, hi)}
		if withCell {
			s.prevC = b.cellState(layer, b.offs[from], d, hi)
		}
		return s
	}

	if d == 0 {
		if t == 0 {
			return []segment{initial(0, n)}
		}
		return []segment{carried(t-1, n)}
	}
	if t == b.seq()-1 {
		return []segment{initial(0, n)}
	}
	next := b.batch(t + 1)
	segs := []segment{carried(t+1, next)}
	if next < n {
		segs = append(segs, initial(next, n))
	}
	return segs
}

// order returns the timesteps direction d visits in forward time.
func (b *builder) order(d int) []int {
	ts := make([]int, b.seq())
	for i := range ts {
		if d == 0 {
			ts[i] = i
		} else {
			ts[i] = b.seq() - 1 - i
		}
	}
	return ts
}

// ending returns the batch rows [lo, hi) whose sequence finishes when
// direction d processes t in forward time.
func (b *builder) ending(d, t int) (lo, hi int) {
	if d == 0 {
		return b.batch(t + 1), b.batch(t)
	}
	if t == 0 {
		return 0, b.batch(0)
	}
	return 0, 0
}
