package rnn

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
)

func hiddenRegion(layer int) string { return fmt.Sprintf("hidden/%d", layer) }
func gatesRegion(layer int) string  { return fmt.Sprintf("gates/%d", layer) }
func cellRegion(layer int) string   { return fmt.Sprintf("cell/%d", layer) }
func gradRegion(layer int) string   { return fmt.Sprintf("grad/%d", layer) }
func recurRegion(dir int) string    { return fmt.Sprintf("recur/%d", dir) }

// geometry holds the derived sizes of one problem.
type geometry struct {
	p       *problem.RNN
	w       Weights
	mode    problem.CellMode
	batches []int
	// offs[t] is the first packed row of timestep t.
	offs []int
	rows int
	hyN  int
}

func newGeometry(p *problem.RNN) *geometry {
	g := &geometry{
		p:       p,
		w:       WeightsOf(p),
		mode:    p.Config.Mode,
		batches: p.Batches,
		offs:    make([]int, len(p.Batches)),
		hyN:     p.MaxBatch(),
	}
	for t, n := range p.Batches {
		g.offs[t] = g.rows
		g.rows += n
	}
	return g
}

func (g *geometry) seq() int { return len(g.batches) }

// batch returns the live batch at t, zero outside the sequence.
func (g *geometry) batch(t int) int {
	if t < 0 || t >= len(g.batches) {
		return 0
	}
	return g.batches[t]
}

func (g *geometry) hidden() int { return g.w.Hidden }

func (g *geometry) gated() bool { return g.mode.IsGated() }

// addStates adds the per-layer state regions: hidden outputs, and for gated
// cells the activated gates and (LSTM) the cell state.
func (g *geometry) addStates(l *plan.Layout, layer int) {
	hs := g.w.HiddenStride()
	l.Add(hiddenRegion(layer), g.rows*hs)
	if g.gated() {
		l.Add(gatesRegion(layer), g.rows*g.w.Stride())
	}
	if g.mode == problem.LSTM {
		l.Add(cellRegion(layer), g.rows*hs)
	}
}

func (g *geometry) addScratch(l *plan.Layout) {
	if !g.gated() {
		return
	}
	for d := 0; d < g.w.Bi; d++ {
		l.Add(recurRegion(d), g.hyN*g.w.G*g.hidden())
	}
}

// ReserveLayout is the reserve buffer of a training pass: every layer's
// states, kept from the forward pass for the backward passes.
func ReserveLayout(p *problem.RNN) *plan.Layout {
	g := newGeometry(p)
	l := plan.NewLayout(plan.BufReserve)
	for layer := 0; layer < g.w.Layers; layer++ {
		g.addStates(l, layer)
	}
	return l
}

// WorkspaceLayout is the workspace of a pass of p's kind. Training passes
// keep one gradient region per layer. Inference keeps the states in the
// workspace and lets layer l reuse the storage of layer l-2, since only two
// layers are live at once.
func WorkspaceLayout(p *problem.RNN) *plan.Layout {
	g := newGeometry(p)
	l := plan.NewLayout(plan.BufWorkspace)
	if p.Kind() != problem.RNNForwardInference {
		for layer := 0; layer < g.w.Layers; layer++ {
			l.Add(gradRegion(layer), g.rows*g.w.HiddenStride())
		}
		g.addScratch(l)
		return l
	}
	for layer := 0; layer < g.w.Layers; layer++ {
		if layer < 2 {
			g.addStates(l, layer)
			continue
		}
		l.Alias(hiddenRegion(layer), hiddenRegion(layer-2))
		if g.gated() {
			l.Alias(gatesRegion(layer), gatesRegion(layer-2))
		}
		if g.mode == problem.LSTM {
			l.Alias(cellRegion(layer), cellRegion(layer-2))
		}
	}
	g.addScratch(l)
	return l
}

// WorkspaceSize is the workspace element count of a pass of p's kind.
func WorkspaceSize(p *problem.RNN) int { return WorkspaceLayout(p).Size() }

// ReserveSize is the reserve element count of p's training passes.
func ReserveSize(p *problem.RNN) int {
	if p.Kind() == problem.RNNForwardInference {
		return 0
	}
	return ReserveLayout(p).Size()
}
