// Package rnn plans multi-layer, multi-timestep recurrent networks as GEMM,
// activation and cell sub-operations over a packed weight buffer and caller
// supplied workspace and reserve buffers.
package rnn

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
)

// ParamID selects a weight matrix or bias vector of a layer.
type ParamID int

const (
	// InputParam is the input-to-hidden matrix (or bias).
	InputParam ParamID = iota
	// HiddenParam is the hidden-to-hidden matrix (or bias).
	HiddenParam
)

func (id ParamID) String() string {
	if id == HiddenParam {
		return "hidden"
	}
	return "input"
}

// Block locates a row-major matrix or vector inside the packed weights.
type Block struct {
	Offset int
	Rows   int
	Cols   int
}

// Len is the element count of the block.
func (b Block) Len() int { return b.Rows * b.Cols }

// Extract copies the block out of w.
func (b Block) Extract(w []float32) ([]float32, error) {
	if b.Offset < 0 || b.Offset+b.Len() > len(w) {
		return nil, status.BadParmf("block [%d,%d) outside %d weights", b.Offset, b.Offset+b.Len(), len(w))
	}
	return append([]float32(nil), w[b.Offset:b.Offset+b.Len()]...), nil
}

// Weights is the packed weight layout of a network.
//
// Every layer owns an input-to-hidden matrix followed by a hidden-to-hidden
// matrix, both bi*G*hidden columns wide; direction d uses the column block
// [d*G*hidden, (d+1)*G*hidden). The output matrix [out, bi*hidden] follows the
// last layer and is used transposed. With bias the vectors trail the matrices.
type Weights struct {
	In, Hidden, Out int
	Layers          int
	Bi, G           int
	Bias            bool
}

func NewWeights(cfg problem.RNNConfig, in, out int) Weights {
	return Weights{
		In:     in,
		Hidden: cfg.HiddenSize,
		Out:    out,
		Layers: cfg.Layers,
		Bi:     cfg.Bi(),
		G:      cfg.Mode.Gates(),
		Bias:   cfg.Bias == problem.WithBias,
	}
}

// WeightsOf returns the layout of p's weights.
func WeightsOf(p *problem.RNN) Weights {
	return NewWeights(p.Config, p.InputSize, p.OutputSize)
}

// Stride is the row length of every layer matrix.
func (w Weights) Stride() int { return w.Bi * w.G * w.Hidden }

// HiddenStride is the row length of hidden state regions.
func (w Weights) HiddenStride() int { return w.Bi * w.Hidden }

func (w Weights) inputRows(layer int) int {
	if layer == 0 {
		return w.In
	}
	return w.Bi * w.Hidden
}

// layerOffset is the start of layer's input-to-hidden matrix.
func (w Weights) layerOffset(layer int) int {
	h := w.Hidden
	if layer == 0 {
		return 0
	}
	return w.G * (w.Bi*(w.In+h)*h + (layer-1)*w.Bi*(w.Bi*h+h)*h)
}

func (w Weights) InputOffset(layer int) int { return w.layerOffset(layer) }

func (w Weights) HiddenOffset(layer int) int {
	return w.layerOffset(layer) + w.inputRows(layer)*w.Stride()
}

func (w Weights) OutputOffset() int { return w.layerOffset(w.Layers) }

// MatrixLen is the element count of all weight matrices, which is also the
// offset of the first bias vector.
func (w Weights) MatrixLen() int {
	return w.OutputOffset() + w.Out*w.Bi*w.Hidden
}

// BiasLen is the element count of the bias block, zero without bias.
func (w Weights) BiasLen() int {
	if !w.Bias {
		return 0
	}
	return w.G*(2*w.Bi+(w.Layers-1)*w.Bi*(w.Bi+1))*w.Hidden + w.Bi*w.Out
}

// Len is the total parameter count.
func (w Weights) Len() int { return w.MatrixLen() + w.BiasLen() }

func (w Weights) inputBiasSlot(layer int) int {
	if layer == 0 {
		return w.Stride()
	}
	return w.Bi * w.Stride()
}

func (w Weights) biasOffset(layer int) int {
	if layer == 0 {
		return w.MatrixLen()
	}
	return w.MatrixLen() + 2*w.Stride() + (layer-1)*(w.Bi+1)*w.Stride()
}

func (w Weights) InputBiasOffset(layer int) int { return w.biasOffset(layer) }

func (w Weights) HiddenBiasOffset(layer int) int {
	return w.biasOffset(layer) + w.inputBiasSlot(layer)
}

func (w Weights) OutputBiasOffset() int { return w.biasOffset(w.Layers) }

func (w Weights) checkLayer(layer int, id ParamID) error {
	if layer < 0 || layer >= w.Layers {
		return status.BadParmf("layer %d out of range [0,%d)", layer, w.Layers)
	}
	if id != InputParam && id != HiddenParam {
		return status.BadParmf("parameter id %d", id)
	}
	return nil
}

// LayerParam returns the matrix id of layer.
func (w Weights) LayerParam(layer int, id ParamID) (Block, error) {
	if err := w.checkLayer(layer, id); err != nil {
		return Block{}, err
	}
	if id == InputParam {
		return Block{Offset: w.InputOffset(layer), Rows: w.inputRows(layer), Cols: w.Stride()}, nil
	}
	return Block{Offset: w.HiddenOffset(layer), Rows: w.Hidden, Cols: w.Stride()}, nil
}

// LayerBias returns the used part of the bias vector id of layer.
func (w Weights) LayerBias(layer int, id ParamID) (Block, error) {
	if !w.Bias {
		return Block{}, status.BadParmf("network has no bias")
	}
	if err := w.checkLayer(layer, id); err != nil {
		return Block{}, err
	}
	if id == InputParam {
		return Block{Offset: w.InputBiasOffset(layer), Rows: 1, Cols: w.Stride()}, nil
	}
	return Block{Offset: w.HiddenBiasOffset(layer), Rows: 1, Cols: w.Stride()}, nil
}

// OutputParam returns the output matrix [out, bi*hidden].
func (w Weights) OutputParam() Block {
	return Block{Offset: w.OutputOffset(), Rows: w.Out, Cols: w.HiddenStride()}
}

// OutputBias returns the used part of the output bias.
func (w Weights) OutputBias() (Block, error) {
	if !w.Bias {
		return Block{}, status.BadParmf("network has no bias")
	}
	return Block{Offset: w.OutputBiasOffset(), Rows: 1, Cols: w.Out}, nil
}

func (w Weights) String() string {
	return fmt.Sprintf("weights in=%d hidden=%d out=%d layers=%d bi=%d gates=%d bias=%t len=%d",
		w.In, w.Hidden, w.Out, w.Layers, w.Bi, w.G, w.Bias, w.Len())
}
