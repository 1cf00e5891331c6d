package kforge

import (
	"context"
	"fmt"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/find"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/rnn"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// RNNDescriptor is a recurrent network independent of sequence shapes.
type RNNDescriptor struct {
	problem.RNNConfig
}

// Problem binds d to sequence descriptors for one pass.
func (d RNNDescriptor) Problem(kind problem.Kind, xs []tensor.Desc, hx tensor.Desc, ys []tensor.Desc) (*problem.RNN, error) {
	return problem.NewRNN(kind, d.RNNConfig, xs, hx, ys)
}

// Weights is the packed weight layout for the given input and output sizes.
func (d RNNDescriptor) Weights(in, out int) rnn.Weights { return rnn.NewWeights(d.RNNConfig, in, out) }

// WeightsSize is the packed weight buffer length in elements.
func (d RNNDescriptor) WeightsSize(in, out int) int { return d.Weights(in, out).Len() }

// GetLayerParam locates a weight matrix of layer in the packed buffer.
func (d RNNDescriptor) GetLayerParam(in, out, layer int, id rnn.ParamID) (rnn.Block, error) {
	return d.Weights(in, out).LayerParam(layer, id)
}

// GetLayerBias locates a bias vector of layer in the packed buffer.
func (d RNNDescriptor) GetLayerBias(in, out, layer int, id rnn.ParamID) (rnn.Block, error) {
	return d.Weights(in, out).LayerBias(layer, id)
}

func RNNWorkspaceSize(p *problem.RNN) int { return rnn.WorkspaceSize(p) }

func RNNReserveSize(p *problem.RNN) int { return rnn.ReserveSize(p) }

// RNNBuffers are the device buffers of one pass. State buffers left nil are
// treated as zeros (inputs) or discarded (outputs).
type RNNBuffers struct {
	X, Y   device.Buffer
	HX, CX device.Buffer
	HY, CY device.Buffer
	W      device.Buffer

	DX, DY   device.Buffer
	DHX, DCX device.Buffer
	DHY, DCY device.Buffer
	DW       device.Buffer

	Workspace, Reserve device.Buffer
}

// RNN runs one pass of p. Backward data reads the reserve written by forward
// training; backward weights accumulates into DW and reads the gradients
// backward data left in the workspace, so the three calls must share
// Workspace and Reserve.
func (h *Handle) RNN(ctx context.Context, p *problem.RNN, b RNNBuffers) (find.Result, error) {
	if err := checkLen("workspace", b.Workspace, rnn.WorkspaceSize(p)); err != nil {
		return find.Result{}, err
	}
	if err := checkLen("reserve", b.Reserve, rnn.ReserveSize(p)); err != nil {
		return find.Result{}, err
	}

	var states []*device.Buffer
	switch p.Kind() {
	case problem.RNNForwardTraining, problem.RNNForwardInference:
		states = []*device.Buffer{&b.HX, &b.HY, &b.CX, &b.CY}
	case problem.RNNBackwardData:
		states = []*device.Buffer{&b.HX, &b.DHX, &b.DHY, &b.CX, &b.DCX, &b.DCY}
	default:
		states = []*device.Buffer{&b.HX, &b.CX}
	}
	if p.Config.Mode != problem.LSTM {
		states = states[:len(states)/2]
	}
	for _, s := range states {
		if !device.IsNil(*s) {
			continue
		}
		buf, err := h.dev.Alloc(p.DataType(), p.StateSize())
		if err != nil {
			return find.Result{}, fmt.Errorf("allocate rnn state: %w", err)
		}
		*s = buf
	}

	return h.Run(ctx, p, bind(map[plan.BufferID]device.Buffer{
		plan.BufX: b.X, plan.BufY: b.Y, plan.BufW: b.W,
		plan.BufHX: b.HX, plan.BufCX: b.CX, plan.BufHY: b.HY, plan.BufCY: b.CY,
		plan.BufDX: b.DX, plan.BufDY: b.DY, plan.BufDW: b.DW,
		plan.BufDHX: b.DHX, plan.BufDCX: b.DCX, plan.BufDHY: b.DHY, plan.BufDCY: b.DCY,
		plan.BufWorkspace: b.Workspace, plan.BufReserve: b.Reserve,
	}))
}

func checkLen(name string, buf device.Buffer, need int) error {
	if need == 0 {
		return nil
	}
	if device.IsNil(buf) || buf.Len() < need {
		have := 0
		if !device.IsNil(buf) {
			have = buf.Len()
		}
		return status.BadParmf("%s has %d elements, need %d", name, have, need)
	}
	return nil
}
