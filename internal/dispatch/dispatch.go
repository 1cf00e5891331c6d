// Package dispatch issues execution plans against a device handle.
package dispatch

import (
	"context"
	"fmt"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/status"
)

// Bindings maps the buffer selectors of a plan to device buffers.
type Bindings map[plan.BufferID]device.Buffer

// Check validates every op of p against the bound buffer lengths. A plan
// that fails Check has issued nothing.
func Check(p *plan.Plan, b Bindings) error {
	for i, op := range p.Ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("%w: op %d (%s): %v", status.ErrBadParm, i, op.Kind(), err)
		}
		for _, e := range op.Extents() {
			if e.End <= e.Offset {
				continue
			}
			buf, ok := b[e.Buf]
			if !ok || device.IsNil(buf) {
				return status.BadParmf("op %d (%s) uses unbound %s buffer", i, op.Kind(), e.Buf)
			}
			if e.Offset < 0 || e.End > buf.Len() {
				return status.BadParmf("op %d (%s) touches %s[%d:%d] beyond its %d elements", i, op.Kind(), e.Buf, e.Offset, e.End, buf.Len())
			}
		}
	}
	return nil
}

// Run checks p against b and then issues its ops strictly in order. The first
// failing op aborts the rest. The context is only consulted before the first
// op: a started plan always runs to completion or failure.
func Run(ctx context.Context, h device.Handle, p *plan.Plan, b Bindings) error {
	if err := Check(p, b); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, op := range p.Ops {
		if err := issue(h, op, b); err != nil {
			return fmt.Errorf("%w: %s op %d (%s): %w", status.ErrExecution, p.Solver, i, op.Kind(), err)
		}
	}
	logger.FromContext(ctx).Debug("plan dispatched", "solver", p.Solver, "ops", p.Len(), "device", h.Name())
	return nil
}

func issue(h device.Handle, op plan.Op, b Bindings) error {
	switch op := op.(type) {
	case *plan.MatMul:
		return h.Gemm(op, b[op.A.Buf], b[op.B.Buf], b[op.C.Buf])
	case *plan.Activation:
		return h.Activation(op, b[op.X.Buf], b[op.Y.Buf])
	case *plan.ActivationGrad:
		return h.ActivationGrad(op, b[op.Y.Buf], b[op.DY.Buf], b[op.DX.Buf])
	case *plan.Accumulate:
		var src device.Buffer
		if op.Mode != plan.Fill {
			src = b[op.Src.Buf]
		}
		return h.Accumulate(op, src, b[op.Dst.Buf])
	case *plan.Cell:
		bufs := []device.Buffer{b[op.Gates.Buf], b[op.Recur.Buf], b[op.PrevH.Buf], b[op.H.Buf], nil, nil}
		if op.Cell == plan.LSTMCell {
			bufs[4], bufs[5] = b[op.PrevC.Buf], b[op.C.Buf]
		}
		return h.Cell(op, bufs)
	case *plan.Kernel:
		bufs := make([]device.Buffer, len(op.Args))
		for i, a := range op.Args {
			bufs[i] = b[a.Buf]
		}
		return h.Launch(op, bufs)
	default:
		return fmt.Errorf("unsupported op %T", op)
	}
}
