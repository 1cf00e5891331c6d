package kforge

import (
	"context"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/find"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
)

// Convolution runs p in its direction. x, w and y keep their roles in every
// direction: for backward data x receives dx and y holds dy, for backward
// weights w receives dw. workspace may be nil.
func (h *Handle) Convolution(ctx context.Context, p *problem.Conv, x, w, y, workspace device.Buffer) (find.Result, error) {
	b := map[plan.BufferID]device.Buffer{plan.BufWorkspace: workspace}
	switch p.Kind() {
	case problem.ConvBackwardData:
		b[plan.BufDX], b[plan.BufW], b[plan.BufDY] = x, w, y
	case problem.ConvBackwardWeights:
		b[plan.BufX], b[plan.BufDW], b[plan.BufDY] = x, w, y
	default:
		b[plan.BufX], b[plan.BufW], b[plan.BufY] = x, w, y
	}
	return h.Run(ctx, p, bind(b))
}

// FindConvolution measures the convolution solvers for p with the
// configured workspace limit.
func (h *Handle) FindConvolution(ctx context.Context, p *problem.Conv) ([]find.Result, error) {
	return h.Find(ctx, p, h.cfg.WorkspaceLimit)
}
