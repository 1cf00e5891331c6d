package kforge

import (
	"context"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// RepeatForward tiles x by sizes into y.
func (h *Handle) RepeatForward(ctx context.Context, xDesc tensor.Desc, x device.Buffer, sizes []int, yDesc tensor.Desc, y device.Buffer) error {
	p, err := problem.NewRepeat(problem.RepeatForward, xDesc, yDesc, sizes)
	if err != nil {
		return err
	}
	_, err = h.Run(ctx, p, bind(map[plan.BufferID]device.Buffer{plan.BufX: x, plan.BufY: y}))
	return err
}

// RepeatBackward sums dy over the repeats into dx, overwriting dx.
func (h *Handle) RepeatBackward(ctx context.Context, dyDesc tensor.Desc, dy device.Buffer, sizes []int, dxDesc tensor.Desc, dx device.Buffer) error {
	p, err := problem.NewRepeat(problem.RepeatBackward, dxDesc, dyDesc, sizes)
	if err != nil {
		return err
	}
	_, err = h.Run(ctx, p, bind(map[plan.BufferID]device.Buffer{plan.BufDY: dy, plan.BufDX: dx}))
	return err
}

// LogsumexpForward reduces x over dims into y.
func (h *Handle) LogsumexpForward(ctx context.Context, xDesc tensor.Desc, x device.Buffer, yDesc tensor.Desc, y device.Buffer, dims []int, keepdim bool) error {
	p, err := problem.NewLogsumexp(problem.LogsumexpForward, xDesc, yDesc, dims, keepdim)
	if err != nil {
		return err
	}
	_, err = h.Run(ctx, p, bind(map[plan.BufferID]device.Buffer{plan.BufX: x, plan.BufY: y}))
	return err
}

// LogsumexpBackward computes dx from x, the forward output y and dy. dy
// shares yDesc and dx shares xDesc.
func (h *Handle) LogsumexpBackward(ctx context.Context, xDesc tensor.Desc, x device.Buffer, yDesc tensor.Desc, y, dy, dx device.Buffer, dims []int, keepdim bool) error {
	p, err := problem.NewLogsumexp(problem.LogsumexpBackward, xDesc, yDesc, dims, keepdim)
	if err != nil {
		return err
	}
	_, err = h.Run(ctx, p, bind(map[plan.BufferID]device.Buffer{
		plan.BufX: x, plan.BufY: y, plan.BufDY: dy, plan.BufDX: dx,
	}))
	return err
}
