package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kforge/internal/device/host"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/kforge"
	"github.com/samcharles93/kforge/pkg/tensor"
)

type reduceOptions struct {
	shape    string
	sizes    string
	dims     string
	keepdim  bool
	backward bool
}

func repeatCmd() *cli.Command {
	var opts reduceOptions
	return &cli.Command{
		Name:  "repeat",
		Usage: "Tile a ramp tensor (or sum a ramp gradient back with --backward) and print the result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "shape", Usage: "input lengths", Value: "2,3", Destination: &opts.shape},
			&cli.StringFlag{Name: "sizes", Usage: "repeat count per output dimension", Value: "2,1", Destination: &opts.sizes},
			&cli.BoolFlag{Name: "backward", Usage: "reduce a gradient of the tiled shape instead", Destination: &opts.backward},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, err := openHandle(ctx)
			if err != nil {
				return err
			}
			return runRepeat(ctx, h, opts, cmd.Root().Writer)
		},
	}
}

func logsumexpCmd() *cli.Command {
	var opts reduceOptions
	return &cli.Command{
		Name:  "logsumexp",
		Usage: "Reduce a ramp tensor with log(sum(exp(x))) and print the result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "shape", Usage: "input lengths", Value: "2,3", Destination: &opts.shape},
			&cli.StringFlag{Name: "dims", Usage: "dimensions to reduce, negative counts from the end", Value: "-1", Destination: &opts.dims},
			&cli.BoolFlag{Name: "keepdim", Usage: "keep reduced dimensions with length 1", Destination: &opts.keepdim},
			&cli.BoolFlag{Name: "backward", Usage: "also print the gradient for an all-ones dy", Destination: &opts.backward},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, err := openHandle(ctx)
			if err != nil {
				return err
			}
			return runLogsumexp(ctx, h, opts, cmd.Root().Writer)
		},
	}
}

func parseShape(name, s string) ([]int, error) {
	v, err := parseInts(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", status.ErrBadParm, name, err)
	}
	return v, nil
}

// ramp fills n values 0, 0.1, 0.2, ...
func ramp(n int) *host.Buffer {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i) / 10
	}
	return host.NewBuffer(tensor.Float32, data)
}

func runRepeat(ctx context.Context, h *kforge.Handle, o reduceOptions, w io.Writer) error {
	in, err := parseShape("shape", o.shape)
	if err != nil {
		return err
	}
	sizes, err := parseShape("sizes", o.sizes)
	if err != nil {
		return err
	}
	out, err := problem.RepeatLengths(in, sizes)
	if err != nil {
		return err
	}
	inDesc, err := tensor.New(tensor.Float32, in...)
	if err != nil {
		return fmt.Errorf("%w: %w", status.ErrBadParm, err)
	}
	outDesc, err := tensor.New(tensor.Float32, out...)
	if err != nil {
		return fmt.Errorf("%w: %w", status.ErrBadParm, err)
	}

	if o.backward {
		dy, dx := ramp(outDesc.NumElements()), zeroBuffer(inDesc.NumElements())
		if err := h.RepeatBackward(ctx, outDesc, dy, sizes, inDesc, dx); err != nil {
			return err
		}
		fmt.Fprintf(w, "dx %v = %v\n", in, dx.Data())
		return nil
	}
	x, y := ramp(inDesc.NumElements()), zeroBuffer(outDesc.NumElements())
	if err := h.RepeatForward(ctx, inDesc, x, sizes, outDesc, y); err != nil {
		return err
	}
	fmt.Fprintf(w, "y %v = %v\n", out, y.Data())
	return nil
}

func runLogsumexp(ctx context.Context, h *kforge.Handle, o reduceOptions, w io.Writer) error {
	in, err := parseShape("shape", o.shape)
	if err != nil {
		return err
	}
	dims, err := parseShape("dims", o.dims)
	if err != nil {
		return err
	}
	xDesc, err := tensor.New(tensor.Float32, in...)
	if err != nil {
		return fmt.Errorf("%w: %w", status.ErrBadParm, err)
	}
	out, err := problem.LogsumexpLengths(in, dims, o.keepdim)
	if err != nil {
		return err
	}
	yDesc, err := tensor.New(tensor.Float32, out...)
	if err != nil {
		return fmt.Errorf("%w: %w", status.ErrBadParm, err)
	}

	x, y := ramp(xDesc.NumElements()), zeroBuffer(yDesc.NumElements())
	if err := h.LogsumexpForward(ctx, xDesc, x, yDesc, y, dims, o.keepdim); err != nil {
		return err
	}
	fmt.Fprintf(w, "y %v = %v\n", out, y.Data())
	if !o.backward {
		return nil
	}
	dy := host.NewBuffer(tensor.Float32, make([]float32, yDesc.NumElements()))
	for i := range dy.Data() {
		dy.Data()[i] = 1
	}
	dx := zeroBuffer(xDesc.NumElements())
	if err := h.LogsumexpBackward(ctx, xDesc, x, yDesc, y, dy, dx, dims, o.keepdim); err != nil {
		return err
	}
	fmt.Fprintf(w, "dx %v = %v\n", in, dx.Data())
	return nil
}
