package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/device/host"
	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/kforge"
	"github.com/samcharles93/kforge/pkg/tensor"
)

type rnnOptions struct {
	mode          string
	hidden        int
	layers        int
	bidirectional bool
	bias          bool
	inputSize     int
	outputSize    int
	batches       string
	seed          int
	inference     bool
	backward      bool
	showPlan      bool
}

func rnnCmd() *cli.Command {
	var opts rnnOptions
	return &cli.Command{
		Name:  "rnn",
		Usage: "Run an RNN pass on seeded random data and report the solver and checksums",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Usage: "cell mode (relu, tanh, lstm, gru)", Value: "tanh", Destination: &opts.mode},
			&cli.IntFlag{Name: "hidden", Usage: "hidden size", Value: 8, Destination: &opts.hidden},
			&cli.IntFlag{Name: "layers", Usage: "layer count", Value: 1, Destination: &opts.layers},
			&cli.BoolFlag{Name: "bidirectional", Usage: "run both directions", Destination: &opts.bidirectional},
			&cli.BoolFlag{Name: "bias", Usage: "include bias vectors", Destination: &opts.bias},
			&cli.IntFlag{Name: "input-size", Usage: "input feature size", Value: 4, Destination: &opts.inputSize},
			&cli.IntFlag{Name: "output-size", Usage: "output feature size", Value: 4, Destination: &opts.outputSize},
			&cli.StringFlag{Name: "batches", Usage: "per-timestep batch sizes, non-increasing", Value: "3,3,2", Destination: &opts.batches},
			&cli.IntFlag{Name: "seed", Usage: "random seed", Value: 1, Destination: &opts.seed},
			&cli.BoolFlag{Name: "inference", Usage: "run forward inference instead of training", Destination: &opts.inference},
			&cli.BoolFlag{Name: "backward", Usage: "also run backward data and backward weights", Destination: &opts.backward},
			&cli.BoolFlag{Name: "show-plan", Usage: "print the op sequence of each pass", Destination: &opts.showPlan},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, err := openHandle(ctx)
			if err != nil {
				return err
			}
			defer savePerfDB(ctx, h)
			return runRNN(ctx, h, opts, cmd.Root().Writer)
		},
	}
}

func (o rnnOptions) descriptor() (kforge.RNNDescriptor, error) {
	mode, err := problem.ParseCellMode(o.mode)
	if err != nil {
		return kforge.RNNDescriptor{}, fmt.Errorf("%w: %w", status.ErrBadParm, err)
	}
	cfg := problem.RNNConfig{HiddenSize: o.hidden, Layers: o.layers, Mode: mode}
	if o.bidirectional {
		cfg.Direction = problem.Bidirectional
	}
	if o.bias {
		cfg.Bias = problem.WithBias
	}
	return kforge.RNNDescriptor{RNNConfig: cfg}, nil
}

func runRNN(ctx context.Context, h *kforge.Handle, o rnnOptions, w io.Writer) error {
	log := logger.FromContext(ctx)
	if o.inference && o.backward {
		return status.BadParmf("backward passes need the reserve of a training pass")
	}
	d, err := o.descriptor()
	if err != nil {
		return err
	}
	batches, err := parseInts(o.batches)
	if err != nil {
		return fmt.Errorf("%w: batches: %w", status.ErrBadParm, err)
	}
	if len(batches) == 0 {
		return status.BadParmf("sequence length 0")
	}
	xs := make([]tensor.Desc, len(batches))
	ys := make([]tensor.Desc, len(batches))
	for t, n := range batches {
		if xs[t], err = tensor.New(tensor.Float32, n, o.inputSize); err != nil {
			return fmt.Errorf("%w: %w", status.ErrBadParm, err)
		}
		if ys[t], err = tensor.New(tensor.Float32, n, o.outputSize); err != nil {
			return fmt.Errorf("%w: %w", status.ErrBadParm, err)
		}
	}
	hx, err := tensor.New(tensor.Float32, o.layers*d.Bi(), batches[0], o.hidden)
	if err != nil {
		return fmt.Errorf("%w: %w", status.ErrBadParm, err)
	}

	kind := problem.RNNForwardTraining
	if o.inference {
		kind = problem.RNNForwardInference
	}
	fwd, err := d.Problem(kind, xs, hx, ys)
	if err != nil {
		return err
	}
	passes := []*problem.RNN{fwd}
	if o.backward {
		passes = append(passes, fwd.WithKind(problem.RNNBackwardData), fwd.WithKind(problem.RNNBackwardWeights))
	}
	wsLen, reserveLen := 0, kforge.RNNReserveSize(fwd)
	for _, p := range passes {
		wsLen = max(wsLen, kforge.RNNWorkspaceSize(p))
	}
	log.Info("rnn", "problem", fwd.String(), "workspace", wsLen, "reserve", reserveLen)

	r := rand.New(rand.NewPCG(uint64(o.seed), 0x6b666f726765))
	bufs := kforge.RNNBuffers{
		X:         randomBuffer(r, fwd.BatchSum()*fwd.InputSize),
		Y:         zeroBuffer(fwd.BatchSum() * fwd.OutputSize),
		HX:        randomBuffer(r, fwd.StateSize()),
		W:         randomBuffer(r, d.WeightsSize(fwd.InputSize, fwd.OutputSize)),
		HY:        zeroBuffer(fwd.StateSize()),
		Workspace: zeroBuffer(wsLen),
		Reserve:   zeroBuffer(reserveLen),
	}
	if d.Mode == problem.LSTM {
		bufs.CX = randomBuffer(r, fwd.StateSize())
		bufs.CY = zeroBuffer(fwd.StateSize())
	}
	if o.backward {
		bufs.DY = randomBuffer(r, fwd.BatchSum()*fwd.OutputSize)
		bufs.DX = zeroBuffer(fwd.BatchSum() * fwd.InputSize)
		bufs.DHX = zeroBuffer(fwd.StateSize())
		bufs.DW = zeroBuffer(d.WeightsSize(fwd.InputSize, fwd.OutputSize))
	}

	fmt.Fprintf(w, "%s\n", fwd)
	for _, p := range passes {
		if o.showPlan {
			pl, _, err := h.Plan(ctx, p, wsLen)
			if err != nil {
				return err
			}
			fmt.Fprint(w, pl)
		}
		res, err := h.RNN(ctx, p, bufs)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Kind(), err)
		}
		fmt.Fprintf(w, "%-16s solver=%s\n", p.Kind(), res.Solver)
	}

	report := []namedBuffer{{"y", bufs.Y}, {"hy", bufs.HY}}
	if o.backward {
		report = append(report, namedBuffer{"dx", bufs.DX}, namedBuffer{"dw", bufs.DW})
	}
	for _, rep := range report {
		data := rep.buf.(*host.Buffer).Data()
		sum, l2 := checksum(data)
		fmt.Fprintf(w, "%-3s n=%-6d sum=%-12.6g l2=%.6g\n", rep.name, len(data), sum, l2)
	}
	return nil
}

type namedBuffer struct {
	name string
	buf  device.Buffer
}

func randomBuffer(r *rand.Rand, n int) *host.Buffer {
	data := make([]float32, n)
	for i := range data {
		data[i] = r.Float32()*2 - 1
	}
	return host.NewBuffer(tensor.Float32, data)
}

func zeroBuffer(n int) *host.Buffer {
	return host.NewBuffer(tensor.Float32, make([]float32, n))
}

func checksum(data []float32) (sum, l2 float64) {
	for _, v := range data {
		sum += float64(v)
		l2 += float64(v) * float64(v)
	}
	return sum, math.Sqrt(l2)
}
