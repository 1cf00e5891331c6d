package host

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/conv"
	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/logsumexp"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/repeat"
)

// kernelFunc runs a named kernel over its argument slices. args[i] is the
// window of argument i. The returned indices name the arguments written.
type kernelFunc func(params []int, args [][]float32) (written []int, err error)

func defaultKernels() map[string]kernelFunc {
	return map[string]kernelFunc{
		repeat.KernelForward:     repeatForward,
		repeat.KernelBackward:    repeatBackward,
		logsumexp.KernelForward:  logsumexpForward,
		logsumexp.KernelBackward: logsumexpBackward,
		conv.KernelDirectFwd:     convDirect(conv.KernelDirectFwd),
		conv.KernelDirectBwd:     convDirect(conv.KernelDirectBwd),
		conv.KernelDirectWrw:     convDirect(conv.KernelDirectWrw),
		conv.KernelIm2Col:        im2col,
		conv.KernelCol2Im:        col2im,
		conv.KernelBwdWrW2:       bwdWrW2,
	}
}

// Kernels lists the kernel names the device can launch.
func (d *Device) Kernels() []string {
	names := make([]string, 0, len(d.kernels))
	for n := range d.kernels {
		names = append(names, n)
	}
	return names
}

func (d *Device) Launch(op *plan.Kernel, bufs []device.Buffer) error {
	if err := op.Validate(); err != nil {
		return err
	}
	fn, ok := d.kernels[op.Name]
	if !ok {
		return fmt.Errorf("host: unknown kernel %q", op.Name)
	}
	if len(bufs) != len(op.Args) {
		return fmt.Errorf("host: kernel %s takes %d buffers, got %d", op.Name, len(op.Args), len(bufs))
	}
	hb, err := unwrap(bufs...)
	if err != nil {
		return err
	}
	args := make([][]float32, len(op.Args))
	for i, a := range op.Args {
		if hb[i] == nil {
			return fmt.Errorf("host: kernel %s arg %d unbound", op.Name, i)
		}
		if a.Offset+a.Len > hb[i].Len() {
			return fmt.Errorf("host: kernel %s arg %d [%d, %d) exceeds buffer of %d",
				op.Name, i, a.Offset, a.Offset+a.Len, hb[i].Len())
		}
		args[i] = hb[i].data[a.Offset : a.Offset+a.Len]
	}
	written, err := fn(op.Params, args)
	if err != nil {
		return fmt.Errorf("host: kernel %s: %w", op.Name, err)
	}
	for _, i := range written {
		hb[i].round(op.Args[i].Offset, op.Args[i].Len)
	}
	return nil
}

func arity(args [][]float32, n int) error {
	if len(args) != n {
		return fmt.Errorf("%d arguments, need %d", len(args), n)
	}
	return nil
}

func need(args [][]float32, lens ...int) error {
	for i, n := range lens {
		if len(args[i]) < n {
			return fmt.Errorf("argument %d holds %d elements, need %d", i, len(args[i]), n)
		}
	}
	return nil
}

func repeatMapper(params []int) (*repeat.Mapper, error) {
	in, out, err := repeat.DecodeParams(params)
	if err != nil {
		return nil, err
	}
	return repeat.NewMapper(in, out)
}

// x, y
func repeatForward(params []int, args [][]float32) ([]int, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	m, err := repeatMapper(params)
	if err != nil {
		return nil, err
	}
	if err := need(args, m.InputLen(), m.OutputLen()); err != nil {
		return nil, err
	}
	repeat.Forward(args[1], args[0], m)
	return []int{1}, nil
}

// dy, dx
func repeatBackward(params []int, args [][]float32) ([]int, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	m, err := repeatMapper(params)
	if err != nil {
		return nil, err
	}
	if err := need(args, m.OutputLen(), m.InputLen()); err != nil {
		return nil, err
	}
	repeat.Backward(args[1], args[0], m)
	return []int{1}, nil
}

func reduction(params []int) (*logsumexp.Reduction, error) {
	lens, dims, err := logsumexp.DecodeParams(params)
	if err != nil {
		return nil, err
	}
	return logsumexp.NewReduction(lens, dims)
}

// x, y
func logsumexpForward(params []int, args [][]float32) ([]int, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	r, err := reduction(params)
	if err != nil {
		return nil, err
	}
	if err := need(args, r.InputLen(), r.OutputLen()); err != nil {
		return nil, err
	}
	logsumexp.Forward(args[1], args[0], r)
	return []int{1}, nil
}

// x, y, dy, dx
func logsumexpBackward(params []int, args [][]float32) ([]int, error) {
	if err := arity(args, 4); err != nil {
		return nil, err
	}
	r, err := reduction(params)
	if err != nil {
		return nil, err
	}
	if err := need(args, r.InputLen(), r.OutputLen(), r.OutputLen(), r.InputLen()); err != nil {
		return nil, err
	}
	logsumexp.Backward(args[3], args[0], args[1], args[2], r)
	return []int{3}, nil
}

func convDirect(name string) kernelFunc {
	return func(params []int, args [][]float32) ([]int, error) {
		if err := arity(args, 3); err != nil {
			return nil, err
		}
		s, _, err := conv.DecodeShape(params)
		if err != nil {
			return nil, err
		}
		in := s.N * s.C * s.H * s.W
		out := s.N * s.K * s.Ho * s.Wo
		filter := s.K * s.C * s.R * s.S
		switch name {
		case conv.KernelDirectFwd:
			if err := need(args, in, filter, out); err != nil {
				return nil, err
			}
			conv.DirectForward(args[2], args[0], args[1], s)
		case conv.KernelDirectBwd:
			if err := need(args, out, filter, in); err != nil {
				return nil, err
			}
			conv.DirectBackwardData(args[2], args[0], args[1], s)
		default:
			if err := need(args, in, out, filter); err != nil {
				return nil, err
			}
			conv.DirectBackwardWeights(args[2], args[0], args[1], s)
		}
		return []int{2}, nil
	}
}

// x (one image), col
func im2col(params []int, args [][]float32) ([]int, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	s, _, err := conv.DecodeShape(params)
	if err != nil {
		return nil, err
	}
	if err := need(args, s.C*s.H*s.W, s.C*s.R*s.S*s.Ho*s.Wo); err != nil {
		return nil, err
	}
	conv.Im2Col(args[1], args[0], s)
	return []int{1}, nil
}

// col, dx (one image)
func col2im(params []int, args [][]float32) ([]int, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	s, _, err := conv.DecodeShape(params)
	if err != nil {
		return nil, err
	}
	if err := need(args, s.C*s.R*s.S*s.Ho*s.Wo, s.C*s.H*s.W); err != nil {
		return nil, err
	}
	conv.Col2Im(args[1], args[0], s)
	return []int{1}, nil
}

// x, dy, dw; params carry batch loops and the output channel tile.
func bwdWrW2(params []int, args [][]float32) ([]int, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	s, extra, err := conv.DecodeShape(params)
	if err != nil {
		return nil, err
	}
	if len(extra) != 2 {
		return nil, fmt.Errorf("want batch loops and k tile, got %v", extra)
	}
	if err := need(args, s.N*s.C*s.H*s.W, s.N*s.K*s.Ho*s.Wo, s.K*s.C*s.R*s.S); err != nil {
		return nil, err
	}
	conv.BackwardWeightsTiled(args[2], args[0], args[1], s, extra[0], extra[1])
	return []int{2}, nil
}
