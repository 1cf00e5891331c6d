// Package repeat implements periodic tiling of a tensor along every
// dimension and its adjoint, the many-to-one gradient reduction.
package repeat

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
)

// ErrShortSizes is returned by the host references when fewer repeat sizes
// than input dimensions are given.
var ErrShortSizes = problem.ErrShortSizes

// Mapper maps flat row-major output indices onto flat input indices.
// Output dimensions are right-aligned against the input; leading output
// dimensions without an input counterpart are broadcast.
type Mapper struct {
	in, out   []int
	inStrides []int
	offset    int
}

// NewMapper fails with a configuration error when out has lower rank than in.
func NewMapper(in, out []int) (*Mapper, error) {
	offset := len(out) - len(in)
	if offset < 0 {
		return nil, fmt.Errorf("%w: %w (%d < %d)", status.ErrBadParm, ErrShortSizes, len(out), len(in))
	}
	m := &Mapper{
		in:        append([]int(nil), in...),
		out:       append([]int(nil), out...),
		inStrides: make([]int, len(in)),
		offset:    offset,
	}
	stride := 1
	for i := len(in) - 1; i >= 0; i-- {
		m.inStrides[i] = stride
		stride *= in[i]
	}
	return m, nil
}

// Source returns the input index output element gid is read from.
func (m *Mapper) Source(gid int) int {
	src := 0
	for i := len(m.out) - 1; i >= m.offset; i-- {
		idx := gid % m.out[i]
		gid /= m.out[i]
		j := i - m.offset
		src += (idx % m.in[j]) * m.inStrides[j]
	}
	return src
}

func (m *Mapper) OutputLen() int { return product(m.out) }

func (m *Mapper) InputLen() int { return product(m.in) }

// Forward writes every element of dst from its periodic source in src.
func Forward(dst, src []float32, m *Mapper) {
	n := min(len(dst), m.OutputLen())
	for gid := 0; gid < n; gid++ {
		dst[gid] = src[m.Source(gid)]
	}
}

// Backward adds every element of dy into the dx position it was read from.
// dx must be cleared by the caller for a plain gradient.
func Backward(dx, dy []float32, m *Mapper) {
	n := min(len(dy), m.OutputLen())
	for gid := 0; gid < n; gid++ {
		dx[m.Source(gid)] += dy[gid]
	}
}

// ForwardHost repeats input (with lengths inLens) by sizes and returns the
// output and its lengths. It is the reference the device kernels are checked
// against.
func ForwardHost(input []float32, inLens, sizes []int) ([]float32, []int, error) {
	outLens, err := problem.RepeatLengths(inLens, sizes)
	if err != nil {
		return nil, nil, err
	}
	m, err := NewMapper(inLens, outLens)
	if err != nil {
		return nil, nil, err
	}
	if len(input) < m.InputLen() {
		return nil, nil, status.BadParmf("input has %d elements, lengths %v need %d", len(input), inLens, m.InputLen())
	}
	out := make([]float32, m.OutputLen())
	Forward(out, input, m)
	return out, outLens, nil
}

// BackwardHost reduces doutput (the gradient of a repeat of an inLens tensor
// by sizes) into a fresh input gradient.
func BackwardHost(doutput []float32, inLens, sizes []int) ([]float32, error) {
	outLens, err := problem.RepeatLengths(inLens, sizes)
	if err != nil {
		return nil, err
	}
	m, err := NewMapper(inLens, outLens)
	if err != nil {
		return nil, err
	}
	if len(doutput) < m.OutputLen() {
		return nil, status.BadParmf("output gradient has %d elements, need %d", len(doutput), m.OutputLen())
	}
	dinput := make([]float32, m.InputLen())
	Backward(dinput, doutput, m)
	return dinput, nil
}

func product(v []int) int {
	n := 1
	for _, x := range v {
		n *= x
	}
	return n
}
