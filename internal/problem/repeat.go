package problem

import (
	"errors"
	"fmt"

	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// ErrShortSizes is returned when fewer repeat sizes than input dimensions
// are given.
var ErrShortSizes = errors.New("number of dimensions of sizes cannot be smaller than number of dimensions of input tensor")

// Repeat tiles In periodically along every dimension to produce Out.
// Out has len(Sizes) dimensions; In is right-aligned against it.
type Repeat struct {
	kind  Kind
	dtype tensor.DataType
	In    []int
	Out   []int
	Sizes []int
}

// NewRepeat validates a repeat problem. For the forward kind in and out are
// x and y; for the backward kind they are dx and dy.
func NewRepeat(kind Kind, in, out tensor.Desc, sizes []int) (*Repeat, error) {
	if kind != RepeatForward && kind != RepeatBackward {
		return nil, status.BadParmf("kind %s is not a repeat", kind)
	}
	if len(sizes) < in.Rank() {
		return nil, fmt.Errorf("%w: %w (%d < %d)", status.ErrBadParm, ErrShortSizes, len(sizes), in.Rank())
	}
	if in.DataType != out.DataType {
		return nil, status.BadParmf("repeat data types differ: %s/%s", in.DataType, out.DataType)
	}
	if !in.IsPacked() || !out.IsPacked() {
		return nil, status.BadParmf("repeat tensors must be packed")
	}
	want, err := RepeatLengths(in.Lengths, sizes)
	if err != nil {
		return nil, err
	}
	if len(out.Lengths) != len(want) {
		return nil, status.BadParmf("output rank %d, expected %d", len(out.Lengths), len(want))
	}
	for i := range want {
		if out.Lengths[i] != want[i] {
			return nil, status.BadParmf("output lengths %v, expected %v", out.Lengths, want)
		}
	}
	return &Repeat{
		kind:  kind,
		dtype: in.DataType,
		In:    append([]int(nil), in.Lengths...),
		Out:   want,
		Sizes: append([]int(nil), sizes...),
	}, nil
}

// RepeatLengths returns the output lengths of repeating in by sizes.
func RepeatLengths(in, sizes []int) ([]int, error) {
	offset := len(sizes) - len(in)
	if offset < 0 {
		return nil, fmt.Errorf("%w: %w (%d < %d)", status.ErrBadParm, ErrShortSizes, len(sizes), len(in))
	}
	out := make([]int, len(sizes))
	for i, s := range sizes {
		if s < 0 {
			return nil, status.BadParmf("negative repeat size %d at dimension %d", s, i)
		}
		l := 1
		if i >= offset {
			l = in[i-offset]
		}
		out[i] = s * l
	}
	return out, nil
}

func (r *Repeat) Kind() Kind { return r.kind }

func (r *Repeat) DataType() tensor.DataType { return r.dtype }

func (r *Repeat) InputSize() int { return product(r.In) }

func (r *Repeat) OutputSize() int { return product(r.Out) }

func (r *Repeat) String() string {
	return fmt.Sprintf("%s %v x %v -> %v", r.kind, r.In, r.Sizes, r.Out)
}

func (r *Repeat) Key() Key {
	return newKey(r.kind, r.dtype).
		ints("in", r.In).
		ints("sizes", r.Sizes).
		key()
}

func product(v []int) int {
	n := 1
	for _, x := range v {
		n *= x
	}
	return n
}
