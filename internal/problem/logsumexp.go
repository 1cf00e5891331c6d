package problem

import (
	"fmt"
	"slices"

	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// Logsumexp reduces In over Dims with log(sum(exp(x))).
type Logsumexp struct {
	kind    Kind
	dtype   tensor.DataType
	In      []int
	Dims    []int
	KeepDim bool
}

// NewLogsumexp validates a reduction of in over dims into out. Negative dims
// count from the end. For the backward kind in is x (and dx) and out is y
// (and dy).
func NewLogsumexp(kind Kind, in, out tensor.Desc, dims []int, keepdim bool) (*Logsumexp, error) {
	if kind != LogsumexpForward && kind != LogsumexpBackward {
		return nil, status.BadParmf("kind %s is not a logsumexp", kind)
	}
	if in.DataType != out.DataType {
		return nil, status.BadParmf("logsumexp data types differ: %s/%s", in.DataType, out.DataType)
	}
	if !in.IsPacked() || !out.IsPacked() {
		return nil, status.BadParmf("logsumexp tensors must be packed")
	}
	norm, err := normalizeDims(dims, in.Rank())
	if err != nil {
		return nil, err
	}

	l := &Logsumexp{
		kind:    kind,
		dtype:   in.DataType,
		In:      append([]int(nil), in.Lengths...),
		Dims:    norm,
		KeepDim: keepdim,
	}
	want := l.OutputLengths()
	got := out.Lengths
	scalar := len(want) == 0 && len(got) == 1 && got[0] == 1
	if !scalar && !slices.Equal(got, want) {
		return nil, status.BadParmf("output lengths %v, expected %v", got, want)
	}
	return l, nil
}

// LogsumexpLengths returns the output lengths of reducing in over dims.
func LogsumexpLengths(in, dims []int, keepdim bool) ([]int, error) {
	norm, err := normalizeDims(dims, len(in))
	if err != nil {
		return nil, err
	}
	l := Logsumexp{In: in, Dims: norm, KeepDim: keepdim}
	return l.OutputLengths(), nil
}

// normalizeDims resolves negative dims and returns them sorted.
func normalizeDims(dims []int, rank int) ([]int, error) {
	if len(dims) == 0 {
		return nil, status.BadParmf("logsumexp needs at least one dimension")
	}
	norm := make([]int, 0, len(dims))
	for _, d := range dims {
		if d < 0 {
			d += rank
		}
		if d < 0 || d >= rank {
			return nil, status.BadParmf("dimension %d out of range for rank %d", d, rank)
		}
		if slices.Contains(norm, d) {
			return nil, status.BadParmf("dimension %d repeated", d)
		}
		norm = append(norm, d)
	}
	slices.Sort(norm)
	return norm, nil
}

func (l *Logsumexp) Kind() Kind { return l.kind }

func (l *Logsumexp) DataType() tensor.DataType { return l.dtype }

// WithKind returns a copy of l for the other direction.
func (l *Logsumexp) WithKind(kind Kind) *Logsumexp {
	cp := *l
	cp.kind = kind
	return &cp
}

// OutputLengths is In with reduced dims set to 1 (KeepDim) or removed.
func (l *Logsumexp) OutputLengths() []int {
	out := make([]int, 0, len(l.In))
	for i, n := range l.In {
		if slices.Contains(l.Dims, i) {
			if l.KeepDim {
				out = append(out, 1)
			}
			continue
		}
		out = append(out, n)
	}
	return out
}

func (l *Logsumexp) InputSize() int { return product(l.In) }

func (l *Logsumexp) OutputSize() int { return product(l.OutputLengths()) }

func (l *Logsumexp) String() string {
	return fmt.Sprintf("%s %v over %v keepdim=%t", l.kind, l.In, l.Dims, l.KeepDim)
}

// Key ignores KeepDim: both output ranks share one memory layout.
func (l *Logsumexp) Key() Key {
	return newKey(l.kind, l.dtype).
		ints("in", l.In).
		ints("dims", l.Dims).
		key()
}
