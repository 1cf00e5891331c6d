// Package tensor holds the immutable shape records consumed by the solver
// and planning layers. It does not own device memory.
package tensor

import (
	"errors"
	"fmt"
	"strings"
)

// DataType identifies the element encoding of a tensor.
// Keep these stable: they are part of perf-db keys.
type DataType uint32

const (
	Unknown DataType = iota
	Float32
	Half
	BFloat16
)

func (d DataType) String() string {
	switch d {
	case Float32:
		return "f32"
	case Half:
		return "f16"
	case BFloat16:
		return "bf16"
	default:
		return "unknown"
	}
}

// Size returns the element size in bytes, or 0 for unknown types.
func (d DataType) Size() int {
	switch d {
	case Float32:
		return 4
	case Half, BFloat16:
		return 2
	default:
		return 0
	}
}

// ParseDataType accepts the names printed by String plus a few common aliases.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "fp32", "float", "float32":
		return Float32, nil
	case "f16", "fp16", "half", "float16":
		return Half, nil
	case "bf16", "bfloat16":
		return BFloat16, nil
	default:
		return Unknown, fmt.Errorf("unknown data type %q (expected f32, f16 or bf16)", s)
	}
}

// LengthsGetter is the read-only accessor the planners depend on.
type LengthsGetter interface {
	GetLengths() []int
}

// Desc describes a dense tensor: data type, per-dimension lengths and strides
// (in elements). Lengths and Strides always have the same rank.
type Desc struct {
	DataType DataType
	Lengths  []int
	Strides  []int
}

var (
	errRankMismatch   = errors.New("lengths and strides rank mismatch")
	errNegativeLength = errors.New("negative tensor length")
	errBadStride      = errors.New("non-positive tensor stride")
)

// New returns a packed row-major descriptor.
func New(dt DataType, lengths ...int) (Desc, error) {
	for _, l := range lengths {
		if l < 0 {
			return Desc{}, errNegativeLength
		}
	}
	lens := append([]int(nil), lengths...)
	return Desc{
		DataType: dt,
		Lengths:  lens,
		Strides:  PackedStrides(lens),
	}, nil
}

// MustNew is New for lengths known to be valid at compile time (tests, examples).
func MustNew(dt DataType, lengths ...int) Desc {
	d, err := New(dt, lengths...)
	if err != nil {
		panic(err)
	}
	return d
}

// NewStrided returns a descriptor with explicit strides.
func NewStrided(dt DataType, lengths, strides []int) (Desc, error) {
	if len(lengths) != len(strides) {
		return Desc{}, errRankMismatch
	}
	for i := range lengths {
		if lengths[i] < 0 {
			return Desc{}, errNegativeLength
		}
		if strides[i] <= 0 {
			return Desc{}, errBadStride
		}
	}
	return Desc{
		DataType: dt,
		Lengths:  append([]int(nil), lengths...),
		Strides:  append([]int(nil), strides...),
	}, nil
}

// PackedStrides computes row-major strides for lengths.
func PackedStrides(lengths []int) []int {
	strides := make([]int, len(lengths))
	s := 1
	for i := len(lengths) - 1; i >= 0; i-- {
		strides[i] = s
		if lengths[i] > 0 {
			s *= lengths[i]
		}
	}
	return strides
}

// GetLengths implements LengthsGetter.
func (d Desc) GetLengths() []int { return d.Lengths }

// Rank returns the number of dimensions.
func (d Desc) Rank() int { return len(d.Lengths) }

// NumElements returns the product of the lengths.
func (d Desc) NumElements() int {
	n := 1
	for _, l := range d.Lengths {
		n *= l
	}
	return n
}

// IsPacked reports whether the strides equal the row-major packed strides.
func (d Desc) IsPacked() bool {
	packed := PackedStrides(d.Lengths)
	for i := range packed {
		if d.Strides[i] != packed[i] {
			return false
		}
	}
	return true
}

// ElementSpace is the number of elements a buffer must hold to back d.
func (d Desc) ElementSpace() int {
	if d.NumElements() == 0 {
		return 0
	}
	n := 1
	for i, l := range d.Lengths {
		n += (l - 1) * d.Strides[i]
	}
	return n
}

func (d Desc) String() string {
	var b strings.Builder
	b.WriteString(d.DataType.String())
	b.WriteByte('[')
	for i, l := range d.Lengths {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", l)
	}
	b.WriteByte(']')
	return b.String()
}
